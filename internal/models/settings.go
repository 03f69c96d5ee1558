package models

// Mode selects a named generation configuration.
type Mode string

const (
	ModeFast      Mode = "fast"
	ModeStudy     Mode = "study"
	ModeDeepThink Mode = "deep_think"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeFast, ModeStudy, ModeDeepThink:
		return true
	}
	return false
}

// Theme is the color theme of the client.
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

// Valid reports whether t is a known theme.
func (t Theme) Valid() bool {
	return t == ThemeDark || t == ThemeLight
}

// AvailableLanguages lists the languages selectable in multi-language mode.
var AvailableLanguages = []string{"Bengali", "English", "Hindi", "Urdu", "Persian"}

// Settings holds the per-client generation preferences.
type Settings struct {
	Mode          Mode     `json:"mode"`
	MultiLanguage bool     `json:"multi_language"`
	Languages     []string `json:"languages"`
	Theme         Theme    `json:"theme"`
}

// DefaultSettings returns the settings a fresh client starts with.
func DefaultSettings() Settings {
	return Settings{Mode: ModeFast, Languages: []string{}, Theme: ThemeDark}
}
