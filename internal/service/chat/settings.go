package chat

import (
	"context"
	"log"
	"slices"

	"github.com/jomidokhol/nur-ai/internal/models"
)

func (c *Controller) Settings() models.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settingsLocked()
}

func (c *Controller) settingsLocked() models.Settings {
	s := c.settings
	s.Languages = slices.Clone(c.settings.Languages)
	if s.Languages == nil {
		s.Languages = []string{}
	}
	return s
}

func (c *Controller) SetMode(mode models.Mode) error {
	if !mode.Valid() {
		return ErrInvalidMode
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.Mode = mode
	return nil
}

func (c *Controller) SetMultiLanguage(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.MultiLanguage = enabled
}

// SetLanguages selects the reply languages for multi-language mode.
// Duplicates are dropped; an empty selection means the default set.
func (c *Controller) SetLanguages(langs []string) error {
	selected := make([]string, 0, len(langs))
	for _, l := range langs {
		if !slices.Contains(models.AvailableLanguages, l) {
			return ErrUnknownLanguage
		}
		if !slices.Contains(selected, l) {
			selected = append(selected, l)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.Languages = selected
	return nil
}

func (c *Controller) SetTheme(theme models.Theme) error {
	if !theme.Valid() {
		return ErrInvalidTheme
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setThemeLocked(theme)
	return nil
}

func (c *Controller) ToggleTheme() models.Theme {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := models.ThemeLight
	if c.settings.Theme == models.ThemeLight {
		next = models.ThemeDark
	}
	c.setThemeLocked(next)
	return next
}

func (c *Controller) setThemeLocked(theme models.Theme) {
	c.settings.Theme = theme
	if c.persist == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.saveTimeout)
	defer cancel()
	if err := c.persist.SaveTheme(ctx, theme); err != nil {
		log.Printf("save theme failed: %v", err)
	}
}
