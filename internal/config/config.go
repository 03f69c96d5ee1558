package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultSessionsKey = "gemini_clone_sessions"
	DefaultThemeKey    = "gemini_theme"

	// TutorInstruction is the system instruction of the study mode.
	TutorInstruction = "You are an expert tutor. Your goal is to help the user learn by providing clear, step-by-step explanations, asking clarifying questions, and encouraging critical thinking. Use analogies where helpful."
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Generation  GenerationConfig          `json:"generation"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	// Store selects the persistence backend: sqlite3, mysql or redis.
	Store               string `json:"store"`
	SessionsKey         string `json:"sessions_key"`
	ThemeKey            string `json:"theme_key"`
	SaveTimeoutMs       int    `json:"save_timeout_ms"`
	RevealFrameMs       int    `json:"reveal_frame_ms"`
	UploadTTL           int    `json:"upload_ttl"`            // minutes
	UploadCleanInterval int    `json:"upload_clean_interval"` // minutes
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

// GenerationConfig picks the provider and maps chat modes to models.
type GenerationConfig struct {
	Provider    string                `json:"provider"`
	TitleModel  string                `json:"title_model"`
	Temperature float32               `json:"temperature"`
	TopK        float32               `json:"top_k"`
	TopP        float32               `json:"top_p"`
	WebSearch   bool                  `json:"web_search"`
	Modes       map[string]ModeConfig `json:"modes"`
}

type ModeConfig struct {
	Model             string `json:"model"`
	SystemInstruction string `json:"system_instruction"`
	ThinkingBudget    int32  `json:"thinking_budget"`
}

var geminiModes = map[string]ModeConfig{
	"fast":       {Model: "gemini-flash-lite-latest"},
	"study":      {Model: "gemini-3-flash-preview", SystemInstruction: TutorInstruction},
	"deep_think": {Model: "gemini-3-pro-preview", ThinkingBudget: 16000},
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.applyEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// relative sqlite paths are relative to the config file
	if db, ok := cfg.Databases["sqlite3"]; ok && isRelativeFileDSN(db.DSN) {
		db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
		cfg.Databases["sqlite3"] = db
	}

	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("NUR_AI_STORE"); v != "" {
		c.BasicConfig.Store = v
	}
	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		key = os.Getenv("API_KEY")
	}
	if key != "" {
		if c.Providers == nil {
			c.Providers = make(map[string]ProviderConfig)
		}
		p := c.Providers["gemini"]
		p.APIKey = key
		c.Providers["gemini"] = p
	}
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = ":8090"
	}
	if c.BasicConfig.Store == "" {
		c.BasicConfig.Store = "sqlite3"
	}
	c.BasicConfig.Store = strings.ToLower(c.BasicConfig.Store)
	if c.BasicConfig.SessionsKey == "" {
		c.BasicConfig.SessionsKey = DefaultSessionsKey
	}
	if c.BasicConfig.ThemeKey == "" {
		c.BasicConfig.ThemeKey = DefaultThemeKey
	}
	if c.BasicConfig.SaveTimeoutMs <= 0 {
		c.BasicConfig.SaveTimeoutMs = 2000
	}
	if c.BasicConfig.RevealFrameMs <= 0 {
		c.BasicConfig.RevealFrameMs = 16
	}
	if c.BasicConfig.UploadTTL <= 0 {
		c.BasicConfig.UploadTTL = 60
	}
	if c.BasicConfig.UploadCleanInterval <= 0 {
		c.BasicConfig.UploadCleanInterval = 10
	}
	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
	if _, ok := c.Databases["sqlite3"]; !ok {
		c.Databases["sqlite3"] = DatabaseConfig{DSN: "nur-ai.db"}
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "nur-ai:"
	}
	if c.Generation.Provider == "" {
		c.Generation.Provider = "gemini"
	}
	if c.Generation.TitleModel == "" && c.Generation.Provider == "gemini" {
		c.Generation.TitleModel = geminiModes["fast"].Model
	}
	if c.Generation.Temperature == 0 {
		c.Generation.Temperature = 0.7
	}
	if c.Generation.TopK == 0 {
		c.Generation.TopK = 40
	}
	if c.Generation.TopP == 0 {
		c.Generation.TopP = 0.95
	}
}

// Validate checks the fields the service cannot run without.
func (c *Config) Validate() error {
	switch c.BasicConfig.Store {
	case "sqlite", "sqlite3", "mysql", "redis":
	default:
		return fmt.Errorf("unsupported store %q", c.BasicConfig.Store)
	}
	switch c.Generation.Provider {
	case "gemini", "openai", "claude":
	default:
		return fmt.Errorf("unsupported provider %q", c.Generation.Provider)
	}
	if c.Provider().APIKey == "" {
		return errors.New("api key must be configured for provider " + c.Generation.Provider)
	}
	return nil
}

// Provider returns the settings of the configured generation provider.
func (c *Config) Provider() ProviderConfig {
	return c.Providers[c.Generation.Provider]
}

// Mode resolves the model settings of a chat mode. Gemini ships with
// built-in defaults; other providers fall back to their configured model.
func (c *Config) Mode(name string) ModeConfig {
	var mc ModeConfig
	if c.Generation.Provider == "gemini" {
		mc = geminiModes[name]
	} else if name == "study" {
		mc.SystemInstruction = TutorInstruction
	}
	if override, ok := c.Generation.Modes[name]; ok {
		if override.Model != "" {
			mc.Model = override.Model
		}
		if override.SystemInstruction != "" {
			mc.SystemInstruction = override.SystemInstruction
		}
		if override.ThinkingBudget > 0 {
			mc.ThinkingBudget = override.ThinkingBudget
		}
	}
	if mc.Model == "" {
		mc.Model = c.Provider().Model
	}
	return mc
}

func isRelativeFileDSN(dsn string) bool {
	if dsn == "" || dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return false
	}
	return !filepath.IsAbs(dsn)
}
