package persistence

import (
	"fmt"

	"github.com/jomidokhol/nur-ai/internal/config"
	redisclient "github.com/jomidokhol/nur-ai/internal/redis"
	"github.com/jomidokhol/nur-ai/internal/storage"
)

// Open builds the backend selected by cfg.BasicConfig.Store.
func Open(cfg *config.Config) (Store, error) {
	keys := Keys{Sessions: cfg.BasicConfig.SessionsKey, Theme: cfg.BasicConfig.ThemeKey}
	switch cfg.BasicConfig.Store {
	case "redis":
		client, err := redisclient.NewRedisClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("redis store: %w", err)
		}
		return NewRedisStore(client, keys), nil
	case "sqlite", "sqlite3", "mysql":
		driver := cfg.BasicConfig.Store
		if driver == "sqlite" {
			driver = "sqlite3"
		}
		db, err := storage.Open(driver, cfg)
		if err != nil {
			return nil, err
		}
		if err := storage.Migrate(db, driver); err != nil {
			db.Close()
			return nil, err
		}
		return NewSQLStore(db, driver, keys), nil
	default:
		return nil, fmt.Errorf("unsupported store %q", cfg.BasicConfig.Store)
	}
}
