package cmd

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/tendwell/companion/internal/config"
	"github.com/tendwell/companion/internal/db"
	"github.com/tendwell/companion/internal/logger"
)

func loadConfig() *config.Config {
	cfg := config.Load()
	logger.Init(cfg.IsDevelopment(), cfg.AppEnv, cfg.SentryDSN)
	return cfg
}

func openDB(cfg *config.Config) (*sqlx.DB, error) {
	database, err := db.Init(cfg.DBDriver, cfg.DBConnection)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return database, nil
}
