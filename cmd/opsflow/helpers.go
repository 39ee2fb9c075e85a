package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/viper"

	"github.com/Veraticus/opsflow/internal/app"
	"github.com/Veraticus/opsflow/internal/config"
	"github.com/Veraticus/opsflow/internal/storage"
)

var envKeyReplacer = strings.NewReplacer(".", "_")

// loadConfig reads the typed configuration from the global viper instance.
func loadConfig() (config.Config, error) {
	return config.Load(viper.GetViper())
}

// openApp loads configuration and wires a full App over a migrated store.
func openApp(ctx context.Context) (*app.App, config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, config.Config{}, err
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, config.Config{}, err
	}
	return a, cfg, nil
}

// openStore opens just the migrated store, for commands that skip the pipeline.
func openStore(ctx context.Context) (*storage.SQLStorage, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.OpenStorage(ctx, cfg.Database)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
