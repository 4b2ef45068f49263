package backends

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/ArionMiles/receiptcal/pkg/config"
	"github.com/ArionMiles/receiptcal/pkg/identity"
	"github.com/ArionMiles/receiptcal/pkg/identity/local"
	"github.com/ArionMiles/receiptcal/pkg/identity/supabase"
	"github.com/ArionMiles/receiptcal/pkg/store/memory"
	"github.com/ArionMiles/receiptcal/pkg/store/postgres"
	"github.com/ArionMiles/receiptcal/pkg/store/sqlite"
)

// Session files live in the data directory.
const (
	DeviceFile  = "device.json"
	SessionFile = "session.json"
)

type memoryPlugin struct{}

func (memoryPlugin) Name() string        { return "memory" }
func (memoryPlugin) Description() string { return "In-process storage; records are lost on exit" }
func (memoryPlugin) ConfigSchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (memoryPlugin) Open(context.Context, config.Config, *slog.Logger) (Store, error) {
	return memory.New(), nil
}

type sqlitePlugin struct{}

func (sqlitePlugin) Name() string        { return "sqlite" }
func (sqlitePlugin) Description() string { return "Local SQLite database file" }
func (sqlitePlugin) ConfigSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"SQLITE_PATH": map[string]any{
				"type":        "string",
				"description": "Database file path (default: <data dir>/receiptcal.db)",
			},
		},
	}
}

func (sqlitePlugin) Open(_ context.Context, cfg config.Config, logger *slog.Logger) (Store, error) {
	s, err := sqlite.New(cfg.SQLitePath, logger)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store: %w", err)
	}
	return s, nil
}

type postgresPlugin struct{}

func (postgresPlugin) Name() string { return "postgres" }
func (postgresPlugin) Description() string {
	return "PostgreSQL database (including the hosted Supabase database)"
}

func (postgresPlugin) ConfigSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"POSTGRES_HOST":     map[string]any{"type": "string"},
			"POSTGRES_PORT":     map[string]any{"type": "integer", "default": 5432},
			"POSTGRES_DB":       map[string]any{"type": "string"},
			"POSTGRES_USER":     map[string]any{"type": "string"},
			"POSTGRES_PASSWORD": map[string]any{"type": "string"},
			"POSTGRES_SSLMODE":  map[string]any{"type": "string", "default": "disable"},
		},
		"required": []string{"POSTGRES_HOST", "POSTGRES_DB", "POSTGRES_USER", "POSTGRES_PASSWORD"},
	}
}

func (postgresPlugin) Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (Store, error) {
	s, err := postgres.New(ctx, postgres.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Database: cfg.Database,
		User:     cfg.User,
		Password: cfg.Password,
		SSLMode:  cfg.SSLMode,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("opening postgres store: %w", err)
	}
	return s, nil
}

type localPlugin struct{}

func (localPlugin) Name() string        { return "local" }
func (localPlugin) Description() string { return "Anonymous device id kept in the data directory" }
func (localPlugin) ConfigSchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (localPlugin) NewProvider(cfg config.Config, _ *http.Client, logger *slog.Logger) (identity.Provider, error) {
	return local.New(filepath.Join(cfg.DataDir, DeviceFile), logger), nil
}

type supabasePlugin struct{}

func (supabasePlugin) Name() string        { return "supabase" }
func (supabasePlugin) Description() string { return "Supabase Auth anonymous sign-in" }
func (supabasePlugin) ConfigSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"SUPABASE_URL":      map[string]any{"type": "string"},
			"SUPABASE_ANON_KEY": map[string]any{"type": "string"},
		},
		"required": []string{"SUPABASE_URL", "SUPABASE_ANON_KEY"},
	}
}

func (supabasePlugin) NewProvider(cfg config.Config, httpClient *http.Client, logger *slog.Logger) (identity.Provider, error) {
	p, err := supabase.New(supabase.Options{
		URL:         cfg.SupabaseURL,
		AnonKey:     cfg.SupabaseAnonKey,
		SessionPath: filepath.Join(cfg.DataDir, SessionFile),
		HTTPClient:  httpClient,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating supabase provider: %w", err)
	}
	return p, nil
}
