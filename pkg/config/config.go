// Package config loads receiptcal configuration from the environment.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/ArionMiles/receiptcal/pkg/api"
)

// Defaults applied by Load when a variable is unset.
const (
	DefaultStore           = "sqlite"
	DefaultIdentity        = "local"
	DefaultDataDir         = "data"
	DefaultExtractorURL    = "http://localhost:8787"
	DefaultHTTPTimeout     = 60 * time.Second
	DefaultMaxDimension    = 1024
	DefaultMaxBytes        = 1 << 20
	DefaultServerAddr      = ":8787"
	DefaultGeminiModel     = "gemini-1.5-flash"
	DefaultGeminiTimeout   = 2 * time.Minute
	DefaultGeminiRetries   = 2
	DefaultSignInAttempts  = 1
	DefaultPostgresPort    = 5432
	DefaultPostgresSSLMode = "disable"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	// Store is the storage backend: memory, sqlite or postgres.
	// Environment variable: RECEIPTCAL_STORE
	Store string `koanf:"RECEIPTCAL_STORE"`

	// Identity is the identity provider: local or supabase.
	// Environment variable: RECEIPTCAL_IDENTITY
	Identity string `koanf:"RECEIPTCAL_IDENTITY"`

	// DataDir holds the device identity, the session and the sqlite database.
	// Environment variable: RECEIPTCAL_DATA_DIR
	DataDir string `koanf:"RECEIPTCAL_DATA_DIR"`

	// ExtractorURL is the base URL of the extraction server.
	// Environment variable: RECEIPTCAL_EXTRACTOR_URL
	ExtractorURL string `koanf:"RECEIPTCAL_EXTRACTOR_URL"`

	// UnknownCategory replaces extracted categories outside the closed set.
	// Environment variable: RECEIPTCAL_UNKNOWN_CATEGORY
	UnknownCategory string `koanf:"RECEIPTCAL_UNKNOWN_CATEGORY"`

	// SignInAttempts bounds anonymous sign-in retries. 1 means a single attempt.
	// Environment variable: RECEIPTCAL_SIGNIN_ATTEMPTS
	SignInAttempts int `koanf:"RECEIPTCAL_SIGNIN_ATTEMPTS"`

	// HTTPTimeout bounds every outbound HTTP call made by the client.
	// Environment variable: HTTP_TIMEOUT
	HTTPTimeout time.Duration `koanf:"HTTP_TIMEOUT"`

	ImageConfig    `koanf:",squash"`
	SQLiteConfig   `koanf:",squash"`
	PostgresConfig `koanf:",squash"`
	SupabaseConfig `koanf:",squash"`
	ServerConfig   `koanf:",squash"`
}

// ImageConfig bounds the preprocessed upload.
type ImageConfig struct {
	MaxDimension int `koanf:"IMAGE_MAX_DIMENSION"`
	MaxBytes     int `koanf:"IMAGE_MAX_BYTES"`
}

// SQLiteConfig configures the sqlite store.
type SQLiteConfig struct {
	// SQLitePath defaults to <DataDir>/receiptcal.db.
	SQLitePath string `koanf:"SQLITE_PATH"`
}

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	Host     string `koanf:"POSTGRES_HOST"`
	Port     int    `koanf:"POSTGRES_PORT"`
	Database string `koanf:"POSTGRES_DB"`
	User     string `koanf:"POSTGRES_USER"`
	Password string `koanf:"POSTGRES_PASSWORD"`
	SSLMode  string `koanf:"POSTGRES_SSLMODE"`
}

// SupabaseConfig configures the Supabase Auth identity provider.
type SupabaseConfig struct {
	SupabaseURL     string `koanf:"SUPABASE_URL"`
	SupabaseAnonKey string `koanf:"SUPABASE_ANON_KEY"`
}

// ServerConfig configures the extraction server (receiptd).
type ServerConfig struct {
	Addr                string        `koanf:"RECEIPTD_ADDR"`
	GeminiAPIKey        string        `koanf:"GEMINI_API_KEY"`
	GeminiModel         string        `koanf:"GEMINI_MODEL"`
	GeminiTimeout       time.Duration `koanf:"GEMINI_TIMEOUT"`
	GeminiRetryAttempts int           `koanf:"GEMINI_RETRY_ATTEMPTS"`
}

// Load reads .env.local and .env (if present) into the environment, then
// unmarshals the environment into a Config with defaults applied.
func Load() (Config, error) {
	// Missing files are fine; variables already set win.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", nil), nil); err != nil {
		return Config{}, fmt.Errorf("loading config from environment: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: true}); err != nil {
		return Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// Default returns a Config with every default applied and nothing read from
// the environment.
func Default() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Store == "" {
		c.Store = DefaultStore
	}
	if c.Identity == "" {
		c.Identity = DefaultIdentity
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.ExtractorURL == "" {
		c.ExtractorURL = DefaultExtractorURL
	}
	if c.UnknownCategory == "" {
		c.UnknownCategory = string(api.DefaultCategory)
	}
	if c.SignInAttempts == 0 {
		c.SignInAttempts = DefaultSignInAttempts
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.MaxDimension == 0 {
		c.MaxDimension = DefaultMaxDimension
	}
	if c.MaxBytes == 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	if c.SQLitePath == "" {
		c.SQLitePath = filepath.Join(c.DataDir, "receiptcal.db")
	}
	if c.Port == 0 {
		c.Port = DefaultPostgresPort
	}
	if c.SSLMode == "" {
		c.SSLMode = DefaultPostgresSSLMode
	}
	if c.Addr == "" {
		c.Addr = DefaultServerAddr
	}
	if c.GeminiModel == "" {
		c.GeminiModel = DefaultGeminiModel
	}
	if c.GeminiTimeout == 0 {
		c.GeminiTimeout = DefaultGeminiTimeout
	}
	if c.GeminiRetryAttempts == 0 {
		c.GeminiRetryAttempts = DefaultGeminiRetries
	}
}

// Category returns the configured fallback for unrecognised extracted categories.
func (c Config) Category() api.Category {
	cat, ok := api.ParseCategory(c.UnknownCategory)
	if !ok {
		return api.DefaultCategory
	}
	return cat
}

// Validate checks the client configuration and reports every problem at once.
func (c Config) Validate() error {
	var errs []string

	if !slices.Contains([]string{"memory", "sqlite", "postgres"}, c.Store) {
		errs = append(errs, fmt.Sprintf("invalid RECEIPTCAL_STORE %q: must be memory, sqlite or postgres", c.Store))
	}
	if !slices.Contains([]string{"local", "supabase"}, c.Identity) {
		errs = append(errs, fmt.Sprintf("invalid RECEIPTCAL_IDENTITY %q: must be local or supabase", c.Identity))
	}

	if u, err := url.Parse(c.ExtractorURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Sprintf("invalid RECEIPTCAL_EXTRACTOR_URL %q: must be an http(s) URL", c.ExtractorURL))
	}
	if _, ok := api.ParseCategory(c.UnknownCategory); !ok {
		errs = append(errs, fmt.Sprintf("invalid RECEIPTCAL_UNKNOWN_CATEGORY %q", c.UnknownCategory))
	}
	if c.SignInAttempts < 1 || c.SignInAttempts > 10 {
		errs = append(errs, fmt.Sprintf("invalid RECEIPTCAL_SIGNIN_ATTEMPTS %d: must be between 1 and 10", c.SignInAttempts))
	}
	if c.HTTPTimeout < time.Second {
		errs = append(errs, fmt.Sprintf("invalid HTTP_TIMEOUT %v: must be at least 1s", c.HTTPTimeout))
	}
	if c.MaxDimension < 64 {
		errs = append(errs, fmt.Sprintf("invalid IMAGE_MAX_DIMENSION %d: must be at least 64", c.MaxDimension))
	}
	if c.MaxBytes < 16<<10 {
		errs = append(errs, fmt.Sprintf("invalid IMAGE_MAX_BYTES %d: must be at least 16KiB", c.MaxBytes))
	}

	if c.Store == "postgres" {
		if c.Host == "" {
			errs = append(errs, "POSTGRES_HOST is required for the postgres store")
		}
		if c.Database == "" {
			errs = append(errs, "POSTGRES_DB is required for the postgres store")
		}
		if c.User == "" {
			errs = append(errs, "POSTGRES_USER is required for the postgres store")
		}
		if c.Password == "" {
			errs = append(errs, "POSTGRES_PASSWORD is required for the postgres store")
		}
	}

	if c.Identity == "supabase" {
		if c.SupabaseURL == "" || c.SupabaseAnonKey == "" {
			errs = append(errs, "SUPABASE_URL and SUPABASE_ANON_KEY are required for the supabase identity")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

// ValidateServer checks the extraction server configuration.
func (c Config) ValidateServer() error {
	var errs []string

	if c.GeminiAPIKey == "" {
		errs = append(errs, "GEMINI_API_KEY is required")
	}
	if c.GeminiRetryAttempts < 1 {
		errs = append(errs, fmt.Sprintf("invalid GEMINI_RETRY_ATTEMPTS %d: must be at least 1", c.GeminiRetryAttempts))
	}
	if c.GeminiTimeout < time.Second {
		errs = append(errs, fmt.Sprintf("invalid GEMINI_TIMEOUT %v: must be at least 1s", c.GeminiTimeout))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}
