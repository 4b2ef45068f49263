// Package postgres provides a PostgreSQL expense repository. It targets the
// hosted Supabase database as well as any plain Postgres 13+.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ArionMiles/receiptcal/pkg/api"
	"github.com/ArionMiles/receiptcal/pkg/logging"
)

//go:embed 001_create_expenses.sql
var migrationSQL string

// Config holds the PostgreSQL connection configuration.
type Config struct {
	// URL, when set, is used as the connection string and the fields below are ignored.
	URL string

	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	// MaxPoolSize is the maximum number of connections in the pool.
	MaxPoolSize int
}

// ConnString returns the libpq-style connection string for cfg.
func (cfg Config) ConnString() string {
	if cfg.URL != "" {
		return cfg.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)
}

// Store is a PostgreSQL-backed api.Repository.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ api.Repository = (*Store)(nil)

// New connects to PostgreSQL, verifies the connection and applies the schema.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	logger = logging.OrDefault(logger).With("component", "store", "backend", "postgres")

	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	if cfg.MaxPoolSize == 0 {
		cfg.MaxPoolSize = 4
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxPoolSize)
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.Info("connected to PostgreSQL",
		"host", poolConfig.ConnConfig.Host,
		"port", poolConfig.ConnConfig.Port,
		"database", poolConfig.ConnConfig.Database,
	)

	s := &Store{pool: pool, logger: logger}

	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func (s *Store) runMigrations(ctx context.Context) error {
	s.logger.Debug("running database migrations")

	if _, err := s.pool.Exec(ctx, migrationSQL); err != nil {
		return fmt.Errorf("executing migration: %w", err)
	}
	return nil
}

// List implements api.Repository.
func (s *Store) List(ctx context.Context, ownerID string) ([]api.Expense, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, user_id, date, amount, shop_name, category, created_at
		FROM expenses
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing expenses: %w: %w", api.ErrRepository, err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (api.Expense, error) {
		var (
			e        api.Expense
			date     time.Time
			amount   int32
			category string
		)
		if err := row.Scan(&e.ID, &e.OwnerID, &date, &amount, &e.ShopName, &category, &e.CreatedAt); err != nil {
			return api.Expense{}, err
		}
		e.Date = civil.DateOf(date)
		e.Amount = int64(amount)
		e.Category = api.Category(category)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning expenses: %w: %w", api.ErrRepository, err)
	}
	if out == nil {
		out = []api.Expense{}
	}
	return out, nil
}

// Insert implements api.Repository.
func (s *Store) Insert(ctx context.Context, e api.NewExpense) error {
	var id string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO expenses (user_id, date, amount, shop_name, category)
		VALUES ($1, $2::date, $3, $4, $5)
		RETURNING id::text`,
		e.OwnerID, e.Date.In(time.UTC), e.Amount, e.ShopName, string(e.Category),
	).Scan(&id)
	if err != nil {
		if IsConstraintViolation(err) {
			s.logger.Warn("expense rejected by table constraints", "amount", e.Amount, "category", e.Category)
		}
		return fmt.Errorf("inserting expense: %w: %w", api.ErrRepository, err)
	}

	s.logger.Debug("inserted expense", "id", id, "date", e.Date, "amount", e.Amount)
	return nil
}

// Delete implements api.Repository. The owner is part of the predicate so a
// record can only be removed by the identity that created it.
func (s *Store) Delete(ctx context.Context, ownerID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("deleting expense %s: %w", id, api.ErrNotFound)
	}

	tag, err := s.pool.Exec(ctx, `DELETE FROM expenses WHERE id = $1::uuid AND user_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("deleting expense: %w: %w", api.ErrRepository, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deleting expense %s: %w", id, api.ErrNotFound)
	}

	s.logger.Debug("deleted expense", "id", id)
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging postgres: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
		s.logger.Debug("closed PostgreSQL connection pool")
	}
	return nil
}

// IsConstraintViolation reports whether err was caused by a CHECK or NOT NULL violation.
func IsConstraintViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.SQLState() {
	case "23514", "23502":
		return true
	}
	return false
}
