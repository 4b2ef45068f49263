// Package sqlite provides an expense repository backed by a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/ArionMiles/receiptcal/pkg/api"
	"github.com/ArionMiles/receiptcal/pkg/logging"
)

// createdAtLayout is fixed width so that text order matches time order.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z"

// Store is a SQLite-backed api.Repository.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ api.Repository = (*Store)(nil)

// New opens (creating if needed) the database at path and migrates it.
func New(path string, logger *slog.Logger) (*Store, error) {
	logger = logging.OrDefault(logger).With("component", "store", "backend", "sqlite")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	if err := RunMigrations(dsn); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.Info("opened SQLite database", "path", path)
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

// List implements api.Repository.
func (s *Store) List(ctx context.Context, ownerID string) ([]api.Expense, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, date, amount, shop_name, category, created_at
		FROM expenses
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing expenses: %w: %w", api.ErrRepository, err)
	}
	defer rows.Close()

	out := make([]api.Expense, 0)
	for rows.Next() {
		var (
			e         api.Expense
			date      string
			category  string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.OwnerID, &date, &e.Amount, &e.ShopName, &category, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning expense: %w: %w", api.ErrRepository, err)
		}
		if e.Date, err = civil.ParseDate(date); err != nil {
			return nil, fmt.Errorf("parsing date of expense %s: %w: %w", e.ID, api.ErrRepository, err)
		}
		if e.CreatedAt, err = time.Parse(createdAtLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at of expense %s: %w: %w", e.ID, api.ErrRepository, err)
		}
		e.Category = api.Category(category)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating expenses: %w: %w", api.ErrRepository, err)
	}
	return out, nil
}

// Insert implements api.Repository.
func (s *Store) Insert(ctx context.Context, e api.NewExpense) error {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO expenses (id, user_id, date, amount, shop_name, category, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, e.OwnerID, e.Date.String(), e.Amount, e.ShopName, string(e.Category),
		s.now().UTC().Format(createdAtLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting expense: %w: %w", api.ErrRepository, err)
	}

	s.logger.Debug("inserted expense", "id", id, "date", e.Date, "amount", e.Amount)
	return nil
}

// Delete implements api.Repository.
func (s *Store) Delete(ctx context.Context, ownerID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM expenses WHERE id = ? AND user_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("deleting expense: %w: %w", api.ErrRepository, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting expense: %w: %w", api.ErrRepository, err)
	}
	if n == 0 {
		return fmt.Errorf("deleting expense %s: %w", id, api.ErrNotFound)
	}

	s.logger.Debug("deleted expense", "id", id)
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging sqlite: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	if err != nil && !errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("closing sqlite: %w", err)
	}
	return nil
}
