package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/ArionMiles/receiptcal/pkg/api"
	"github.com/ArionMiles/receiptcal/pkg/logging"
	"github.com/ArionMiles/receiptcal/pkg/store/storetest"
)

// TestNew_ConnectionFailure tests that New returns an error when the connection fails.
func TestNew_ConnectionFailure(t *testing.T) {
	cfg := Config{
		Host:     "nonexistent-host",
		Port:     5432,
		Database: "receiptcal",
		User:     "receiptcal",
		Password: "password",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := New(ctx, cfg, logging.Discard()); err == nil {
		t.Error("expected error when connecting to nonexistent host, got nil")
	}
}

func TestConnString(t *testing.T) {
	cfg := Config{Host: "db", Port: 6543, Database: "postgres", User: "app", Password: "pw", SSLMode: "require"}
	want := "host=db port=6543 user=app password=pw dbname=postgres sslmode=require"
	if got := cfg.ConnString(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	cfg.URL = "postgres://u@h/db"
	if got := cfg.ConnString(); got != cfg.URL {
		t.Errorf("URL should win, got %q", got)
	}
}

// startPostgres runs a throwaway Postgres container. Integration tests only
// run when TEST_WITH_DOCKER is set.
func startPostgres(t *testing.T) string {
	t.Helper()
	if os.Getenv("TEST_WITH_DOCKER") == "" {
		t.Skip("TEST_WITH_DOCKER not set, skipping integration test")
	}

	ctx := context.Background()
	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("receiptcal"),
		tcpostgres.WithUsername("receiptcal"),
		tcpostgres.WithPassword("receiptcal"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}
	return connStr
}

func TestStore(t *testing.T) {
	connStr := startPostgres(t)

	storetest.Run(t, func(t *testing.T) api.Repository {
		s, err := New(context.Background(), Config{URL: connStr}, logging.Discard())
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		t.Cleanup(func() { s.Close() })

		if _, err := s.pool.Exec(context.Background(), "TRUNCATE expenses"); err != nil {
			t.Fatalf("truncating: %v", err)
		}
		return s
	})
}

func TestInsertRejectedByCheck(t *testing.T) {
	connStr := startPostgres(t)

	s, err := New(context.Background(), Config{URL: connStr}, logging.Discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	err = s.Insert(context.Background(), api.NewExpense{
		OwnerID:  "o",
		Date:     civil.Date{Year: 2024, Month: 1, Day: 1},
		Amount:   0,
		Category: api.Food,
	})
	if !IsConstraintViolation(err) {
		t.Errorf("expected a check violation, got %v", err)
	}
}
