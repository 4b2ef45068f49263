package backends

import (
	"context"
	"path/filepath"
	"slices"
	"testing"

	"github.com/ArionMiles/receiptcal/pkg/config"
	"github.com/ArionMiles/receiptcal/pkg/logging"
)

func TestDefaultRegistry(t *testing.T) {
	r := Default()

	var stores []string
	for _, p := range r.ListStores() {
		stores = append(stores, p.Name())
	}
	if !slices.Equal(stores, []string{"memory", "postgres", "sqlite"}) {
		t.Errorf("stores: got %v", stores)
	}

	var ids []string
	for _, p := range r.ListIdentities() {
		ids = append(ids, p.Name())
	}
	if !slices.Equal(ids, []string{"local", "supabase"}) {
		t.Errorf("identities: got %v", ids)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterStore(memoryPlugin{}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.RegisterStore(memoryPlugin{}); err == nil {
		t.Error("expected duplicate error")
	}
}

func TestUnknownBackend(t *testing.T) {
	r := Default()
	if _, err := r.OpenStore(context.Background(), "redis", config.Config{}, nil); err == nil {
		t.Error("expected error for unknown store")
	}
	if _, err := r.NewProvider("github", config.Config{}, nil, nil); err == nil {
		t.Error("expected error for unknown identity")
	}
}

func TestOpenSQLiteAndLocal(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Config{DataDir: dir, SQLiteConfig: config.SQLiteConfig{SQLitePath: filepath.Join(dir, "x.db")}}
	r := Default()

	s, err := r.OpenStore(context.Background(), "sqlite", cfg, logging.Discard())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer s.Close()
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}

	p, err := r.NewProvider("local", cfg, nil, logging.Discard())
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if p.Name() != "local" {
		t.Errorf("provider: got %s", p.Name())
	}
}

func TestSupabaseRequiresKeys(t *testing.T) {
	if _, err := Default().NewProvider("supabase", config.Config{DataDir: t.TempDir()}, nil, nil); err == nil {
		t.Error("expected error without supabase credentials")
	}
	schema := supabasePlugin{}.ConfigSchema()
	if got := RequiredEnv(schema); !slices.Equal(got, []string{"SUPABASE_URL", "SUPABASE_ANON_KEY"}) {
		t.Errorf("RequiredEnv: got %v", got)
	}
}
