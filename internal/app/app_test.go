package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"cloud.google.com/go/civil"

	"github.com/ArionMiles/receiptcal/internal/backends"
	"github.com/ArionMiles/receiptcal/pkg/api"
	"github.com/ArionMiles/receiptcal/pkg/config"
	"github.com/ArionMiles/receiptcal/pkg/identity"
	"github.com/ArionMiles/receiptcal/pkg/logging"
	"github.com/ArionMiles/receiptcal/pkg/server"
)

type stubAnalyzer struct{ out string }

func (s stubAnalyzer) Analyze(context.Context, []byte, string) (json.RawMessage, error) {
	return json.RawMessage(s.out), nil
}

func testConfig(t *testing.T, extractorURL string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.SQLitePath = filepath.Join(cfg.DataDir, "receiptcal.db")
	cfg.ExtractorURL = extractorURL
	return cfg
}

func TestOpenScanAndSave(t *testing.T) {
	srv := httptest.NewServer(server.New(stubAnalyzer{
		out: `{"date":"2024-03-15","amount":980,"shop_name":"Store B","category":"日用品"}`,
	}, logging.Discard()))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	runner := NewRunner(backends.Default(), srv.Client(), logging.Discard())

	a, err := runner.Open(context.Background(), cfg, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if a.MountErr != nil {
		t.Fatalf("MountErr: %v", a.MountErr)
	}
	if a.GateState() != identity.Active {
		t.Errorf("gate state: got %s", a.GateState())
	}

	ctrl := a.Controller
	draft, err := ctrl.Extract(context.Background(), api.Image{Data: []byte("not really a jpeg"), MimeType: "image/jpeg"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if draft.Amount != 980 || draft.Category != api.DailyGoods {
		t.Errorf("draft: got %+v", draft)
	}
	if err := ctrl.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// The device identity and the database survive a restart.
	b, err := runner.Open(context.Background(), cfg, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.Close()

	day := civil.Date{Year: 2024, Month: 3, Day: 15}
	records := b.Controller.RecordsOn(day)
	if len(records) != 1 || records[0].ShopName != "Store B" || records[0].Amount != 980 {
		t.Errorf("records after reopen: got %+v", records)
	}
	if !b.Controller.HasRecord(day) {
		t.Error("day not marked after reopen")
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t, "ftp://nowhere")
	cfg.Store = "redis"

	_, err := NewRunner(backends.Default(), nil, logging.Discard()).Open(context.Background(), cfg, Options{})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if errors.Is(err, api.ErrIdentity) {
		t.Errorf("unexpected identity error: %v", err)
	}
}
