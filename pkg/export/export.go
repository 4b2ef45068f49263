// Package export writes a snapshot of the record cache to CSV or JSON.
package export

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ArionMiles/receiptcal/pkg/api"
	"github.com/ArionMiles/receiptcal/pkg/logging"
)

// Format is an export file format.
type Format string

// Supported formats.
const (
	CSV  Format = "csv"
	JSON Format = "json"
)

// ParseFormat parses a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case CSV, JSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown export format %q (want csv or json)", s)
	}
}

// Write encodes records to w in the given format.
func Write(w io.Writer, records []api.Expense, format Format) error {
	switch format {
	case CSV:
		return writeCSV(w, records)
	case JSON:
		return writeJSON(w, records)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

// WriteFile writes records to path, replacing any existing file.
func WriteFile(path string, records []api.Expense, format Format, logger *slog.Logger) error {
	logger = logging.OrDefault(logger).With("component", "export", "format", string(format))

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating export directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("opening export file: %w", err)
	}

	if err := Write(f, records, format); err != nil {
		if closeErr := f.Close(); closeErr != nil {
			return fmt.Errorf("writing export: %w (close error: %w)", err, closeErr)
		}
		return fmt.Errorf("writing export: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing export file: %w", err)
	}

	logger.Info("records exported", "file", path, "count", len(records))
	return nil
}
