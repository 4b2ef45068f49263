// Package client provides the outbound HTTP client and the on-disk session
// file shared by the receiptcal collaborators.
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ArionMiles/receiptcal/pkg/identity"
)

// DefaultTimeout bounds each outbound request.
const DefaultTimeout = 60 * time.Second

// NewHTTP returns an instrumented HTTP client with the given timeout.
func NewHTTP(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// SessionFromFile reads a persisted session. A missing file is not an error:
// it returns nil, nil.
func SessionFromFile(file string) (*identity.Session, error) {
	f, err := os.Open(file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening session file: %w", err)
	}
	defer f.Close()

	sess := &identity.Session{}
	if err := json.NewDecoder(f).Decode(sess); err != nil {
		return nil, fmt.Errorf("decoding session file: %w", err)
	}
	if sess.User.ID == "" {
		return nil, nil
	}
	return sess, nil
}

// SaveSession writes the session with owner-only permissions.
func SaveSession(path string, sess *identity.Session) error {
	slog.Debug("saving session file", "path", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating session file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(sess); err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	return nil
}

// RemoveSession deletes the session file if it exists.
func RemoveSession(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing session file: %w", err)
	}
	return nil
}
