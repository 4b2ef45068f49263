// Package app wires the configured backends into a pipeline controller.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ArionMiles/receiptcal/internal/backends"
	"github.com/ArionMiles/receiptcal/pkg/client"
	"github.com/ArionMiles/receiptcal/pkg/config"
	"github.com/ArionMiles/receiptcal/pkg/extraction"
	"github.com/ArionMiles/receiptcal/pkg/identity"
	"github.com/ArionMiles/receiptcal/pkg/imageprep"
	"github.com/ArionMiles/receiptcal/pkg/logging"
	"github.com/ArionMiles/receiptcal/pkg/pipeline"
)

// Options customizes how the app interacts with the user.
type Options struct {
	Confirm pipeline.ConfirmFunc
	Notify  pipeline.NotifyFunc
}

// App is a mounted pipeline together with the resources it owns.
type App struct {
	Controller *pipeline.Controller
	Store      backends.Store
	Provider   identity.Provider
	Extractor  *extraction.Client
	// MountErr is the error from mounting the controller, if any.
	MountErr error

	gate   *identity.Gate
	logger *slog.Logger
}

// Runner builds Apps from the backend registry.
type Runner struct {
	registry   *backends.Registry
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRunner creates a Runner. A nil httpClient gets an instrumented client.
func NewRunner(registry *backends.Registry, httpClient *http.Client, logger *slog.Logger) *Runner {
	return &Runner{
		registry:   registry,
		httpClient: httpClient,
		logger:     logging.OrDefault(logger),
	}
}

// Open validates cfg, opens the store and identity provider, and mounts the
// controller. The returned App must be closed.
func (r *Runner) Open(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpClient := r.httpClient
	if httpClient == nil {
		httpClient = client.NewHTTP(cfg.HTTPTimeout)
	}

	r.logger.Info("starting receiptcal",
		"store", cfg.Store,
		"identity", cfg.Identity,
		"extractor", cfg.ExtractorURL,
	)

	store, err := r.registry.OpenStore(ctx, cfg.Store, cfg, r.logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	provider, err := r.registry.NewProvider(cfg.Identity, cfg, httpClient, r.logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("creating identity provider: %w", err)
	}

	extractor, err := extraction.New(extraction.Options{
		BaseURL:    cfg.ExtractorURL,
		HTTPClient: httpClient,
		Logger:     r.logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("creating extraction client: %w", err)
	}

	gate := identity.NewGate(provider, identity.GateOptions{
		SignInAttempts: uint(cfg.SignInAttempts),
		Logger:         r.logger,
	})

	ctrl := pipeline.New(gate, extractor, store, pipeline.Options{
		Preprocessor: imageprep.New(imageprep.Options{
			MaxDimension: cfg.MaxDimension,
			MaxBytes:     cfg.MaxBytes,
			Logger:       r.logger,
		}),
		UnknownCategory: cfg.Category(),
		Confirm:         opts.Confirm,
		Notify:          opts.Notify,
		Logger:          r.logger,
	})

	a := &App{
		Controller: ctrl,
		Store:      store,
		Provider:   provider,
		Extractor:  extractor,
		gate:       gate,
		logger:     r.logger,
	}

	// A failed mount is not fatal. Without an identity every data operation
	// fails with api.ErrIdentity; a failed first load leaves the cache empty.
	if err := ctrl.Mount(ctx); err != nil {
		a.MountErr = err
		r.logger.Warn("pipeline mounted with errors", "error", err)
	}

	return a, nil
}

// GateState reports the identity state.
func (a *App) GateState() identity.State {
	return a.gate.State()
}

// Close tears down the controller and releases the store.
func (a *App) Close() error {
	a.Controller.Close()
	if err := a.Store.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}
	a.logger.Debug("app closed")
	return nil
}
