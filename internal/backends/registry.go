// Package backends provides a registry for storage backends and identity providers.
package backends

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/ArionMiles/receiptcal/pkg/api"
	"github.com/ArionMiles/receiptcal/pkg/config"
	"github.com/ArionMiles/receiptcal/pkg/identity"
)

// Store is a repository that owns a connection.
type Store interface {
	api.Repository
	Ping(ctx context.Context) error
	Close() error
}

// StorePlugin opens a storage backend.
type StorePlugin interface {
	// Name returns the backend name (e.g., "sqlite", "postgres").
	Name() string
	// Description returns a human-readable description.
	Description() string
	// ConfigSchema returns a JSON schema describing the backend's configuration.
	ConfigSchema() map[string]any
	// Open connects to the backend.
	Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (Store, error)
}

// IdentityPlugin creates an identity provider.
type IdentityPlugin interface {
	// Name returns the provider name (e.g., "local", "supabase").
	Name() string
	// Description returns a human-readable description.
	Description() string
	// ConfigSchema returns a JSON schema describing the provider's configuration.
	ConfigSchema() map[string]any
	// NewProvider creates the provider.
	NewProvider(cfg config.Config, httpClient *http.Client, logger *slog.Logger) (identity.Provider, error)
}

// Registry manages available backends.
type Registry struct {
	stores     map[string]StorePlugin
	identities map[string]IdentityPlugin
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		stores:     make(map[string]StorePlugin),
		identities: make(map[string]IdentityPlugin),
	}
}

// Default returns a registry with every built-in backend registered.
func Default() *Registry {
	r := NewRegistry()
	for _, p := range []StorePlugin{memoryPlugin{}, sqlitePlugin{}, postgresPlugin{}} {
		_ = r.RegisterStore(p)
	}
	for _, p := range []IdentityPlugin{localPlugin{}, supabasePlugin{}} {
		_ = r.RegisterIdentity(p)
	}
	return r
}

// RegisterStore registers a storage plugin.
func (r *Registry) RegisterStore(plugin StorePlugin) error {
	name := plugin.Name()
	if _, exists := r.stores[name]; exists {
		return fmt.Errorf("store plugin %q already registered", name)
	}
	r.stores[name] = plugin
	return nil
}

// RegisterIdentity registers an identity plugin.
func (r *Registry) RegisterIdentity(plugin IdentityPlugin) error {
	name := plugin.Name()
	if _, exists := r.identities[name]; exists {
		return fmt.Errorf("identity plugin %q already registered", name)
	}
	r.identities[name] = plugin
	return nil
}

// GetStore returns a storage plugin by name.
func (r *Registry) GetStore(name string) (StorePlugin, error) {
	plugin, exists := r.stores[name]
	if !exists {
		return nil, fmt.Errorf("store plugin %q not found (available: %s)", name, strings.Join(r.storeNames(), ", "))
	}
	return plugin, nil
}

// GetIdentity returns an identity plugin by name.
func (r *Registry) GetIdentity(name string) (IdentityPlugin, error) {
	plugin, exists := r.identities[name]
	if !exists {
		return nil, fmt.Errorf("identity plugin %q not found (available: %s)", name, strings.Join(r.identityNames(), ", "))
	}
	return plugin, nil
}

// ListStores returns all registered storage plugins, sorted by name.
func (r *Registry) ListStores() []StorePlugin {
	plugins := make([]StorePlugin, 0, len(r.stores))
	for _, name := range r.storeNames() {
		plugins = append(plugins, r.stores[name])
	}
	return plugins
}

// ListIdentities returns all registered identity plugins, sorted by name.
func (r *Registry) ListIdentities() []IdentityPlugin {
	plugins := make([]IdentityPlugin, 0, len(r.identities))
	for _, name := range r.identityNames() {
		plugins = append(plugins, r.identities[name])
	}
	return plugins
}

// OpenStore opens the named storage backend.
func (r *Registry) OpenStore(ctx context.Context, name string, cfg config.Config, logger *slog.Logger) (Store, error) {
	plugin, err := r.GetStore(name)
	if err != nil {
		return nil, err
	}
	return plugin.Open(ctx, cfg, logger)
}

// NewProvider creates the named identity provider.
func (r *Registry) NewProvider(name string, cfg config.Config, httpClient *http.Client, logger *slog.Logger) (identity.Provider, error) {
	plugin, err := r.GetIdentity(name)
	if err != nil {
		return nil, err
	}
	return plugin.NewProvider(cfg, httpClient, logger)
}

// RequiredEnv returns the environment variables the schema marks as required.
func RequiredEnv(schema map[string]any) []string {
	required, _ := schema["required"].([]string)
	return slices.Clone(required)
}

func (r *Registry) storeNames() []string {
	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (r *Registry) identityNames() []string {
	names := make([]string, 0, len(r.identities))
	for name := range r.identities {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
