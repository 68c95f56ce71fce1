package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/imedwei/railway-object-storage/internal/config"
)

// Factory builds a provider from its configuration entry.
type Factory func(ctx context.Context, cfg config.ProviderConfig, logger *slog.Logger) (Provider, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// RegisterFactory makes a backend type available to NewProvider. Backends in
// this package register themselves from init.
func RegisterFactory(backendType string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[backendType] = f
}

// RegisteredTypes returns the names of all registered backend types.
func RegisteredTypes() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewProvider validates cfg and builds the provider through its registered factory.
func NewProvider(ctx context.Context, cfg config.ProviderConfig, logger *slog.Logger) (Provider, error) {
	factoriesMu.RLock()
	f, ok := factories[cfg.BackendType()]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage provider type: %s (registered: %s)",
			cfg.BackendType(), strings.Join(RegisteredTypes(), ", "))
	}

	// Externally registered types validate their own settings.
	switch cfg.BackendType() {
	case config.TypeLocal, config.TypeS3, config.TypeGCS:
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration for provider %s: %w", cfg.Name, err)
		}
	}

	if logger == nil {
		logger = slog.Default()
	}
	p, err := f(ctx, cfg, logger.With("provider", cfg.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s storage: %w", cfg.Name, err)
	}
	return p, nil
}

// Registration pairs a constructed provider with its priority.
type Registration struct {
	Provider Provider
	Priority int
}

// BuildProviders constructs every enabled provider in cfg. Entries that fail
// validation or construction are skipped and logged.
func BuildProviders(ctx context.Context, cfg *config.Config, logger *slog.Logger) []Registration {
	enabled := cfg.EnabledProviders()
	if skipped := len(cfg.Providers) - len(enabled); skipped > 0 {
		logger.Info("Skipping disabled storage providers", "count", skipped)
	}

	var regs []Registration
	for _, pc := range enabled {
		p, err := NewProvider(ctx, pc, logger)
		if err != nil {
			logger.Warn("Skipping storage provider", "provider", pc.Name, "reason", err)
			continue
		}
		regs = append(regs, Registration{Provider: p, Priority: pc.Priority})
	}
	return regs
}
