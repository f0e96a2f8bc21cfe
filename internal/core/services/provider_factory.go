package services

import (
	"sort"
	"sync"

	"github.com/custodia-labs/corpus-sync/internal/core/domain"
	"github.com/custodia-labs/corpus-sync/internal/core/ports/driven"
)

// Ensure ProviderFactory implements the interface.
var _ driven.ProviderFactory = (*ProviderFactory)(nil)

// ProviderFactory maintains the registry of provider types and builds
// fresh provider instances per sync session.
type ProviderFactory struct {
	mu       sync.RWMutex
	builders map[string]driven.ProviderBuilder
}

// NewProviderFactory creates an empty factory. Provider packages are
// registered by the composition root at startup.
func NewProviderFactory() *ProviderFactory {
	return &ProviderFactory{
		builders: make(map[string]driven.ProviderBuilder),
	}
}

// Register adds a provider builder for the given type.
func (f *ProviderFactory) Register(providerType string, builder driven.ProviderBuilder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[providerType] = builder
}

// Create returns a fresh Provider for the given provider type.
func (f *ProviderFactory) Create(providerType string) (driven.Provider, error) {
	f.mu.RLock()
	builder, ok := f.builders[providerType]
	f.mu.RUnlock()
	if !ok {
		return nil, domain.NewProviderNotFoundError(providerType)
	}
	return builder(), nil
}

// SupportedTypes returns all registered provider types, sorted.
func (f *ProviderFactory) SupportedTypes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	types := make([]string, 0, len(f.builders))
	for t := range f.builders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
