package provider

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrUnknownProvider is returned for a provider tag with no registered adapter.
var ErrUnknownProvider = errors.New("unknown payment provider")

// Registry manages all payment adapters
type Registry struct {
	adapters map[ProviderType]Adapter
	mu       sync.RWMutex
}

// NewRegistry creates a new provider registry
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[ProviderType]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds an adapter to the registry, replacing any previous one of the same type.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.adapters[a.Type()] = a
	log.Info().
		Str("provider", string(a.Type())).
		Str("name", a.Name()).
		Msg("registered payment provider")
}

// Get returns the adapter for an explicit provider tag
func (r *Registry) Get(providerType ProviderType) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[providerType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, providerType)
	}
	return a, nil
}

// List returns all registered provider types, sorted
func (r *Registry) List() []ProviderType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]ProviderType, 0, len(r.adapters))
	for t := range r.adapters {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Info returns detailed information about a provider
func (r *Registry) Info(providerType ProviderType) (*ProviderInfo, error) {
	a, err := r.Get(providerType)
	if err != nil {
		return nil, err
	}
	return infoFor(a), nil
}

// AllInfo returns information about all registered providers
func (r *Registry) AllInfo() []*ProviderInfo {
	types := r.List()
	infos := make([]*ProviderInfo, 0, len(types))
	for _, t := range types {
		if a, err := r.Get(t); err == nil {
			infos = append(infos, infoFor(a))
		}
	}
	return infos
}

func infoFor(a Adapter) *ProviderInfo {
	return &ProviderInfo{
		Type:                a.Type(),
		Name:                a.Name(),
		RequiredCredentials: a.RequiredCredentialFields(),
	}
}
