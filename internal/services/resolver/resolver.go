package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"masjidpay/internal/domain/credential"
	"masjidpay/internal/provider"
	"masjidpay/internal/store/repositories"
)

// ErrNotConfigured means the tenant has no active configuration for the provider.
var ErrNotConfigured = errors.New("payment provider not configured")

// ConfigurationError means a configuration exists but cannot be used.
type ConfigurationError struct {
	TenantID int64
	Provider provider.ProviderType
	Missing  []string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("provider %s for tenant %d is missing credentials: %s", e.Provider, e.TenantID, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("provider %s for tenant %d is misconfigured: %s", e.Provider, e.TenantID, e.Reason)
}

// Resolver maps (tenant, provider type) to a decrypted, complete configuration
type Resolver struct {
	repo     repositories.ProviderConfigRepository
	registry *provider.Registry
	aesKey   []byte
}

// New creates a resolver. Required credential fields come from the registered adapters.
func New(repo repositories.ProviderConfigRepository, registry *provider.Registry, aesKey []byte) *Resolver {
	return &Resolver{
		repo:     repo,
		registry: registry,
		aesKey:   aesKey,
	}
}

// Resolve returns the tenant's active configuration with credentials decrypted.
func (r *Resolver) Resolve(ctx context.Context, tenantID int64, providerType provider.ProviderType) (*credential.ProviderConfig, error) {
	adapter, err := r.registry.Get(providerType)
	if err != nil {
		return nil, err
	}

	configs, err := r.repo.FindActive(ctx, tenantID, providerType)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrNotConfigured
		}
		return nil, fmt.Errorf("load provider config: %w", err)
	}

	switch len(configs) {
	case 0:
		return nil, ErrNotConfigured
	case 1:
	default:
		return nil, &ConfigurationError{
			TenantID: tenantID,
			Provider: providerType,
			Reason:   fmt.Sprintf("%d active configurations", len(configs)),
		}
	}

	cfg := configs[0]
	if !cfg.IsActive {
		return nil, ErrNotConfigured
	}
	if err := cfg.Decrypt(r.aesKey); err != nil {
		log.Error().
			Int64("tenant_id", tenantID).
			Str("provider", string(providerType)).
			Int64("config_id", cfg.ID).
			Err(err).
			Msg("provider credentials cannot be decrypted")
		return nil, &ConfigurationError{TenantID: tenantID, Provider: providerType, Reason: "credentials cannot be decrypted"}
	}

	if missing := cfg.MissingFields(provider.RequiredNames(adapter.RequiredCredentialFields())); len(missing) > 0 {
		return nil, &ConfigurationError{TenantID: tenantID, Provider: providerType, Missing: missing}
	}
	return cfg, nil
}
