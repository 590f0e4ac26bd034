package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"masjidpay/internal/domain/credential"
)

// providerConfigRepository implements ProviderConfigRepository with pure data access
type providerConfigRepository struct {
	db *pgxpool.Pool
}

// NewProviderConfigRepository creates a new provider config repository
func NewProviderConfigRepository(db *pgxpool.Pool) *providerConfigRepository {
	return &providerConfigRepository{db: db}
}

// FindActive returns active configurations for a tenant and provider
func (r *providerConfigRepository) FindActive(ctx context.Context, tenantID int64, providerType credential.ProviderType) ([]*credential.ProviderConfig, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, tenant_id, provider_type, is_active, is_sandbox, credentials, created_at, updated_at
		FROM provider_configs
		WHERE tenant_id = $1 AND provider_type = $2 AND is_active = true
		ORDER BY id DESC`, tenantID, string(providerType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*credential.ProviderConfig
	for rows.Next() {
		c, err := scanProviderConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

// Save inserts a configuration. Any other active row for the pair is deactivated first.
func (r *providerConfigRepository) Save(ctx context.Context, c *credential.ProviderConfig) error {
	raw, err := json.Marshal(c.EncryptedCredentials)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if c.IsActive {
			if _, err := tx.Exec(ctx, `
				UPDATE provider_configs
				SET is_active = false, updated_at = now()
				WHERE tenant_id = $1 AND provider_type = $2 AND is_active = true`,
				c.TenantID, string(c.ProviderType)); err != nil {
				return err
			}
		}
		return tx.QueryRow(ctx, `
			INSERT INTO provider_configs (tenant_id, provider_type, is_active, is_sandbox, credentials)
			VALUES ($1, $2, $3, $4, $5::jsonb)
			RETURNING id, created_at, updated_at`,
			c.TenantID, string(c.ProviderType), c.IsActive, c.IsSandbox, string(raw)).
			Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	})
}

func scanProviderConfig(row pgx.Row) (*credential.ProviderConfig, error) {
	var (
		c            credential.ProviderConfig
		providerType string
		creds        []byte
	)
	err := row.Scan(&c.ID, &c.TenantID, &providerType, &c.IsActive, &c.IsSandbox, &creds, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}

	c.ProviderType = credential.ParseProviderType(providerType)
	c.EncryptedCredentials = map[string]string{}
	if len(creds) > 0 {
		if err := json.Unmarshal(creds, &c.EncryptedCredentials); err != nil {
			return nil, fmt.Errorf("provider config %d credentials: %w", c.ID, err)
		}
	}
	return &c, nil
}
