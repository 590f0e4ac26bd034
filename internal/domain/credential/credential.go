package credential

import (
	"fmt"
	"strings"
	"time"

	"masjidpay/internal/crypto"
)

// ProviderConfig is a tenant's stored configuration for one payment provider.
// Credential values are kept encrypted until Decrypt is called.
type ProviderConfig struct {
	ID                   int64
	TenantID             int64
	ProviderType         ProviderType
	IsActive             bool
	IsSandbox            bool
	EncryptedCredentials map[string]string
	CreatedAt            time.Time
	UpdatedAt            time.Time

	credentials map[string]string
}

// ProviderType identifies an external payment gateway.
type ProviderType string

const (
	ProviderBillplz   ProviderType = "billplz"
	ProviderToyyibPay ProviderType = "toyyibpay"
)

// Credential field names
const (
	FieldAPIKey        = "api_key"
	FieldXSignatureKey = "x_signature_key"
	FieldCollectionID  = "collection_id"
	FieldSecretKey     = "secret_key"
	FieldCategoryCode  = "category_code"
)

// Environment represents provider environment
type Environment string

const (
	EnvironmentSandbox    Environment = "sandbox"
	EnvironmentProduction Environment = "production"
)

// ParseProviderType normalises a provider tag such as "Billplz" or " toyyibpay ".
func ParseProviderType(s string) ProviderType {
	return ProviderType(strings.ToLower(strings.TrimSpace(s)))
}

// NewProviderConfig creates an active configuration with validation
func NewProviderConfig(tenantID int64, providerType ProviderType, sandbox bool) (*ProviderConfig, error) {
	if tenantID <= 0 {
		return nil, fmt.Errorf("invalid tenant ID: %d", tenantID)
	}
	if strings.TrimSpace(string(providerType)) == "" {
		return nil, fmt.Errorf("provider type is required")
	}

	return &ProviderConfig{
		TenantID:             tenantID,
		ProviderType:         providerType,
		IsActive:             true,
		IsSandbox:            sandbox,
		EncryptedCredentials: make(map[string]string),
	}, nil
}

// Environment reports whether the config targets the sandbox or production gateway.
func (c *ProviderConfig) Environment() Environment {
	if c.IsSandbox {
		return EnvironmentSandbox
	}
	return EnvironmentProduction
}

// SetEncryptedField stores an encrypted credential field
func (c *ProviderConfig) SetEncryptedField(fieldName, value string, encryptionKey []byte) error {
	if c.EncryptedCredentials == nil {
		c.EncryptedCredentials = make(map[string]string)
	}

	encrypted, err := crypto.EncryptString(encryptionKey, value)
	if err != nil {
		return fmt.Errorf("failed to encrypt field %s: %w", fieldName, err)
	}

	c.EncryptedCredentials[fieldName] = encrypted
	return nil
}

// Decrypt opens every encrypted field so Credential can serve plaintext values.
// A field that fails to decrypt is reported by name; its value is never logged.
func (c *ProviderConfig) Decrypt(encryptionKey []byte) error {
	plain := make(map[string]string, len(c.EncryptedCredentials))
	for name, enc := range c.EncryptedCredentials {
		if strings.TrimSpace(enc) == "" {
			continue
		}
		v, err := crypto.DecryptString(encryptionKey, enc)
		if err != nil {
			return fmt.Errorf("decrypt field %s: %w", name, err)
		}
		plain[name] = v
	}
	c.credentials = plain
	return nil
}

// WithCredentials returns a copy carrying plaintext credentials. Used by tests
// and by callers that already hold decrypted values.
func (c ProviderConfig) WithCredentials(values map[string]string) *ProviderConfig {
	c.credentials = make(map[string]string, len(values))
	for k, v := range values {
		c.credentials[k] = v
	}
	return &c
}

// Credential returns a decrypted credential value, or "" when absent.
func (c *ProviderConfig) Credential(name string) string {
	if c == nil || c.credentials == nil {
		return ""
	}
	return strings.TrimSpace(c.credentials[name])
}

// MissingFields lists the required names that have no decrypted value.
func (c *ProviderConfig) MissingFields(required []string) []string {
	var missing []string
	for _, name := range required {
		if c.Credential(name) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// Deactivate marks the configuration as inactive
func (c *ProviderConfig) Deactivate() {
	c.IsActive = false
}
