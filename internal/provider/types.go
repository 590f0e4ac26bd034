package provider

import (
	"strings"

	"github.com/shopspring/decimal"

	"masjidpay/internal/domain/contribution"
	"masjidpay/internal/domain/credential"
)

// Provider identification
type ProviderType = credential.ProviderType

const (
	ProviderBillplz   = credential.ProviderBillplz
	ProviderToyyibPay = credential.ProviderToyyibPay
)

// Credential field definitions for provider setup
type CredentialField struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Type        string `json:"type"` // text, password
	Required    bool   `json:"required"`
}

// RequiredNames returns the names of the required fields.
func RequiredNames(fields []CredentialField) []string {
	var names []string
	for _, f := range fields {
		if f.Required {
			names = append(names, f.Name)
		}
	}
	return names
}

// BillCreateRequest describes one bill to open at a gateway. Amount is in major units (MYR).
// Callers build it once and pass it by value.
type BillCreateRequest struct {
	TenantID       int64           `validate:"gt=0"`
	ContributionID string          `validate:"required"`
	Amount         decimal.Decimal `validate:"-"`
	PayerName      string          `validate:"required,max=255"`
	PayerEmail     string          `validate:"omitempty,email,max=255"`
	PayerMobile    string          `validate:"omitempty,max=20"`
	Description    string          `validate:"max=1000"`
	Reference      string          `validate:"max=120"`
	CallbackURL    string          `validate:"required,url"`
	RedirectURL    string          `validate:"omitempty,url"`
}

// Normalised returns a copy with surrounding whitespace removed.
func (r BillCreateRequest) Normalised() BillCreateRequest {
	r.ContributionID = strings.TrimSpace(r.ContributionID)
	r.PayerName = strings.TrimSpace(r.PayerName)
	r.PayerEmail = strings.TrimSpace(r.PayerEmail)
	r.PayerMobile = strings.TrimSpace(r.PayerMobile)
	r.Description = strings.TrimSpace(r.Description)
	r.Reference = strings.TrimSpace(r.Reference)
	return r
}

// BillHandle is the gateway's answer to a bill creation.
type BillHandle struct {
	BillID       string
	PaymentURL   string
	AmountMinor  int64
	CollectionID string // Billplz collection or ToyyibPay category
	DisplayName  string // bill name as sent, after provider truncation
}

// BillStatus is the state of a bill as reported by a server-to-server query.
type BillStatus struct {
	BillID      string
	Status      contribution.Status
	AmountMinor int64
	AmountKnown bool
	Raw         map[string]string
}

// CallbackPayload is the raw, untrusted key/value payload posted by a gateway.
type CallbackPayload map[string]string

// Get returns a trimmed value.
func (p CallbackPayload) Get(key string) string {
	return strings.TrimSpace(p[key])
}

// CallbackResult is the outcome a gateway reports in a callback.
type CallbackResult struct {
	BillID      string
	Status      contribution.Status
	Amount      decimal.Decimal
	AmountKnown bool
	Reference   string
}

// ProviderInfo contains metadata about a provider
type ProviderInfo struct {
	Type                ProviderType      `json:"type"`
	Name                string            `json:"name"`
	RequiredCredentials []CredentialField `json:"required_credentials"`
}
