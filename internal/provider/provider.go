package provider

import (
	"context"

	"github.com/shopspring/decimal"

	"masjidpay/internal/domain/credential"
)

// Adapter talks to one payment gateway. Implementations hold no per-tenant state;
// everything tenant specific arrives in the ProviderConfig.
type Adapter interface {
	Type() ProviderType
	Name() string
	RequiredCredentialFields() []CredentialField

	// ValidateBillRequest applies provider rules without touching the network.
	ValidateBillRequest(req BillCreateRequest) error
	CreateBill(ctx context.Context, cfg *credential.ProviderConfig, req BillCreateRequest) (*BillHandle, error)
	GetBill(ctx context.Context, cfg *credential.ProviderConfig, billID string) (*BillStatus, error)
	BuildPaymentURL(cfg *credential.ProviderConfig, billID string) string

	// ExtractBillID finds the bill reference in a callback or redirect payload.
	ExtractBillID(payload CallbackPayload) (string, bool)
	// VerifyCallback never errors; a missing field or bad token is simply false.
	VerifyCallback(cfg *credential.ProviderConfig, payload CallbackPayload) bool
	ParseCallback(payload CallbackPayload) (*CallbackResult, error)

	ToMinorUnits(amount decimal.Decimal) int64
	ToMajorUnits(minor int64) decimal.Decimal
}
