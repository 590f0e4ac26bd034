package repositories

import (
	"context"
	"errors"
	"time"

	"masjidpay/internal/domain/callback"
	"masjidpay/internal/domain/contribution"
	"masjidpay/internal/domain/credential"
)

// ErrNotFound is returned when no row matches.
var ErrNotFound = errors.New("not found")

// ErrStale is returned when a guarded update matched no row because the record
// moved on (for example it was cancelled) since it was read.
var ErrStale = errors.New("record changed concurrently")

// ContributionRepository defines the contract for contribution data access
type ContributionRepository interface {
	FindByID(ctx context.Context, id string) (*contribution.Contribution, error)
	// FindByIDAndBill looks up by the (id, bill_id) compound key.
	FindByIDAndBill(ctx context.Context, id, billID string) (*contribution.Contribution, error)
	// AttachBill links a bill to a still-pending contribution.
	AttachBill(ctx context.Context, id, paymentMethod, billID string, data contribution.PaymentData) error
	// UpdatePayment writes status and payment_data in one statement, keyed by
	// (id, bill_id). Cancelled rows are never touched.
	UpdatePayment(ctx context.Context, id, billID string, status contribution.Status, data contribution.PaymentData) error
	// FindStalePending lists pending contributions with a bill that neither
	// changed nor were synced since before, least recently looked at first.
	FindStalePending(ctx context.Context, before time.Time, limit int) ([]*contribution.Contribution, error)
	// MarkSynced records a status query attempt without touching status or payment_data.
	MarkSynced(ctx context.Context, id string, at time.Time) error
}

// ProviderConfigRepository defines the contract for provider configuration access
type ProviderConfigRepository interface {
	// FindActive returns every active row for the pair; more than one is a misconfiguration.
	FindActive(ctx context.Context, tenantID int64, providerType credential.ProviderType) ([]*credential.ProviderConfig, error)
}

// CallbackEventRepository defines the contract for the inbound callback log
type CallbackEventRepository interface {
	Save(ctx context.Context, event *callback.Event) error
	FindByID(ctx context.Context, id int64) (*callback.Event, error)
	FindByContribution(ctx context.Context, contributionID string, limit int) ([]*callback.Event, error)
	// MarkProcessed persists the event's bill id, signature validity, processing status and error.
	MarkProcessed(ctx context.Context, event *callback.Event) error
}
