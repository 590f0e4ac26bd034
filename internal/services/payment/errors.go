package payment

import (
	"errors"
	"fmt"

	"masjidpay/internal/provider"
)

var (
	// ErrProviderNotConfigured wraps the resolver's cause when a tenant has no usable provider.
	ErrProviderNotConfigured = errors.New("payment provider not configured")
	// ErrMissingBillReference means the payload carries no bill id.
	ErrMissingBillReference = errors.New("missing bill reference")
	// ErrContributionNotFound means no contribution matches the (id, bill id) pair.
	ErrContributionNotFound = errors.New("contribution not found")
	// ErrSignatureMismatch means the callback failed verification; nothing was changed.
	ErrSignatureMismatch = errors.New("callback signature mismatch")
	// ErrCallbackEventNotFound is returned by replay for an unknown event id.
	ErrCallbackEventNotFound = errors.New("callback event not found")
)

// PersistenceAfterCreateError means the gateway bill exists but the contribution
// could not be linked to it. The bill must be reconciled by hand.
type PersistenceAfterCreateError struct {
	TenantID       int64
	ContributionID string
	Provider       provider.ProviderType
	BillID         string
	PaymentURL     string
	Err            error
}

func (e *PersistenceAfterCreateError) Error() string {
	return fmt.Sprintf("bill %s created at %s but contribution %s was not updated: %v", e.BillID, e.Provider, e.ContributionID, e.Err)
}

func (e *PersistenceAfterCreateError) Unwrap() error { return e.Err }

// ServiceError represents a payment service error
type ServiceError struct {
	Op      string
	Message string
	Err     error
}

func (e ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payment service %s: %s (%v)", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("payment service %s: %s", e.Op, e.Message)
}

func (e ServiceError) Unwrap() error {
	return e.Err
}
