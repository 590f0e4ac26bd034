package contribution

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Contribution is a member's donation or fee that is settled through a payment gateway.
type Contribution struct {
	ID            string
	TenantID      int64
	BillID        string
	Amount        decimal.Decimal
	Status        Status
	PaymentMethod string
	PaymentData   PaymentData
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Status represents contribution payment status
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status ends the payment lifecycle.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ParseID validates a contribution id and returns its canonical form.
func ParseID(raw string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid contribution id %q: %w", raw, err)
	}
	return id.String(), nil
}

// HasBill reports whether a gateway bill is attached.
func (c *Contribution) HasBill() bool {
	return strings.TrimSpace(c.BillID) != ""
}

// CheckPayable returns an error when no bill may be created for the contribution.
func (c *Contribution) CheckPayable() error {
	if c.Status != StatusPending {
		return DomainError{Code: ErrNotPayable, Message: fmt.Sprintf("contribution %s is %s", c.ID, c.Status)}
	}
	if !c.Amount.IsPositive() {
		return DomainError{Code: ErrInvalidAmount, Message: fmt.Sprintf("amount must be positive: %s", c.Amount)}
	}
	return nil
}

// Decision is the outcome of applying a reported gateway status to a contribution.
type Decision int

const (
	// DecisionApply moves the contribution to the reported status.
	DecisionApply Decision = iota
	// DecisionKeep leaves the status as is; the callback is still recorded.
	DecisionKeep
	// DecisionConflict is a terminal regression, e.g. failed after completed.
	DecisionConflict
	// DecisionLocked means the contribution may not be touched at all.
	DecisionLocked
)

func (d Decision) String() string {
	switch d {
	case DecisionApply:
		return "apply"
	case DecisionKeep:
		return "keep"
	case DecisionConflict:
		return "conflict"
	case DecisionLocked:
		return "locked"
	}
	return "unknown"
}

// Decide returns how a reported status affects the current one.
//
// cancelled is never overwritten. A pending report never moves a contribution.
// completed never regresses. failed may still become completed because a
// gateway can accept a later attempt against the same bill.
func Decide(current, reported Status) Decision {
	switch {
	case current == StatusCancelled:
		return DecisionLocked
	case reported == current, reported == StatusPending:
		return DecisionKeep
	case current == StatusPending:
		return DecisionApply
	case current == StatusFailed && reported == StatusCompleted:
		return DecisionApply
	default:
		return DecisionConflict
	}
}

// DomainError represents a domain-level error
type DomainError struct {
	Message string
	Code    string
}

func (e DomainError) Error() string {
	return fmt.Sprintf("domain error [%s]: %s", e.Code, e.Message)
}

// Domain error codes
const (
	ErrInvalidAmount = "INVALID_AMOUNT"
	ErrNotPayable    = "NOT_PAYABLE"
)
