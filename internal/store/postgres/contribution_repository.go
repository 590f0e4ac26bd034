package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"masjidpay/internal/domain/contribution"
	"masjidpay/internal/store/repositories"
)

const contributionColumns = `id::text, tenant_id, COALESCE(bill_id, ''), amount::text, status,
	       COALESCE(payment_method, ''), payment_data, created_at, updated_at`

// contributionRepository implements ContributionRepository with pure data access
type contributionRepository struct {
	db *pgxpool.Pool
}

// NewContributionRepository creates a new contribution repository
func NewContributionRepository(db *pgxpool.Pool) repositories.ContributionRepository {
	return &contributionRepository{db: db}
}

// FindByID finds a contribution by ID
func (r *contributionRepository) FindByID(ctx context.Context, id string) (*contribution.Contribution, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+contributionColumns+`
		FROM contributions
		WHERE id = $1`, id)

	return scanContribution(row)
}

// FindByIDAndBill finds a contribution by its (id, bill_id) key
func (r *contributionRepository) FindByIDAndBill(ctx context.Context, id, billID string) (*contribution.Contribution, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+contributionColumns+`
		FROM contributions
		WHERE id = $1 AND bill_id = $2`, id, billID)

	return scanContribution(row)
}

// AttachBill links a bill to a contribution that is still pending
func (r *contributionRepository) AttachBill(ctx context.Context, id, paymentMethod, billID string, data contribution.PaymentData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode payment_data: %w", err)
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE contributions
		SET payment_method = $2, bill_id = $3, payment_data = $4::jsonb, updated_at = now()
		WHERE id = $1 AND status = 'pending'`, id, paymentMethod, billID, string(raw))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missOrStale(ctx, `SELECT 1 FROM contributions WHERE id = $1`, id)
	}
	return nil
}

// UpdatePayment writes status and payment_data in one statement
func (r *contributionRepository) UpdatePayment(ctx context.Context, id, billID string, status contribution.Status, data contribution.PaymentData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode payment_data: %w", err)
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE contributions
		SET status = $3, payment_data = $4::jsonb, updated_at = now()
		WHERE id = $1 AND bill_id = $2 AND status <> 'cancelled'`, id, billID, string(status), string(raw))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missOrStale(ctx, `SELECT 1 FROM contributions WHERE id = $1 AND bill_id = $2`, id, billID)
	}
	return nil
}

// FindStalePending lists pending contributions with a bill that have neither changed
// nor been synced since before. Rows synced longest ago come first.
func (r *contributionRepository) FindStalePending(ctx context.Context, before time.Time, limit int) ([]*contribution.Contribution, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+contributionColumns+`
		FROM contributions
		WHERE status = 'pending' AND bill_id IS NOT NULL
		  AND GREATEST(updated_at, last_synced_at) < $1
		ORDER BY GREATEST(updated_at, last_synced_at) ASC
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*contribution.Contribution
	for rows.Next() {
		c, err := scanContribution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkSynced stamps last_synced_at; updated_at is left alone
func (r *contributionRepository) MarkSynced(ctx context.Context, id string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE contributions SET last_synced_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

// missOrStale tells a missing row from one a guarded update skipped.
func (r *contributionRepository) missOrStale(ctx context.Context, query string, args ...any) error {
	var one int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&one); err != nil {
		return notFound(err)
	}
	return repositories.ErrStale
}

// scanContribution works for both pgx.Row and pgx.Rows
func scanContribution(row pgx.Row) (*contribution.Contribution, error) {
	var (
		c      contribution.Contribution
		amount string
		status string
		data   []byte
	)
	err := row.Scan(&c.ID, &c.TenantID, &c.BillID, &amount, &status,
		&c.PaymentMethod, &data, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}

	if c.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("contribution %s amount %q: %w", c.ID, amount, err)
	}
	c.Status = contribution.Status(status)
	if c.PaymentData, err = contribution.ParsePaymentData(data); err != nil {
		return nil, fmt.Errorf("contribution %s payment_data: %w", c.ID, err)
	}
	return &c, nil
}
