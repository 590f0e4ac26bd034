package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"masjidpay/internal/domain/callback"
	"masjidpay/internal/store/repositories"
)

const callbackEventColumns = `id, provider, contribution_id, bill_id, source, payload, signature_valid,
	       processing_status, error, received_at, processed_at`

// callbackEventRepository implements CallbackEventRepository with pure data access
type callbackEventRepository struct {
	db *pgxpool.Pool
}

// NewCallbackEventRepository creates a new callback event repository
func NewCallbackEventRepository(db *pgxpool.Pool) repositories.CallbackEventRepository {
	return &callbackEventRepository{db: db}
}

// Save inserts an event as received
func (r *callbackEventRepository) Save(ctx context.Context, e *callback.Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return r.db.QueryRow(ctx, `
		INSERT INTO callback_events (provider, contribution_id, bill_id, source, payload,
		                             signature_valid, processing_status, error, received_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9)
		RETURNING id`,
		e.Provider, e.ContributionID, e.BillID, e.Source, string(payload),
		e.SignatureValid, string(e.ProcessingStatus), e.Error, e.ReceivedAt).Scan(&e.ID)
}

// FindByID finds an event by ID
func (r *callbackEventRepository) FindByID(ctx context.Context, id int64) (*callback.Event, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+callbackEventColumns+`
		FROM callback_events
		WHERE id = $1`, id)

	return scanCallbackEvent(row)
}

// FindByContribution lists events for a contribution, newest first
func (r *callbackEventRepository) FindByContribution(ctx context.Context, contributionID string, limit int) ([]*callback.Event, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+callbackEventColumns+`
		FROM callback_events
		WHERE contribution_id = $1
		ORDER BY received_at DESC, id DESC
		LIMIT $2`, contributionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*callback.Event
	for rows.Next() {
		e, err := scanCallbackEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkProcessed stores the processing outcome
func (r *callbackEventRepository) MarkProcessed(ctx context.Context, e *callback.Event) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE callback_events
		SET contribution_id = $2, bill_id = $3, signature_valid = $4,
		    processing_status = $5, error = $6, processed_at = $7
		WHERE id = $1`,
		e.ID, e.ContributionID, e.BillID, e.SignatureValid, string(e.ProcessingStatus), e.Error, e.ProcessedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

func scanCallbackEvent(row pgx.Row) (*callback.Event, error) {
	var (
		e       callback.Event
		payload []byte
		status  string
	)
	err := row.Scan(&e.ID, &e.Provider, &e.ContributionID, &e.BillID, &e.Source, &payload,
		&e.SignatureValid, &status, &e.Error, &e.ReceivedAt, &e.ProcessedAt)
	if err != nil {
		return nil, notFound(err)
	}

	e.ProcessingStatus = callback.ProcessingStatus(status)
	e.Payload = map[string]string{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("callback event %d payload: %w", e.ID, err)
		}
	}
	return &e, nil
}
