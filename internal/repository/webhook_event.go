package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tradesignal/billing-server-go/internal/model"
)

type WebhookEventRepository interface {
	// Record logs a delivery. A redelivery only overwrites an earlier unresolved or unverified row.
	Record(ctx context.Context, params model.CreateWebhookEventParams) error
	FindByOutcome(ctx context.Context, outcome model.WebhookOutcome, limit int) ([]model.WebhookEvent, error)
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

type webhookEventRepo struct {
	db *sqlx.DB
}

func NewWebhookEventRepository(db *sqlx.DB) WebhookEventRepository {
	return &webhookEventRepo{db: db}
}

func (r *webhookEventRepo) Record(ctx context.Context, params model.CreateWebhookEventParams) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_events (id, provider, event_id, event_type, status, account_id, outcome, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
		ON CONFLICT (provider, event_id) DO UPDATE SET
			outcome = EXCLUDED.outcome,
			account_id = COALESCE(EXCLUDED.account_id, webhook_events.account_id),
			received_at = NOW()
		WHERE webhook_events.outcome IN ('unresolved', 'unverified')
	`, uuid.NewString(), params.Provider, params.EventID, params.EventType, params.Status,
		params.AccountID, params.Outcome, nullIfEmpty(params.Payload))
	return err
}

func (r *webhookEventRepo) FindByOutcome(ctx context.Context, outcome model.WebhookOutcome, limit int) ([]model.WebhookEvent, error) {
	var events []model.WebhookEvent
	err := r.db.SelectContext(ctx, &events, `
		SELECT * FROM webhook_events
		WHERE outcome = $1
		ORDER BY received_at DESC
		LIMIT $2
	`, outcome, limit)
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *webhookEventRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM webhook_events WHERE received_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
