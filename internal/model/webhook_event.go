package model

import (
	"encoding/json"
	"time"
)

// WebhookEvent is one delivered provider callback and what was done with it.
type WebhookEvent struct {
	ID         string          `db:"id" json:"id"`
	Provider   Provider        `db:"provider" json:"provider"`
	EventID    string          `db:"event_id" json:"eventId"`
	EventType  string          `db:"event_type" json:"eventType"`
	Status     PaymentStatus   `db:"status" json:"status"`
	AccountID  *string         `db:"account_id" json:"accountId,omitempty"`
	Outcome    WebhookOutcome  `db:"outcome" json:"outcome"`
	Payload    json.RawMessage `db:"payload" json:"payload,omitempty"`
	ReceivedAt time.Time       `db:"received_at" json:"receivedAt"`
}

type CreateWebhookEventParams struct {
	Provider  Provider
	EventID   string
	EventType string
	Status    PaymentStatus
	AccountID *string
	Outcome   WebhookOutcome
	Payload   json.RawMessage
}
