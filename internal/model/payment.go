package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// EventRank orders events for one payment or subscription.
// Ranks compare lexicographically on (Phase, At, Step).
type EventRank struct {
	Phase int       `json:"phase"`
	At    time.Time `json:"at"`
	Step  int       `json:"step"`
}

// NewEventRank truncates At to the storage precision so a redelivered event compares equal.
func NewEventRank(phase int, at time.Time, step int) EventRank {
	if !at.IsZero() {
		at = at.UTC().Truncate(time.Microsecond)
	}
	return EventRank{Phase: phase, At: at, Step: step}
}

// After reports whether r is strictly newer than o.
func (r EventRank) After(o EventRank) bool {
	if r.Phase != o.Phase {
		return r.Phase > o.Phase
	}
	if !r.At.Equal(o.At) {
		return r.At.After(o.At)
	}
	return r.Step > o.Step
}

// NormalizedPaymentEvent is what every provider adapter produces. Status is the tag;
// the remaining fields are filled where the provider supplies them.
type NormalizedPaymentEvent struct {
	Provider       Provider
	EventID        string
	EventType      string
	Status         PaymentStatus
	ProviderStatus string
	// PayerRef identifies the paying customer in the provider namespace.
	PayerRef string
	// PaymentRef identifies the payment or subscription the event belongs to.
	PaymentRef string
	// AccountHint is an account id embedded in the payload by our own checkout.
	AccountHint string
	Amount      string
	Currency    string
	PayAmount   string
	PayCurrency string
	Rank        EventRank
	OccurredAt  time.Time
	Verified    bool
	Raw         json.RawMessage
}

// LastPaymentEvent is the record of the most recent transition applied to an account.
type LastPaymentEvent struct {
	Provider       Provider      `json:"provider"`
	EventID        string        `json:"eventId"`
	EventType      string        `json:"eventType"`
	PaymentRef     string        `json:"paymentRef"`
	Status         PaymentStatus `json:"status"`
	ProviderStatus string        `json:"providerStatus,omitempty"`
	Rank           EventRank     `json:"rank"`
	Amount         string        `json:"amount,omitempty"`
	Currency       string        `json:"currency,omitempty"`
	PayAmount      string        `json:"payAmount,omitempty"`
	PayCurrency    string        `json:"payCurrency,omitempty"`
	AppliedAt      time.Time     `json:"appliedAt"`
}

func (e LastPaymentEvent) Value() (driver.Value, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (e *LastPaymentEvent) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, e)
	case string:
		return json.Unmarshal([]byte(v), e)
	default:
		return fmt.Errorf("last_payment_event: unsupported type %T", src)
	}
}

// PaymentProgress is the highest-ranked event applied for a (provider, paymentRef) pair.
type PaymentProgress struct {
	Provider   Provider      `db:"provider" json:"provider"`
	PaymentRef string        `db:"payment_ref" json:"paymentRef"`
	AccountID  string        `db:"account_id" json:"accountId"`
	RankPhase  int           `db:"rank_phase" json:"rankPhase"`
	RankAt     time.Time     `db:"rank_at" json:"rankAt"`
	RankStep   int           `db:"rank_step" json:"rankStep"`
	EventID    string        `db:"event_id" json:"eventId"`
	Status     PaymentStatus `db:"status" json:"status"`
	UpdatedAt  time.Time     `db:"updated_at" json:"updatedAt"`
}

func (p *PaymentProgress) Rank() EventRank {
	return NewEventRank(p.RankPhase, p.RankAt, p.RankStep)
}

// Transition is the reducer's verdict for one event. Nil fields are left untouched.
type Transition struct {
	Outcome            WebhookOutcome
	Tier               *Tier
	CreditsRemaining   *int
	ResetAnchor        *time.Time
	SubscriptionStatus *string
	SubscriptionMethod *string
	LastPaymentStatus  *string
	NeedsReview        *bool
	LastPaymentEvent   *LastPaymentEvent
	Progress           *PaymentProgress
	Links              []ProviderLink
}

// Mutates reports whether the transition writes anything.
func (t *Transition) Mutates() bool {
	return t.Outcome == WebhookOutcomeApplied || t.Outcome == WebhookOutcomeUnverified
}

// ApplyTo copies the non-nil fields onto a.
func (t *Transition) ApplyTo(a *Account) {
	if t.Tier != nil {
		a.Tier = *t.Tier
	}
	if t.CreditsRemaining != nil {
		a.CreditsRemaining = *t.CreditsRemaining
	}
	if t.ResetAnchor != nil {
		a.ResetAnchor = *t.ResetAnchor
	}
	if t.SubscriptionStatus != nil {
		a.SubscriptionStatus = t.SubscriptionStatus
	}
	if t.SubscriptionMethod != nil {
		a.SubscriptionMethod = t.SubscriptionMethod
	}
	if t.LastPaymentStatus != nil {
		a.LastPaymentStatus = t.LastPaymentStatus
	}
	if t.NeedsReview != nil {
		a.NeedsReview = *t.NeedsReview
	}
	if t.LastPaymentEvent != nil {
		ev := *t.LastPaymentEvent
		a.LastPaymentEvent = &ev
	}
}
