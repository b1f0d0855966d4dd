package model

import (
	"time"
)

type Account struct {
	ID                 string            `db:"id" json:"id"`
	Email              *string           `db:"email" json:"email,omitempty"`
	PasswordHash       *string           `db:"password_hash" json:"-"`
	Tier               Tier              `db:"tier" json:"tier"`
	CreditsRemaining   int               `db:"credits_remaining" json:"creditsRemaining"`
	ResetAnchor        time.Time         `db:"reset_anchor" json:"resetAnchor"`
	SubscriptionStatus *string           `db:"subscription_status" json:"subscriptionStatus,omitempty"`
	SubscriptionMethod *string           `db:"subscription_method" json:"subscriptionMethod,omitempty"`
	LastPaymentStatus  *string           `db:"last_payment_status" json:"lastPaymentStatus,omitempty"`
	NeedsReview        bool              `db:"needs_review" json:"needsReview"`
	LastPaymentEvent   *LastPaymentEvent `db:"last_payment_event" json:"lastPaymentEvent,omitempty"`
	CreatedAt          time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time         `db:"updated_at" json:"updatedAt"`
}

func (a *Account) IsPro() bool {
	return a.Tier == TierPro
}

type CreateAccountParams struct {
	Email        *string
	PasswordHash *string
	Credits      int
	ResetAnchor  time.Time
}

// SetTierParams carries an operator-initiated tier change.
type SetTierParams struct {
	Tier               Tier
	CreditsRemaining   int
	ResetAnchor        time.Time
	SubscriptionStatus string
	SubscriptionMethod string
}

// ProviderLink maps an identifier in a payment provider's namespace to an account.
type ProviderLink struct {
	Provider    Provider  `db:"provider" json:"provider"`
	ExternalRef string    `db:"external_ref" json:"externalRef"`
	AccountID   string    `db:"account_id" json:"accountId"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// MonthStart returns the first instant of t's calendar month in UTC.
func MonthStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// EffectiveCredits is the FREE balance as of now, counting a pending monthly reset.
// An anchor in the future never triggers a reset.
func (a *Account) EffectiveCredits(now time.Time, allotment int) int {
	if a.Tier == TierPro {
		return a.CreditsRemaining
	}
	if a.ResetAnchor.Before(MonthStart(now)) {
		return allotment
	}
	return a.CreditsRemaining
}
