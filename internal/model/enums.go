package model

type Tier string

const (
	TierFree Tier = "FREE"
	TierPro  Tier = "PRO"
)

type Provider string

const (
	ProviderCard   Provider = "card"
	ProviderCrypto Provider = "crypto"
	ProviderAdmin  Provider = "admin"
)

// PaymentStatus is the provider-agnostic status every adapter maps into.
type PaymentStatus string

const (
	PaymentStatusCompleted            PaymentStatus = "completed"
	PaymentStatusPending              PaymentStatus = "pending"
	PaymentStatusConfirmed            PaymentStatus = "confirmed"
	PaymentStatusSending              PaymentStatus = "sending"
	PaymentStatusPartial              PaymentStatus = "partial"
	PaymentStatusFailed               PaymentStatus = "failed"
	PaymentStatusExpired              PaymentStatus = "expired"
	PaymentStatusRefunded             PaymentStatus = "refunded"
	PaymentStatusSubscriptionUpdated  PaymentStatus = "subscription_updated"
	PaymentStatusSubscriptionCanceled PaymentStatus = "subscription_canceled"
)

// Informational statuses are recorded but never touch tier or credits.
func (s PaymentStatus) Informational() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusConfirmed, PaymentStatusSending:
		return true
	}
	return false
}

// Advisory statuses describe the subscription without settling a payment. They
// are ordered against settled progress but never advance it, so a completion
// that is delivered late still lands.
func (s PaymentStatus) Advisory() bool {
	switch s {
	case PaymentStatusSubscriptionUpdated, PaymentStatusFailed:
		return true
	}
	return false
}

// WebhookOutcome is what the reconciler did with a delivered event.
type WebhookOutcome string

const (
	WebhookOutcomeApplied    WebhookOutcome = "applied"
	WebhookOutcomeDuplicate  WebhookOutcome = "duplicate"
	WebhookOutcomeStale      WebhookOutcome = "stale"
	WebhookOutcomeUnresolved WebhookOutcome = "unresolved"
	WebhookOutcomeUnverified WebhookOutcome = "unverified"
)

// Feature names a gated capability.
type Feature string

const (
	FeatureAnalysis   Feature = "analysis"
	FeatureDailyPicks Feature = "dailyPicks"
)

// ProOnly reports whether a feature requires the PRO tier outright.
func (f Feature) ProOnly() bool {
	return f != FeatureAnalysis
}
