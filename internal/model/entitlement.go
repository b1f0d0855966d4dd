package model

import "time"

// EntitlementUpdate is pushed to connected clients when a payment changes an account.
type EntitlementUpdate struct {
	AccountID          string    `json:"accountId"`
	Tier               Tier      `json:"tier"`
	CreditsRemaining   int       `json:"creditsRemaining"`
	SubscriptionStatus string    `json:"subscriptionStatus,omitempty"`
	Reason             string    `json:"reason"`
	At                 time.Time `json:"at"`
}

// UsageSnapshot is the read-only view of an account's analysis allowance.
type UsageSnapshot struct {
	Tier             Tier `json:"tier"`
	CreditsRemaining int  `json:"creditsRemaining"`
	CanAnalyze       bool `json:"canAnalyze"`
}
