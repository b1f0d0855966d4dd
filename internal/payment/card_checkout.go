package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"

	"github.com/tradesignal/billing-server-go/internal/metrics"
)

type CardCheckoutParams struct {
	AccountID     string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
}

type CardCheckoutSession struct {
	ID  string `json:"sessionId"`
	URL string `json:"url"`
}

// CardCheckout opens hosted subscription checkouts for the PRO price.
type CardCheckout struct {
	priceID string
	create  func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

func NewCardCheckout(secretKey, priceID string) *CardCheckout {
	stripe.Key = strings.TrimSpace(secretKey)
	return &CardCheckout{
		priceID: strings.TrimSpace(priceID),
		create:  stripesession.New,
	}
}

func (c *CardCheckout) Configured() bool {
	return stripe.Key != "" && c.priceID != ""
}

func (c *CardCheckout) CreateSession(ctx context.Context, p CardCheckoutParams) (*CardCheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(p.SuccessURL),
		CancelURL:         stripe.String(p.CancelURL),
		ClientReferenceID: stripe.String(p.AccountID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(c.priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"userId": p.AccountID},
		},
		Metadata: map[string]string{"userId": p.AccountID},
	}
	if p.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(p.CustomerEmail)
	}
	params.Context = ctx

	start := time.Now()
	session, err := c.create(params)
	if err != nil || session == nil || session.URL == "" {
		metrics.UpstreamRequestDuration.WithLabelValues("card", "error").Observe(time.Since(start).Seconds())
		if err == nil {
			err = fmt.Errorf("checkout session missing url")
		}
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	metrics.UpstreamRequestDuration.WithLabelValues("card", "ok").Observe(time.Since(start).Seconds())

	return &CardCheckoutSession{ID: session.ID, URL: session.URL}, nil
}
