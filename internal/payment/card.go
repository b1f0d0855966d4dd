package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	apperrors "github.com/tradesignal/billing-server-go/internal/errors"
	"github.com/tradesignal/billing-server-go/internal/model"
)

const CardSignatureHeader = "Stripe-Signature"

// GenericCardSignatureHeader is accepted when a relay forwards the signature
// under the provider-neutral name.
const GenericCardSignatureHeader = "signature"

const invoiceLookupTimeout = 10 * time.Second

// Card event ranks. Cancellation and refund close the lifecycle and always
// outrank anything from the active phase.
const (
	cardPhaseActive   = 1
	cardPhaseTerminal = 2
)

var cardSteps = map[model.PaymentStatus]int{
	model.PaymentStatusPending:              0,
	model.PaymentStatusFailed:               1,
	model.PaymentStatusSubscriptionUpdated:  1,
	model.PaymentStatusSubscriptionCanceled: 1,
	model.PaymentStatusCompleted:            2,
	model.PaymentStatusRefunded:             2,
}

// CheckoutSession is the subset of a Stripe checkout session we read.
type CheckoutSession struct {
	ID                string            `json:"id"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	PaymentStatus     string            `json:"payment_status"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	Metadata          map[string]string `json:"metadata"`
}

type Subscription struct {
	ID       string            `json:"id"`
	Customer string            `json:"customer"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}

type Invoice struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	AmountDue    int64  `json:"amount_due"`
	Currency     string `json:"currency"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// subscriptionRef handles both the legacy top-level field and the newer parent block.
func (i *Invoice) subscriptionRef() string {
	if i.Subscription != "" {
		return i.Subscription
	}
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil {
		return i.Parent.SubscriptionDetails.Subscription
	}
	return ""
}

// Charge is the subset of a Stripe charge we read on refunds.
type Charge struct {
	ID             string            `json:"id"`
	Customer       string            `json:"customer"`
	Invoice        string            `json:"invoice"`
	Refunded       bool              `json:"refunded"`
	AmountRefunded int64             `json:"amount_refunded"`
	Currency       string            `json:"currency"`
	Metadata       map[string]string `json:"metadata"`
}

// InvoiceLookup returns the subscription an invoice bills, or "" for one-off invoices.
type InvoiceLookup func(ctx context.Context, invoiceID string) (string, error)

// CardAdapter verifies and normalizes Stripe webhook deliveries.
type CardAdapter struct {
	secret   string
	invoices InvoiceLookup
}

func NewCardAdapter(webhookSecret string) *CardAdapter {
	return &CardAdapter{secret: strings.TrimSpace(webhookSecret)}
}

// WithInvoiceLookup keys refunds to the subscription their invoice billed, so a
// refund and the completion it reverses share one progress row.
func (a *CardAdapter) WithInvoiceLookup(lookup InvoiceLookup) *CardAdapter {
	a.invoices = lookup
	return a
}

func (a *CardAdapter) Configured() bool {
	return a.secret != ""
}

// Parse verifies the signature and maps the event. A nil event with a nil error
// means the type is not one we act on.
func (a *CardAdapter) Parse(payload []byte, sigHeader string) (*model.NormalizedPaymentEvent, error) {
	if !a.Configured() {
		return nil, apperrors.NotConfigured("card webhooks")
	}
	if strings.TrimSpace(sigHeader) == "" {
		return nil, apperrors.InvalidSignature("card")
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, a.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Card webhook signature verification failed")
		return nil, apperrors.InvalidSignature("card")
	}

	return a.normalize(&event, payload)
}

func (a *CardAdapter) normalize(event *stripe.Event, raw []byte) (*model.NormalizedPaymentEvent, error) {
	occurred := time.Unix(event.Created, 0).UTC()
	out := &model.NormalizedPaymentEvent{
		Provider:   model.ProviderCard,
		EventID:    event.ID,
		EventType:  string(event.Type),
		OccurredAt: occurred,
		Verified:   true,
		Raw:        json.RawMessage(raw),
	}

	switch event.Type {
	case "checkout.session.completed":
		var session CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, apperrors.ValidationError(fmt.Sprintf("decode checkout session: %v", err))
		}
		out.Status = model.PaymentStatusCompleted
		if session.PaymentStatus == "unpaid" {
			out.Status = model.PaymentStatusPending
		}
		out.ProviderStatus = session.PaymentStatus
		out.PayerRef = session.Customer
		out.PaymentRef = firstNonEmpty(session.Subscription, session.ID)
		out.AccountHint = firstNonEmpty(session.Metadata["userId"], session.ClientReferenceID)
		out.Amount = formatMinorUnits(session.AmountTotal)
		out.Currency = strings.ToUpper(session.Currency)

	case "customer.subscription.updated":
		var sub Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, apperrors.ValidationError(fmt.Sprintf("decode subscription: %v", err))
		}
		out.Status = model.PaymentStatusSubscriptionUpdated
		if sub.Status == "canceled" || sub.Status == "incomplete_expired" {
			out.Status = model.PaymentStatusSubscriptionCanceled
		}
		out.ProviderStatus = sub.Status
		out.PayerRef = sub.Customer
		out.PaymentRef = sub.ID
		out.AccountHint = sub.Metadata["userId"]

	case "customer.subscription.deleted":
		var sub Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, apperrors.ValidationError(fmt.Sprintf("decode subscription: %v", err))
		}
		out.Status = model.PaymentStatusSubscriptionCanceled
		out.ProviderStatus = firstNonEmpty(sub.Status, "canceled")
		out.PayerRef = sub.Customer
		out.PaymentRef = sub.ID
		out.AccountHint = sub.Metadata["userId"]

	case "invoice.payment_failed":
		var inv Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, apperrors.ValidationError(fmt.Sprintf("decode invoice: %v", err))
		}
		out.Status = model.PaymentStatusFailed
		out.ProviderStatus = "payment_failed"
		out.PayerRef = inv.Customer
		out.PaymentRef = firstNonEmpty(inv.subscriptionRef(), inv.ID)
		out.Amount = formatMinorUnits(inv.AmountDue)
		out.Currency = strings.ToUpper(inv.Currency)

	case "charge.refunded":
		var charge Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return nil, apperrors.ValidationError(fmt.Sprintf("decode charge: %v", err))
		}
		if !charge.Refunded {
			log.Info().
				Str("charge_id", charge.ID).
				Str("event_id", event.ID).
				Msg("Card partial refund ignored")
			return nil, nil
		}
		subscription, err := a.invoiceSubscription(charge.Invoice)
		if err != nil {
			return nil, apperrors.External("card", err)
		}
		out.Status = model.PaymentStatusRefunded
		out.ProviderStatus = "refunded"
		out.PayerRef = charge.Customer
		out.PaymentRef = firstNonEmpty(subscription, charge.Invoice, charge.ID)
		out.AccountHint = charge.Metadata["userId"]
		out.Amount = formatMinorUnits(charge.AmountRefunded)
		out.Currency = strings.ToUpper(charge.Currency)

	default:
		log.Debug().
			Str("type", string(event.Type)).
			Str("event_id", event.ID).
			Msg("Card webhook ignored (unhandled type)")
		return nil, nil
	}

	phase := cardPhaseActive
	if out.Status == model.PaymentStatusSubscriptionCanceled || out.Status == model.PaymentStatusRefunded {
		phase = cardPhaseTerminal
	}
	out.Rank = model.NewEventRank(phase, occurred, cardSteps[out.Status])
	return out, nil
}

func (a *CardAdapter) invoiceSubscription(invoiceID string) (string, error) {
	if a.invoices == nil || strings.TrimSpace(invoiceID) == "" {
		return "", nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), invoiceLookupTimeout)
	defer cancel()
	return a.invoices(ctx, invoiceID)
}

func formatMinorUnits(amount int64) string {
	if amount == 0 {
		return ""
	}
	return fmt.Sprintf("%d.%02d", amount/100, amount%100)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
