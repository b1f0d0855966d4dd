package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	stripeinvoice "github.com/stripe/stripe-go/v82/invoice"

	"github.com/tradesignal/billing-server-go/internal/metrics"
)

type invoiceGetter func(id string, params *stripe.InvoiceParams) (*stripe.Invoice, error)

// NewInvoiceLookup reads invoices through the Stripe API. It returns nil without
// a secret key; refunds are then keyed to the invoice itself.
func NewInvoiceLookup(secretKey string) InvoiceLookup {
	key := strings.TrimSpace(secretKey)
	if key == "" {
		return nil
	}
	stripe.Key = key
	return lookupWith(stripeinvoice.Get)
}

// lookupWith decodes the raw response so both the legacy subscription field and
// the parent block are understood regardless of the account's API version.
func lookupWith(get invoiceGetter) InvoiceLookup {
	return func(ctx context.Context, invoiceID string) (string, error) {
		params := &stripe.InvoiceParams{}
		params.Context = ctx

		start := time.Now()
		inv, err := get(invoiceID, params)
		if err != nil {
			metrics.UpstreamRequestDuration.WithLabelValues("card", "error").Observe(time.Since(start).Seconds())
			return "", fmt.Errorf("get invoice %s: %w", invoiceID, err)
		}
		metrics.UpstreamRequestDuration.WithLabelValues("card", "ok").Observe(time.Since(start).Seconds())

		if inv == nil || inv.LastResponse == nil {
			return "", fmt.Errorf("get invoice %s: empty response", invoiceID)
		}
		var decoded Invoice
		if err := json.Unmarshal(inv.LastResponse.RawJSON, &decoded); err != nil {
			return "", fmt.Errorf("decode invoice %s: %w", invoiceID, err)
		}
		return decoded.subscriptionRef(), nil
	}
}
