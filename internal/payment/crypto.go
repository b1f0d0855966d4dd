package payment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/tradesignal/billing-server-go/internal/errors"
	"github.com/tradesignal/billing-server-go/internal/model"
	"github.com/tradesignal/billing-server-go/internal/util"
)

const (
	CryptoSignatureHeader        = "x-nowpayments-sig"
	GenericCryptoSignatureHeader = "x-provider-signature"
)

var orderIDPattern = regexp.MustCompile(`^sub_([0-9a-f-]{36})_(\d+)$`)

type cryptoStatus struct {
	status model.PaymentStatus
	phase  int
}

// The provider walks a payment forward through these states; the phase is the
// rank so a late "confirmed" never overtakes "finished" or "refunded". IPNs
// usually carry no timestamp, so the phase alone must order them: "finished"
// outranks "failed" and "expired" because funds can still land after either.
var cryptoStatuses = map[string]cryptoStatus{
	"waiting":        {model.PaymentStatusPending, 1},
	"confirming":     {model.PaymentStatusPending, 2},
	"confirmed":      {model.PaymentStatusConfirmed, 3},
	"sending":        {model.PaymentStatusSending, 4},
	"partially_paid": {model.PaymentStatusPartial, 5},
	"failed":         {model.PaymentStatusFailed, 6},
	"expired":        {model.PaymentStatusExpired, 6},
	"finished":       {model.PaymentStatusCompleted, 7},
	"refunded":       {model.PaymentStatusRefunded, 8},
}

// FlexString accepts a JSON string or number. The provider sends ids and
// amounts either way depending on the endpoint.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number: %w", err)
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string {
	return string(f)
}

// IPNPayload is an instant payment notification body.
type IPNPayload struct {
	PaymentID     FlexString `json:"payment_id"`
	InvoiceID     FlexString `json:"invoice_id"`
	PaymentStatus string     `json:"payment_status"`
	OrderID       string     `json:"order_id"`
	PayAddress    string     `json:"pay_address"`
	PriceAmount   FlexString `json:"price_amount"`
	PriceCurrency string     `json:"price_currency"`
	PayAmount     FlexString `json:"pay_amount"`
	PayCurrency   string     `json:"pay_currency"`
	ActuallyPaid  FlexString `json:"actually_paid"`
	UpdatedAt     FlexString `json:"updated_at"`
}

// updatedAt reads the provider timestamp, sent as epoch milliseconds or RFC 3339.
func (p *IPNPayload) updatedAt() (time.Time, bool) {
	raw := strings.TrimSpace(p.UpdatedAt.String())
	if raw == "" {
		return time.Time{}, false
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), true
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

// OrderAccountID extracts the account id from an order id minted by checkout.
func OrderAccountID(orderID string) (string, bool) {
	m := orderIDPattern.FindStringSubmatch(orderID)
	if m == nil || !util.IsValidUUID(m[1]) {
		return "", false
	}
	return m[1], true
}

// NewOrderID mints the order id that ties an invoice back to an account.
func NewOrderID(accountID string, now time.Time) string {
	return fmt.Sprintf("sub_%s_%d", accountID, now.UnixMilli())
}

// CryptoAdapter verifies and normalizes crypto provider IPN callbacks.
type CryptoAdapter struct {
	secret string
	now    func() time.Time
}

func NewCryptoAdapter(ipnSecret string) *CryptoAdapter {
	return &CryptoAdapter{secret: strings.TrimSpace(ipnSecret), now: time.Now}
}

func (a *CryptoAdapter) Configured() bool {
	return a.secret != ""
}

// Parse checks the signature when a secret is configured. Without one the event
// is returned with Verified=false so it can be recorded but never grants access.
// A nil event with a nil error means the status is not one we act on.
func (a *CryptoAdapter) Parse(body []byte, signature string) (*model.NormalizedPaymentEvent, error) {
	verified := false
	if a.Configured() {
		if err := a.verify(body, signature); err != nil {
			return nil, err
		}
		verified = true
	} else {
		log.Warn().Msg("Crypto IPN secret not configured, accepting callback as unverified")
	}

	var p IPNPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, apperrors.ValidationError("Invalid JSON payload")
	}
	if p.PaymentID == "" || p.PaymentStatus == "" || p.OrderID == "" {
		return nil, apperrors.MissingRequired("payment_id, payment_status and order_id")
	}

	accountID, ok := OrderAccountID(p.OrderID)
	if !ok {
		return nil, apperrors.InvalidInput("order_id", "unrecognized format")
	}

	mapped, ok := cryptoStatuses[p.PaymentStatus]
	if !ok {
		log.Info().
			Str("payment_id", p.PaymentID.String()).
			Str("payment_status", p.PaymentStatus).
			Msg("Crypto IPN ignored (unhandled status)")
		return nil, nil
	}

	occurred := a.now().UTC()
	var rankAt time.Time
	if at, ok := p.updatedAt(); ok {
		occurred = at
		rankAt = at
	}

	return &model.NormalizedPaymentEvent{
		Provider:       model.ProviderCrypto,
		EventID:        p.PaymentID.String() + ":" + p.PaymentStatus,
		EventType:      "payment." + p.PaymentStatus,
		Status:         mapped.status,
		ProviderStatus: p.PaymentStatus,
		PayerRef:       p.OrderID,
		PaymentRef:     p.PaymentID.String(),
		AccountHint:    accountID,
		Amount:         p.PriceAmount.String(),
		Currency:       strings.ToUpper(p.PriceCurrency),
		PayAmount:      firstNonEmpty(p.ActuallyPaid.String(), p.PayAmount.String()),
		PayCurrency:    strings.ToUpper(p.PayCurrency),
		Rank:           model.NewEventRank(mapped.phase, rankAt, 0),
		OccurredAt:     occurred,
		Verified:       verified,
		Raw:            json.RawMessage(body),
	}, nil
}

func (a *CryptoAdapter) verify(body []byte, signature string) error {
	signature = strings.ToLower(strings.TrimSpace(signature))
	if signature == "" {
		return apperrors.InvalidSignature("crypto")
	}
	canonical, err := util.CanonicalJSON(body)
	if err != nil {
		return apperrors.ValidationError("Invalid JSON payload")
	}
	if !util.ConstantTimeEqual(util.HmacSHA512(a.secret, canonical), signature) {
		log.Warn().Msg("Crypto IPN signature mismatch")
		return apperrors.InvalidSignature("crypto")
	}
	return nil
}
