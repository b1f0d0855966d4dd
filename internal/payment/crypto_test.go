package payment

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/tradesignal/billing-server-go/internal/errors"
	"github.com/tradesignal/billing-server-go/internal/model"
	"github.com/tradesignal/billing-server-go/internal/util"
)

const (
	testIPNSecret  = "ipn_test_secret"
	testAccountID  = "6f1c2b8e-3d4a-4c5b-9e7f-0a1b2c3d4e5f"
	testOrderID    = "sub_" + testAccountID + "_1710000000000"
	finishedIPNRaw = `{"payment_id":5077125051,"payment_status":"finished","order_id":"` + testOrderID + `","price_amount":79,"price_currency":"usd","pay_amount":0.0012,"pay_currency":"btc","updated_at":1710000000000}`
)

func signIPN(t *testing.T, secret, body string) string {
	t.Helper()
	canonical, err := util.CanonicalJSON([]byte(body))
	require.NoError(t, err)
	return util.HmacSHA512(secret, canonical)
}

func TestCryptoAdapter_Parse_Signature(t *testing.T) {
	adapter := NewCryptoAdapter(testIPNSecret)

	t.Run("valid signature", func(t *testing.T) {
		event, err := adapter.Parse([]byte(finishedIPNRaw), signIPN(t, testIPNSecret, finishedIPNRaw))
		require.NoError(t, err)
		require.NotNil(t, event)
		assert.True(t, event.Verified)
	})

	t.Run("signature is independent of key order and whitespace", func(t *testing.T) {
		reordered := `{ "updated_at": 1710000000000, "order_id": "` + testOrderID + `", "payment_status": "finished", "payment_id": 5077125051, "pay_currency": "btc", "pay_amount": 0.0012, "price_currency": "usd", "price_amount": 79 }`
		event, err := adapter.Parse([]byte(reordered), signIPN(t, testIPNSecret, finishedIPNRaw))
		require.NoError(t, err)
		assert.True(t, event.Verified)
	})

	t.Run("uppercase hex accepted", func(t *testing.T) {
		sig := signIPN(t, testIPNSecret, finishedIPNRaw)
		_, err := adapter.Parse([]byte(finishedIPNRaw), strings.ToUpper(sig))
		assert.NoError(t, err)
	})

	t.Run("missing signature", func(t *testing.T) {
		_, err := adapter.Parse([]byte(finishedIPNRaw), "")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidSignature))
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := adapter.Parse([]byte(finishedIPNRaw), signIPN(t, "other", finishedIPNRaw))
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidSignature))
	})

	t.Run("no secret configured yields unverified event", func(t *testing.T) {
		event, err := NewCryptoAdapter("").Parse([]byte(finishedIPNRaw), "")
		require.NoError(t, err)
		require.NotNil(t, event)
		assert.False(t, event.Verified)
	})
}

func TestCryptoAdapter_Parse_Fields(t *testing.T) {
	adapter := NewCryptoAdapter(testIPNSecret)

	event, err := adapter.Parse([]byte(finishedIPNRaw), signIPN(t, testIPNSecret, finishedIPNRaw))
	require.NoError(t, err)

	assert.Equal(t, model.ProviderCrypto, event.Provider)
	assert.Equal(t, "5077125051:finished", event.EventID)
	assert.Equal(t, model.PaymentStatusCompleted, event.Status)
	assert.Equal(t, "finished", event.ProviderStatus)
	assert.Equal(t, testOrderID, event.PayerRef)
	assert.Equal(t, "5077125051", event.PaymentRef)
	assert.Equal(t, testAccountID, event.AccountHint)
	assert.Equal(t, "79", event.Amount)
	assert.Equal(t, "USD", event.Currency)
	assert.Equal(t, "0.0012", event.PayAmount)
	assert.Equal(t, "BTC", event.PayCurrency)
	assert.Equal(t, 7, event.Rank.Phase)
	assert.True(t, event.Rank.At.Equal(time.UnixMilli(1710000000000)))
}

func TestCryptoAdapter_StatusMapping(t *testing.T) {
	adapter := NewCryptoAdapter("")

	tests := []struct {
		providerStatus string
		status         model.PaymentStatus
		phase          int
	}{
		{"waiting", model.PaymentStatusPending, 1},
		{"confirming", model.PaymentStatusPending, 2},
		{"confirmed", model.PaymentStatusConfirmed, 3},
		{"sending", model.PaymentStatusSending, 4},
		{"partially_paid", model.PaymentStatusPartial, 5},
		{"failed", model.PaymentStatusFailed, 6},
		{"expired", model.PaymentStatusExpired, 6},
		{"finished", model.PaymentStatusCompleted, 7},
		{"refunded", model.PaymentStatusRefunded, 8},
	}

	for _, tt := range tests {
		t.Run(tt.providerStatus, func(t *testing.T) {
			body, _ := json.Marshal(map[string]any{
				"payment_id":     "42",
				"payment_status": tt.providerStatus,
				"order_id":       testOrderID,
			})
			event, err := adapter.Parse(body, "")
			require.NoError(t, err)
			require.NotNil(t, event)
			assert.Equal(t, tt.status, event.Status)
			assert.Equal(t, tt.phase, event.Rank.Phase)
			assert.Equal(t, "42:"+tt.providerStatus, event.EventID)
		})
	}

	t.Run("late confirmed never outranks refunded", func(t *testing.T) {
		refunded := model.NewEventRank(cryptoStatuses["refunded"].phase, time.Time{}, 0)
		confirmed := model.NewEventRank(cryptoStatuses["confirmed"].phase, time.Now(), 0)
		assert.False(t, confirmed.After(refunded))
	})

	t.Run("finished outranks expired and failed without timestamps", func(t *testing.T) {
		finished := model.NewEventRank(cryptoStatuses["finished"].phase, time.Time{}, 0)
		for _, s := range []string{"expired", "failed"} {
			closed := model.NewEventRank(cryptoStatuses[s].phase, time.Time{}, 0)
			assert.True(t, finished.After(closed), s)
			assert.False(t, closed.After(finished), s)
		}
		refunded := model.NewEventRank(cryptoStatuses["refunded"].phase, time.Time{}, 0)
		assert.True(t, refunded.After(finished))
	})

	t.Run("unknown status is acknowledged", func(t *testing.T) {
		event, err := adapter.Parse([]byte(`{"payment_id":"42","payment_status":"mystery","order_id":"`+testOrderID+`"}`), "")
		require.NoError(t, err)
		assert.Nil(t, event)
	})
}

func TestCryptoAdapter_Validation(t *testing.T) {
	adapter := NewCryptoAdapter("")

	tests := []struct {
		name string
		body string
		code apperrors.ErrorCode
	}{
		{"invalid json", `{"payment_id":`, apperrors.ErrCodeValidation},
		{"missing payment id", `{"payment_status":"finished","order_id":"` + testOrderID + `"}`, apperrors.ErrCodeMissingRequired},
		{"missing status", `{"payment_id":"1","order_id":"` + testOrderID + `"}`, apperrors.ErrCodeMissingRequired},
		{"missing order id", `{"payment_id":"1","payment_status":"finished"}`, apperrors.ErrCodeMissingRequired},
		{"foreign order id", `{"payment_id":"1","payment_status":"finished","order_id":"order-123"}`, apperrors.ErrCodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := adapter.Parse([]byte(tt.body), "")
			assert.True(t, apperrors.HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestOrderID(t *testing.T) {
	now := time.UnixMilli(1710000000000)
	orderID := NewOrderID(testAccountID, now)
	assert.Equal(t, testOrderID, orderID)

	accountID, ok := OrderAccountID(orderID)
	assert.True(t, ok)
	assert.Equal(t, testAccountID, accountID)

	_, ok = OrderAccountID("sub_not-a-uuid-at-all-but-thirty-six-c_1")
	assert.False(t, ok)
}

func TestFlexString(t *testing.T) {
	var v struct {
		A FlexString `json:"a"`
		B FlexString `json:"b"`
		C FlexString `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"x","b":12.5,"c":null}`), &v))
	assert.Equal(t, "x", v.A.String())
	assert.Equal(t, "12.5", v.B.String())
	assert.Equal(t, "", v.C.String())
}

func TestCryptoClient(t *testing.T) {
	var gotKey, gotPath string
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotPath = r.URL.Path
		switch r.URL.Path {
		case "/invoice":
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
			_, _ = w.Write([]byte(`{"id":"4522625843","invoice_url":"https://pay.example/inv/4522625843","order_id":"` + testOrderID + `"}`))
		case "/currencies":
			_, _ = w.Write([]byte(`{"currencies":["btc","eth","xmr"]}`))
		case "/payment/42":
			_, _ = w.Write([]byte(`{"payment_id":42,"payment_status":"confirming","pay_amount":0.5}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"not found"}`))
		}
	}))
	defer server.Close()

	client := NewCryptoClient(server.URL+"/", "api-key")
	ctx := t.Context()

	t.Run("create invoice", func(t *testing.T) {
		invoice, err := client.CreateInvoice(ctx, CreateInvoiceParams{
			PriceAmount:   79,
			PriceCurrency: "USD",
			PayCurrency:   "btc",
			OrderID:       testOrderID,
		})
		require.NoError(t, err)
		assert.Equal(t, "api-key", gotKey)
		assert.Equal(t, "/invoice", gotPath)
		assert.Equal(t, float64(79), gotBody["price_amount"])
		assert.Equal(t, testOrderID, gotBody["order_id"])
		assert.Equal(t, "4522625843", invoice.ID.String())
		assert.Equal(t, "https://pay.example/inv/4522625843", invoice.InvoiceURL)
	})

	t.Run("currencies", func(t *testing.T) {
		currencies, err := client.Currencies(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"btc", "eth", "xmr"}, currencies)
	})

	t.Run("payment status", func(t *testing.T) {
		status, err := client.PaymentStatus(ctx, "42")
		require.NoError(t, err)
		assert.Equal(t, "42", status.PaymentID.String())
		assert.Equal(t, "confirming", status.PaymentStatus)
	})

	t.Run("error status", func(t *testing.T) {
		_, err := client.PaymentStatus(ctx, "missing")
		assert.Error(t, err)
	})
}
