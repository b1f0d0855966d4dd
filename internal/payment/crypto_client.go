package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradesignal/billing-server-go/internal/metrics"
)

const cryptoRequestTimeout = 15 * time.Second

type CreateInvoiceParams struct {
	PriceAmount      float64 `json:"price_amount"`
	PriceCurrency    string  `json:"price_currency"`
	PayCurrency      string  `json:"pay_currency,omitempty"`
	OrderID          string  `json:"order_id"`
	OrderDescription string  `json:"order_description"`
	IPNCallbackURL   string  `json:"ipn_callback_url"`
	SuccessURL       string  `json:"success_url"`
	CancelURL        string  `json:"cancel_url"`
}

type CryptoInvoice struct {
	ID          FlexString `json:"id"`
	InvoiceURL  string     `json:"invoice_url"`
	PayAddress  string     `json:"pay_address,omitempty"`
	PayAmount   FlexString `json:"pay_amount,omitempty"`
	PayCurrency string     `json:"pay_currency,omitempty"`
	OrderID     string     `json:"order_id"`
}

type CryptoPaymentStatus struct {
	PaymentID     FlexString `json:"payment_id"`
	PaymentStatus string     `json:"payment_status"`
	PayAddress    string     `json:"pay_address"`
	PriceAmount   FlexString `json:"price_amount"`
	PriceCurrency string     `json:"price_currency"`
	PayAmount     FlexString `json:"pay_amount"`
	PayCurrency   string     `json:"pay_currency"`
	ActuallyPaid  FlexString `json:"actually_paid"`
	OrderID       string     `json:"order_id"`
	CreatedAt     string     `json:"created_at"`
	UpdatedAt     FlexString `json:"updated_at"`
}

// CryptoClient talks to the crypto provider's REST API.
type CryptoClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewCryptoClient(baseURL, apiKey string) *CryptoClient {
	return &CryptoClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: cryptoRequestTimeout,
		},
	}
}

func (c *CryptoClient) Configured() bool {
	return c.apiKey != ""
}

func (c *CryptoClient) CreateInvoice(ctx context.Context, params CreateInvoiceParams) (*CryptoInvoice, error) {
	var invoice CryptoInvoice
	if err := c.do(ctx, http.MethodPost, "/invoice", params, &invoice); err != nil {
		return nil, err
	}
	return &invoice, nil
}

// Currencies lists every ticker the provider accepts.
func (c *CryptoClient) Currencies(ctx context.Context) ([]string, error) {
	var resp struct {
		Currencies []string `json:"currencies"`
	}
	if err := c.do(ctx, http.MethodGet, "/currencies", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Currencies, nil
}

func (c *CryptoClient) PaymentStatus(ctx context.Context, paymentID string) (*CryptoPaymentStatus, error) {
	var status CryptoPaymentStatus
	if err := c.do(ctx, http.MethodGet, "/payment/"+url.PathEscape(paymentID), nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *CryptoClient) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		metrics.UpstreamRequestDuration.WithLabelValues("crypto", "error").Observe(elapsed.Seconds())
		log.Error().Err(err).Str("path", path).Dur("elapsed", elapsed).Msg("crypto provider request error")
		return fmt.Errorf("crypto provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.UpstreamRequestDuration.WithLabelValues("crypto", "error").Observe(elapsed.Seconds())
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		log.Error().
			Str("path", path).
			Int("status", resp.StatusCode).
			Dur("elapsed", elapsed).
			Msg("crypto provider request failed")
		return fmt.Errorf("crypto provider returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	metrics.UpstreamRequestDuration.WithLabelValues("crypto", "ok").Observe(elapsed.Seconds())

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
