package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradesignal/billing-server-go/internal/audit"
	"github.com/tradesignal/billing-server-go/internal/config"
	apperrors "github.com/tradesignal/billing-server-go/internal/errors"
	"github.com/tradesignal/billing-server-go/internal/metrics"
	"github.com/tradesignal/billing-server-go/internal/model"
	"github.com/tradesignal/billing-server-go/internal/payment"
	"github.com/tradesignal/billing-server-go/internal/service"
)

// EventParser verifies a provider delivery and normalizes it. A nil event with
// a nil error means the delivery is acknowledged without action.
type EventParser interface {
	Parse(body []byte, signature string) (*model.NormalizedPaymentEvent, error)
}

type EventReconciler interface {
	Reconcile(ctx context.Context, event *model.NormalizedPaymentEvent) (*service.ReconcileResult, error)
}

type WebhookHandler struct {
	card       EventParser
	crypto     EventParser
	reconciler EventReconciler
}

func NewWebhookHandler(card, crypto EventParser, reconciler EventReconciler) *WebhookHandler {
	return &WebhookHandler{
		card:       card,
		crypto:     crypto,
		reconciler: reconciler,
	}
}

// POST /webhooks/card-provider
func (h *WebhookHandler) Card(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, model.ProviderCard, h.card, signatureHeader(r, payment.CardSignatureHeader, payment.GenericCardSignatureHeader))
}

// POST /webhooks/crypto-provider
func (h *WebhookHandler) Crypto(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, model.ProviderCrypto, h.crypto, signatureHeader(r, payment.CryptoSignatureHeader, payment.GenericCryptoSignatureHeader))
}

// signatureHeader prefers the provider's own header name.
func signatureHeader(r *http.Request, names ...string) string {
	for _, name := range names {
		if v := r.Header.Get(name); v != "" {
			return v
		}
	}
	return ""
}

// handle acknowledges everything it has durably dealt with, including events it
// could not match. Store and upstream failures answer 5xx so the provider retries.
func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request, provider model.Provider, parser EventParser, signature string) {
	start := time.Now()
	outcome := "error"
	defer func() {
		metrics.WebhookRequestsTotal.WithLabelValues(string(provider), outcome).Inc()
		metrics.WebhookDuration.WithLabelValues(string(provider)).Observe(time.Since(start).Seconds())
	}()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, config.WebhookBodyLimit))
	if err != nil {
		outcome = "rejected"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, apperrors.ValidationError("Payload too large"))
			return
		}
		writeError(w, r, apperrors.ValidationError("Failed to read body"))
		return
	}

	event, err := parser.Parse(body, signature)
	if err != nil {
		outcome = "rejected"
		if apperrors.HasCode(err, apperrors.ErrCodeNotConfigured) {
			outcome = "not_configured"
			log.Error().Str("provider", string(provider)).Msg("webhook received but provider secret is not configured")
		} else {
			audit.LogFromRequest(r, audit.Event{
				Type:     audit.EventWebhookRejected,
				Provider: string(provider),
				Details: map[string]interface{}{
					"reason": err.Error(),
				},
			})
		}
		writeError(w, r, err)
		return
	}

	if event == nil {
		outcome = "ignored"
		writeJSON(w, http.StatusOK, map[string]any{"received": true})
		return
	}

	result, err := h.reconciler.Reconcile(r.Context(), event)
	if err != nil {
		log.Error().
			Err(err).
			Str("provider", string(provider)).
			Str("event_id", event.EventID).
			Msg("failed to reconcile payment event")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to process webhook"})
		return
	}

	outcome = string(result.Outcome)
	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}
