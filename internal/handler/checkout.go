package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/tradesignal/billing-server-go/internal/errors"
	"github.com/tradesignal/billing-server-go/internal/middleware"
	"github.com/tradesignal/billing-server-go/internal/service"
)

type CheckoutHandler struct {
	checkout *service.CheckoutService
	auth     func(http.Handler) http.Handler
}

func NewCheckoutHandler(checkout *service.CheckoutService, auth func(http.Handler) http.Handler) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: checkout,
		auth:     auth,
	}
}

func (h *CheckoutHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/crypto/currencies", h.Currencies)

	r.Group(func(r chi.Router) {
		r.Use(h.auth)
		r.Post("/card", h.Card)
		r.Post("/crypto", h.Crypto)
		r.Get("/crypto/status", h.CryptoStatus)
	})

	return r
}

// POST /checkout/card
func (h *CheckoutHandler) Card(w http.ResponseWriter, r *http.Request) {
	session, err := h.checkout.CardCheckout(r.Context(), middleware.GetAccountID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"sessionId": session.ID,
		"url":       session.URL,
	})
}

// POST /checkout/crypto
func (h *CheckoutHandler) Crypto(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Cryptocurrency string `json:"cryptocurrency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperrors.ValidationError("Invalid request body"))
		return
	}

	invoice, err := h.checkout.CryptoCheckout(r.Context(), middleware.GetAccountID(r.Context()), req.Cryptocurrency)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

// GET /checkout/crypto/currencies
func (h *CheckoutHandler) Currencies(w http.ResponseWriter, r *http.Request) {
	list, err := h.checkout.Currencies(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GET /checkout/crypto/status?payment_id=
func (h *CheckoutHandler) CryptoStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.checkout.PaymentStatus(r.Context(), middleware.GetAccountID(r.Context()), r.URL.Query().Get("payment_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
