package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/tradesignal/billing-server-go/internal/errors"
	"github.com/tradesignal/billing-server-go/internal/middleware"
	"github.com/tradesignal/billing-server-go/internal/service"
	"github.com/tradesignal/billing-server-go/internal/sse"
)

type EventsHandler struct {
	broker *sse.Broker
	ledger *service.Ledger
}

func NewEventsHandler(broker *sse.Broker, ledger *service.Ledger) *EventsHandler {
	return &EventsHandler{
		broker: broker,
		ledger: ledger,
	}
}

// GET /events
// The first event carries the current usage so a client that connects after
// the webhook landed still sees the upgrade.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())
	if accountID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Streaming not supported"})
		return
	}

	ctx := r.Context()

	snapshot, err := h.ledger.Snapshot(ctx, accountID)
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
			err = apperrors.Unauthorized("Account not found")
		}
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.broker.Subscribe(accountID)
	defer h.broker.Unsubscribe(client)

	log.Info().
		Str("account_id", accountID).
		Msg("sse connection established")

	if err := h.sendEvent(w, flusher, "connected", map[string]any{
		"accountId": accountID,
		"usage":     snapshot,
	}); err != nil {
		return
	}

	heartbeat := time.NewTicker(sse.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().
				Str("account_id", accountID).
				Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Info().
				Str("account_id", accountID).
				Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().
					Str("account_id", accountID).
					Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return h.sendRawEvent(w, flusher, sse.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
