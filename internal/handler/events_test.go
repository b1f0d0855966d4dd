package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradesignal/billing-server-go/internal/repository"
	"github.com/tradesignal/billing-server-go/internal/service"
	"github.com/tradesignal/billing-server-go/internal/sse"
)

func TestEventsHandler_ServeHTTP(t *testing.T) {
	t.Run("returns 401 without an account in context", func(t *testing.T) {
		handler := NewEventsHandler(nil, nil)

		req := httptest.NewRequest(http.MethodGet, "/events", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "Unauthorized")
	})

	t.Run("opens with the current usage and closes with the client", func(t *testing.T) {
		store := repository.NewMemoryAccountStore()
		id := putFree(store, 3)
		broker := sse.NewBroker(nil)
		defer broker.Close()
		handler := NewEventsHandler(broker, service.NewLedger(store))

		ctx, cancel := context.WithCancel(context.Background())
		req := asAccount(httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx), id)
		rec := httptest.NewRecorder()

		done := make(chan struct{})
		go func() {
			handler.ServeHTTP(rec, req)
			close(done)
		}()

		require.Eventually(t, func() bool { return broker.ClientCount(id) == 1 }, time.Second, 5*time.Millisecond)
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("handler did not return after the client went away")
		}

		assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
		body := rec.Body.String()
		assert.Contains(t, body, "event: connected\n")
		assert.Contains(t, body, `"creditsRemaining":3`)
		assert.Equal(t, 0, broker.ClientCount(id))
	})

	t.Run("unknown account gets no stream", func(t *testing.T) {
		broker := sse.NewBroker(nil)
		defer broker.Close()
		handler := NewEventsHandler(broker, service.NewLedger(repository.NewMemoryAccountStore()))

		req := asAccount(httptest.NewRequest(http.MethodGet, "/events", nil), "1f5e9a66-2b1d-4e0e-8f7a-9c3d2b1a0e55")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Zero(t, broker.TotalClients())
	})
}

func TestEventsHandler_sendEvent(t *testing.T) {
	handler := &EventsHandler{}
	rec := httptest.NewRecorder()

	err := handler.sendEvent(rec, rec, "connected", map[string]any{"accountId": "acc-1"})

	assert.NoError(t, err)
	body := rec.Body.String()
	assert.Contains(t, body, "event: connected\n")
	assert.Contains(t, body, "data: ")
	assert.Contains(t, body, "acc-1")
}

func TestEventsHandler_sendRawEvent(t *testing.T) {
	handler := &EventsHandler{}
	rec := httptest.NewRecorder()

	event := sse.Event{
		Type: sse.EventTypeEntitlement,
		Data: json.RawMessage(`{"tier":"PRO"}`),
	}

	err := handler.sendRawEvent(rec, rec, event)

	assert.NoError(t, err)
	assert.Equal(t, "event: entitlement\ndata: {\"tier\":\"PRO\"}\n\n", rec.Body.String())
}
