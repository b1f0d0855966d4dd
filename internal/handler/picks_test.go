package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tradesignal/billing-server-go/internal/model"
	"github.com/tradesignal/billing-server-go/internal/repository"
	"github.com/tradesignal/billing-server-go/internal/service"
)

func newPicksHandler(store *repository.MemoryAccountStore, signals repository.SignalRepository) *PicksHandler {
	gateway := service.NewGateway(store, service.NewLedger(store))
	return NewPicksHandler(
		service.NewPicksService(gateway, signals, nil),
		service.NewTrackRecordService(signals),
	)
}

func TestPicksHandler_DailyPicks(t *testing.T) {
	t.Run("free accounts are refused", func(t *testing.T) {
		store := repository.NewMemoryAccountStore()
		signals := new(mockSignalRepo)
		id := putFree(store, 5)

		rec := httptest.NewRecorder()
		newPicksHandler(store, signals).DailyPicks(rec, asAccount(httptest.NewRequest(http.MethodGet, "/daily-picks", nil), id))

		require.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "PRO_REQUIRED", decodeBody(t, rec)["code"])
		signals.AssertNotCalled(t, "FindLatestDaily", mock.Anything, mock.Anything, mock.Anything)
		// Refusal does not spend analysis credits.
		assert.Equal(t, 5, findAccount(t, store, id).CreditsRemaining)
	})

	t.Run("pro accounts get today's picks", func(t *testing.T) {
		store := repository.NewMemoryAccountStore()
		signals := new(mockSignalRepo)
		id := putPro(store)
		signals.On("FindLatestDaily", mock.Anything, mock.Anything, mock.Anything).Return(&model.DailySignal{
			ID:        "sig_today",
			Date:      time.Now().UTC(),
			CreatedAt: time.Now().UTC(),
			Signals:   model.SignalItems{{Symbol: "SOLUSDT", Recommendation: "BUY", Confidence: 71}},
		}, nil)

		rec := httptest.NewRecorder()
		newPicksHandler(store, signals).DailyPicks(rec, asAccount(httptest.NewRequest(http.MethodGet, "/daily-picks", nil), id))

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		picks := body["picks"].([]any)
		require.Len(t, picks, 1)
		assert.Equal(t, "SOLUSDT", picks[0].(map[string]any)["symbol"])
		assert.Contains(t, body, "date")
		assert.Contains(t, body, "viewCount")
	})

	t.Run("no batch yet returns an empty list", func(t *testing.T) {
		store := repository.NewMemoryAccountStore()
		signals := new(mockSignalRepo)
		id := putPro(store)
		signals.On("FindLatestDaily", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

		rec := httptest.NewRecorder()
		newPicksHandler(store, signals).DailyPicks(rec, asAccount(httptest.NewRequest(http.MethodGet, "/daily-picks", nil), id))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, decodeBody(t, rec)["picks"])
	})
}

func TestPicksHandler_TrackRecord(t *testing.T) {
	store := repository.NewMemoryAccountStore()
	signals := new(mockSignalRepo)
	filter := model.TradeSignalFilter{Symbol: "BTCUSDT", Limit: 10, Offset: 20}
	signals.On("FindCompletedTrades", mock.Anything, filter).Return([]model.TradeSignal{}, nil)
	signals.On("CountCompletedTrades", mock.Anything, filter).Return(25, nil)
	signals.On("FindRecentPublishedDaily", mock.Anything, mock.Anything).Return([]model.DailySignal{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/track-record?symbol=btcusdt&limit=10&skip=20", nil)
	rec := httptest.NewRecorder()
	newPicksHandler(store, signals).TrackRecord(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	pagination := body["pagination"].(map[string]any)
	assert.Equal(t, float64(25), pagination["total"])
	assert.Equal(t, float64(20), pagination["offset"])
	assert.Equal(t, true, pagination["hasMore"])
	signals.AssertExpectations(t)
}
