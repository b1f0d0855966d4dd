package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tradesignal/billing-server-go/internal/middleware"
	"github.com/tradesignal/billing-server-go/internal/model"
	"github.com/tradesignal/billing-server-go/internal/repository"
)

func putFree(store *repository.MemoryAccountStore, credits int) string {
	id := uuid.NewString()
	store.Put(model.Account{
		ID:               id,
		Tier:             model.TierFree,
		CreditsRemaining: credits,
		ResetAnchor:      time.Now().UTC(),
	})
	return id
}

func putPro(store *repository.MemoryAccountStore) string {
	id := uuid.NewString()
	store.Put(model.Account{
		ID:               id,
		Tier:             model.TierPro,
		CreditsRemaining: -1,
		ResetAnchor:      time.Now().UTC(),
	})
	return id
}

func findAccount(t *testing.T, store *repository.MemoryAccountStore, id string) *model.Account {
	t.Helper()
	a, err := store.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, a)
	return a
}

// asAccount attaches an authenticated account id the way AuthMiddleware does.
func asAccount(req *http.Request, accountID string) *http.Request {
	return req.WithContext(middleware.WithAccountID(req.Context(), accountID))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

type mockSignalRepo struct {
	mock.Mock
}

func (m *mockSignalRepo) FindLatestDaily(ctx context.Context, from, to time.Time) (*model.DailySignal, error) {
	args := m.Called(ctx, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DailySignal), args.Error(1)
}

func (m *mockSignalRepo) FindRecentPublishedDaily(ctx context.Context, limit int) ([]model.DailySignal, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]model.DailySignal), args.Error(1)
}

func (m *mockSignalRepo) FindCompletedTrades(ctx context.Context, filter model.TradeSignalFilter) ([]model.TradeSignal, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]model.TradeSignal), args.Error(1)
}

func (m *mockSignalRepo) CountCompletedTrades(ctx context.Context, filter model.TradeSignalFilter) (int, error) {
	args := m.Called(ctx, filter)
	return args.Int(0), args.Error(1)
}
