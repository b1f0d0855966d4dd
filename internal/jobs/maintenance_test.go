package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradesignal/billing-server-go/internal/model"
	"github.com/tradesignal/billing-server-go/internal/repository"
)

type mockEventPruner struct {
	before time.Time
	count  int64
	err    error
	calls  atomic.Int32
}

func (m *mockEventPruner) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	m.calls.Add(1)
	m.before = before
	return m.count, m.err
}

func TestMaintenanceJob_RunOnce(t *testing.T) {
	ctx := context.Background()
	march := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	april := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)

	store := repository.NewMemoryAccountStore()
	stale := uuid.NewString()
	store.Put(model.Account{ID: stale, Tier: model.TierFree, CreditsRemaining: 0, ResetAnchor: march})
	current := uuid.NewString()
	store.Put(model.Account{ID: current, Tier: model.TierFree, CreditsRemaining: 2, ResetAnchor: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)})
	pro := uuid.NewString()
	store.Put(model.Account{ID: pro, Tier: model.TierPro, CreditsRemaining: -1, ResetAnchor: march})

	pruner := &mockEventPruner{count: 3}
	job := NewMaintenanceJob(store, pruner, 90*24*time.Hour, time.Hour)
	job.now = func() time.Time { return april }

	job.RunOnce(ctx)

	a, _ := store.FindByID(ctx, stale)
	assert.Equal(t, 5, a.CreditsRemaining)
	assert.Equal(t, model.MonthStart(april), a.ResetAnchor)

	a, _ = store.FindByID(ctx, current)
	assert.Equal(t, 2, a.CreditsRemaining)

	a, _ = store.FindByID(ctx, pro)
	assert.Equal(t, -1, a.CreditsRemaining)

	require.Equal(t, int32(1), pruner.calls.Load())
	assert.Equal(t, april.Add(-90*24*time.Hour), pruner.before)
}

func TestMaintenanceJob_TaskFailureDoesNotStopOthers(t *testing.T) {
	pruner := &mockEventPruner{err: errors.New("db down")}
	job := NewMaintenanceJob(repository.NewMemoryAccountStore(), pruner, time.Hour, time.Hour)

	assert.NotPanics(t, func() { job.RunOnce(context.Background()) })
	assert.Equal(t, int32(1), pruner.calls.Load())
}

func TestMaintenanceJob_StartStop(t *testing.T) {
	pruner := &mockEventPruner{}
	job := NewMaintenanceJob(repository.NewMemoryAccountStore(), pruner, time.Hour, time.Hour)

	job.Start()
	assert.Eventually(t, func() bool { return pruner.calls.Load() > 0 }, time.Second, 10*time.Millisecond)
	job.Stop()
}
