package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tradesignal/billing-server-go/internal/model"
)

type linkKey struct {
	provider model.Provider
	ref      string
}

type progressKey struct {
	provider model.Provider
	ref      string
}

// MemoryAccountStore is an in-process AccountRepository. A single mutex gives
// every operation the same atomicity the Postgres statements have.
type MemoryAccountStore struct {
	mu       sync.Mutex
	accounts map[string]*model.Account
	links    map[linkKey]model.ProviderLink
	progress map[progressKey]model.PaymentProgress
	now      func() time.Time
}

func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{
		accounts: make(map[string]*model.Account),
		links:    make(map[linkKey]model.ProviderLink),
		progress: make(map[progressKey]model.PaymentProgress),
		now:      time.Now,
	}
}

var _ AccountRepository = (*MemoryAccountStore)(nil)

// Put inserts or replaces an account verbatim.
func (s *MemoryAccountStore) Put(account model.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.ID] = &account
}

func (s *MemoryAccountStore) FindByID(ctx context.Context, id string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyOf(id), nil
}

func (s *MemoryAccountStore) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.accounts {
		if a.Email != nil && *a.Email == email {
			return s.copyOf(id), nil
		}
	}
	return nil, nil
}

func (s *MemoryAccountStore) FindByProviderLink(ctx context.Context, provider model.Provider, externalRef string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[linkKey{provider, externalRef}]
	if !ok {
		return nil, nil
	}
	return s.copyOf(link.AccountID), nil
}

func (s *MemoryAccountStore) FindLinks(ctx context.Context, accountID string) ([]model.ProviderLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var links []model.ProviderLink
	for _, l := range s.links {
		if l.AccountID == accountID {
			links = append(links, l)
		}
	}
	return links, nil
}

func (s *MemoryAccountStore) Create(ctx context.Context, params model.CreateAccountParams) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if params.Email != nil {
		for _, a := range s.accounts {
			if a.Email != nil && *a.Email == *params.Email {
				return nil, ErrDuplicate
			}
		}
	}
	now := s.now()
	account := &model.Account{
		ID:               uuid.NewString(),
		Email:            params.Email,
		PasswordHash:     params.PasswordHash,
		Tier:             model.TierFree,
		CreditsRemaining: params.Credits,
		ResetAnchor:      params.ResetAnchor,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.accounts[account.ID] = account
	return s.copyOf(account.ID), nil
}

func (s *MemoryAccountStore) LinkProvider(ctx context.Context, accountID string, provider model.Provider, externalRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.link(accountID, provider, externalRef)
	return nil
}

func (s *MemoryAccountStore) ConsumeCredit(ctx context.Context, id string, windowStart time.Time, allotment int) (*model.Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, false, nil
	}
	if a.Tier != model.TierFree {
		return s.copyOf(id), false, nil
	}

	balance := a.CreditsRemaining
	stale := a.ResetAnchor.Before(windowStart)
	if stale {
		balance = allotment
	}
	if balance <= 0 {
		return s.copyOf(id), false, nil
	}
	if stale {
		a.ResetAnchor = windowStart
	}
	a.CreditsRemaining = balance - 1
	a.UpdatedAt = s.now()
	return s.copyOf(id), true, nil
}

func (s *MemoryAccountStore) RefundCredit(ctx context.Context, id string, windowStart time.Time, allotment int) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok || a.Tier != model.TierFree || a.ResetAnchor.Before(windowStart) {
		return nil, nil
	}
	a.CreditsRemaining = min(a.CreditsRemaining+1, allotment)
	a.UpdatedAt = s.now()
	return s.copyOf(id), nil
}

func (s *MemoryAccountStore) ResetStaleCredits(ctx context.Context, windowStart time.Time, allotment int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, a := range s.accounts {
		if a.Tier == model.TierFree && a.ResetAnchor.Before(windowStart) {
			a.CreditsRemaining = allotment
			a.ResetAnchor = windowStart
			a.UpdatedAt = s.now()
			n++
		}
	}
	return n, nil
}

func (s *MemoryAccountStore) ApplyPaymentEvent(ctx context.Context, accountID string, event *model.NormalizedPaymentEvent, reduce PaymentReducer) (*ApplyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return nil, nil
	}

	var progress *model.PaymentProgress
	if p, ok := s.progress[progressKey{event.Provider, event.PaymentRef}]; ok {
		progress = &p
	}

	snapshot := *a
	transition := reduce(&snapshot, progress, event)
	result := &ApplyResult{Previous: *a, Transition: transition}
	if transition.Mutates() {
		transition.ApplyTo(a)
		a.UpdatedAt = s.now()
		if transition.Progress != nil {
			p := *transition.Progress
			p.UpdatedAt = a.UpdatedAt
			s.progress[progressKey{p.Provider, p.PaymentRef}] = p
		}
		for _, l := range transition.Links {
			s.link(accountID, l.Provider, l.ExternalRef)
		}
	}
	result.Account = s.copyOf(accountID)
	return result, nil
}

func (s *MemoryAccountStore) SetTier(ctx context.Context, id string, params model.SetTierParams) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, nil
	}
	a.Tier = params.Tier
	a.CreditsRemaining = params.CreditsRemaining
	a.ResetAnchor = params.ResetAnchor
	status, method := params.SubscriptionStatus, params.SubscriptionMethod
	a.SubscriptionStatus = &status
	a.SubscriptionMethod = &method
	a.UpdatedAt = s.now()
	return s.copyOf(id), nil
}

func (s *MemoryAccountStore) link(accountID string, provider model.Provider, ref string) {
	if ref == "" {
		return
	}
	key := linkKey{provider, ref}
	if _, exists := s.links[key]; exists {
		return
	}
	s.links[key] = model.ProviderLink{Provider: provider, ExternalRef: ref, AccountID: accountID, CreatedAt: s.now()}
}

func (s *MemoryAccountStore) copyOf(id string) *model.Account {
	a, ok := s.accounts[id]
	if !ok {
		return nil
	}
	c := *a
	if a.LastPaymentEvent != nil {
		ev := *a.LastPaymentEvent
		c.LastPaymentEvent = &ev
	}
	return &c
}
