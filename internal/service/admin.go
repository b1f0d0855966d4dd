package service

import (
	"context"
	"time"

	"github.com/tradesignal/billing-server-go/internal/audit"
	"github.com/tradesignal/billing-server-go/internal/config"
	apperrors "github.com/tradesignal/billing-server-go/internal/errors"
	"github.com/tradesignal/billing-server-go/internal/model"
	"github.com/tradesignal/billing-server-go/internal/repository"
	"github.com/tradesignal/billing-server-go/internal/util"
)

const defaultUnresolvedLimit = 50

type AccountDetails struct {
	Account *model.Account       `json:"account"`
	Links   []model.ProviderLink `json:"links"`
	Usage   *model.UsageSnapshot `json:"usage"`
}

// AdminService performs operator actions. Every call names the account
// explicitly; there is no "current" or "first" account.
type AdminService struct {
	accounts repository.AccountRepository
	events   repository.WebhookEventRepository
	ledger   *Ledger
	now      func() time.Time
}

func NewAdminService(accounts repository.AccountRepository, events repository.WebhookEventRepository, ledger *Ledger) *AdminService {
	return &AdminService{accounts: accounts, events: events, ledger: ledger, now: time.Now}
}

func (s *AdminService) Show(ctx context.Context, accountID string) (*AccountDetails, error) {
	if !util.IsValidUUID(accountID) {
		return nil, apperrors.InvalidInput("account id", "must be a UUID")
	}
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if account == nil {
		return nil, apperrors.NotFound("Account")
	}
	links, err := s.accounts.FindLinks(ctx, accountID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	usage, err := s.ledger.Snapshot(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &AccountDetails{Account: account, Links: links, Usage: usage}, nil
}

func (s *AdminService) GrantPro(ctx context.Context, accountID, operator string) (*model.Account, error) {
	return s.setTier(ctx, accountID, operator, model.SetTierParams{
		Tier:               model.TierPro,
		CreditsRemaining:   config.UnlimitedCredits,
		ResetAnchor:        s.now().UTC(),
		SubscriptionStatus: "active",
		SubscriptionMethod: string(model.ProviderAdmin),
	}, audit.EventAdminGrant)
}

func (s *AdminService) RevokePro(ctx context.Context, accountID, operator string) (*model.Account, error) {
	return s.setTier(ctx, accountID, operator, model.SetTierParams{
		Tier:               model.TierFree,
		CreditsRemaining:   config.FreeMonthlyCredits,
		ResetAnchor:        s.now().UTC(),
		SubscriptionStatus: "canceled",
		SubscriptionMethod: string(model.ProviderAdmin),
	}, audit.EventAdminRevoke)
}

func (s *AdminService) setTier(ctx context.Context, accountID, operator string, params model.SetTierParams, eventType audit.EventType) (*model.Account, error) {
	if !util.IsValidUUID(accountID) {
		return nil, apperrors.InvalidInput("account id", "must be a UUID")
	}
	account, err := s.accounts.SetTier(ctx, accountID, params)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if account == nil {
		return nil, apperrors.NotFound("Account")
	}

	audit.Log(ctx, audit.Event{
		Type:      eventType,
		Category:  audit.CategoryBilling,
		AccountID: accountID,
		Provider:  string(model.ProviderAdmin),
		Details: map[string]interface{}{
			"operator": operator,
			"tier":     string(params.Tier),
		},
	})
	return account, nil
}

func (s *AdminService) UnresolvedEvents(ctx context.Context, limit int) ([]model.WebhookEvent, error) {
	if limit <= 0 {
		limit = defaultUnresolvedLimit
	}
	events, err := s.events.FindByOutcome(ctx, model.WebhookOutcomeUnresolved, limit)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return events, nil
}
