package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradesignal/billing-server-go/internal/config"
	apperrors "github.com/tradesignal/billing-server-go/internal/errors"
	"github.com/tradesignal/billing-server-go/internal/metrics"
	"github.com/tradesignal/billing-server-go/internal/model"
	"github.com/tradesignal/billing-server-go/internal/repository"
)

// Receipt identifies a credit taken by Consume so it can be handed back.
type Receipt struct {
	AccountID   string
	WindowStart time.Time
}

type ConsumeResult struct {
	Allowed          bool
	Tier             model.Tier
	CreditsRemaining int
	Limit            int
	Used             int
	// Receipt is set only when a FREE credit was actually taken.
	Receipt *Receipt
}

// Ledger gates analysis on the monthly FREE allotment. All balance changes go
// through single conditional statements in the account store.
type Ledger struct {
	accounts  repository.AccountRepository
	allotment int
	now       func() time.Time
}

func NewLedger(accounts repository.AccountRepository) *Ledger {
	return &Ledger{
		accounts:  accounts,
		allotment: config.FreeMonthlyCredits,
		now:       time.Now,
	}
}

func (l *Ledger) Allotment() int {
	return l.allotment
}

func (l *Ledger) Consume(ctx context.Context, accountID string) (*ConsumeResult, error) {
	windowStart := model.MonthStart(l.now())

	account, consumed, err := l.accounts.ConsumeCredit(ctx, accountID, windowStart, l.allotment)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if account == nil {
		return nil, apperrors.NotFound("Account")
	}

	if consumed {
		metrics.CreditConsumeTotal.WithLabelValues("consumed").Inc()
		return &ConsumeResult{
			Allowed:          true,
			Tier:             account.Tier,
			CreditsRemaining: account.CreditsRemaining,
			Limit:            l.allotment,
			Used:             l.allotment - account.CreditsRemaining,
			Receipt:          &Receipt{AccountID: accountID, WindowStart: windowStart},
		}, nil
	}

	if account.IsPro() {
		metrics.CreditConsumeTotal.WithLabelValues("unlimited").Inc()
		return &ConsumeResult{
			Allowed:          true,
			Tier:             model.TierPro,
			CreditsRemaining: config.UnlimitedCredits,
			Limit:            config.UnlimitedCredits,
		}, nil
	}

	metrics.CreditConsumeTotal.WithLabelValues("exhausted").Inc()
	remaining := max(account.EffectiveCredits(l.now(), l.allotment), 0)
	return &ConsumeResult{
		Allowed:          false,
		Tier:             account.Tier,
		CreditsRemaining: remaining,
		Limit:            l.allotment,
		Used:             l.allotment - remaining,
	}, nil
}

// Refund returns a credit taken in the same monthly window. It is a no-op once
// the window has rolled over or the account has moved to PRO.
func (l *Ledger) Refund(ctx context.Context, receipt *Receipt) error {
	if receipt == nil {
		return nil
	}
	account, err := l.accounts.RefundCredit(ctx, receipt.AccountID, receipt.WindowStart, l.allotment)
	if err != nil {
		return apperrors.Database(err)
	}
	if account == nil {
		log.Info().Str("account_id", receipt.AccountID).Msg("Credit refund skipped (window closed or tier changed)")
		return nil
	}
	metrics.CreditConsumeTotal.WithLabelValues("refunded").Inc()
	return nil
}

// Snapshot reports the balance without mutating it; a stale window reads as the full allotment.
func (l *Ledger) Snapshot(ctx context.Context, accountID string) (*model.UsageSnapshot, error) {
	account, err := l.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if account == nil {
		return nil, apperrors.NotFound("Account")
	}

	if account.IsPro() {
		return &model.UsageSnapshot{
			Tier:             model.TierPro,
			CreditsRemaining: config.UnlimitedCredits,
			CanAnalyze:       true,
		}, nil
	}

	credits := account.EffectiveCredits(l.now(), l.allotment)
	return &model.UsageSnapshot{
		Tier:             account.Tier,
		CreditsRemaining: credits,
		CanAnalyze:       credits > 0,
	}, nil
}
