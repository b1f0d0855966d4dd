package service

import (
	"context"

	apperrors "github.com/tradesignal/billing-server-go/internal/errors"
	"github.com/tradesignal/billing-server-go/internal/metrics"
	"github.com/tradesignal/billing-server-go/internal/model"
	"github.com/tradesignal/billing-server-go/internal/repository"
)

// Decision is the gateway verdict. Reason is empty when Allowed.
type Decision struct {
	Allowed          bool
	Reason           apperrors.ErrorCode
	Tier             model.Tier
	CreditsRemaining int
	Limit            int
	Used             int
	Receipt          *Receipt
}

// Err builds the client-facing error for a denial.
func (d *Decision) Err() *apperrors.AppError {
	switch d.Reason {
	case apperrors.ErrCodeLimitExceeded:
		return apperrors.LimitExceeded()
	case apperrors.ErrCodeProRequired:
		return apperrors.ProRequired()
	default:
		return apperrors.Forbidden("Access denied")
	}
}

// Gateway decides per request whether an account may use a feature. It reads
// account state fresh every call.
type Gateway struct {
	accounts repository.AccountRepository
	ledger   *Ledger
}

func NewGateway(accounts repository.AccountRepository, ledger *Ledger) *Gateway {
	return &Gateway{accounts: accounts, ledger: ledger}
}

// Authorize consumes a credit for analysis; PRO-only features are a tier check.
// A missing account is reported as unauthenticated.
func (g *Gateway) Authorize(ctx context.Context, accountID string, feature model.Feature) (*Decision, error) {
	if accountID == "" {
		return nil, apperrors.Unauthorized("Authentication required")
	}

	var (
		decision *Decision
		err      error
	)
	if feature.ProOnly() {
		decision, err = g.authorizePro(ctx, accountID)
	} else {
		decision, err = g.authorizeAnalysis(ctx, accountID)
	}
	if err != nil {
		return nil, err
	}

	result := "allowed"
	if !decision.Allowed {
		result = "denied"
	}
	metrics.EntitlementDecisionsTotal.WithLabelValues(string(feature), result).Inc()
	return decision, nil
}

func (g *Gateway) authorizeAnalysis(ctx context.Context, accountID string) (*Decision, error) {
	res, err := g.ledger.Consume(ctx, accountID)
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
			return nil, apperrors.Unauthorized("Account not found")
		}
		return nil, err
	}

	d := &Decision{
		Allowed:          res.Allowed,
		Tier:             res.Tier,
		CreditsRemaining: res.CreditsRemaining,
		Limit:            res.Limit,
		Used:             res.Used,
		Receipt:          res.Receipt,
	}
	if !res.Allowed {
		d.Reason = apperrors.ErrCodeLimitExceeded
	}
	return d, nil
}

func (g *Gateway) authorizePro(ctx context.Context, accountID string) (*Decision, error) {
	account, err := g.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if account == nil {
		return nil, apperrors.Unauthorized("Account not found")
	}

	d := &Decision{
		Allowed:          account.IsPro(),
		Tier:             account.Tier,
		CreditsRemaining: account.CreditsRemaining,
	}
	if !d.Allowed {
		d.Reason = apperrors.ErrCodeProRequired
	}
	return d, nil
}
