package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tradesignal/billing-server-go/internal/database"
	"github.com/tradesignal/billing-server-go/internal/model"
)

// PaymentReducer decides what a payment event does to an account given the
// progress already recorded for that payment. It must not have side effects.
type PaymentReducer func(account *model.Account, progress *model.PaymentProgress, event *model.NormalizedPaymentEvent) model.Transition

type ApplyResult struct {
	Previous   model.Account
	Account    *model.Account
	Transition model.Transition
}

type AccountRepository interface {
	FindByID(ctx context.Context, id string) (*model.Account, error)
	FindByEmail(ctx context.Context, email string) (*model.Account, error)
	FindByProviderLink(ctx context.Context, provider model.Provider, externalRef string) (*model.Account, error)
	FindLinks(ctx context.Context, accountID string) ([]model.ProviderLink, error)
	Create(ctx context.Context, params model.CreateAccountParams) (*model.Account, error)
	LinkProvider(ctx context.Context, accountID string, provider model.Provider, externalRef string) error
	// ConsumeCredit takes one FREE credit, resetting the balance first when the stored
	// window predates windowStart. It reports false when nothing was taken.
	ConsumeCredit(ctx context.Context, id string, windowStart time.Time, allotment int) (*model.Account, bool, error)
	RefundCredit(ctx context.Context, id string, windowStart time.Time, allotment int) (*model.Account, error)
	ResetStaleCredits(ctx context.Context, windowStart time.Time, allotment int) (int64, error)
	// ApplyPaymentEvent runs reduce under a lock on the account and persists its result.
	// A nil result means the account does not exist.
	ApplyPaymentEvent(ctx context.Context, accountID string, event *model.NormalizedPaymentEvent, reduce PaymentReducer) (*ApplyResult, error)
	SetTier(ctx context.Context, id string, params model.SetTierParams) (*model.Account, error)
}

type accountRepo struct {
	db *sqlx.DB
}

func NewAccountRepository(db *sqlx.DB) AccountRepository {
	return &accountRepo{db: db}
}

func (r *accountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		SELECT * FROM accounts WHERE id = $1
	`, id)
	return HandleNotFound(&account, err)
}

func (r *accountRepo) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		SELECT * FROM accounts WHERE email = $1
	`, email)
	return HandleNotFound(&account, err)
}

func (r *accountRepo) FindByProviderLink(ctx context.Context, provider model.Provider, externalRef string) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		SELECT a.* FROM accounts a
		JOIN provider_links l ON l.account_id = a.id
		WHERE l.provider = $1 AND l.external_ref = $2
	`, provider, externalRef)
	return HandleNotFound(&account, err)
}

func (r *accountRepo) FindLinks(ctx context.Context, accountID string) ([]model.ProviderLink, error) {
	var links []model.ProviderLink
	err := r.db.SelectContext(ctx, &links, `
		SELECT * FROM provider_links
		WHERE account_id = $1
		ORDER BY created_at
	`, accountID)
	if err != nil {
		return nil, err
	}
	return links, nil
}

func (r *accountRepo) Create(ctx context.Context, params model.CreateAccountParams) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		INSERT INTO accounts (id, email, password_hash, tier, credits_remaining, reset_anchor)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *
	`, uuid.NewString(), params.Email, params.PasswordHash, model.TierFree, params.Credits, params.ResetAnchor)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepo) LinkProvider(ctx context.Context, accountID string, provider model.Provider, externalRef string) error {
	return linkProvider(ctx, r.db, accountID, provider, externalRef)
}

func linkProvider(ctx context.Context, q database.DBTX, accountID string, provider model.Provider, externalRef string) error {
	if externalRef == "" {
		return nil
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO provider_links (provider, external_ref, account_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, external_ref) DO NOTHING
	`, provider, externalRef, accountID)
	return err
}

func (r *accountRepo) ConsumeCredit(ctx context.Context, id string, windowStart time.Time, allotment int) (*model.Account, bool, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		UPDATE accounts SET
			credits_remaining = (CASE WHEN reset_anchor < $2 THEN $3 ELSE credits_remaining END) - 1,
			reset_anchor = CASE WHEN reset_anchor < $2 THEN $2 ELSE reset_anchor END,
			updated_at = NOW()
		WHERE id = $1
			AND tier = 'FREE'
			AND (CASE WHEN reset_anchor < $2 THEN $3 ELSE credits_remaining END) > 0
		RETURNING *
	`, id, windowStart, allotment)
	if err == nil {
		return &account, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	// PRO, exhausted or missing: report the current row untouched.
	current, err := r.FindByID(ctx, id)
	return current, false, err
}

func (r *accountRepo) RefundCredit(ctx context.Context, id string, windowStart time.Time, allotment int) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		UPDATE accounts SET
			credits_remaining = LEAST(credits_remaining + 1, $3),
			updated_at = NOW()
		WHERE id = $1 AND tier = 'FREE' AND reset_anchor >= $2
		RETURNING *
	`, id, windowStart, allotment)
	return HandleNotFound(&account, err)
}

func (r *accountRepo) ResetStaleCredits(ctx context.Context, windowStart time.Time, allotment int) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET
			credits_remaining = $2,
			reset_anchor = $1,
			updated_at = NOW()
		WHERE tier = 'FREE' AND reset_anchor < $1
	`, windowStart, allotment)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *accountRepo) ApplyPaymentEvent(ctx context.Context, accountID string, event *model.NormalizedPaymentEvent, reduce PaymentReducer) (*ApplyResult, error) {
	var result *ApplyResult

	err := database.RunInTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var locked model.Account
		err := tx.GetContext(ctx, &locked, `
			SELECT * FROM accounts WHERE id = $1 FOR UPDATE
		`, accountID)
		account, err := HandleNotFound(&locked, err)
		if err != nil || account == nil {
			return err
		}

		var stored model.PaymentProgress
		err = tx.GetContext(ctx, &stored, `
			SELECT * FROM payment_progress
			WHERE provider = $1 AND payment_ref = $2
			FOR UPDATE
		`, event.Provider, event.PaymentRef)
		progress, err := HandleNotFound(&stored, err)
		if err != nil {
			return err
		}

		snapshot := *account
		transition := reduce(&snapshot, progress, event)
		result = &ApplyResult{Previous: *account, Account: account, Transition: transition}
		if !transition.Mutates() {
			return nil
		}

		updated, err := writeTransition(ctx, tx, accountID, &transition)
		if err != nil {
			return err
		}
		result.Account = updated

		if transition.Progress != nil {
			if err := upsertProgress(ctx, tx, transition.Progress); err != nil {
				return err
			}
		}
		for _, link := range transition.Links {
			if err := linkProvider(ctx, tx, accountID, link.Provider, link.ExternalRef); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func writeTransition(ctx context.Context, q database.DBTX, accountID string, t *model.Transition) (*model.Account, error) {
	var account model.Account
	err := q.GetContext(ctx, &account, `
		UPDATE accounts SET
			tier = COALESCE($2, tier),
			credits_remaining = COALESCE($3, credits_remaining),
			reset_anchor = COALESCE($4, reset_anchor),
			subscription_status = COALESCE($5, subscription_status),
			subscription_method = COALESCE($6, subscription_method),
			last_payment_status = COALESCE($7, last_payment_status),
			needs_review = COALESCE($8, needs_review),
			last_payment_event = COALESCE($9::jsonb, last_payment_event),
			updated_at = NOW()
		WHERE id = $1
		RETURNING *
	`, accountID, t.Tier, t.CreditsRemaining, t.ResetAnchor, t.SubscriptionStatus,
		t.SubscriptionMethod, t.LastPaymentStatus, t.NeedsReview, t.LastPaymentEvent)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func upsertProgress(ctx context.Context, q database.DBTX, p *model.PaymentProgress) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO payment_progress (provider, payment_ref, account_id, rank_phase, rank_at, rank_step, event_id, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (provider, payment_ref) DO UPDATE SET
			rank_phase = EXCLUDED.rank_phase,
			rank_at = EXCLUDED.rank_at,
			rank_step = EXCLUDED.rank_step,
			event_id = EXCLUDED.event_id,
			status = EXCLUDED.status,
			updated_at = NOW()
	`, p.Provider, p.PaymentRef, p.AccountID, p.RankPhase, p.RankAt, p.RankStep, p.EventID, p.Status)
	return err
}

func (r *accountRepo) SetTier(ctx context.Context, id string, params model.SetTierParams) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		UPDATE accounts SET
			tier = $2,
			credits_remaining = $3,
			reset_anchor = $4,
			subscription_status = $5,
			subscription_method = $6,
			updated_at = NOW()
		WHERE id = $1
		RETURNING *
	`, id, params.Tier, params.CreditsRemaining, params.ResetAnchor, params.SubscriptionStatus, params.SubscriptionMethod)
	return HandleNotFound(&account, err)
}
