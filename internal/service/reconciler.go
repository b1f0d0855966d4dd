package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradesignal/billing-server-go/internal/audit"
	"github.com/tradesignal/billing-server-go/internal/config"
	"github.com/tradesignal/billing-server-go/internal/metrics"
	"github.com/tradesignal/billing-server-go/internal/model"
	"github.com/tradesignal/billing-server-go/internal/repository"
	"github.com/tradesignal/billing-server-go/internal/util"
)

// ReducePaymentEvent is the single transition table for every provider. It only
// decides; the store persists what it returns under the account lock.
func ReducePaymentEvent(account *model.Account, progress *model.PaymentProgress, event *model.NormalizedPaymentEvent, now time.Time) model.Transition {
	if !event.Verified {
		return model.Transition{
			Outcome:     model.WebhookOutcomeUnverified,
			NeedsReview: ptr(true),
		}
	}

	if progress != nil && !event.Rank.After(progress.Rank()) {
		return staleOrDuplicate(progress.EventID, event)
	}
	advisory := event.Status.Advisory()
	if last := account.LastPaymentEvent; advisory && last != nil &&
		last.Provider == event.Provider && last.PaymentRef == event.PaymentRef &&
		!event.Rank.After(last.Rank) {
		return staleOrDuplicate(last.EventID, event)
	}

	t := model.Transition{
		Outcome: model.WebhookOutcomeApplied,
		LastPaymentEvent: &model.LastPaymentEvent{
			Provider:       event.Provider,
			EventID:        event.EventID,
			EventType:      event.EventType,
			PaymentRef:     event.PaymentRef,
			Status:         event.Status,
			ProviderStatus: event.ProviderStatus,
			Rank:           event.Rank,
			Amount:         event.Amount,
			Currency:       event.Currency,
			PayAmount:      event.PayAmount,
			PayCurrency:    event.PayCurrency,
			AppliedAt:      now.UTC(),
		},
	}
	if !advisory {
		t.Progress = &model.PaymentProgress{
			Provider:   event.Provider,
			PaymentRef: event.PaymentRef,
			AccountID:  account.ID,
			RankPhase:  event.Rank.Phase,
			RankAt:     event.Rank.At,
			RankStep:   event.Rank.Step,
			EventID:    event.EventID,
			Status:     event.Status,
		}
	}
	for _, ref := range []string{event.PayerRef, event.PaymentRef} {
		if ref != "" {
			t.Links = append(t.Links, model.ProviderLink{Provider: event.Provider, ExternalRef: ref, AccountID: account.ID})
		}
	}

	status := string(event.Status)
	switch event.Status {
	case model.PaymentStatusCompleted:
		t.Tier = ptr(model.TierPro)
		t.CreditsRemaining = ptr(config.UnlimitedCredits)
		t.SubscriptionStatus = ptr("active")
		t.SubscriptionMethod = ptr(string(event.Provider))
		t.LastPaymentStatus = &status

	case model.PaymentStatusPartial:
		t.NeedsReview = ptr(true)
		t.LastPaymentStatus = &status

	case model.PaymentStatusFailed, model.PaymentStatusExpired:
		t.LastPaymentStatus = &status

	case model.PaymentStatusRefunded:
		t.LastPaymentStatus = &status
		downgrade(&t, account, "refunded", now)

	case model.PaymentStatusSubscriptionUpdated:
		if event.ProviderStatus != "" {
			t.SubscriptionStatus = ptr(event.ProviderStatus)
		}

	case model.PaymentStatusSubscriptionCanceled:
		downgrade(&t, account, "canceled", now)
	}
	// Informational statuses record the event and progress only.
	return t
}

func staleOrDuplicate(seenEventID string, event *model.NormalizedPaymentEvent) model.Transition {
	if seenEventID == event.EventID {
		return model.Transition{Outcome: model.WebhookOutcomeDuplicate}
	}
	return model.Transition{Outcome: model.WebhookOutcomeStale}
}

// downgrade returns a PRO account to FREE with a fresh allotment. A FREE account
// only has its subscription status updated so a cancel never mints credits.
func downgrade(t *model.Transition, account *model.Account, subscriptionStatus string, now time.Time) {
	t.SubscriptionStatus = ptr(subscriptionStatus)
	if !account.IsPro() {
		return
	}
	t.Tier = ptr(model.TierFree)
	t.CreditsRemaining = ptr(config.FreeMonthlyCredits)
	t.ResetAnchor = ptr(now.UTC())
}

func ptr[T any](v T) *T {
	return &v
}

// EntitlementPublisher pushes account changes to connected clients.
type EntitlementPublisher interface {
	PublishEntitlement(ctx context.Context, update model.EntitlementUpdate) error
}

type ReconcileResult struct {
	Outcome   model.WebhookOutcome
	AccountID string
	Previous  *model.Account
	Account   *model.Account
}

// Reconciler resolves normalized payment events to accounts and applies them.
type Reconciler struct {
	accounts  repository.AccountRepository
	events    repository.WebhookEventRepository
	publisher EntitlementPublisher
	now       func() time.Time
}

func NewReconciler(accounts repository.AccountRepository, events repository.WebhookEventRepository, publisher EntitlementPublisher) *Reconciler {
	return &Reconciler{
		accounts:  accounts,
		events:    events,
		publisher: publisher,
		now:       time.Now,
	}
}

// Reconcile applies event at most once. Events that cannot be tied to an account
// are recorded and acknowledged; only storage failures return an error so the
// provider retries.
func (r *Reconciler) Reconcile(ctx context.Context, event *model.NormalizedPaymentEvent) (*ReconcileResult, error) {
	account, err := r.resolve(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("resolve account: %w", err)
	}
	if account == nil {
		r.recordUnresolved(ctx, event)
		return &ReconcileResult{Outcome: model.WebhookOutcomeUnresolved}, nil
	}

	reduce := func(a *model.Account, p *model.PaymentProgress, e *model.NormalizedPaymentEvent) model.Transition {
		return ReducePaymentEvent(a, p, e, r.now())
	}
	applied, err := r.accounts.ApplyPaymentEvent(ctx, account.ID, event, reduce)
	if err != nil {
		return nil, fmt.Errorf("apply payment event: %w", err)
	}
	if applied == nil {
		r.recordUnresolved(ctx, event)
		return &ReconcileResult{Outcome: model.WebhookOutcomeUnresolved}, nil
	}

	outcome := applied.Transition.Outcome
	r.record(ctx, event, &account.ID, outcome)

	log.Info().
		Str("provider", string(event.Provider)).
		Str("event_id", event.EventID).
		Str("status", string(event.Status)).
		Str("account_id", account.ID).
		Str("outcome", string(outcome)).
		Msg("Payment event reconciled")

	r.afterApply(ctx, event, applied)

	return &ReconcileResult{
		Outcome:   outcome,
		AccountID: account.ID,
		Previous:  &applied.Previous,
		Account:   applied.Account,
	}, nil
}

// resolve tries the payer link, then the payment link, then the account id our
// checkout embedded in the payload.
func (r *Reconciler) resolve(ctx context.Context, event *model.NormalizedPaymentEvent) (*model.Account, error) {
	for _, ref := range []string{event.PayerRef, event.PaymentRef} {
		if ref == "" {
			continue
		}
		account, err := r.accounts.FindByProviderLink(ctx, event.Provider, ref)
		if err != nil {
			return nil, err
		}
		if account != nil {
			return account, nil
		}
	}

	if util.IsValidUUID(event.AccountHint) {
		return r.accounts.FindByID(ctx, event.AccountHint)
	}
	return nil, nil
}

func (r *Reconciler) afterApply(ctx context.Context, event *model.NormalizedPaymentEvent, applied *repository.ApplyResult) {
	prev, curr := applied.Previous, applied.Account

	switch applied.Transition.Outcome {
	case model.WebhookOutcomeUnverified:
		audit.Log(ctx, audit.Event{
			Type:      audit.EventWebhookUnsigned,
			Category:  audit.CategoryBilling,
			AccountID: curr.ID,
			Provider:  string(event.Provider),
			Details: map[string]interface{}{
				"event_id": event.EventID,
				"status":   string(event.Status),
			},
		})
		return
	case model.WebhookOutcomeApplied:
	default:
		return
	}

	if event.Status == model.PaymentStatusPartial {
		audit.Log(ctx, audit.Event{
			Type:      audit.EventPaymentReview,
			Category:  audit.CategoryBilling,
			AccountID: curr.ID,
			Provider:  string(event.Provider),
			Details: map[string]interface{}{
				"payment_ref": util.MaskRef(event.PaymentRef),
				"pay_amount":  event.PayAmount,
			},
		})
	}

	tierChanged := prev.Tier != curr.Tier
	if tierChanged {
		eventType := audit.EventTierUpgrade
		if curr.Tier == model.TierFree {
			eventType = audit.EventTierDowngrade
		}
		audit.Log(ctx, audit.Event{
			Type:      eventType,
			Category:  audit.CategoryBilling,
			AccountID: curr.ID,
			Provider:  string(event.Provider),
			Details: map[string]interface{}{
				"event_id": event.EventID,
				"status":   string(event.Status),
				"from":     string(prev.Tier),
				"to":       string(curr.Tier),
			},
		})
		metrics.TierTransitionsTotal.WithLabelValues(string(event.Provider), string(prev.Tier), string(curr.Tier)).Inc()
	}

	if !tierChanged && deref(prev.SubscriptionStatus) == deref(curr.SubscriptionStatus) {
		return
	}
	if r.publisher == nil {
		return
	}
	update := model.EntitlementUpdate{
		AccountID:          curr.ID,
		Tier:               curr.Tier,
		CreditsRemaining:   curr.CreditsRemaining,
		SubscriptionStatus: deref(curr.SubscriptionStatus),
		Reason:             string(event.Status),
		At:                 r.now().UTC(),
	}
	if err := r.publisher.PublishEntitlement(ctx, update); err != nil {
		log.Warn().Err(err).Str("account_id", curr.ID).Msg("Failed to publish entitlement update")
	}
}

func (r *Reconciler) recordUnresolved(ctx context.Context, event *model.NormalizedPaymentEvent) {
	log.Warn().
		Str("provider", string(event.Provider)).
		Str("event_id", event.EventID).
		Str("payer_ref", util.MaskRef(event.PayerRef)).
		Msg("Payment event could not be matched to an account")

	audit.Log(ctx, audit.Event{
		Type:     audit.EventWebhookUnmatched,
		Category: audit.CategoryBilling,
		Provider: string(event.Provider),
		Details: map[string]interface{}{
			"event_id": event.EventID,
			"status":   string(event.Status),
		},
	})
	r.record(ctx, event, nil, model.WebhookOutcomeUnresolved)
}

func (r *Reconciler) record(ctx context.Context, event *model.NormalizedPaymentEvent, accountID *string, outcome model.WebhookOutcome) {
	if r.events == nil {
		return
	}
	err := r.events.Record(ctx, model.CreateWebhookEventParams{
		Provider:  event.Provider,
		EventID:   event.EventID,
		EventType: event.EventType,
		Status:    event.Status,
		AccountID: accountID,
		Outcome:   outcome,
		Payload:   event.Raw,
	})
	if err != nil {
		log.Error().Err(err).Str("event_id", event.EventID).Msg("Failed to record webhook event")
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
