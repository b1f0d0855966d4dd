package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventLoginSuccess     EventType = "login_success"
	EventLoginFailure     EventType = "login_failure"
	EventAccountCreate    EventType = "account_create"
	EventRateLimitExceed  EventType = "rate_limit_exceeded"
	EventAuthFailure      EventType = "auth_failure"
	EventWebhookRejected  EventType = "webhook_rejected"
	EventWebhookUnmatched EventType = "webhook_unmatched"
	EventWebhookUnsigned  EventType = "webhook_unsigned"
	EventTierUpgrade      EventType = "tier_upgrade"
	EventTierDowngrade    EventType = "tier_downgrade"
	EventPaymentReview    EventType = "payment_review"
	EventCreditRefund     EventType = "credit_refund"
	EventAdminGrant       EventType = "admin_grant"
	EventAdminRevoke      EventType = "admin_revoke"
)

// Category separates security events from billing events in log queries.
type Category string

const (
	CategorySecurity Category = "security"
	CategoryBilling  Category = "billing"
)

type Event struct {
	Type      EventType
	Category  Category
	AccountID string
	Provider  string
	IP        string
	UserAgent string
	Details   map[string]interface{}
}

func Log(ctx context.Context, event Event) {
	category := event.Category
	if category == "" {
		category = CategorySecurity
	}

	logger := log.With().
		Str("audit", string(category)).
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.AccountID != "" {
		logger = logger.With().Str("account_id", event.AccountID).Logger()
	}
	if event.Provider != "" {
		logger = logger.With().Str("provider", event.Provider).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("user_agent", event.UserAgent).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg(string(category) + " audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = ClientIP(r)
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}

// ClientIP prefers RemoteAddr, which chi's RealIP middleware has already rewritten.
func ClientIP(r *http.Request) string {
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.Header.Get("X-Forwarded-For")
}
