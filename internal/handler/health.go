package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradesignal/billing-server-go/internal/config"
)

// Checker reports whether a dependency is reachable.
type Checker func(ctx context.Context) error

type HealthHandler struct {
	checks map[string]Checker
}

func NewHealthHandler(checks map[string]Checker) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// GET /health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.DBPingTimeout)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	failing := []string{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			log.Warn().Err(err).Str("dependency", name).Msg("health check failed")
			failing = append(failing, name)
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	body := map[string]any{
		"status":    status,
		"timestamp": time.Now().UnixMilli(),
	}
	if len(failing) > 0 {
		body["failing"] = failing
	}
	writeJSON(w, code, body)
}
