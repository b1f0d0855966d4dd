package handler

import (
	"net/http"

	"github.com/rs/zerolog/log"

	apperrors "github.com/tradesignal/billing-server-go/internal/errors"
	"github.com/tradesignal/billing-server-go/internal/httputil"
	"github.com/tradesignal/billing-server-go/internal/service"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

// writeError logs anything that maps to a 5xx so the client only sees the
// generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok || httputil.StatusFromCode(appErr.Code) >= http.StatusInternalServerError {
		log.Error().
			Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	httputil.WriteError(w, err)
}

// writeDenied reports an entitlement denial with the numbers the client shows
// on its upgrade prompt.
func writeDenied(w http.ResponseWriter, decision *service.Decision) {
	appErr := decision.Err()
	writeJSON(w, httputil.StatusFromCode(appErr.Code), map[string]any{
		"error": appErr.Message,
		"code":  appErr.Code,
		"tier":  decision.Tier,
		"limit": decision.Limit,
		"used":  decision.Used,
	})
}
