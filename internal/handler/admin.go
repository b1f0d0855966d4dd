package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tradesignal/billing-server-go/internal/audit"
	apperrors "github.com/tradesignal/billing-server-go/internal/errors"
	"github.com/tradesignal/billing-server-go/internal/httputil"
	"github.com/tradesignal/billing-server-go/internal/service"
	"github.com/tradesignal/billing-server-go/internal/util"
)

const operatorHeader = "X-Admin-Operator"

type AdminHandler struct {
	adminService *service.AdminService
	apiToken     string
}

func NewAdminHandler(adminService *service.AdminService, apiToken string) *AdminHandler {
	return &AdminHandler{
		adminService: adminService,
		apiToken:     apiToken,
	}
}

func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.requireToken)

	r.Get("/accounts/{id}", h.GetAccount)
	r.Post("/accounts/{id}/grant-pro", h.GrantPro)
	r.Post("/accounts/{id}/revoke-pro", h.RevokePro)
	r.Get("/webhook-events/unresolved", h.UnresolvedEvents)

	return r
}

// requireToken rejects everything when no token is configured.
func (h *AdminHandler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if h.apiToken == "" || token == "" || !util.ConstantTimeEqual(token, h.apiToken) {
			audit.LogFromRequest(r, audit.Event{
				Type: audit.EventAuthFailure,
				Details: map[string]interface{}{
					"path":   r.URL.Path,
					"reason": "invalid admin token",
				},
			})
			httputil.WriteErrorWithStatus(w, http.StatusUnauthorized, apperrors.Unauthorized("Invalid admin token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func operator(r *http.Request) string {
	if op := strings.TrimSpace(r.Header.Get(operatorHeader)); op != "" {
		return op
	}
	return "admin-api"
}

// GET /admin/accounts/{id}
func (h *AdminHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	details, err := h.adminService.Show(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// POST /admin/accounts/{id}/grant-pro
func (h *AdminHandler) GrantPro(w http.ResponseWriter, r *http.Request) {
	account, err := h.adminService.GrantPro(r.Context(), chi.URLParam(r, "id"), operator(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// POST /admin/accounts/{id}/revoke-pro
func (h *AdminHandler) RevokePro(w http.ResponseWriter, r *http.Request) {
	account, err := h.adminService.RevokePro(r.Context(), chi.URLParam(r, "id"), operator(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// GET /admin/webhook-events/unresolved
func (h *AdminHandler) UnresolvedEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit > MaxLimit {
		limit = MaxLimit
	}

	events, err := h.adminService.UnresolvedEvents(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": events,
		"total": len(events),
	})
}
