package handler

import (
	"encoding/json"
	"net/http"

	"github.com/tradesignal/billing-server-go/internal/audit"
	apperrors "github.com/tradesignal/billing-server-go/internal/errors"
	"github.com/tradesignal/billing-server-go/internal/service"
	"github.com/tradesignal/billing-server-go/internal/util"
)

type AuthHandler struct {
	auth *service.AuthService
}

func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func decodeCredentials(r *http.Request) (*credentials, error) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, apperrors.ValidationError("Invalid request body")
	}
	if req.Email == "" || req.Password == "" {
		return nil, apperrors.MissingRequired("email and password")
	}
	return &req, nil
}

// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCredentials(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.auth.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCredentials(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeUnauthorized) {
			audit.LogFromRequest(r, audit.Event{
				Type: audit.EventLoginFailure,
				Details: map[string]interface{}{
					"email": util.MaskRef(util.NormalizeEmail(req.Email)),
				},
			})
		}
		writeError(w, r, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventLoginSuccess,
		AccountID: result.AccountID,
	})
	writeJSON(w, http.StatusOK, result)
}
