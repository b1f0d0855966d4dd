package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/tradesignal/billing-server-go/internal/config"
	apperrors "github.com/tradesignal/billing-server-go/internal/errors"
	"github.com/tradesignal/billing-server-go/internal/middleware"
	"github.com/tradesignal/billing-server-go/internal/model"
	"github.com/tradesignal/billing-server-go/internal/service"
)

// multipartOverhead leaves room for boundaries and part headers on top of the
// image itself.
const multipartOverhead = 64 << 10

type UsageHandler struct {
	analysis *service.AnalysisService
	gateway  *service.Gateway
	ledger   *service.Ledger
}

func NewUsageHandler(analysis *service.AnalysisService, gateway *service.Gateway, ledger *service.Ledger) *UsageHandler {
	return &UsageHandler{
		analysis: analysis,
		gateway:  gateway,
		ledger:   ledger,
	}
}

// POST /analyze
func (h *UsageHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())

	upload, err := readChart(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	outcome, err := h.analysis.Analyze(r.Context(), accountID, *upload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !outcome.Decision.Allowed {
		writeDenied(w, outcome.Decision)
		return
	}

	writeJSON(w, http.StatusOK, outcome.Result)
}

// GET /usage
func (h *UsageHandler) Usage(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.ledger.Snapshot(r.Context(), middleware.GetAccountID(r.Context()))
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
			err = apperrors.Unauthorized("Account not found")
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// POST /usage/consume
// Takes one analysis credit without running an analysis; used by clients that
// run the engine themselves.
func (h *UsageHandler) Consume(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())

	decision, err := h.gateway.Authorize(r.Context(), accountID, model.FeatureAnalysis)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !decision.Allowed {
		writeDenied(w, decision)
		return
	}

	log.Debug().
		Str("account_id", accountID).
		Int("credits_remaining", decision.CreditsRemaining).
		Msg("credit consumed")

	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"tier":             decision.Tier,
		"creditsRemaining": decision.CreditsRemaining,
	})
}

func readChart(w http.ResponseWriter, r *http.Request) (*service.ChartUpload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, config.MaxChartUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(config.MaxChartUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperrors.InvalidInput("chart", "file exceeds 10MB")
		}
		return nil, apperrors.ValidationError("Expected multipart/form-data body")
	}

	file, header, err := r.FormFile("chart")
	if err != nil {
		return nil, apperrors.MissingRequired("chart")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, apperrors.ValidationError("Failed to read chart upload")
	}

	return &service.ChartUpload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}
