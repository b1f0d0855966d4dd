package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradesignal/billing-server-go/internal/audit"
	"github.com/tradesignal/billing-server-go/internal/config"
	apperrors "github.com/tradesignal/billing-server-go/internal/errors"
	"github.com/tradesignal/billing-server-go/internal/metrics"
	"github.com/tradesignal/billing-server-go/internal/model"
)

// ChartUpload is an uploaded chart image held in memory.
type ChartUpload struct {
	Filename    string
	ContentType string
	Data        []byte
}

func (u *ChartUpload) Validate() error {
	if len(u.Data) == 0 {
		return apperrors.MissingRequired("chart")
	}
	if !strings.HasPrefix(strings.ToLower(u.ContentType), "image/") {
		return apperrors.InvalidInput("chart", "file must be an image")
	}
	if len(u.Data) > config.MaxChartUploadBytes {
		return apperrors.InvalidInput("chart", "file exceeds 10MB")
	}
	return nil
}

// AnalysisEngine runs chart analysis and returns its JSON result.
type AnalysisEngine interface {
	Analyze(ctx context.Context, upload ChartUpload) (map[string]any, error)
}

type HTTPAnalysisEngine struct {
	baseURL string
	client  *http.Client
}

func NewHTTPAnalysisEngine(baseURL string, timeout time.Duration) *HTTPAnalysisEngine {
	return &HTTPAnalysisEngine{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (e *HTTPAnalysisEngine) Analyze(ctx context.Context, upload ChartUpload) (map[string]any, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="chart"; filename=%q`, upload.Filename))
	header.Set("Content-Type", upload.ContentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("create form part: %w", err)
	}
	if _, err := part.Write(upload.Data); err != nil {
		return nil, fmt.Errorf("write form part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/analyze", &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := e.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		metrics.UpstreamRequestDuration.WithLabelValues("analysis", "error").Observe(elapsed.Seconds())
		return nil, fmt.Errorf("analysis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.UpstreamRequestDuration.WithLabelValues("analysis", "error").Observe(elapsed.Seconds())
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		log.Error().
			Int("status", resp.StatusCode).
			Dur("elapsed", elapsed).
			Str("body", strings.TrimSpace(string(msg))).
			Msg("analysis engine returned error")
		return nil, fmt.Errorf("analysis engine returned status %d", resp.StatusCode)
	}
	metrics.UpstreamRequestDuration.WithLabelValues("analysis", "ok").Observe(elapsed.Seconds())

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	if result == nil {
		return nil, fmt.Errorf("analysis engine returned an empty body")
	}
	return result, nil
}

type AnalysisOutcome struct {
	Decision *Decision
	// Result is the engine response plus a usage block; nil when denied.
	Result map[string]any
}

// AnalysisService gates chart analysis on entitlement and forwards the upload.
type AnalysisService struct {
	gateway *Gateway
	ledger  *Ledger
	engine  AnalysisEngine
}

func NewAnalysisService(gateway *Gateway, ledger *Ledger, engine AnalysisEngine) *AnalysisService {
	return &AnalysisService{gateway: gateway, ledger: ledger, engine: engine}
}

// Analyze validates before touching credits. A credit taken for a failed engine
// call is refunded before the error is returned.
func (s *AnalysisService) Analyze(ctx context.Context, accountID string, upload ChartUpload) (*AnalysisOutcome, error) {
	if err := upload.Validate(); err != nil {
		return nil, err
	}

	decision, err := s.gateway.Authorize(ctx, accountID, model.FeatureAnalysis)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return &AnalysisOutcome{Decision: decision}, nil
	}

	result, err := s.engine.Analyze(ctx, upload)
	if err != nil {
		log.Error().Err(err).Str("account_id", accountID).Msg("Chart analysis failed")
		s.refund(ctx, decision)
		return nil, apperrors.External("analysis engine", err)
	}

	result["usage"] = map[string]any{
		"tier":             decision.Tier,
		"creditsRemaining": decision.CreditsRemaining,
	}
	return &AnalysisOutcome{Decision: decision, Result: result}, nil
}

func (s *AnalysisService) refund(ctx context.Context, decision *Decision) {
	if decision.Receipt == nil {
		return
	}
	// The request context may already be cancelled by the time the engine fails.
	refundCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.ledger.Refund(refundCtx, decision.Receipt); err != nil {
		log.Error().Err(err).Str("account_id", decision.Receipt.AccountID).Msg("Credit refund failed")
		return
	}
	audit.Log(ctx, audit.Event{
		Type:      audit.EventCreditRefund,
		Category:  audit.CategoryBilling,
		AccountID: decision.Receipt.AccountID,
		Details: map[string]interface{}{
			"reason": "analysis_failed",
		},
	})
}
