package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradesignal/billing-server-go/internal/config"
	apperrors "github.com/tradesignal/billing-server-go/internal/errors"
	"github.com/tradesignal/billing-server-go/internal/model"
	redisclient "github.com/tradesignal/billing-server-go/internal/redis"
	"github.com/tradesignal/billing-server-go/internal/repository"
)

const (
	defaultPickTimeframe  = "1h"
	defaultPickEntry      = "Market"
	defaultPickLevel      = "N/A"
	defaultPickReasoning  = "Technical analysis + SMART engine validation"
	noDailyPicksAvailable = "No daily picks available yet"
)

// ViewCounter counts how often an account opened the picks on a given day.
type ViewCounter interface {
	CountView(ctx context.Context, accountID string, day time.Time) (int64, error)
}

type redisViewCounter struct {
	client *redisclient.Client
}

func NewRedisViewCounter(client *redisclient.Client) ViewCounter {
	return &redisViewCounter{client: client}
}

func (c *redisViewCounter) CountView(ctx context.Context, accountID string, day time.Time) (int64, error) {
	return c.client.IncrWithTTL(ctx, redisclient.DailyPickViewKey(accountID, day), config.DailyPickViewTTL)
}

type DailyPicks struct {
	Picks       []model.DailyPick `json:"picks"`
	Date        time.Time         `json:"date"`
	GeneratedAt *time.Time        `json:"generatedAt,omitempty"`
	ViewCount   int64             `json:"viewCount"`
	Message     string            `json:"message,omitempty"`
}

type PicksService struct {
	gateway *Gateway
	signals repository.SignalRepository
	views   ViewCounter
	now     func() time.Time
}

func NewPicksService(gateway *Gateway, signals repository.SignalRepository, views ViewCounter) *PicksService {
	return &PicksService{gateway: gateway, signals: signals, views: views, now: time.Now}
}

// Today returns the latest batch published for the current UTC day.
func (s *PicksService) Today(ctx context.Context, accountID string) (*DailyPicks, error) {
	decision, err := s.gateway.Authorize(ctx, accountID, model.FeatureDailyPicks)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, decision.Err()
	}

	now := s.now().UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	signal, err := s.signals.FindLatestDaily(ctx, day, day.Add(24*time.Hour))
	if err != nil {
		return nil, apperrors.Database(err)
	}

	result := &DailyPicks{
		Picks:     []model.DailyPick{},
		Date:      day,
		ViewCount: s.countView(ctx, accountID, day),
	}
	if signal == nil {
		result.Message = noDailyPicksAvailable
		return result, nil
	}

	result.Date = signal.Date
	result.GeneratedAt = &signal.CreatedAt
	for i, item := range signal.Signals {
		result.Picks = append(result.Picks, toDailyPick(signal, i, item))
	}
	return result, nil
}

// countView never fails the request; a Redis outage reads as zero views.
func (s *PicksService) countView(ctx context.Context, accountID string, day time.Time) int64 {
	if s.views == nil {
		return 0
	}
	n, err := s.views.CountView(ctx, accountID, day)
	if err != nil {
		log.Warn().Err(err).Str("account_id", accountID).Msg("Failed to count daily pick view")
		return 0
	}
	return n
}

func toDailyPick(signal *model.DailySignal, index int, item model.SignalItem) model.DailyPick {
	return model.DailyPick{
		ID:             fmt.Sprintf("%s-%d", signal.ID, index),
		Symbol:         item.Symbol,
		Timeframe:      orDefault(item.Timeframe, defaultPickTimeframe),
		Recommendation: item.Recommendation,
		Confidence:     item.Confidence,
		Entry:          orDefault(item.Entry, defaultPickEntry),
		StopLoss:       orDefault(item.StopLoss, defaultPickLevel),
		TakeProfit:     orDefault(item.TakeProfit, defaultPickLevel),
		Reasoning:      orDefault(item.Reasoning, defaultPickReasoning),
		Timestamp:      signal.CreatedAt,
	}
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
