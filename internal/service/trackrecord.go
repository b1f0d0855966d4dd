package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/tradesignal/billing-server-go/internal/errors"
	"github.com/tradesignal/billing-server-go/internal/model"
	"github.com/tradesignal/billing-server-go/internal/repository"
)

const (
	trackRecordStatsDays   = 100
	winConfidenceThreshold = 70
	// assumedStopLossRatio places the stop 3% under entry when none was recorded.
	assumedStopLossRatio = 0.97
)

type TrackRecordQuery struct {
	Limit  int
	Offset int
	Symbol string
	Status string
}

type TrackRecordStats struct {
	TotalSignals      int    `json:"totalSignals"`
	WinRate           string `json:"winRate"`
	AverageRiskReward string `json:"averageRiskReward"`
	TotalProfit       string `json:"totalProfit"`
	BestWin           string `json:"bestWin"`
	WorstLoss         string `json:"worstLoss"`
}

type TrackRecordEntry struct {
	ID         string    `json:"id"`
	Date       time.Time `json:"date"`
	Symbol     string    `json:"symbol"`
	Direction  string    `json:"direction"`
	Entry      string    `json:"entry"`
	Exit       string    `json:"exit"`
	StopLoss   string    `json:"stopLoss"`
	ProfitLoss string    `json:"profitLoss"`
	Status     string    `json:"status"`
	Confidence int       `json:"confidence"`
	Timeframe  string    `json:"timeframe"`
	RiskReward string    `json:"riskReward"`
}

type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"hasMore"`
}

type TrackRecord struct {
	Stats       TrackRecordStats   `json:"stats"`
	TrackRecord []TrackRecordEntry `json:"trackRecord"`
	Pagination  Pagination         `json:"pagination"`
}

type TrackRecordService struct {
	signals repository.SignalRepository
}

func NewTrackRecordService(signals repository.SignalRepository) *TrackRecordService {
	return &TrackRecordService{signals: signals}
}

func (s *TrackRecordService) Get(ctx context.Context, q TrackRecordQuery) (*TrackRecord, error) {
	filter := model.TradeSignalFilter{
		Symbol:      strings.ToUpper(strings.TrimSpace(q.Symbol)),
		TradeStatus: strings.TrimSpace(q.Status),
		Limit:       q.Limit,
		Offset:      q.Offset,
	}

	trades, err := s.signals.FindCompletedTrades(ctx, filter)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	total, err := s.signals.CountCompletedTrades(ctx, filter)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	daily, err := s.signals.FindRecentPublishedDaily(ctx, trackRecordStatsDays)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	entries := make([]TrackRecordEntry, 0, len(trades))
	var (
		rrSum, profitSum float64
		rrCount          int
		best, worst      *float64
	)
	for _, trade := range trades {
		entry, profit, rr := toTrackRecordEntry(trade)
		entries = append(entries, entry)
		if rr > 0 {
			rrSum += rr
			rrCount++
		}
		if entry.Status != "Open" {
			profitSum += profit
			if best == nil || profit > *best {
				best = &profit
			}
			if worst == nil || profit < *worst {
				worst = &profit
			}
		}
	}

	stats := dailyStats(daily)
	if stats.TotalSignals == 0 {
		stats.TotalSignals = total
	}
	stats.AverageRiskReward = "N/A"
	if rrCount > 0 {
		stats.AverageRiskReward = strconv.FormatFloat(rrSum/float64(rrCount), 'f', 1, 64)
	}
	stats.TotalProfit = strconv.FormatFloat(profitSum, 'f', 1, 64)
	stats.BestWin = signedPercent(best)
	stats.WorstLoss = signedPercent(worst)

	return &TrackRecord{
		Stats:       stats,
		TrackRecord: entries,
		Pagination: Pagination{
			Total:   total,
			Limit:   q.Limit,
			Offset:  q.Offset,
			HasMore: q.Offset+len(trades) < total,
		},
	}, nil
}

// dailyStats treats confidence at or above the threshold as a win. Published
// daily signals carry no realised outcome.
func dailyStats(days []model.DailySignal) TrackRecordStats {
	var total, wins int
	for _, day := range days {
		for _, item := range day.Signals {
			total++
			if item.Confidence >= winConfidenceThreshold {
				wins++
			}
		}
	}

	winRate := 0.0
	if total > 0 {
		winRate = float64(wins) / float64(total) * 100
	}
	return TrackRecordStats{
		TotalSignals: total,
		WinRate:      strconv.FormatFloat(winRate, 'f', 1, 64),
	}
}

func toTrackRecordEntry(t model.TradeSignal) (TrackRecordEntry, float64, float64) {
	var entry, target float64
	if t.Support != nil {
		entry = *t.Support
	}
	if t.Resistance != nil {
		target = *t.Resistance
	}
	stop := entry * assumedStopLossRatio

	var profit, rr float64
	if target > entry && entry > 0 {
		profit = (target - entry) / entry * 100
	}
	if target > entry && stop > 0 {
		rr = (target - entry) / (entry - stop)
	}

	status := "Open"
	switch {
	case profit > 0:
		status = "Win"
	case profit < 0:
		status = "Loss"
	}

	exit := "N/A"
	if target > 0 {
		exit = strconv.FormatFloat(target, 'f', 2, 64)
	}
	riskReward := "N/A"
	if rr > 0 {
		riskReward = strconv.FormatFloat(rr, 'f', 1, 64)
	}
	confidence := t.Confidence
	if confidence == 0 {
		confidence = 50
	}

	return TrackRecordEntry{
		ID:         t.ID,
		Date:       t.CreatedAt,
		Symbol:     t.Symbol,
		Direction:  t.Recommendation,
		Entry:      strconv.FormatFloat(entry, 'f', 2, 64),
		Exit:       exit,
		StopLoss:   strconv.FormatFloat(stop, 'f', 2, 64),
		ProfitLoss: strconv.FormatFloat(profit, 'f', 2, 64),
		Status:     status,
		Confidence: confidence,
		Timeframe:  orDefault(t.Timeframe, defaultPickTimeframe),
		RiskReward: riskReward,
	}, profit, rr
}

func signedPercent(v *float64) string {
	if v == nil {
		return "N/A"
	}
	s := strconv.FormatFloat(*v, 'f', 1, 64) + "%"
	if *v > 0 {
		return "+" + s
	}
	return s
}
