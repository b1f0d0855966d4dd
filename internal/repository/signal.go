package repository

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tradesignal/billing-server-go/internal/model"
)

// SignalRepository reads content written by the signal bot.
type SignalRepository interface {
	FindLatestDaily(ctx context.Context, from, to time.Time) (*model.DailySignal, error)
	FindRecentPublishedDaily(ctx context.Context, limit int) ([]model.DailySignal, error)
	FindCompletedTrades(ctx context.Context, filter model.TradeSignalFilter) ([]model.TradeSignal, error)
	CountCompletedTrades(ctx context.Context, filter model.TradeSignalFilter) (int, error)
}

type signalRepo struct {
	db *sqlx.DB
}

func NewSignalRepository(db *sqlx.DB) SignalRepository {
	return &signalRepo{db: db}
}

func (r *signalRepo) FindLatestDaily(ctx context.Context, from, to time.Time) (*model.DailySignal, error) {
	var signal model.DailySignal
	err := r.db.GetContext(ctx, &signal, `
		SELECT * FROM daily_signals
		WHERE date >= $1 AND date < $2
		ORDER BY created_at DESC
		LIMIT 1
	`, from, to)
	return HandleNotFound(&signal, err)
}

func (r *signalRepo) FindRecentPublishedDaily(ctx context.Context, limit int) ([]model.DailySignal, error) {
	var signals []model.DailySignal
	err := r.db.SelectContext(ctx, &signals, `
		SELECT * FROM daily_signals
		WHERE published = TRUE
		ORDER BY date DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return signals, nil
}

func (r *signalRepo) FindCompletedTrades(ctx context.Context, filter model.TradeSignalFilter) ([]model.TradeSignal, error) {
	where, args := completedTradeFilter(filter)
	args = append(args, filter.Limit, filter.Offset)

	var trades []model.TradeSignal
	err := r.db.SelectContext(ctx, &trades, `
		SELECT * FROM trade_signals
		WHERE `+where+`
		ORDER BY created_at DESC
		LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, err
	}
	return trades, nil
}

func (r *signalRepo) CountCompletedTrades(ctx context.Context, filter model.TradeSignalFilter) (int, error) {
	where, args := completedTradeFilter(filter)
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM trade_signals WHERE `+where, args...)
	return count, err
}

func completedTradeFilter(filter model.TradeSignalFilter) (string, []any) {
	clauses := []string{"status = $1"}
	args := []any{model.TradeSignalStatusCompleted}

	if filter.Symbol != "" {
		args = append(args, strings.ToUpper(filter.Symbol))
		clauses = append(clauses, "symbol = $"+strconv.Itoa(len(args)))
	}
	if filter.TradeStatus != "" {
		args = append(args, filter.TradeStatus)
		clauses = append(clauses, "trade_status = $"+strconv.Itoa(len(args)))
	}
	return strings.Join(clauses, " AND "), args
}
