package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// DailySignal is one batch of picks published by the signal bot.
type DailySignal struct {
	ID        string      `db:"id" json:"id"`
	Date      time.Time   `db:"date" json:"date"`
	Signals   SignalItems `db:"signals" json:"signals"`
	Published bool        `db:"published" json:"published"`
	CreatedAt time.Time   `db:"created_at" json:"createdAt"`
}

type SignalItem struct {
	Symbol         string `json:"symbol"`
	Timeframe      string `json:"timeframe,omitempty"`
	Recommendation string `json:"recommendation"`
	Confidence     int    `json:"confidence"`
	Entry          string `json:"entry,omitempty"`
	StopLoss       string `json:"stopLoss,omitempty"`
	TakeProfit     string `json:"takeProfit,omitempty"`
	Reasoning      string `json:"reasoning,omitempty"`
}

type SignalItems []SignalItem

func (s SignalItems) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *SignalItems) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("signals: unsupported type %T", src)
	}
}

// DailyPick is the client view of a SignalItem.
type DailyPick struct {
	ID             string    `json:"id"`
	Symbol         string    `json:"symbol"`
	Timeframe      string    `json:"timeframe"`
	Recommendation string    `json:"recommendation"`
	Confidence     int       `json:"confidence"`
	Entry          string    `json:"entry"`
	StopLoss       string    `json:"stopLoss"`
	TakeProfit     string    `json:"takeProfit"`
	Reasoning      string    `json:"reasoning"`
	Timestamp      time.Time `json:"timestamp"`
}

// TradeSignal is a single analysed setup whose outcome is tracked.
type TradeSignal struct {
	ID             string    `db:"id" json:"id"`
	Symbol         string    `db:"symbol" json:"symbol"`
	Recommendation string    `db:"recommendation" json:"recommendation"`
	Confidence     int       `db:"confidence" json:"confidence"`
	Timeframe      string    `db:"timeframe" json:"timeframe"`
	Support        *float64  `db:"support" json:"support,omitempty"`
	Resistance     *float64  `db:"resistance" json:"resistance,omitempty"`
	Status         string    `db:"status" json:"status"`
	TradeStatus    string    `db:"trade_status" json:"tradeStatus"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

const TradeSignalStatusCompleted = "COMPLETED"

type TradeSignalFilter struct {
	Symbol      string
	TradeStatus string
	Limit       int
	Offset      int
}
