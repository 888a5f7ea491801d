package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action is the lifecycle state of a Signal and the kind of a PositionUpdate.
type Action string

const (
	ActionOpen         Action = "open"
	ActionIncrease     Action = "increase"
	ActionPartialClose Action = "partial_close"
	ActionClose        Action = "close"
)

// Signal is the durable record of one real-world position from open to close.
type Signal struct {
	ID               string           `json:"id"`
	SequenceNumber   int64            `json:"sequence_number"`
	Key              PositionKey      `json:"key"`
	Action           Action           `json:"action"`
	PositionSize     decimal.Decimal  `json:"position_size"`
	OldPositionSize  decimal.Decimal  `json:"old_position_size"`
	EntryPrice       decimal.Decimal  `json:"entry_price"`
	ExitPrice        *decimal.Decimal `json:"exit_price,omitempty"`
	Leverage         *decimal.Decimal `json:"leverage,omitempty"`
	MarkPrice        decimal.Decimal  `json:"mark_price"`
	ClosePercentage  *decimal.Decimal `json:"close_percentage,omitempty"`
	RealizedPnl      *decimal.Decimal `json:"realized_pnl,omitempty"`
	ProfitPercentage *decimal.Decimal `json:"profit_percentage,omitempty"`
	Completed        bool             `json:"completed"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	ClosedAt         *time.Time       `json:"closed_at,omitempty"`
}

// PositionUpdate is one append-only audit entry of a transition applied to a Signal.
type PositionUpdate struct {
	ID              int64            `json:"id"`
	SignalID        string           `json:"signal_id"`
	Action          Action           `json:"action"`
	PositionSize    decimal.Decimal  `json:"position_size"`
	Price           *decimal.Decimal `json:"price,omitempty"`
	ClosePercentage *decimal.Decimal `json:"close_percentage,omitempty"`
	RealizedPnl     *decimal.Decimal `json:"realized_pnl,omitempty"`
	Snapshot        map[string]any   `json:"snapshot,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// User is a subscriber as seen by the dispatcher.
type User struct {
	ID            int64     `json:"id"`
	TelegramID    int64     `json:"telegram_id"`
	Username      string    `json:"username"`
	Locale        string    `json:"locale"`
	SignalBalance int64     `json:"signal_balance"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
}

type DeliveryStatus string

const (
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Delivery is the outcome of sending one lifecycle notification to one recipient.
type Delivery struct {
	ID        int64          `json:"id"`
	SignalID  string         `json:"signal_id"`
	UserID    int64          `json:"user_id"`
	Action    Action         `json:"action"`
	Status    DeliveryStatus `json:"status"`
	Attempts  int            `json:"attempts"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// DailySummary lists the signals completed on one calendar day.
type DailySummary struct {
	Date        string          `json:"date"`
	Signals     []Signal        `json:"signals"`
	TotalProfit decimal.Decimal `json:"total_profit"`
}
