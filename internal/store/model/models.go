package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// SignalModel maps to 'signals'. One non-completed row per (symbol, category, direction)
// is enforced by the partial unique index idx_signals_open_key created at migration.
type SignalModel struct {
	ID               string              `gorm:"column:id;primaryKey;type:varchar(36)"`
	SequenceNumber   int64               `gorm:"column:sequence_number;uniqueIndex;not null"`
	Symbol           string              `gorm:"column:symbol;type:varchar(64);index:idx_signals_key,priority:1;not null"`
	Category         string              `gorm:"column:category;type:varchar(16);index:idx_signals_key,priority:2;not null"`
	Direction        string              `gorm:"column:direction;type:varchar(8);index:idx_signals_key,priority:3;not null"`
	Action           string              `gorm:"column:action;type:varchar(16);not null"`
	PositionSize     decimal.Decimal     `gorm:"column:position_size;type:varchar(64);not null"`
	OldPositionSize  decimal.Decimal     `gorm:"column:old_position_size;type:varchar(64);not null"`
	EntryPrice       decimal.Decimal     `gorm:"column:entry_price;type:varchar(64);not null"`
	ExitPrice        decimal.NullDecimal `gorm:"column:exit_price;type:varchar(64)"`
	Leverage         decimal.NullDecimal `gorm:"column:leverage;type:varchar(64)"`
	MarkPrice        decimal.Decimal     `gorm:"column:mark_price;type:varchar(64)"`
	ClosePercentage  decimal.NullDecimal `gorm:"column:close_percentage;type:varchar(64)"`
	RealizedPnl      decimal.NullDecimal `gorm:"column:realized_pnl;type:varchar(64)"`
	ProfitPercentage decimal.NullDecimal `gorm:"column:profit_percentage;type:varchar(64)"`
	Completed        bool                `gorm:"column:completed;not null;default:false;index"`
	CreatedAt        time.Time           `gorm:"column:created_at"`
	UpdatedAt        time.Time           `gorm:"column:updated_at"`
	ClosedAt         *time.Time          `gorm:"column:closed_at;index"`
}

func (SignalModel) TableName() string { return "signals" }

// PositionUpdateModel maps to 'position_updates'. Rows are insert-only.
type PositionUpdateModel struct {
	ID              int64               `gorm:"column:id;primaryKey;autoIncrement"`
	SignalID        string              `gorm:"column:signal_id;type:varchar(36);index;not null"`
	Action          string              `gorm:"column:action;type:varchar(16);not null"`
	PositionSize    decimal.Decimal     `gorm:"column:position_size;type:varchar(64);not null"`
	Price           decimal.NullDecimal `gorm:"column:price;type:varchar(64)"`
	ClosePercentage decimal.NullDecimal `gorm:"column:close_percentage;type:varchar(64)"`
	RealizedPnl     decimal.NullDecimal `gorm:"column:realized_pnl;type:varchar(64)"`
	Snapshot        datatypes.JSON      `gorm:"column:snapshot;type:TEXT"`
	CreatedAt       time.Time           `gorm:"column:created_at"`

	Signal *SignalModel `gorm:"foreignKey:SignalID;references:ID;constraint:OnUpdate:RESTRICT,OnDelete:RESTRICT"`
}

func (PositionUpdateModel) TableName() string { return "position_updates" }

// UserModel maps to 'users', the subscription directory.
type UserModel struct {
	ID            int64     `gorm:"column:id;primaryKey;autoIncrement"`
	TelegramID    int64     `gorm:"column:telegram_id;uniqueIndex;not null"`
	Username      string    `gorm:"column:username;type:varchar(128)"`
	Locale        string    `gorm:"column:locale;type:varchar(8)"`
	SignalBalance int64     `gorm:"column:signal_balance;not null;default:0"`
	Active        *bool     `gorm:"column:active;not null;default:true"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (UserModel) TableName() string { return "users" }

type DeliveryModel struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	SignalID  string    `gorm:"column:signal_id;type:varchar(36);index:idx_deliveries_signal,priority:1;not null"`
	Action    string    `gorm:"column:action;type:varchar(16);index:idx_deliveries_signal,priority:2;not null"`
	UserID    int64     `gorm:"column:user_id;index;not null"`
	Status    string    `gorm:"column:status;type:varchar(16);not null"`
	Attempts  int       `gorm:"column:attempts"`
	Error     string    `gorm:"column:error;type:TEXT"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (DeliveryModel) TableName() string { return "deliveries" }

type BalanceTxKind string

const BalanceTxSignalUsed BalanceTxKind = "signal_used"

type BalanceTransactionModel struct {
	ID        int64         `gorm:"column:id;primaryKey;autoIncrement"`
	UserID    int64         `gorm:"column:user_id;index;not null"`
	Amount    int64         `gorm:"column:amount;not null"`
	Kind      BalanceTxKind `gorm:"column:kind;type:varchar(32);not null"`
	SignalID  string        `gorm:"column:signal_id;type:varchar(36)"`
	Details   string        `gorm:"column:details;type:TEXT"`
	CreatedAt time.Time     `gorm:"column:created_at"`
}

func (BalanceTransactionModel) TableName() string { return "balance_transactions" }

// All lists every model for AutoMigrate.
func All() []any {
	return []any{
		&SignalModel{},
		&PositionUpdateModel{},
		&UserModel{},
		&DeliveryModel{},
		&BalanceTransactionModel{},
	}
}
