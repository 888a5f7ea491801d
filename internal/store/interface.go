package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"sigwatch/internal/types"
)

// UnitOfWork defines a transaction scope.
type UnitOfWork interface {
	// Commit commits the transaction.
	Commit() error
	// Rollback rolls back the transaction.
	Rollback() error

	// Signals returns the signal repository within this transaction.
	Signals() SignalRepository
	// Updates returns the position update repository within this transaction.
	Updates() UpdateRepository
	// Users returns the subscriber directory within this transaction.
	Users() UserRepository
	// Deliveries returns the delivery log within this transaction.
	Deliveries() DeliveryRepository
}

// Store is the entry point for database access. The repository accessors run
// outside any transaction and are meant for reads.
type Store interface {
	// Begin starts a new UnitOfWork (transaction).
	Begin(ctx context.Context) (UnitOfWork, error)
	Signals() SignalRepository
	Updates() UpdateRepository
	Users() UserRepository
	Deliveries() DeliveryRepository
	// Close closes the store connection.
	Close() error
}

// WithTx runs fn inside a transaction, committing on nil and rolling back otherwise.
func WithTx(ctx context.Context, s Store, fn func(uow UnitOfWork) error) error {
	uow, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(uow); err != nil {
		_ = uow.Rollback()
		return err
	}
	return uow.Commit()
}

// SignalFilter narrows List.
type SignalFilter struct {
	OpenOnly bool
	Limit    int
}

// SignalRepository handles signal persistence.
type SignalRepository interface {
	// NextSequence returns MAX(sequence_number)+1. Callers must serialize allocation.
	NextSequence(ctx context.Context) (int64, error)
	Create(ctx context.Context, sig *types.Signal) error
	// UpdateOpen writes sig only if the stored row is not completed; it returns
	// types.ErrSignalCompleted otherwise.
	UpdateOpen(ctx context.Context, sig *types.Signal) error
	// UpdateMark records the latest observed mark price of an open signal.
	UpdateMark(ctx context.Context, id string, mark decimal.Decimal) error
	FindByID(ctx context.Context, id string) (*types.Signal, error)
	// FindOpenByKey returns nil, nil when no open signal exists.
	FindOpenByKey(ctx context.Context, key types.PositionKey) (*types.Signal, error)
	ListOpen(ctx context.Context) ([]types.Signal, error)
	List(ctx context.Context, f SignalFilter) ([]types.Signal, error)
	ListClosedBetween(ctx context.Context, from, to time.Time) ([]types.Signal, error)
}

// UpdateRepository is append-only: there is no update or delete path.
type UpdateRepository interface {
	Insert(ctx context.Context, upd *types.PositionUpdate) error
	ListBySignal(ctx context.Context, signalID string) ([]types.PositionUpdate, error)
}

// UserRepository is the subscription directory.
type UserRepository interface {
	Create(ctx context.Context, u *types.User) error
	FindByID(ctx context.Context, id int64) (*types.User, error)
	// FundedUsers lists active users with a positive signal balance.
	FundedUsers(ctx context.Context) ([]types.User, error)
	ListByIDs(ctx context.Context, ids []int64) ([]types.User, error)
	// ConsumeCredit decrements the balance by one and records a signal_used
	// transaction. It reports false when the balance was already zero.
	ConsumeCredit(ctx context.Context, userID int64, signalID string) (bool, error)
}

// DeliveryRepository records per-recipient outcomes.
type DeliveryRepository interface {
	Insert(ctx context.Context, d *types.Delivery) error
	// OpenRecipients lists users whose open notification for signalID was delivered.
	OpenRecipients(ctx context.Context, signalID string) ([]int64, error)
	ListBySignal(ctx context.Context, signalID string) ([]types.Delivery, error)
}
