package types

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrSignalCompleted  = errors.New("signal already completed")
	ErrOpenSignalExists = errors.New("open signal already exists for key")
	ErrNoOpenSignal     = errors.New("no open signal for key")
	ErrRecipientBlocked = errors.New("recipient blocked the bot")
	ErrPollerSuspended  = errors.New("poller suspended")
)

// TransientFetchError covers network failures, rate limits and exchange 5xx.
type TransientFetchError struct {
	Op         string
	RetryAfter time.Duration
	Err        error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("transient fetch error (%s): %v", e.Op, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

func (e *TransientFetchError) RetryAfterHint() time.Duration { return e.RetryAfter }

// AuthError means the exchange rejected the credentials; polling must stop.
type AuthError struct {
	Code    int
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("exchange auth error code=%d: %s", e.Code, e.Message)
}

// InconsistentPositionDataError marks one key as unusable for the current cycle.
type InconsistentPositionDataError struct {
	Key    PositionKey
	Reason string
}

func (e *InconsistentPositionDataError) Error() string {
	return fmt.Sprintf("inconsistent position data for %s: %s", e.Key, e.Reason)
}

// PersistenceError wraps a rolled-back store transaction.
type PersistenceError struct {
	Op  string
	Key PositionKey
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// DeliveryError is a per-recipient send failure.
type DeliveryError struct {
	UserID     int64
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("deliver to user %d: status=%d: %v", e.UserID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("deliver to user %d: %v", e.UserID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func (e *DeliveryError) RetryAfterHint() time.Duration { return e.RetryAfter }

// IsTransientFetch reports whether err should be retried by the fetch policy.
func IsTransientFetch(err error) bool {
	var te *TransientFetchError
	return errors.As(err, &te)
}

// IsAuth reports whether err is an exchange credential failure.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
