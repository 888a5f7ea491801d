// Package exchange defines the read-only view of a trading venue that the
// tracker depends on, so the poll loop never imports a concrete client.
package exchange

import (
	"context"

	"sigwatch/internal/types"
)

// PositionSource lists the account's open positions.
//
// Implementations must return either every category or an error: a partial
// result would be read as closes for the missing categories.
// Errors are *types.TransientFetchError, *types.AuthError, or plain errors
// that should not be retried.
type PositionSource interface {
	Name() string
	FetchOpenPositions(ctx context.Context, categories []types.Category) ([]types.LogicalPosition, error)
}

// FillSource exposes recent executions, used to price a close more precisely
// than the last mark.
type FillSource interface {
	RecentCloseFills(ctx context.Context, key types.PositionKey, limit int) ([]Fill, error)
}

// Client is what a venue adapter usually implements.
type Client interface {
	PositionSource
	FillSource
}
