package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Category is the exchange instrument family a position lives in.
type Category string

const (
	CategorySpot    Category = "spot"
	CategoryLinear  Category = "linear"
	CategoryInverse Category = "inverse"
)

// ParseCategory normalizes exchange spellings ("LINEAR", " linear ") into a Category.
func ParseCategory(raw string) (Category, error) {
	switch Category(strings.ToLower(strings.TrimSpace(raw))) {
	case CategorySpot:
		return CategorySpot, nil
	case CategoryLinear:
		return CategoryLinear, nil
	case CategoryInverse:
		return CategoryInverse, nil
	default:
		return "", fmt.Errorf("unknown category %q", raw)
	}
}

// IsFutures reports whether leverage applies to the category.
func (c Category) IsFutures() bool {
	return c == CategoryLinear || c == CategoryInverse
}

// Direction is the side of a position.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// ParseDirection maps "Buy"/"Sell" (and long/short) to a Direction.
func ParseDirection(raw string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy", "long":
		return DirectionBuy, nil
	case "sell", "short":
		return DirectionSell, nil
	default:
		return "", fmt.Errorf("unknown direction %q", raw)
	}
}

// Valid reports whether d is a known side.
func (d Direction) Valid() bool {
	return d == DirectionBuy || d == DirectionSell
}

// Sign is +1 for longs and -1 for shorts.
func (d Direction) Sign() decimal.Decimal {
	if d == DirectionSell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Label is the user-facing LONG/SHORT wording.
func (d Direction) Label() string {
	if d == DirectionSell {
		return "SHORT"
	}
	return "LONG"
}

// PositionKey identifies one logical position. Concurrent positions sharing a key are
// folded into one.
type PositionKey struct {
	Symbol    string    `json:"symbol"`
	Category  Category  `json:"category"`
	Direction Direction `json:"direction"`
}

func (k PositionKey) String() string {
	return string(k.Category) + "_" + k.Symbol + "_" + string(k.Direction)
}

// LogicalPosition is one row of the exchange's open exposure, derived fresh every poll.
type LogicalPosition struct {
	Key        PositionKey
	Size       decimal.Decimal
	EntryPrice decimal.Decimal
	// Leverage is nil for spot.
	Leverage  *decimal.Decimal
	MarkPrice decimal.Decimal
	// Defect is set by the client when the feed row could not be parsed.
	Defect     string
	Raw        map[string]any
	ObservedAt time.Time
}

// Validate reports InconsistentPositionData for rows the tracker must skip this cycle.
func (p LogicalPosition) Validate() error {
	fail := func(reason string) error {
		return &InconsistentPositionDataError{Key: p.Key, Reason: reason}
	}
	switch {
	case strings.TrimSpace(p.Defect) != "":
		return fail(p.Defect)
	case strings.TrimSpace(p.Key.Symbol) == "":
		return fail("missing symbol")
	case p.Key.Category != CategorySpot && p.Key.Category != CategoryLinear && p.Key.Category != CategoryInverse:
		return fail("invalid category")
	case !p.Key.Direction.Valid():
		return fail("invalid direction")
	case p.Size.IsNegative():
		return fail("negative size " + p.Size.String())
	case p.Size.IsPositive() && !p.EntryPrice.IsPositive():
		return fail("missing entry price")
	case p.Leverage != nil && p.Leverage.IsNegative():
		return fail("negative leverage")
	}
	return nil
}

// IsOpen reports whether the row carries exposure.
func (p *LogicalPosition) IsOpen() bool {
	return p != nil && p.Size.IsPositive()
}
