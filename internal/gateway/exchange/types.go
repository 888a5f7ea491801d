package exchange

import (
	"time"

	"github.com/shopspring/decimal"

	"sigwatch/internal/types"
)

// Fill is one execution that reduced a position.
type Fill struct {
	ExecID   string
	Key      types.PositionKey
	Price    decimal.Decimal
	Qty      decimal.Decimal
	ExecTime time.Time
}

// WeightedPrice returns the quantity-weighted average price of fills, or false
// when there is nothing to average.
func WeightedPrice(fills []Fill) (decimal.Decimal, bool) {
	notional := decimal.Zero
	qty := decimal.Zero
	for _, f := range fills {
		if !f.Qty.IsPositive() || !f.Price.IsPositive() {
			continue
		}
		notional = notional.Add(f.Price.Mul(f.Qty))
		qty = qty.Add(f.Qty)
	}
	if !qty.IsPositive() {
		return decimal.Zero, false
	}
	return notional.Div(qty), true
}
