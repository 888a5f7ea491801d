package signal

import (
	"github.com/shopspring/decimal"

	"sigwatch/internal/types"
)

var hundred = decimal.NewFromInt(100)

// ClosePercentage is (old-new)/old*100; zero when old is not positive.
func ClosePercentage(oldSize, newSize decimal.Decimal) decimal.Decimal {
	if !oldSize.IsPositive() {
		return decimal.Zero
	}
	return oldSize.Sub(newSize).Div(oldSize).Mul(hundred)
}

// RealizedPnl is the profit of closing qty at exit for a position opened at entry.
// Linear and spot contracts settle in the quote coin; inverse contracts settle in
// the base coin, so the price delta is taken on reciprocals.
func RealizedPnl(cat types.Category, dir types.Direction, qty, entry, exit decimal.Decimal) decimal.Decimal {
	if !qty.IsPositive() || !entry.IsPositive() || !exit.IsPositive() {
		return decimal.Zero
	}
	var perUnit decimal.Decimal
	if cat == types.CategoryInverse {
		one := decimal.NewFromInt(1)
		perUnit = one.Div(entry).Sub(one.Div(exit))
	} else {
		perUnit = exit.Sub(entry)
	}
	return qty.Mul(perUnit).Mul(dir.Sign())
}

// ProfitPercentage is the direction-aware price move from entry to exit in percent.
func ProfitPercentage(dir types.Direction, entry, exit decimal.Decimal) decimal.Decimal {
	if !entry.IsPositive() || !exit.IsPositive() {
		return decimal.Zero
	}
	return exit.Sub(entry).Div(entry).Mul(hundred).Mul(dir.Sign())
}
