package tracker

import "sigwatch/internal/types"

// Fold merges snapshot rows that share a key into one logical position: sizes
// add up and the entry price becomes the size-weighted average. A defect in
// any row marks the whole key.
func Fold(rows []types.LogicalPosition) map[types.PositionKey]types.LogicalPosition {
	out := make(map[types.PositionKey]types.LogicalPosition, len(rows))
	for _, row := range rows {
		cur, seen := out[row.Key]
		if !seen {
			out[row.Key] = row
			continue
		}
		if cur.Defect == "" && row.Defect != "" {
			cur.Defect = row.Defect
		}
		total := cur.Size.Add(row.Size)
		if total.IsPositive() {
			notional := cur.EntryPrice.Mul(cur.Size).Add(row.EntryPrice.Mul(row.Size))
			cur.EntryPrice = notional.Div(total)
		}
		cur.Size = total
		if row.MarkPrice.IsPositive() {
			cur.MarkPrice = row.MarkPrice
		}
		if cur.Leverage == nil && row.Leverage != nil {
			lev := *row.Leverage
			cur.Leverage = &lev
		}
		if row.ObservedAt.After(cur.ObservedAt) {
			cur.ObservedAt = row.ObservedAt
		}
		out[row.Key] = cur
	}
	return out
}

// Blind is the part of the key space hidden by rows whose key could not be
// resolved. Such a row may be any open position in its scope, so keys inside
// it are neither closed nor opened this cycle.
type Blind struct {
	symbols    map[types.PositionKey]bool
	categories map[types.Category]bool
}

// BlindSpots collects defect rows with an unknown side (scope: symbol and
// category) or an unknown symbol (scope: the whole category).
func BlindSpots(rows []types.LogicalPosition) Blind {
	var b Blind
	for _, row := range rows {
		if row.Defect == "" {
			continue
		}
		switch {
		case row.Key.Symbol == "":
			if b.categories == nil {
				b.categories = make(map[types.Category]bool)
			}
			b.categories[row.Key.Category] = true
		case !row.Key.Direction.Valid():
			if b.symbols == nil {
				b.symbols = make(map[types.PositionKey]bool)
			}
			b.symbols[types.PositionKey{Symbol: row.Key.Symbol, Category: row.Key.Category}] = true
		}
	}
	return b
}

// Covers reports whether key falls inside a blind scope.
func (b Blind) Covers(key types.PositionKey) bool {
	if b.categories[key.Category] {
		return true
	}
	return b.symbols[types.PositionKey{Symbol: key.Symbol, Category: key.Category}]
}
