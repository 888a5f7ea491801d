// Package symbol splits venue tickers such as BTCUSDT into base and quote assets.
package symbol

import (
	"strings"
)

// quotes are tried in order; USDC must precede USD.
var quotes = []string{"USDT", "USDC", "USD", "BTC", "ETH"}

type Symbol struct {
	Base  string
	Quote string
}

// Pair renders BASE/QUOTE, or just the base when the quote is unknown.
func (s Symbol) Pair() string {
	if s.Quote == "" {
		return s.Base
	}
	return s.Base + "/" + s.Quote
}

// Parse accepts BTCUSDT, BTC/USDT and BTC/USDT:USDT. A ticker with no known
// quote suffix comes back whole in Base.
func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	if parts := strings.SplitN(s, "/", 2); len(parts) == 2 {
		return Symbol{
			Base:  strings.TrimSpace(parts[0]),
			Quote: strings.TrimSpace(parts[1]),
		}
	}
	for _, quote := range quotes {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{
				Base:  s[:len(s)-len(quote)],
				Quote: quote,
			}
		}
	}
	return Symbol{Base: s}
}

func IsValid(s string) bool {
	sym := Parse(s)
	return sym.Base != "" && sym.Quote != ""
}
