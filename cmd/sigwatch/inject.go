package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"

	"sigwatch/internal/app"
	"sigwatch/internal/config"
	"sigwatch/internal/pkg/symbol"
	"sigwatch/internal/signal"
	"sigwatch/internal/types"
)

// parseInject 解析 `sigwatch inject` 的参数，例如：
//
//	sigwatch inject --action open --symbol BTCUSDT --side buy --size 0.01 --price 65000 --leverage 10
//	sigwatch inject --action close --symbol BTCUSDT --side buy --price 66000
func parseInject(args []string) (signal.InjectRequest, error) {
	var req signal.InjectRequest
	fs := pflag.NewFlagSet("inject", pflag.ContinueOnError)
	action := fs.String("action", "open", "open | close")
	sym := fs.String("symbol", "", "venue symbol, e.g. BTCUSDT")
	category := fs.String("category", "linear", "spot | linear | inverse")
	side := fs.String("side", "buy", "buy | sell")
	size := fs.String("size", "", "position size (open only)")
	price := fs.String("price", "", "entry price for open, exit price for close")
	leverage := fs.String("leverage", "", "leverage for futures (optional)")
	if err := fs.Parse(args); err != nil {
		return req, err
	}

	cat, err := types.ParseCategory(*category)
	if err != nil {
		return req, err
	}
	dir, err := types.ParseDirection(*side)
	if err != nil {
		return req, err
	}
	req.Key = types.PositionKey{Symbol: strings.ToUpper(strings.TrimSpace(*sym)), Category: cat, Direction: dir}
	if req.Key.Symbol == "" {
		return req, fmt.Errorf("--symbol is required")
	}
	if !symbol.IsValid(req.Key.Symbol) {
		return req, fmt.Errorf("--symbol %s has no known quote asset", req.Key.Symbol)
	}
	req.Action = types.Action(strings.ToLower(strings.TrimSpace(*action)))
	if req.Action != types.ActionOpen && req.Action != types.ActionClose {
		return req, fmt.Errorf("--action must be open or close")
	}
	if req.Price, err = decimal.NewFromString(*price); err != nil || !req.Price.IsPositive() {
		return req, fmt.Errorf("--price must be a positive number")
	}
	if req.Action == types.ActionOpen {
		if req.Size, err = decimal.NewFromString(*size); err != nil {
			return req, fmt.Errorf("--size must be a number")
		}
	}
	if raw := strings.TrimSpace(*leverage); raw != "" && cat.IsFutures() {
		lev, err := decimal.NewFromString(raw)
		if err != nil {
			return req, fmt.Errorf("--leverage must be a number")
		}
		req.Leverage = &lev
	}
	return req, nil
}

func runInject(ctx context.Context, cfg *config.Config, args []string) error {
	req, err := parseInject(args)
	if err != nil {
		return err
	}
	res, err := app.NewAppBuilder(cfg).Inject(ctx, req)
	if err != nil {
		return err
	}
	for i, o := range res.Outcomes {
		fmt.Printf("#%05d %s %s", o.Signal.SequenceNumber, o.Action, o.Signal.Key)
		if i < len(res.Reports) {
			r := res.Reports[i]
			fmt.Printf(" recipients=%d delivered=%d failed=%d", r.Recipients, r.Delivered, r.Failed)
		}
		fmt.Println()
	}
	return nil
}
