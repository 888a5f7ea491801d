package gateway

import (
	"fmt"
	"time"

	"sigwatch/internal/config"
	"sigwatch/internal/gateway/bybit"
	"sigwatch/internal/gateway/exchange"
)

// NewExchangeFromConfig builds the venue client named by exchange.name.
func NewExchangeFromConfig(cfg config.ExchangeConfig) (exchange.Client, error) {
	switch cfg.Name {
	case "", "bybit":
		client, err := bybit.New(bybit.Config{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			APISecret:  cfg.APISecret,
			RecvWindow: time.Duration(cfg.RecvWindowMs) * time.Millisecond,
			Timeout:    cfg.Timeout(),
			SettleCoin: cfg.SettleCoin,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", cfg.Name)
	}
}
