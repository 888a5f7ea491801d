package bybit

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"sigwatch/internal/gateway/exchange"
	"sigwatch/internal/types"
)

const executionListPath = "/v5/execution/list"

// RecentCloseFills returns the newest trade executions that reduced the
// position behind key: fills on the opposite side with a positive closedSize.
func (c *Client) RecentCloseFills(ctx context.Context, key types.PositionKey, limit int) ([]exchange.Fill, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	params := url.Values{}
	params.Set("category", string(key.Category))
	params.Set("symbol", key.Symbol)
	params.Set("limit", strconv.Itoa(limit))
	result, err := c.get(ctx, executionListPath, params)
	if err != nil {
		return nil, err
	}
	closingSide := types.DirectionSell
	if key.Direction == types.DirectionSell {
		closingSide = types.DirectionBuy
	}
	var fills []exchange.Fill
	result.Get("list").ForEach(func(_, row gjson.Result) bool {
		if t := row.Get("execType").String(); t != "" && !strings.EqualFold(t, "Trade") {
			return true
		}
		side, err := types.ParseDirection(row.Get("side").String())
		if err != nil || side != closingSide {
			return true
		}
		if closed, err := parseDecimal(row.Get("closedSize")); err == nil && !closed.IsPositive() {
			return true
		}
		price, err := parseDecimal(row.Get("execPrice"))
		if err != nil {
			return true
		}
		qty, err := parseDecimal(row.Get("execQty"))
		if err != nil {
			return true
		}
		fills = append(fills, exchange.Fill{
			ExecID:   row.Get("execId").String(),
			Key:      key,
			Price:    price,
			Qty:      qty,
			ExecTime: time.UnixMilli(row.Get("execTime").Int()),
		})
		return true
	})
	return fills, nil
}
