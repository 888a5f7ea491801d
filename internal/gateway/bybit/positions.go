package bybit

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"sigwatch/internal/types"
)

const positionListPath = "/v5/position/list"

// FetchOpenPositions returns every non-empty position in the given categories.
// Any failing category fails the whole call.
func (c *Client) FetchOpenPositions(ctx context.Context, categories []types.Category) ([]types.LogicalPosition, error) {
	var out []types.LogicalPosition
	for _, cat := range categories {
		if !cat.IsFutures() {
			return nil, fmt.Errorf("bybit has no position list for category %s", cat)
		}
		rows, err := c.fetchCategory(ctx, cat)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

func (c *Client) fetchCategory(ctx context.Context, cat types.Category) ([]types.LogicalPosition, error) {
	observed := c.now()
	var out []types.LogicalPosition
	cursor := ""
	for page := 0; page < maxPages; page++ {
		params := url.Values{}
		params.Set("category", string(cat))
		params.Set("limit", strconv.Itoa(pageLimit))
		if c.settleCoin != "" {
			params.Set("settleCoin", c.settleCoin)
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		result, err := c.get(ctx, positionListPath, params)
		if err != nil {
			return nil, err
		}
		result.Get("list").ForEach(func(_, row gjson.Result) bool {
			if pos, ok := parsePosition(cat, row, observed); ok {
				out = append(out, pos)
			}
			return true
		})
		cursor = strings.TrimSpace(result.Get("nextPageCursor").String())
		if cursor == "" {
			return out, nil
		}
	}
	return nil, fmt.Errorf("bybit %s: more than %d pages for %s", positionListPath, maxPages, cat)
}

// parsePosition maps one list row. ok=false means the row carries no exposure
// (one-way mode reports empty sides as "None" with size 0). Rows that cannot be
// read are still returned, with Defect set, so the tracker skips rather than closes them.
// A row whose side cannot be read keeps an empty Direction.
func parsePosition(cat types.Category, row gjson.Result, observed time.Time) (types.LogicalPosition, bool) {
	pos := types.LogicalPosition{
		Key:        types.PositionKey{Symbol: strings.ToUpper(strings.TrimSpace(row.Get("symbol").String())), Category: cat},
		ObservedAt: observed,
	}
	if m, ok := row.Value().(map[string]any); ok {
		pos.Raw = m
	}
	side := strings.TrimSpace(row.Get("side").String())
	size, sizeErr := parseDecimal(row.Get("size"))
	if sizeErr == nil && size.IsZero() {
		return pos, false
	}
	dir, err := types.ParseDirection(side)
	if err != nil {
		if side == "" || strings.EqualFold(side, "none") {
			pos.Defect = "side missing on a row with exposure"
		} else {
			pos.Defect = err.Error()
		}
		return pos, true
	}
	pos.Key.Direction = dir
	if sizeErr != nil {
		pos.Defect = "size: " + sizeErr.Error()
		return pos, true
	}
	pos.Size = size
	if pos.EntryPrice, err = parseDecimal(row.Get("avgPrice")); err != nil {
		pos.Defect = "avgPrice: " + err.Error()
		return pos, true
	}
	if mark, err := parseDecimal(row.Get("markPrice")); err == nil {
		pos.MarkPrice = mark
	}
	if lev := row.Get("leverage"); lev.Exists() && strings.TrimSpace(lev.String()) != "" {
		v, err := parseDecimal(lev)
		if err != nil {
			pos.Defect = "leverage: " + err.Error()
			return pos, true
		}
		pos.Leverage = &v
	}
	return pos, true
}

func parseDecimal(v gjson.Result) (decimal.Decimal, error) {
	if !v.Exists() {
		return decimal.Zero, fmt.Errorf("missing")
	}
	raw := strings.TrimSpace(v.String())
	if raw == "" {
		return decimal.Zero, fmt.Errorf("empty")
	}
	return decimal.NewFromString(raw)
}
