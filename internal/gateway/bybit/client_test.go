package bybit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"sigwatch/internal/types"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, APIKey: "key", APISecret: "secret", SettleCoin: "usdt"})
	require.NoError(t, err)
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return c
}

func TestSignerMatchesReference(t *testing.T) {
	s := signer{apiKey: "key", secret: []byte("secret"), recvWindow: "5000"}
	got := s.sign("1700000000000", "category=linear")
	assert.Len(t, got, 64)
	assert.Equal(t, got, s.sign("1700000000000", "category=linear"))
	assert.NotEqual(t, got, s.sign("1700000000001", "category=linear"))
}

func TestFetchOpenPositionsPagesAndParses(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, positionListPath, r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-BAPI-API-KEY"))
		assert.Equal(t, "1700000000000", r.Header.Get("X-BAPI-TIMESTAMP"))
		assert.Equal(t, "5000", r.Header.Get("X-BAPI-RECV-WINDOW"))
		s := signer{apiKey: "key", secret: []byte("secret"), recvWindow: "5000"}
		assert.Equal(t, s.sign("1700000000000", r.URL.RawQuery), r.Header.Get("X-BAPI-SIGN"))
		assert.Equal(t, "USDT", r.URL.Query().Get("settleCoin"))

		if r.URL.Query().Get("cursor") == "" {
			fmt.Fprint(w, `{"retCode":0,"retMsg":"OK","result":{"nextPageCursor":"p2","list":[
				{"symbol":"BTCUSDT","side":"Buy","size":"1.0","avgPrice":"45000","leverage":"10","markPrice":"45100"},
				{"symbol":"XRPUSDT","side":"None","size":"0","avgPrice":"0","leverage":"5","markPrice":"0.5"}
			]}}`)
			return
		}
		fmt.Fprint(w, `{"retCode":0,"retMsg":"OK","result":{"nextPageCursor":"","list":[
			{"symbol":"ETHUSDT","side":"Sell","size":"2","avgPrice":"not-a-number","leverage":"3","markPrice":"3000"}
		]}}`)
	})

	rows, err := c.FetchOpenPositions(context.Background(), []types.Category{types.CategoryLinear})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))

	btc := rows[0]
	assert.Equal(t, types.PositionKey{Symbol: "BTCUSDT", Category: types.CategoryLinear, Direction: types.DirectionBuy}, btc.Key)
	assert.True(t, btc.Size.Equal(decimal.NewFromFloat(1.0)))
	assert.True(t, btc.EntryPrice.Equal(decimal.NewFromInt(45000)))
	require.NotNil(t, btc.Leverage)
	assert.True(t, btc.Leverage.Equal(decimal.NewFromInt(10)))
	assert.True(t, btc.MarkPrice.Equal(decimal.NewFromInt(45100)))
	assert.NoError(t, btc.Validate())

	eth := rows[1]
	assert.Equal(t, types.DirectionSell, eth.Key.Direction)
	assert.Error(t, eth.Validate())
}

func TestFetchClassifiesErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		auth      bool
		transient bool
	}{
		{"invalid key", 200, `{"retCode":10003,"retMsg":"API key is invalid."}`, true, false},
		{"expired key", 200, `{"retCode":33004,"retMsg":"api key expired"}`, true, false},
		{"http 401", 401, `unauthorized`, true, false},
		{"rate limited", 200, `{"retCode":10006,"retMsg":"Too many visits!"}`, false, true},
		{"http 503", 503, `down`, false, true},
		{"http 403 ip limit", 403, `forbidden`, false, true},
		{"unknown code", 200, `{"retCode":181001,"retMsg":"category only support linear or option"}`, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})
			_, err := c.FetchOpenPositions(context.Background(), []types.Category{types.CategoryLinear})
			require.Error(t, err)
			assert.Equal(t, tt.auth, types.IsAuth(err), err.Error())
			assert.Equal(t, tt.transient, types.IsTransientFetch(err), err.Error())
		})
	}
}

func TestFetchIsAllOrNothing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("category") == "inverse" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"retCode":0,"result":{"list":[{"symbol":"BTCUSDT","side":"Buy","size":"1","avgPrice":"1"}]}}`)
	})
	rows, err := c.FetchOpenPositions(context.Background(), []types.Category{types.CategoryLinear, types.CategoryInverse})
	assert.Nil(t, rows)
	assert.True(t, types.IsTransientFetch(err))
}

func TestFetchRejectsSpot(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := c.FetchOpenPositions(context.Background(), []types.Category{types.CategorySpot})
	assert.Error(t, err)
}

func TestRecentCloseFills(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, executionListPath, r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		fmt.Fprint(w, `{"retCode":0,"result":{"list":[
			{"execId":"a","side":"Sell","execType":"Trade","execPrice":"46000","execQty":"0.4","closedSize":"0.4","execTime":"1700000000000"},
			{"execId":"b","side":"Sell","execType":"Trade","execPrice":"47000","execQty":"0.6","closedSize":"0.6","execTime":"1700000001000"},
			{"execId":"c","side":"Buy","execType":"Trade","execPrice":"45000","execQty":"1","closedSize":"0","execTime":"1699999999000"},
			{"execId":"d","side":"Sell","execType":"Funding","execPrice":"46500","execQty":"1","execTime":"1700000002000"}
		]}}`)
	})
	key := types.PositionKey{Symbol: "BTCUSDT", Category: types.CategoryLinear, Direction: types.DirectionBuy}
	fills, err := c.RecentCloseFills(context.Background(), key, 20)
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, "a", fills[0].ExecID)
	assert.Equal(t, int64(1700000001000), fills[1].ExecTime.UnixMilli())
}

func TestUnreadableSideIsKeptAsDefect(t *testing.T) {
	observed := time.UnixMilli(1700000000000)
	tests := []struct {
		name string
		row  string
	}{
		{"empty side", `{"symbol":"BTCUSDT","side":"","size":"1.0","avgPrice":"45000"}`},
		{"none side", `{"symbol":"BTCUSDT","side":"None","size":"1.0","avgPrice":"45000"}`},
		{"garbled side", `{"symbol":"BTCUSDT","side":"Bye","size":"1.0","avgPrice":"45000"}`},
		{"missing size", `{"symbol":"BTCUSDT","side":"","avgPrice":"45000"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos, ok := parsePosition(types.CategoryLinear, gjson.Parse(tt.row), observed)
			require.True(t, ok)
			assert.NotEmpty(t, pos.Defect)
			assert.Equal(t, "BTCUSDT", pos.Key.Symbol)
			assert.Empty(t, pos.Key.Direction)
			assert.Error(t, pos.Validate())
		})
	}

	_, ok := parsePosition(types.CategoryLinear, gjson.Parse(`{"symbol":"XRPUSDT","side":"None","size":"0"}`), observed)
	assert.False(t, ok)
}
