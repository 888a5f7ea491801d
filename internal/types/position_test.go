package types

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositionKeyString(t *testing.T) {
	k := PositionKey{Symbol: "BTCUSDT", Category: CategoryLinear, Direction: DirectionBuy}
	assert.Equal(t, "linear_BTCUSDT_buy", k.String())
}

func TestParseDirection(t *testing.T) {
	tests := []struct {
		raw  string
		want Direction
		ok   bool
	}{
		{"Buy", DirectionBuy, true},
		{"long", DirectionBuy, true},
		{"Sell", DirectionSell, true},
		{" SHORT ", DirectionSell, true},
		{"None", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseDirection(tt.raw)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "SHORT", DirectionSell.Label())
	assert.True(t, DirectionSell.Sign().Equal(decimal.NewFromInt(-1)))
}

func TestLogicalPositionValidate(t *testing.T) {
	key := PositionKey{Symbol: "ETHUSDT", Category: CategoryLinear, Direction: DirectionSell}
	neg := decimal.NewFromInt(-2)
	tests := []struct {
		name string
		pos  LogicalPosition
		ok   bool
	}{
		{"valid", LogicalPosition{Key: key, Size: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(3000)}, true},
		{"zero size no price", LogicalPosition{Key: key}, true},
		{"negative size", LogicalPosition{Key: key, Size: decimal.NewFromInt(-1), EntryPrice: decimal.NewFromInt(1)}, false},
		{"missing price", LogicalPosition{Key: key, Size: decimal.NewFromInt(1)}, false},
		{"missing symbol", LogicalPosition{Key: PositionKey{Category: CategoryLinear, Direction: DirectionBuy}}, false},
		{"negative leverage", LogicalPosition{Key: key, Size: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(1), Leverage: &neg}, false},
		{"defect", LogicalPosition{Key: key, Defect: "bad avgPrice"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.pos.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var ipd *InconsistentPositionDataError
			require.True(t, errors.As(err, &ipd))
			assert.Equal(t, tt.pos.Key, ipd.Key)
		})
	}
}
