package order

import (
	"testing"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blinktrade/pkg/core"
)

func TestBuilder_Build(t *testing.T) {
	tests := []struct {
		name       string
		build      func() (core.Order, error)
		want       core.Order
		errContain string
	}{
		{
			name: "buy",
			build: func() (core.Order, error) {
				return NewBuilder("BTCUSD").Buy().Price("1800").Amount("0.5").Build()
			},
			want: core.Order{Symbol: "BTCUSD", Side: core.SideBuy, Price: 180000000000, Amount: 50000000},
		},
		{
			name: "sell with client id",
			build: func() (core.Order, error) {
				return NewBuilder("BTCBRL").Sell().Price("58000.12345678").Amount("1").ClientID(77).Build()
			},
			want: core.Order{Symbol: "BTCBRL", Side: core.SideSell, Price: 5800012345678, Amount: 100000000, ClientID: 77},
		},
		{
			name: "decimal values",
			build: func() (core.Order, error) {
				price, _, _ := apd.NewFromString("50000.5")
				qty, _, _ := apd.NewFromString("0.00000001")
				return NewBuilder("BTCUSD").Buy().PriceDecimal(*price).AmountDecimal(*qty).Build()
			},
			want: core.Order{Symbol: "BTCUSD", Side: core.SideBuy, Price: 5000050000000, Amount: 1},
		},
		{
			name: "missing symbol",
			build: func() (core.Order, error) {
				return NewBuilder("").Buy().Price("1").Amount("1").Build()
			},
			errContain: "symbol is required",
		},
		{
			name: "missing side",
			build: func() (core.Order, error) {
				return NewBuilder("BTCUSD").Price("1").Amount("1").Build()
			},
			errContain: "invalid order side",
		},
		{
			name: "missing price",
			build: func() (core.Order, error) {
				return NewBuilder("BTCUSD").Buy().Amount("1").Build()
			},
			errContain: "price must be positive",
		},
		{
			name: "negative amount",
			build: func() (core.Order, error) {
				return NewBuilder("BTCUSD").Sell().Price("1").Amount("-0.1").Build()
			},
			errContain: "amount must be positive",
		},
		{
			name: "invalid price string",
			build: func() (core.Order, error) {
				return NewBuilder("BTCUSD").Buy().Price("abc").Amount("1").Build()
			},
			errContain: "parse price",
		},
		{
			name: "first error wins",
			build: func() (core.Order, error) {
				return NewBuilder("BTCUSD").Buy().Amount("x").Price("y").Build()
			},
			errContain: "parse amount",
		},
		{
			name: "sub-satoshi amount",
			build: func() (core.Order, error) {
				return NewBuilder("BTCUSD").Buy().Price("1").Amount("0.000000001").Build()
			},
			errContain: "amount",
		},
		{
			name: "negative client id",
			build: func() (core.Order, error) {
				return NewBuilder("BTCUSD").Buy().Price("1").Amount("1").ClientID(-1).Build()
			},
			errContain: "client id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.build()
			if tt.errContain != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContain)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
