package stream

import (
	"testing"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blinktrade/pkg/core"
)

func dec(t *testing.T, s string) apd.Decimal {
	t.Helper()
	d, _, err := apd.NewFromString(s)
	require.NoError(t, err)
	return *d
}

func level(t *testing.T, price, amount string) core.OrderBookLevel {
	return core.OrderBookLevel{Price: dec(t, price), Amount: dec(t, amount)}
}

func update(t *testing.T, action core.BookAction, entry core.BookEntryType, pos int64, price, amount string) core.OrderBookUpdate {
	return core.OrderBookUpdate{
		Action:    action,
		EntryType: entry,
		Position:  pos,
		Price:     dec(t, price),
		Amount:    dec(t, amount),
	}
}

func assertDecimal(t *testing.T, want string, got *apd.Decimal) {
	t.Helper()
	expected := dec(t, want)
	assert.Zero(t, expected.Cmp(got), "want %s, got %s", want, got.Text('f'))
}

func prices(levels []core.OrderBookLevel) []string {
	out := make([]string, len(levels))
	for i := range levels {
		out[i] = levels[i].Price.Text('f')
	}
	return out
}

func seeded(t *testing.T) *Book {
	b := NewBook("BTCUSD")
	require.NoError(t, b.Apply(&core.OrderBookEvent{
		Symbol: "BTCUSD",
		Snapshot: &core.OrderBook{
			Symbol: "BTCUSD",
			Bids:   []core.OrderBookLevel{level(t, "58000", "0.5"), level(t, "57900", "1")},
			Asks:   []core.OrderBookLevel{level(t, "58100", "0.25"), level(t, "58200", "2")},
		},
	}))
	return b
}

func TestBook_RequiresSnapshot(t *testing.T) {
	b := NewBook("BTCUSD")
	assert.False(t, b.Synced())

	err := b.Apply(&core.OrderBookEvent{Symbol: "BTCUSD", Updates: []core.OrderBookUpdate{
		update(t, core.BookNew, core.EntryBid, 1, "58000", "1"),
	}})
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestBook_WrongSymbol(t *testing.T) {
	b := seeded(t)
	err := b.Apply(&core.OrderBookEvent{Symbol: "BTCBRL", Snapshot: &core.OrderBook{}})
	assert.Error(t, err)
	assert.Len(t, b.Snapshot().Bids, 2)
}

func TestBook_Apply(t *testing.T) {
	tests := []struct {
		name string
		u    func(t *testing.T) core.OrderBookUpdate
		bids []string
		asks []string
	}{
		{
			name: "new bid on top",
			u: func(t *testing.T) core.OrderBookUpdate {
				return update(t, core.BookNew, core.EntryBid, 1, "58010", "0.1")
			},
			bids: []string{"58010", "58000", "57900"},
			asks: []string{"58100", "58200"},
		},
		{
			name: "new ask at the end",
			u: func(t *testing.T) core.OrderBookUpdate {
				return update(t, core.BookNew, core.EntryOffer, 3, "58300", "1")
			},
			bids: []string{"58000", "57900"},
			asks: []string{"58100", "58200", "58300"},
		},
		{
			name: "new bid without position",
			u: func(t *testing.T) core.OrderBookUpdate {
				return update(t, core.BookNew, core.EntryBid, 0, "57950", "1")
			},
			bids: []string{"58000", "57950", "57900"},
			asks: []string{"58100", "58200"},
		},
		{
			name: "update ask",
			u: func(t *testing.T) core.OrderBookUpdate {
				return update(t, core.BookUpdate, core.EntryOffer, 2, "58200", "1.5")
			},
			bids: []string{"58000", "57900"},
			asks: []string{"58100", "58200"},
		},
		{
			name: "delete bid",
			u: func(t *testing.T) core.OrderBookUpdate {
				return update(t, core.BookDelete, core.EntryBid, 1, "58000", "0")
			},
			bids: []string{"57900"},
			asks: []string{"58100", "58200"},
		},
		{
			name: "delete through ask",
			u: func(t *testing.T) core.OrderBookUpdate {
				return update(t, core.BookDeleteThru, core.EntryOffer, 2, "58200", "0")
			},
			bids: []string{"58000", "57900"},
			asks: []string{},
		},
		{
			name: "trade ignored",
			u: func(t *testing.T) core.OrderBookUpdate {
				return update(t, core.BookNew, core.EntryTrade, 1, "58050", "0.1")
			},
			bids: []string{"58000", "57900"},
			asks: []string{"58100", "58200"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := seeded(t)
			require.NoError(t, b.Apply(&core.OrderBookEvent{Symbol: "BTCUSD", Updates: []core.OrderBookUpdate{tt.u(t)}}))

			snap := b.Snapshot()
			assert.Equal(t, tt.bids, prices(snap.Bids))
			assert.Equal(t, tt.asks, prices(snap.Asks))
			assert.True(t, b.Synced())
		})
	}
}

func TestBook_UpdateChangesAmount(t *testing.T) {
	b := seeded(t)
	require.NoError(t, b.Apply(&core.OrderBookEvent{Symbol: "BTCUSD", Updates: []core.OrderBookUpdate{
		update(t, core.BookUpdate, core.EntryBid, 2, "57900", "3"),
	}}))
	assertDecimal(t, "3", &b.Snapshot().Bids[1].Amount)
}

func TestBook_OutOfSync(t *testing.T) {
	tests := []struct {
		name string
		u    func(t *testing.T) core.OrderBookUpdate
	}{
		{
			name: "insert past end",
			u: func(t *testing.T) core.OrderBookUpdate {
				return update(t, core.BookNew, core.EntryBid, 4, "1", "1")
			},
		},
		{
			name: "update missing level",
			u: func(t *testing.T) core.OrderBookUpdate {
				return update(t, core.BookUpdate, core.EntryOffer, 3, "1", "1")
			},
		},
		{
			name: "delete missing level",
			u: func(t *testing.T) core.OrderBookUpdate {
				return update(t, core.BookDelete, core.EntryBid, 9, "1", "0")
			},
		},
		{
			name: "unknown action",
			u: func(t *testing.T) core.OrderBookUpdate {
				return update(t, "7", core.EntryBid, 1, "1", "0")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := seeded(t)
			err := b.Apply(&core.OrderBookEvent{Symbol: "BTCUSD", Updates: []core.OrderBookUpdate{tt.u(t)}})
			assert.ErrorIs(t, err, ErrOutOfSync)
			assert.False(t, b.Synced())

			err = b.Apply(&core.OrderBookEvent{Symbol: "BTCUSD", Updates: []core.OrderBookUpdate{
				update(t, core.BookNew, core.EntryBid, 1, "58010", "1"),
			}})
			assert.ErrorIs(t, err, ErrNoSnapshot)
		})
	}
}

func TestBook_SnapshotIsCopy(t *testing.T) {
	b := seeded(t)
	snap := b.Snapshot()
	snap.Bids[0].Price.SetInt64(1)
	snap.Asks = nil

	again := b.Snapshot()
	assertDecimal(t, "58000", &again.Bids[0].Price)
	assert.Len(t, again.Asks, 2)
}

func TestBook_BestAndSpread(t *testing.T) {
	empty := NewBook("BTCUSD")
	_, _, ok := empty.Best()
	assert.False(t, ok)
	_, err := empty.Spread()
	assert.Error(t, err)

	b := seeded(t)
	bid, ask, ok := b.Best()
	require.True(t, ok)
	assertDecimal(t, "58000", &bid.Price)
	assertDecimal(t, "58100", &ask.Price)

	spread, err := b.Spread()
	require.NoError(t, err)
	assertDecimal(t, "100", &spread.Spread)

	var rounded apd.Decimal
	_, err = quoContext.Quantize(&rounded, &spread.Percent, -4)
	require.NoError(t, err)
	assertDecimal(t, "0.1724", &rounded)
}

func TestBook_VWAP(t *testing.T) {
	b := seeded(t)

	vwap, volume, err := b.VWAP(core.SideSell, 1)
	require.NoError(t, err)
	assertDecimal(t, "58100", &vwap)
	assertDecimal(t, "0.25", &volume)

	// (58000*0.5 + 57900*1) / 1.5
	vwap, volume, err = b.VWAP(core.SideBuy, 0)
	require.NoError(t, err)
	assertDecimal(t, "1.5", &volume)
	var rounded apd.Decimal
	_, err = quoContext.Quantize(&rounded, &vwap, -2)
	require.NoError(t, err)
	assertDecimal(t, "57933.33", &rounded)

	_, _, err = NewBook("BTCUSD").VWAP(core.SideBuy, 0)
	assert.Error(t, err)
}
