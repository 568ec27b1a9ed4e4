package blinktrade

import (
	"testing"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blinktrade/pkg/core"
)

func assertDecimal(t *testing.T, want string, got *apd.Decimal) {
	t.Helper()

	expected, _, err := apd.NewFromString(want)
	require.NoError(t, err)
	assert.Zero(t, expected.Cmp(got), "want %s, got %s", want, got.Text('f'))
}

func TestNormalizeRestTicker(t *testing.T) {
	data := []byte(`{"pair":"BTCUSD","high":59000.5,"low":57000,"last":58050.12345678,"vol":12.5,"vol_usd":725625.1,"buy":58000,"sell":58100}`)

	ticker, err := normalizeRestTicker(data, "USD")
	require.NoError(t, err)

	assert.Equal(t, "BTCUSD", ticker.Symbol)
	assertDecimal(t, "58000", &ticker.Bid)
	assertDecimal(t, "58100", &ticker.Ask)
	assertDecimal(t, "58050.12345678", &ticker.Last)
	assertDecimal(t, "59000.5", &ticker.High)
	assertDecimal(t, "57000", &ticker.Low)
	assertDecimal(t, "12.5", &ticker.Volume)
	assertDecimal(t, "725625.1", &ticker.QuoteVolume)
	assert.False(t, ticker.Timestamp.IsZero())
}

func TestNormalizeRestTicker_QuoteVolumeFollowsCurrency(t *testing.T) {
	data := []byte(`{"pair":"BTCBRL","vol_brl":1000}`)

	ticker, err := normalizeRestTicker(data, "BRL")
	require.NoError(t, err)
	assertDecimal(t, "1000", &ticker.QuoteVolume)
	assertDecimal(t, "0", &ticker.Last)
}

func TestNormalizeRestTicker_Invalid(t *testing.T) {
	_, err := normalizeRestTicker([]byte(`{"last":"abc"}`), "USD")
	assert.Error(t, err)

	_, err = normalizeRestTicker([]byte(`not json`), "USD")
	assert.Error(t, err)
}

func TestNormalizeRestTrades(t *testing.T) {
	data := []byte(`[
		{"tid":1,"date":1500000000,"price":58000.1,"amount":0.25,"side":"buy"},
		{"tid":2,"date":1500000060,"price":58001,"amount":1,"side":"sell"}
	]`)

	trades, err := normalizeRestTrades(data, "BTCUSD")
	require.NoError(t, err)
	require.Len(t, trades, 2)

	assert.Equal(t, int64(1), trades[0].ID)
	assert.Equal(t, "BTCUSD", trades[0].Symbol)
	assert.Equal(t, "buy", trades[0].Side)
	assert.Equal(t, int64(1500000000), trades[0].Timestamp.Unix())
	assertDecimal(t, "58000.1", &trades[0].Price)
	assertDecimal(t, "0.25", &trades[0].Amount)
	assert.Equal(t, "sell", trades[1].Side)
}

func TestNormalizeRestOrderBook(t *testing.T) {
	data := []byte(`{"pair":"BTCUSD","bids":[[58000,0.5,90000001],[57900,1,90000003]],"asks":[[58100,0.25,90000002]]}`)

	book, err := normalizeRestOrderBook(data)
	require.NoError(t, err)

	assert.Equal(t, "BTCUSD", book.Symbol)
	require.Len(t, book.Bids, 2)
	require.Len(t, book.Asks, 1)
	assertDecimal(t, "58000", &book.Bids[0].Price)
	assertDecimal(t, "0.5", &book.Bids[0].Amount)
	assert.Equal(t, int64(90000001), book.Bids[0].UserID)
	assert.Equal(t, int64(90000002), book.Asks[0].UserID)
}

func TestNormalizeRestOrderBook_ShortLevel(t *testing.T) {
	_, err := normalizeRestOrderBook([]byte(`{"pair":"BTCUSD","bids":[[58000]],"asks":[]}`))
	assert.Error(t, err)
}

func TestNormalizeSecurityStatus(t *testing.T) {
	msg := core.Message{
		"MsgType":    "f",
		"Symbol":     "BTCUSD",
		"BestBid":    int64(58_000_00000000),
		"BestAsk":    int64(58_100_00000000),
		"LastPx":     int64(58_050_50000000),
		"HighPx":     int64(59_000_00000000),
		"LowPx":      int64(57_000_00000000),
		"SellVolume": int64(12_50000000),
		"BuyVolume":  int64(725_625_00000000),
	}

	ticker := normalizeSecurityStatus(msg)

	assert.Equal(t, "BTCUSD", ticker.Symbol)
	assertDecimal(t, "58000", &ticker.Bid)
	assertDecimal(t, "58100", &ticker.Ask)
	assertDecimal(t, "58050.5", &ticker.Last)
	assertDecimal(t, "59000", &ticker.High)
	assertDecimal(t, "57000", &ticker.Low)
	assertDecimal(t, "12.5", &ticker.Volume)
	assertDecimal(t, "725625", &ticker.QuoteVolume)
}

func TestNormalizeFullRefresh(t *testing.T) {
	msg := core.Message{
		"MsgType": "W",
		"Symbol":  "BTCUSD",
		"MDFullGrp": []any{
			map[string]any{"MDEntryType": "0", "MDEntryPx": int64(58_000_00000000), "MDEntrySize": int64(50000000), "UserID": int64(1)},
			map[string]any{"MDEntryType": "1", "MDEntryPx": int64(58_100_00000000), "MDEntrySize": int64(25000000), "UserID": int64(2)},
			map[string]any{"MDEntryType": "2", "MDEntryPx": int64(58_050_00000000), "MDEntrySize": int64(10000000)},
		},
	}

	book := normalizeFullRefresh(msg)

	assert.Equal(t, "BTCUSD", book.Symbol)
	require.Len(t, book.Bids, 1)
	require.Len(t, book.Asks, 1)
	assertDecimal(t, "58000", &book.Bids[0].Price)
	assertDecimal(t, "0.5", &book.Bids[0].Amount)
	assert.Equal(t, int64(2), book.Asks[0].UserID)
}

func TestNormalizeFullRefresh_Empty(t *testing.T) {
	book := normalizeFullRefresh(core.Message{"MsgType": "W", "Symbol": "BTCUSD"})

	assert.NotNil(t, book.Bids)
	assert.NotNil(t, book.Asks)
	assert.Empty(t, book.Bids)
}

func TestNormalizeIncremental(t *testing.T) {
	msg := core.Message{
		"MsgType": "X",
		"Symbol":  "BTCUSD",
		"MDIncGrp": []any{
			map[string]any{"MDUpdateAction": "0", "MDEntryType": "0", "MDEntryPositionNo": int64(1), "MDEntryPx": int64(58_010_00000000), "MDEntrySize": int64(10000000), "OrderID": int64(5)},
			map[string]any{"Symbol": "BTCBRL", "MDUpdateAction": "2", "MDEntryType": "1", "MDEntryPositionNo": int64(3)},
			map[string]any{"MDUpdateAction": "1", "MDEntryType": "1", "MDEntryPositionNo": int64(2), "MDEntryPx": int64(58_200_00000000), "MDEntrySize": int64(30000000)},
		},
	}

	symbols, updates := normalizeIncremental(msg)

	assert.Equal(t, []string{"BTCUSD", "BTCBRL"}, symbols)
	require.Len(t, updates["BTCUSD"], 2)
	require.Len(t, updates["BTCBRL"], 1)

	first := updates["BTCUSD"][0]
	assert.Equal(t, core.BookNew, first.Action)
	assert.Equal(t, core.EntryBid, first.EntryType)
	assert.Equal(t, int64(1), first.Position)
	assert.Equal(t, int64(5), first.OrderID)
	assertDecimal(t, "58010", &first.Price)
	assertDecimal(t, "0.1", &first.Amount)

	assert.Equal(t, core.BookDelete, updates["BTCBRL"][0].Action)
	assert.Equal(t, core.BookUpdate, updates["BTCUSD"][1].Action)
}
