package blinktrade

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/apd/v3"

	"blinktrade/pkg/core"
)

// publicJSON keeps public endpoint numbers as json.Number so prices reach apd
// without a float64 round trip.
var publicJSON = sonic.Config{UseNumber: true}.Froze()

// restTrade represents a trade returned by the public trades endpoint.
type restTrade struct {
	TID    int64       `json:"tid"`
	Date   int64       `json:"date"`
	Price  json.Number `json:"price"`
	Amount json.Number `json:"amount"`
	Side   string      `json:"side"`
}

// restOrderBook represents the public orderbook endpoint. Each level is
// [price, amount, user id].
type restOrderBook struct {
	Pair string          `json:"pair"`
	Bids [][]json.Number `json:"bids"`
	Asks [][]json.Number `json:"asks"`
}

func setDecimal(d *apd.Decimal, v any) error {
	var s string
	switch val := v.(type) {
	case nil:
		d.SetInt64(0)
		return nil
	case json.Number:
		s = val.String()
	case string:
		s = val
	case int64:
		d.SetInt64(val)
		return nil
	case float64:
		s = strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Errorf("unexpected decimal value %T", v)
	}
	if _, _, err := d.SetString(s); err != nil {
		return fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return nil
}

func normalizeRestTicker(data []byte, currency string) (*core.Ticker, error) {
	var raw map[string]any
	if err := publicJSON.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal ticker: %w", err)
	}

	ticker := &core.Ticker{Timestamp: time.Now()}
	if pair, ok := raw["pair"].(string); ok {
		ticker.Symbol = pair
	}

	fields := []struct {
		key string
		dst *apd.Decimal
	}{
		{"buy", &ticker.Bid},
		{"sell", &ticker.Ask},
		{"last", &ticker.Last},
		{"high", &ticker.High},
		{"low", &ticker.Low},
		{"vol", &ticker.Volume},
		{"vol_" + strings.ToLower(currency), &ticker.QuoteVolume},
	}
	for _, f := range fields {
		if err := setDecimal(f.dst, raw[f.key]); err != nil {
			return nil, fmt.Errorf("ticker %s: %w", f.key, err)
		}
	}
	return ticker, nil
}

func normalizeRestTrades(data []byte, symbol string) ([]core.Trade, error) {
	var raw []restTrade
	if err := publicJSON.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal trades: %w", err)
	}

	trades := make([]core.Trade, len(raw))
	for i, r := range raw {
		t := &trades[i]
		t.ID = r.TID
		t.Symbol = symbol
		t.Side = r.Side
		t.Timestamp = time.Unix(r.Date, 0)
		if err := setDecimal(&t.Price, r.Price); err != nil {
			return nil, fmt.Errorf("trade %d price: %w", r.TID, err)
		}
		if err := setDecimal(&t.Amount, r.Amount); err != nil {
			return nil, fmt.Errorf("trade %d amount: %w", r.TID, err)
		}
	}
	return trades, nil
}

func normalizeRestOrderBook(data []byte) (*core.OrderBook, error) {
	var raw restOrderBook
	if err := publicJSON.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal orderbook: %w", err)
	}

	bids, err := restLevels(raw.Bids)
	if err != nil {
		return nil, fmt.Errorf("bids: %w", err)
	}
	asks, err := restLevels(raw.Asks)
	if err != nil {
		return nil, fmt.Errorf("asks: %w", err)
	}

	return &core.OrderBook{
		Symbol:    raw.Pair,
		Bids:      bids,
		Asks:      asks,
		Timestamp: time.Now(),
	}, nil
}

func restLevels(raw [][]json.Number) ([]core.OrderBookLevel, error) {
	levels := make([]core.OrderBookLevel, len(raw))
	for i, entry := range raw {
		if len(entry) < 2 {
			return nil, fmt.Errorf("level %d has %d fields", i, len(entry))
		}
		if err := setDecimal(&levels[i].Price, entry[0]); err != nil {
			return nil, err
		}
		if err := setDecimal(&levels[i].Amount, entry[1]); err != nil {
			return nil, err
		}
		if len(entry) > 2 {
			levels[i].UserID, _ = entry[2].Int64()
		}
	}
	return levels, nil
}

// normalizeSecurityStatus converts an "f" message. Prices and volumes arrive in
// satoshis; SellVolume is the crypto volume and BuyVolume the fiat volume.
func normalizeSecurityStatus(msg core.Message) *core.Ticker {
	ticker := &core.Ticker{
		Symbol:    msg.String("Symbol"),
		Timestamp: time.Now(),
	}
	ticker.Bid.Set(msg.Satoshi("BestBid").Decimal())
	ticker.Ask.Set(msg.Satoshi("BestAsk").Decimal())
	ticker.Last.Set(msg.Satoshi("LastPx").Decimal())
	ticker.High.Set(msg.Satoshi("HighPx").Decimal())
	ticker.Low.Set(msg.Satoshi("LowPx").Decimal())
	ticker.Volume.Set(msg.Satoshi("SellVolume").Decimal())
	ticker.QuoteVolume.Set(msg.Satoshi("BuyVolume").Decimal())
	return ticker
}

// normalizeFullRefresh converts a "W" message into a snapshot. Trade entries
// are not part of the book and are skipped.
func normalizeFullRefresh(msg core.Message) *core.OrderBook {
	book := &core.OrderBook{
		Symbol:    msg.String("Symbol"),
		Bids:      []core.OrderBookLevel{},
		Asks:      []core.OrderBookLevel{},
		Timestamp: time.Now(),
	}
	for _, entry := range msg.Messages("MDFullGrp") {
		var level core.OrderBookLevel
		level.Price.Set(entry.Satoshi("MDEntryPx").Decimal())
		level.Amount.Set(entry.Satoshi("MDEntrySize").Decimal())
		level.UserID, _ = entry.Int64("UserID")

		switch core.BookEntryType(entry.String("MDEntryType")) {
		case core.EntryBid:
			book.Bids = append(book.Bids, level)
		case core.EntryOffer:
			book.Asks = append(book.Asks, level)
		}
	}
	return book
}

// normalizeIncremental converts an "X" message, grouping its entries by symbol
// in the order the symbols first appear.
func normalizeIncremental(msg core.Message) (symbols []string, updates map[string][]core.OrderBookUpdate) {
	updates = make(map[string][]core.OrderBookUpdate)
	fallback := msg.String("Symbol")

	for _, entry := range msg.Messages("MDIncGrp") {
		symbol := entry.String("Symbol")
		if symbol == "" {
			symbol = fallback
		}

		u := core.OrderBookUpdate{
			Action:    core.BookAction(entry.String("MDUpdateAction")),
			EntryType: core.BookEntryType(entry.String("MDEntryType")),
		}
		u.Price.Set(entry.Satoshi("MDEntryPx").Decimal())
		u.Amount.Set(entry.Satoshi("MDEntrySize").Decimal())
		u.Position, _ = entry.Int64("MDEntryPositionNo")
		u.OrderID, _ = entry.Int64("OrderID")
		u.UserID, _ = entry.Int64("UserID")

		if _, seen := updates[symbol]; !seen {
			symbols = append(symbols, symbol)
		}
		updates[symbol] = append(updates[symbol], u)
	}
	return symbols, updates
}
