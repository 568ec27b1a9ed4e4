package stream

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/apd/v3"

	"blinktrade/pkg/core"
)

var (
	ErrNoSnapshot = errors.New("order book has no snapshot")
	ErrOutOfSync  = errors.New("order book out of sync")
)

var quoContext = apd.BaseContext.WithPrecision(24)

// Book is a local copy of one symbol's order book. It is seeded by a snapshot
// and then kept current by incremental updates addressed by 1-based position.
// A failed update leaves the book unsynced until the next snapshot.
type Book struct {
	symbol string

	mu      sync.RWMutex
	bids    []core.OrderBookLevel
	asks    []core.OrderBookLevel
	synced  bool
	updated time.Time
}

func NewBook(symbol string) *Book {
	return &Book{symbol: symbol}
}

func (b *Book) Symbol() string {
	return b.symbol
}

// Synced reports whether the book holds a snapshot and every later update
// applied cleanly.
func (b *Book) Synced() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.synced
}

// Apply folds one order book event into the book.
func (b *Book) Apply(ev *core.OrderBookEvent) error {
	if ev.Symbol != "" && ev.Symbol != b.symbol {
		return fmt.Errorf("book %s: event for %s", b.symbol, ev.Symbol)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if ev.Snapshot != nil {
		b.bids = copyLevels(ev.Snapshot.Bids)
		b.asks = copyLevels(ev.Snapshot.Asks)
		b.synced = true
		b.updated = ev.Snapshot.Timestamp
		if b.updated.IsZero() {
			b.updated = time.Now()
		}
		return nil
	}

	if !b.synced {
		return ErrNoSnapshot
	}
	for i := range ev.Updates {
		if err := b.apply(&ev.Updates[i]); err != nil {
			b.synced = false
			return fmt.Errorf("book %s: %w", b.symbol, err)
		}
	}
	b.updated = time.Now()
	return nil
}

// must be called with b.mu held.
func (b *Book) apply(u *core.OrderBookUpdate) error {
	var side *[]core.OrderBookLevel
	switch u.EntryType {
	case core.EntryBid:
		side = &b.bids
	case core.EntryOffer:
		side = &b.asks
	default:
		// trades do not rest in the book
		return nil
	}

	levels := *side
	pos := int(u.Position)
	level := core.OrderBookLevel{UserID: u.UserID}
	level.Price.Set(&u.Price)
	level.Amount.Set(&u.Amount)

	switch u.Action {
	case core.BookNew:
		if pos == 0 {
			pos = insertPosition(levels, &u.Price, u.EntryType == core.EntryBid)
		}
		if pos < 1 || pos > len(levels)+1 {
			return fmt.Errorf("%w: insert at %d with %d levels", ErrOutOfSync, pos, len(levels))
		}
		levels = append(levels, core.OrderBookLevel{})
		copy(levels[pos:], levels[pos-1:])
		levels[pos-1] = level
	case core.BookUpdate:
		if pos < 1 || pos > len(levels) {
			return fmt.Errorf("%w: update at %d with %d levels", ErrOutOfSync, pos, len(levels))
		}
		levels[pos-1] = level
	case core.BookDelete:
		if pos < 1 || pos > len(levels) {
			return fmt.Errorf("%w: delete at %d with %d levels", ErrOutOfSync, pos, len(levels))
		}
		levels = append(levels[:pos-1], levels[pos:]...)
	case core.BookDeleteThru:
		if pos < 1 || pos > len(levels) {
			return fmt.Errorf("%w: delete through %d with %d levels", ErrOutOfSync, pos, len(levels))
		}
		levels = append(levels[:0], levels[pos:]...)
	default:
		return fmt.Errorf("%w: unknown action %q", ErrOutOfSync, u.Action)
	}

	*side = levels
	return nil
}

// insertPosition finds where price belongs when the server omits a position.
// Bids are kept descending and asks ascending; equal prices queue behind.
func insertPosition(levels []core.OrderBookLevel, price *apd.Decimal, bid bool) int {
	for i := range levels {
		c := price.Cmp(&levels[i].Price)
		if (bid && c > 0) || (!bid && c < 0) {
			return i + 1
		}
	}
	return len(levels) + 1
}

// Snapshot returns a copy of the current book.
func (b *Book) Snapshot() *core.OrderBook {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return &core.OrderBook{
		Symbol:    b.symbol,
		Bids:      copyLevels(b.bids),
		Asks:      copyLevels(b.asks),
		Timestamp: b.updated,
	}
}

// Best returns the top of both sides. ok is false when either side is empty.
func (b *Book) Best() (bid, ask core.OrderBookLevel, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.bids) == 0 || len(b.asks) == 0 {
		return bid, ask, false
	}
	copyLevel(&bid, &b.bids[0])
	copyLevel(&ask, &b.asks[0])
	return bid, ask, true
}

// Spread is the distance between best ask and best bid, absolute and as a
// percentage of the bid.
type Spread struct {
	Bid     apd.Decimal `json:"bid"`
	Ask     apd.Decimal `json:"ask"`
	Spread  apd.Decimal `json:"spread"`
	Percent apd.Decimal `json:"percent"`
}

func (b *Book) Spread() (*Spread, error) {
	bid, ask, ok := b.Best()
	if !ok {
		return nil, fmt.Errorf("book %s: one side is empty", b.symbol)
	}

	s := &Spread{}
	s.Bid.Set(&bid.Price)
	s.Ask.Set(&ask.Price)
	if _, err := apd.BaseContext.Sub(&s.Spread, &ask.Price, &bid.Price); err != nil {
		return nil, fmt.Errorf("calculate spread: %w", err)
	}
	if !bid.Price.IsZero() {
		if _, err := apd.BaseContext.Mul(&s.Percent, &s.Spread, apd.New(100, 0)); err != nil {
			return nil, fmt.Errorf("calculate spread percent multiply: %w", err)
		}
		if _, err := quoContext.Quo(&s.Percent, &s.Percent, &bid.Price); err != nil {
			return nil, fmt.Errorf("calculate spread percent divide: %w", err)
		}
	}
	return s, nil
}

// VWAP is the volume-weighted average price of the first depth levels on one
// side of the book. depth <= 0 uses the whole side.
func (b *Book) VWAP(side core.Side, depth int) (vwap, volume apd.Decimal, err error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	levels := b.asks
	if side == core.SideBuy {
		levels = b.bids
	}
	if depth > 0 && depth < len(levels) {
		levels = levels[:depth]
	}

	var total apd.Decimal
	for i := range levels {
		var value apd.Decimal
		if _, err := apd.BaseContext.Mul(&value, &levels[i].Price, &levels[i].Amount); err != nil {
			return vwap, volume, fmt.Errorf("calculate level value: %w", err)
		}
		if _, err := apd.BaseContext.Add(&total, &total, &value); err != nil {
			return vwap, volume, fmt.Errorf("sum value: %w", err)
		}
		if _, err := apd.BaseContext.Add(&volume, &volume, &levels[i].Amount); err != nil {
			return vwap, volume, fmt.Errorf("sum volume: %w", err)
		}
	}

	if volume.IsZero() {
		return vwap, volume, fmt.Errorf("book %s: no volume on %s side", b.symbol, side)
	}
	if _, err := quoContext.Quo(&vwap, &total, &volume); err != nil {
		return vwap, volume, fmt.Errorf("calculate vwap: %w", err)
	}
	return vwap, volume, nil
}

func copyLevels(levels []core.OrderBookLevel) []core.OrderBookLevel {
	out := make([]core.OrderBookLevel, len(levels))
	for i := range levels {
		copyLevel(&out[i], &levels[i])
	}
	return out
}

func copyLevel(dst, src *core.OrderBookLevel) {
	dst.Price.Set(&src.Price)
	dst.Amount.Set(&src.Amount)
	dst.UserID = src.UserID
}
