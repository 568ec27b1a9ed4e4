package order

import (
	"fmt"

	"github.com/cockroachdb/apd/v3"

	"blinktrade/pkg/core"
)

// Builder provides a fluent interface for constructing limit orders from
// decimal prices and amounts. It accumulates the first error and reports it on
// Build.
//
// Example:
//
//	o, err := order.NewBuilder("BTCUSD").
//	    Buy().
//	    Price("1800").
//	    Amount("0.5").
//	    Build()
type Builder struct {
	order core.Order
	price apd.Decimal
	qty   apd.Decimal
	err   error
}

// NewBuilder creates a builder for symbol.
func NewBuilder(symbol string) *Builder {
	return &Builder{order: core.Order{Symbol: symbol}}
}

// Side sets the order side.
func (b *Builder) Side(side core.Side) *Builder {
	if b.err != nil {
		return b
	}
	b.order.Side = side
	return b
}

// Buy sets the order side to buy.
func (b *Builder) Buy() *Builder {
	return b.Side(core.SideBuy)
}

// Sell sets the order side to sell.
func (b *Builder) Sell() *Builder {
	return b.Side(core.SideSell)
}

// Price sets the limit price in quote currency units, e.g. "1800.50".
func (b *Builder) Price(price string) *Builder {
	if b.err != nil {
		return b
	}
	if _, _, err := b.price.SetString(price); err != nil {
		b.err = fmt.Errorf("parse price: %w", err)
	}
	return b
}

// PriceDecimal sets the limit price from an apd.Decimal value.
func (b *Builder) PriceDecimal(price apd.Decimal) *Builder {
	if b.err != nil {
		return b
	}
	b.price.Set(&price)
	return b
}

// Amount sets the quantity in base currency units, e.g. "0.5".
func (b *Builder) Amount(amount string) *Builder {
	if b.err != nil {
		return b
	}
	if _, _, err := b.qty.SetString(amount); err != nil {
		b.err = fmt.Errorf("parse amount: %w", err)
	}
	return b
}

// AmountDecimal sets the quantity from an apd.Decimal value.
func (b *Builder) AmountDecimal(amount apd.Decimal) *Builder {
	if b.err != nil {
		return b
	}
	b.qty.Set(&amount)
	return b
}

// ClientID sets the id used to correlate execution reports. Zero lets the
// transport pick one.
func (b *Builder) ClientID(id int64) *Builder {
	if b.err != nil {
		return b
	}
	b.order.ClientID = id
	return b
}

// Build validates the order and converts price and amount to satoshis.
func (b *Builder) Build() (core.Order, error) {
	if b.err != nil {
		return core.Order{}, b.err
	}

	o := b.order
	if o.Symbol == "" {
		return core.Order{}, fmt.Errorf("symbol is required")
	}
	if o.Side != core.SideBuy && o.Side != core.SideSell {
		return core.Order{}, fmt.Errorf("invalid order side")
	}
	if b.price.IsZero() || b.price.Negative {
		return core.Order{}, fmt.Errorf("price must be positive")
	}
	if b.qty.IsZero() || b.qty.Negative {
		return core.Order{}, fmt.Errorf("amount must be positive")
	}
	if o.ClientID < 0 {
		return core.Order{}, fmt.Errorf("client id must not be negative")
	}

	var err error
	if o.Price, err = core.SatoshiFromDecimal(&b.price); err != nil {
		return core.Order{}, fmt.Errorf("price: %w", err)
	}
	if o.Amount, err = core.SatoshiFromDecimal(&b.qty); err != nil {
		return core.Order{}, fmt.Errorf("amount: %w", err)
	}
	return o, nil
}
