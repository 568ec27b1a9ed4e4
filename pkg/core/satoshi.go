package core

import (
	"fmt"

	"github.com/cockroachdb/apd/v3"
)

// SatoshiExponent is the decimal exponent of one satoshi (1e-8).
const SatoshiExponent = -8

// Satoshi is a fixed-point amount scaled by 1e8. BlinkTrade carries every
// price and quantity on the wire in this representation.
type Satoshi int64

var satoshiContext = apd.BaseContext.WithPrecision(40)

// Decimal returns the amount as a decimal in whole units.
func (s Satoshi) Decimal() *apd.Decimal {
	return apd.New(int64(s), SatoshiExponent)
}

// String returns the amount in whole units with eight decimal places.
func (s Satoshi) String() string {
	return s.Decimal().Text('f')
}

// ParseSatoshi converts a decimal string in whole units (e.g. "0.5") into satoshis.
// Values with more than eight decimal places are rejected.
func ParseSatoshi(s string) (Satoshi, error) {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return SatoshiFromDecimal(d)
}

// SatoshiFromDecimal converts a decimal in whole units into satoshis.
func SatoshiFromDecimal(d *apd.Decimal) (Satoshi, error) {
	var scaled apd.Decimal
	if _, err := satoshiContext.Mul(&scaled, d, apd.New(1, -SatoshiExponent)); err != nil {
		return 0, fmt.Errorf("scale amount: %w", err)
	}

	var integral apd.Decimal
	if _, err := satoshiContext.Quantize(&integral, &scaled, 0); err != nil {
		return 0, fmt.Errorf("round amount: %w", err)
	}
	if integral.Cmp(&scaled) != 0 {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", d.Text('f'), -SatoshiExponent)
	}

	v, err := integral.Int64()
	if err != nil {
		return 0, fmt.Errorf("amount out of range: %w", err)
	}
	return Satoshi(v), nil
}
