// Package fixedpoint implements the vendor's fixed-precision decimal
// representation and its canonical checksum formatting rule.
//
// Decimal wraps github.com/shopspring/decimal so that comparison, addition,
// and division by two are exact for the values this package handles — the
// order book never needs anything beyond those operations, and shopspring's
// arbitrary-precision significand means rounding only ever happens where the
// formatting rule explicitly asks for it.
package fixedpoint

import (
	"bytes"
	"fmt"

	"github.com/shopspring/decimal"
)

// Decimal is a fixed-precision decimal value. The zero value is 0.
type Decimal struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Decimal{}

// NewFromString parses a decimal from its base-10 string form, accepting
// scientific notation (e.g. "1e-8").
func NewFromString(s string) (Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("fixedpoint: parse %q: %w", s, err)
	}
	return Decimal{d: d}, nil
}

// NewFromFloat constructs a Decimal from a float64. Used only for test
// fixtures and internally-generated values; wire data always goes through
// UnmarshalJSON or NewFromString to stay exact.
func NewFromFloat(f float64) Decimal {
	return Decimal{d: decimal.NewFromFloat(f)}
}

// IsZero reports whether the value is exactly zero.
func (d Decimal) IsZero() bool { return d.d.IsZero() }

// Sign returns -1, 0, or 1.
func (d Decimal) Sign() int { return d.d.Sign() }

// Cmp compares d to other: -1, 0, or 1.
func (d Decimal) Cmp(other Decimal) int { return d.d.Cmp(other.d) }

// Add returns d + other.
func (d Decimal) Add(other Decimal) Decimal { return Decimal{d: d.d.Add(other.d)} }

// Sub returns d - other.
func (d Decimal) Sub(other Decimal) Decimal { return Decimal{d: d.d.Sub(other.d)} }

// HalfSum returns (d + other) / 2, used for mid-price computation.
func HalfSum(a, b Decimal) Decimal {
	return Decimal{d: a.d.Add(b.d).Div(decimal.NewFromInt(2))}
}

// MulInt64 returns d * n.
func (d Decimal) MulInt64(n int64) Decimal {
	return Decimal{d: d.d.Mul(decimal.NewFromInt(n))}
}

// ClampNonNegative returns d, or Zero if d is negative. Used by the fault
// injector so a MutateQty perturbation never produces a negative quantity.
func (d Decimal) ClampNonNegative() Decimal {
	if d.d.Sign() < 0 {
		return Zero
	}
	return d
}

// String renders the decimal in ordinary base-10 form (no canonicalization).
func (d Decimal) String() string { return d.d.String() }

// Float64 returns an approximate float64 view, for presentation layers only
// (dashboard JSON, logging) — never used on the verification path.
func (d Decimal) Float64() float64 {
	f, _ := d.d.Float64()
	return f
}

// UnmarshalJSON accepts either a JSON number or a JSON string, including
// scientific notation, and converts losslessly. Wire frames use both forms
// depending on the field and the vendor's mood.
func (d *Decimal) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*d = Decimal{}
		return nil
	}
	parsed, err := decimal.NewFromString(string(data))
	if err != nil {
		return fmt.Errorf("fixedpoint: unmarshal %s: %w", data, err)
	}
	d.d = parsed
	return nil
}

// MarshalJSON renders the decimal as a JSON string in its String() form.
// Trailing fractional zeros are not kept ("1.10" marshals as "1.1"); the
// numeric value is unchanged.
func (d Decimal) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.d.String() + `"`), nil
}

// FormatFixed renders value as the vendor's canonical checksum byte
// sequence at the given scale:
//
//  1. round to exactly `scale` decimal places (a no-op for values already
//     at the instrument's declared precision, which is the only input this
//     function is ever fed in practice);
//  2. render with exactly `scale` fractional digits;
//  3. delete the decimal point;
//  4. strip leading zeros;
//  5. if the result is empty, yield "0".
func FormatFixed(value Decimal, scale int32) string {
	rounded := value.d.Round(scale)
	s := rounded.StringFixed(scale)

	neg := false
	if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}

	buf := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '.' {
			buf = append(buf, s[i])
		}
	}

	i := 0
	for i < len(buf)-1 && buf[i] == '0' {
		i++
	}
	buf = buf[i:]

	if len(buf) == 1 && buf[0] == '0' {
		return "0"
	}
	if neg {
		return "-" + string(buf)
	}
	return string(buf)
}
