package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// USDCDecimals is the token precision; Money counts units of 10^-6 USDC.
const USDCDecimals = 6

// BasisPoints is the denominator for share fractions.
const BasisPoints = 10000

// Money is an amount of USDC in micro units. Arithmetic stays in integers;
// decimals only appear when parsing input or rendering output.
type Money int64

var maxMoney = decimal.NewFromInt(math.MaxInt64)

// ParseMoney parses a decimal string such as "0.01". Negative values and
// amounts finer than one micro unit are rejected.
func ParseMoney(raw string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return MoneyFromDecimal(d)
}

func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	if d.IsNegative() {
		return 0, fmt.Errorf("amount %s is negative", d)
	}
	micro := d.Shift(USDCDecimals)
	if !micro.Equal(micro.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", d, USDCDecimals)
	}
	if micro.GreaterThan(maxMoney) {
		return 0, fmt.Errorf("amount %s is too large", d)
	}
	return Money(micro.IntPart()), nil
}

func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -USDCDecimals)
}

func (m Money) String() string {
	return m.Decimal().String()
}

// Share returns floor(m * bps / 10000) without overflowing for large amounts.
func (m Money) Share(bps int64) Money {
	q, r := int64(m)/BasisPoints, int64(m)%BasisPoints
	return Money(q*bps + r*bps/BasisPoints)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts either a decimal string or a JSON number.
func (m *Money) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	parsed, err := ParseMoney(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
