// Package money implements fixed-point monetary amounts for the round-up
// pipeline. Amounts are stored as signed cents so no binary floating-point
// drift can enter hashed payloads; monetary precision is two fractional
// digits throughout.
package money

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidAmount = errors.New("money: invalid amount")
)

// Cents is a signed amount in hundredths of the unit currency.
type Cents int64

// FromUnits builds a Cents value from whole units and a two-digit
// fraction, e.g. FromUnits(1, 23) == 1.23.
func FromUnits(units int64, hundredths int64) Cents {
	if units < 0 {
		return Cents(units*100 - hundredths)
	}
	return Cents(units*100 + hundredths)
}

// Parse converts a decimal string with at most two fractional digits
// into Cents. Inputs with finer precision, exponents or non-numeric
// content fail with ErrInvalidAmount.
func Parse(s string) (Cents, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, "eE") {
		return 0, ErrInvalidAmount
	}
	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" && frac == "" {
		return 0, ErrInvalidAmount
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 2 {
		return 0, ErrInvalidAmount
	}
	// Both parts must be bare digits; ParseInt alone would accept a
	// second sign here.
	for _, part := range []string{whole, frac} {
		for i := 0; i < len(part); i++ {
			if part[i] < '0' || part[i] > '9' {
				return 0, ErrInvalidAmount
			}
		}
	}
	for len(frac) < 2 {
		frac += "0"
	}
	u, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	c := Cents(u*100 + f)
	if neg {
		c = -c
	}
	return c, nil
}

// String renders the shortest exact decimal form: "1", "0.77", "2.5".
// This is the form that enters canonical JSON, so it must be stable.
func (c Cents) String() string {
	neg := c < 0
	if neg {
		c = -c
	}
	units, hundredths := int64(c)/100, int64(c)%100
	var s string
	switch {
	case hundredths == 0:
		s = strconv.FormatInt(units, 10)
	case hundredths%10 == 0:
		s = fmt.Sprintf("%d.%d", units, hundredths/10)
	default:
		s = fmt.Sprintf("%d.%02d", units, hundredths)
	}
	if neg {
		return "-" + s
	}
	return s
}

// MarshalJSON emits the amount as a plain JSON number literal.
func (c Cents) MarshalJSON() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalJSON accepts a JSON number (or numeric string) with at most
// two fractional digits.
func (c *Cents) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	v, err := Parse(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// RoundUp returns the micro-donation for a purchase amount: the
// complement to the next whole unit for fractional amounts, one whole
// unit for positive whole amounts, and zero for non-positive amounts.
func RoundUp(amount Cents) Cents {
	if amount <= 0 {
		return 0
	}
	rem := amount % 100
	if rem == 0 {
		return 100
	}
	return 100 - rem
}
