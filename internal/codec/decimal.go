package codec

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// Decimal is storecore's 16-byte fixed-point value: a 96-bit unsigned
// mantissa split across three little-endian i32 words (Lo, Mid, Hi) plus a
// flags word whose byte 2 holds the scale (0-28 digits right of the decimal
// point) and whose top bit holds the sign. This mirrors .NET's
// System.Decimal layout.
type Decimal struct {
	Lo, Mid, Hi uint32
	Scale       uint8 // 0..28
	Negative    bool
}

// MarshalBinary writes the 16-byte wire form: lo, mid, hi, flags (all LE).
func (d Decimal) MarshalBinary() []byte {
	buf := make([]byte, 16)
	PutInt32(buf[0:4], int32(d.Lo))
	PutInt32(buf[4:8], int32(d.Mid))
	PutInt32(buf[8:12], int32(d.Hi))
	flags := uint32(d.Scale) << 16
	if d.Negative {
		flags |= 1 << 31
	}
	PutInt32(buf[12:16], int32(flags))
	return buf
}

// UnmarshalDecimal parses the 16-byte wire form written by MarshalBinary.
func UnmarshalDecimal(data []byte) (Decimal, error) {
	if len(data) != 16 {
		return Decimal{}, fmt.Errorf("codec: decimal requires 16 bytes, got %d", len(data))
	}
	lo := uint32(GetInt32(data[0:4]))
	mid := uint32(GetInt32(data[4:8]))
	hi := uint32(GetInt32(data[8:12]))
	flags := uint32(GetInt32(data[12:16]))
	return Decimal{
		Lo:       lo,
		Mid:      mid,
		Hi:       hi,
		Scale:    uint8((flags >> 16) & 0xFF),
		Negative: flags&(1<<31) != 0,
	}, nil
}

// unscaled returns the 96-bit mantissa as an unsigned big.Int.
func (d Decimal) unscaled() *big.Int {
	v := new(big.Int).SetUint64(uint64(d.Hi))
	v.Lsh(v, 32)
	v.Or(v, new(big.Int).SetUint64(uint64(d.Mid)))
	v.Lsh(v, 32)
	v.Or(v, new(big.Int).SetUint64(uint64(d.Lo)))
	return v
}

// Rat returns the exact value of d as a big.Rat.
func (d Decimal) Rat() *big.Rat {
	num := d.unscaled()
	r := new(big.Rat).SetInt(num)
	if d.Scale > 0 {
		denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(d.Scale)), nil)
		r.Quo(r, new(big.Rat).SetInt(denom))
	}
	if d.Negative {
		r.Neg(r)
	}
	return r
}

// Compare returns -1, 0, or 1 comparing d and other by exact value.
func (d Decimal) Compare(other Decimal) int {
	return d.Rat().Cmp(other.Rat())
}

// String renders d in plain decimal notation.
func (d Decimal) String() string {
	r := d.Rat()
	return r.FloatString(int(d.Scale))
}

// decimalLiteralPattern matches a plain (non-exponential) decimal literal:
// an optional sign, an integer part, and an optional fractional part.
var decimalLiteralPattern = regexp.MustCompile(`^[+-]?\d+(\.\d+)?$`)

// DecimalFromString parses a plain decimal literal (e.g. "-12.340") into
// storecore's fixed-point wire representation. Precision beyond 28 digits
// of scale is rejected.
//
// The literal's text, not a reduced big.Rat fraction, is the source of
// truth for scale: big.Rat.SetString reduces num/denom by their GCD, so a
// literal like "4.50" arrives as 9/2 with a denominator that is no longer a
// power of 10 even though the value is exactly representable. Counting
// fractional digits directly and concatenating the digits into one integer
// sidesteps that reduction entirely.
func DecimalFromString(s string) (Decimal, error) {
	if !decimalLiteralPattern.MatchString(s) {
		return Decimal{}, fmt.Errorf("codec: invalid decimal literal %q", s)
	}

	neg := false
	trimmed := s
	if trimmed[0] == '+' || trimmed[0] == '-' {
		neg = trimmed[0] == '-'
		trimmed = trimmed[1:]
	}

	intPart, fracPart, _ := strings.Cut(trimmed, ".")
	scale := len(fracPart)
	if scale > 28 {
		return Decimal{}, fmt.Errorf("codec: decimal literal %q exceeds 28 digits of scale", s)
	}

	digits := strings.TrimLeft(intPart+fracPart, "0")
	if digits == "" {
		digits = "0"
	}
	num, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return Decimal{}, fmt.Errorf("codec: invalid decimal literal %q", s)
	}
	if num.Sign() == 0 {
		neg = false // normalize -0 to positive zero
	}

	mask := new(big.Int).SetUint64(0xFFFFFFFF)
	lo := new(big.Int).And(num, mask)
	mid := new(big.Int).And(new(big.Int).Rsh(num, 32), mask)
	hi := new(big.Int).And(new(big.Int).Rsh(num, 64), mask)
	if new(big.Int).Rsh(num, 96).Sign() != 0 {
		return Decimal{}, fmt.Errorf("codec: decimal literal %q exceeds 96-bit mantissa", s)
	}

	return Decimal{
		Lo:       uint32(lo.Uint64()),
		Mid:      uint32(mid.Uint64()),
		Hi:       uint32(hi.Uint64()),
		Scale:    uint8(scale),
		Negative: neg,
	}, nil
}
