// Package fixed provides the integer fixed-point arithmetic used by the simulation.
//
// A scalar is a signed 32-bit word holding a real value multiplied by 256 and
// truncated toward zero. Every arithmetic helper here widens to 64 bits
// internally, so intermediate products cannot wrap even at extreme velocities.
// Division by the tuning constants 3, 10 and 60 is a reciprocal multiply plus
// shift on the magnitude, negated afterwards, which matches truncate-toward-zero
// on negative operands. No float ever feeds back into a scalar.
package fixed

// Shift is the binary point position; Scale is 1<<Shift.
const (
	Shift = 8
	Scale = 1 << Shift
)

// Reciprocal constants: m = floor(2^s/d)+1 with s chosen so that
// m*d - 2^s <= 2^(s-31), making floor((u*m)>>s) exact for every
// magnitude below 2^31.
const (
	recip3   = 2863311531 // s = 33
	recip3s  = 33
	recip10  = 3435973837 // s = 35
	recip10s = 35
	recip60  = 2290649225 // s = 37
	recip60s = 37
)

// FromInt converts a whole number of units to a scalar.
func FromInt(v int32) int32 {
	return v << Shift
}

// ToInt truncates a scalar to whole units, toward zero.
func ToInt(v int32) int32 {
	if v < 0 {
		return -(-v >> Shift)
	}
	return v >> Shift
}

// ToFloat converts a scalar to a float64 for display only. The result must
// never be fed back into simulation state.
func ToFloat(v int32) float64 {
	return float64(v) / Scale
}

// FromFloat converts a real value to a scalar, truncating toward zero.
// Intended for compile-time tuning tables and tests, not the step path.
func FromFloat(v float64) int32 {
	return int32(v * Scale)
}

// Mul multiplies two scalars with a 64-bit intermediate.
func Mul(a, b int32) int32 {
	return int32((int64(a) * int64(b)) >> Shift)
}

// Div divides scalar a by scalar b, truncating toward zero. b must be nonzero.
func Div(a, b int32) int32 {
	return int32((int64(a) << Shift) / int64(b))
}

func divMagnitude(v int32, recip uint64, s uint) int32 {
	neg := v < 0
	u := uint64(v)
	if neg {
		u = uint64(-int64(v))
	}
	q := int32((u * recip) >> s)
	if neg {
		return -q
	}
	return q
}

// Div3 returns v/3 truncated toward zero.
func Div3(v int32) int32 {
	return divMagnitude(v, recip3, recip3s)
}

// Div10 returns v/10 truncated toward zero.
func Div10(v int32) int32 {
	return divMagnitude(v, recip10, recip10s)
}

// Div60 returns v/60 truncated toward zero. Velocities are stored in units
// per second; the per-frame position delta at 60 Hz is Div60(v).
func Div60(v int32) int32 {
	return divMagnitude(v, recip60, recip60s)
}
