// Package fixedpoint implements Qm.n fixed-point arithmetic primitives,
// generic over int32, int64 and float64 so one call runs either genuine
// fixed-point or float64 arithmetic. Only these primitives are generic:
// the dsp and piano packages keep float64 state and call the float64
// flavor. Log2Estimate2/Exp2Estimate2 run the same CLZ-plus-quadratic-fit
// approximation in both flavors: the float64 arm is the engine's working
// numeric type during development, not an exact math.Log2/math.Exp2
// oracle, so fixedpoint_test.go checks the approximation error against
// math.Log2/math.Exp2 directly rather than treating the package's own
// float64 output as ground truth.
//
// Every free function here takes its fixed-point "shift" as an explicit
// argument (ignored by the float64 arm) rather than carrying it in the
// value, matching the spirit of the original C++ template arithmetic:
// Mul[SD](a, b) computes a*b and rounds the product into SD fractional
// bits, Madd[SD](c, a, b) computes c+a*b rounded into SD bits, and so on.
package fixedpoint

import (
	"math"
	"math/bits"
)

// Num is the numeric trait both the fixed-point and float64 flavors of the
// primitives are written against. The fractional-bit shift is not part of
// the type; every function takes it as an explicit argument.
type Num interface {
	~int32 | ~int64 | ~float64
}

// Shift returns v scaled by 2^n, n may be negative. For float64 this is a
// plain multiply/divide by a power of two; for integer types it is an
// arithmetic shift.
func Shift[T Num](v T, n int) T {
	switch any(v).(type) {
	case float64:
		f := float64(v)
		if n >= 0 {
			return T(f * float64(uint64(1)<<uint(n)))
		}
		return T(f / float64(uint64(1)<<uint(-n)))
	default:
		iv := int64(v)
		if n >= 0 {
			return T(iv << uint(n))
		}
		return T(iv >> uint(-n))
	}
}

// Mul computes a*b, where a carries sa fractional bits and b carries sb
// fractional bits, rounding the exact product into sd fractional bits.
func Mul[T Num](a, b T, sa, sb, sd int) T {
	if isFloat(a) {
		return T(float64(a) * float64(b))
	}
	prod := int64(a) * int64(b)
	return T(Shift[int64](prod, sd-sa-sb))
}

// Madd computes c+a*b, where c already carries sa+sb fractional bits,
// rounding the result into sd fractional bits.
func Madd[T Num](c, a, b T, sa, sb, sd int) T {
	if isFloat(c) {
		return T(float64(c) + float64(a)*float64(b))
	}
	prod := int64(c) + int64(a)*int64(b)
	return T(Shift[int64](prod, sd-sa-sb))
}

// Nmsub computes c-a*b, the subtractive twin of Madd used by the IIR
// recursion's history update.
func Nmsub[T Num](c, a, b T, sa, sb, sd int) T {
	if isFloat(c) {
		return T(float64(c) - float64(a)*float64(b))
	}
	prod := int64(c) - int64(a)*int64(b)
	return T(Shift[int64](prod, sd-sa-sb))
}

func isFloat[T Num](v T) bool {
	_, ok := any(v).(float64)
	return ok
}

// Log2Estimate2 returns an approximation of log2(v) using the quadratic
// fit log2(x+1) ~ 4/3 x - 1/3 x^2 on the normalized mantissa, matching
// the original firmware's refined CLZ-based estimator. For the float64
// flavor v is a plain real value and s is ignored; for the fixed-point
// flavor v and the result are Q(s) words (s fractional bits). v must be
// positive.
func Log2Estimate2[T Num](v T, s int) T {
	if isFloat(v) {
		return T(log2EstimateFloat(float64(v)))
	}
	return T(log2EstimateFixed(int64(v), s))
}

// log2EstimateFloat runs the CLZ-equivalent split (via Frexp's exponent)
// plus the quadratic mantissa fit in plain float64 arithmetic, so the
// float flavor exercises the same approximation the fixed flavor does
// rather than standing in as an exact oracle.
func log2EstimateFloat(v float64) float64 {
	m, e := math.Frexp(v) // v == m * 2^e, m in [0.5, 1)
	m *= 2
	e--
	x := m - 1
	return float64(e) + (4.0/3.0)*x - (1.0/3.0)*x*x
}

// log2EstimateFixed is the genuine fixed-point arm: count-leading-zeros
// locates the integer part, then the mantissa normalized into Q(s) is
// run through the same quadratic fit using Mul's 64-bit intermediate.
func log2EstimateFixed(v int64, s int) int64 {
	if v <= 0 {
		return 0
	}
	msb := 63 - bits.LeadingZeros64(uint64(v))
	n := msb - s // integer part of log2(v/2^s)
	var mantissa int64
	if n >= 0 {
		mantissa = v >> uint(n)
	} else {
		mantissa = v << uint(-n)
	}
	one := int64(1) << uint(s)
	x := mantissa - one
	c43 := int64(4.0 / 3.0 * float64(one))
	c13 := int64(1.0 / 3.0 * float64(one))
	x2 := Mul[int64](x, x, s, s, s)
	frac := Mul[int64](c43, x, s, s, s) - Mul[int64](c13, x2, s, s, s)
	return int64(n)<<uint(s) + frac
}

// Exp2Estimate2 returns an approximation of exp2(v) using the quadratic
// fit exp2(a) ~ 1 + 0.653426a + 0.346574a^2 on the fractional part,
// matching the original firmware's refined estimator. Same Q(s)
// convention as Log2Estimate2.
func Exp2Estimate2[T Num](v T, s int) T {
	if isFloat(v) {
		return T(exp2EstimateFloat(float64(v)))
	}
	return T(exp2EstimateFixed(int64(v), s))
}

func exp2EstimateFloat(v float64) float64 {
	n := math.Floor(v)
	a := v - n
	frac := 1 + 0.653426*a + 0.346574*a*a
	return math.Ldexp(frac, int(n))
}

func exp2EstimateFixed(v int64, s int) int64 {
	n := v >> uint(s) // arithmetic shift: floor division by 2^s
	one := int64(1) << uint(s)
	a := v - (n << uint(s))
	c1 := int64(0.653426 * float64(one))
	c2 := int64(0.346574 * float64(one))
	a2 := Mul[int64](a, a, s, s, s)
	frac := one + Mul[int64](c1, a, s, s, s) + Mul[int64](c2, a2, s, s, s)
	return Shift[int64](frac, int(n))
}

// Pow approximates a^b via Log2Estimate2/Exp2Estimate2, the same
// composition the original firmware uses to avoid a transcendental pow
// call on the DSP core.
func Pow[T Num](a, b T, s int) T {
	return Exp2Estimate2[T](Mul[T](Log2Estimate2[T](a, s), b, s, s, s), s)
}

// Q23 is the fractional-bit width of the original firmware's time-step
// constants (DeltaTimeT). Nothing in this module references it;
// SystemParameters.DeltaT returns a float64.
const Q23 = 23

// ClampPositive returns v if v > 0, else 0. Used by the hammer solver to
// enforce that contact force never goes negative.
func ClampPositive(v float64) float64 {
	if v > 0 {
		return v
	}
	return 0
}
