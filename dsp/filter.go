package dsp

// filterDF2T runs one sample through a Direct-Form-II-transposed IIR
// section of order n (a and b each carry n+1 coefficients, a[0]==1,
// history carries n state words). This single recursion backs every
// filter kernel below (biquad, loss, Thirian allpass, Thirian
// dispersion) instead of hand-specializing each order, since the
// underlying math is identical regardless of order.
func filterDF2T(in float64, a, b, history []float64) float64 {
	n := len(history)
	out := history[0] + b[0]*in
	for i := 1; i < n; i++ {
		history[i-1] = history[i] + b[i]*in - a[i]*out
	}
	history[n-1] = b[n]*in - a[n]*out
	return out
}

// BiquadCoeffs holds the immutable coefficients of a second-order section
// designed by MakeBiquad.
type BiquadCoeffs struct {
	A [3]float64
	B [3]float64
}

// BiquadState holds one instance's recursion history for a BiquadCoeffs.
type BiquadState struct {
	h [2]float64
}

// Process filters one sample.
func (c *BiquadCoeffs) Process(in float64, st *BiquadState) float64 {
	return filterDF2T(in, c.A[:], c.B[:], st.h[:])
}

// Reset clears the filter's history.
func (st *BiquadState) Reset() {
	st.h[0], st.h[1] = 0, 0
}

// LossCoeffs holds the immutable coefficients of the one-pole loss
// lowpass used in the string loop and the soundboard branches.
type LossCoeffs struct {
	negA1 float64
	b0    float64
}

// LossState holds one instance's single-word recursion history.
type LossState struct {
	h0 float64
}

// Process filters one sample through the loss lowpass, matching the
// hand-specialized recursion: out = h0 + b0*in; h0 = -a1*out.
func (c *LossCoeffs) Process(in float64, st *LossState) float64 {
	out := st.h0 + c.b0*in
	st.h0 = c.negA1 * out
	return out
}

// Reset clears the filter's history.
func (st *LossState) Reset() {
	st.h0 = 0
}

// ThirianCoeffs holds the immutable coefficients of a variable-order
// (1..MaxThirianOrder) Thirian fractional-delay allpass.
const MaxThirianOrder = 7

type ThirianCoeffs struct {
	order int
	a, b  [MaxThirianOrder + 1]float64
}

// ThirianState holds one instance's recursion history, sized for the
// largest supported order; only the first Order() entries are used.
type ThirianState struct {
	h [MaxThirianOrder]float64
}

// Order returns the filter's configured order.
func (c *ThirianCoeffs) Order() int { return c.order }

// Process filters one sample through the Thirian allpass.
func (c *ThirianCoeffs) Process(in float64, st *ThirianState) float64 {
	return filterDF2T(in, c.a[:c.order+1], c.b[:c.order+1], st.h[:c.order])
}

// Reset clears the filter's history up to its configured order.
func (c *ThirianCoeffs) Reset(st *ThirianState) {
	for i := 0; i < c.order; i++ {
		st.h[i] = 0
	}
}

// ThirianDispersionCoeffs holds the immutable coefficients of the
// fixed order-2 Thirian dispersion filter used for string stiffness.
type ThirianDispersionCoeffs struct {
	a, b [3]float64
}

// ThirianDispersionState holds one instance's order-2 recursion history.
type ThirianDispersionState struct {
	h [2]float64
}

// Process filters one sample through the dispersion filter.
func (c *ThirianDispersionCoeffs) Process(in float64, st *ThirianDispersionState) float64 {
	return filterDF2T(in, c.a[:], c.b[:], st.h[:])
}

// Reset clears the filter's history.
func (st *ThirianDispersionState) Reset() {
	st.h[0], st.h[1] = 0, 0
}
