package dsp

import "math"

// BiquadType selects which bilinear-transform response MakeBiquad
// designs.
type BiquadType int

const (
	BiquadAllpass BiquadType = iota
	BiquadLowpass
	BiquadHighpass
	BiquadNotch
)

// MakeBiquad designs a second-order section at center/cutoff frequency f0,
// sample rate fs and Q, matching the bilinear-transform prototype used
// throughout the original firmware's filter bank.
func MakeBiquad(f0, fs, q float64, kind BiquadType) BiquadCoeffs {
	a := 1 / (2 * math.Tan(math.Pi*f0/fs))
	a2 := a * a
	aoQ := a / q
	d := 4*a2 + 2*aoQ + 1

	var c BiquadCoeffs
	c.A[0] = 1
	c.A[1] = -(8*a2 - 2) / d
	c.A[2] = (4*a2 - 2*aoQ + 1) / d

	switch kind {
	case BiquadAllpass:
		c.B[0] = 2 * aoQ / d
		c.B[1] = 0
		c.B[2] = -2 * aoQ / d
	case BiquadLowpass:
		c.B[0] = 1 / d
		c.B[1] = 2 / d
		c.B[2] = 1 / d
	case BiquadHighpass:
		c.B[0] = 4 * a2 / d
		c.B[1] = -8 * a2 / d
		c.B[2] = 4 * a2 / d
	case BiquadNotch:
		c.B[0] = (1 + 4*a2) / d
		c.B[1] = (2 - 8*a2) / d
		c.B[2] = (1 + 4*a2) / d
	}
	return c
}

// MakeLossFilter designs the one-pole loss lowpass at loop frequency f0
// (sampleRate/delayLength) for loss constants c1 (DC loss) and c3
// (high-frequency loss), matching the original firmware's string/
// soundboard loop-loss formula exactly.
func MakeLossFilter(f0, fs, c1, c3 float64) LossCoeffs {
	g := 1 - c1/f0
	b := 4*c3 + f0
	a1 := (-b + math.Sqrt(b*b-16*c3*c3)) / (4 * c3)
	return LossCoeffs{
		negA1: -a1,
		b0:    g * (1 + a1),
	}
}

// dispersionDb evaluates the Thirian-dispersion curve fit D(B,f,M): a
// published empirical fit relating string inharmonicity B and
// fundamental frequency f to the fractional group delay a four-stage
// (M==4) or one-stage (otherwise) dispersion allpass chain needs to
// inject per period.
func dispersionDb(b, f float64, m int) float64 {
	var c1, c2, k1, k2, k3 float64
	if m == 4 {
		c1, c2, k1, k2, k3 = 0.069618, 2.0427, -0.00050469, -0.0064264, -2.8743
	} else {
		c1, c2, k1, k2, k3 = 0.071089, 2.1074, -0.0026580, -0.014811, -2.9018
	}

	logB := math.Log(b)
	kd := math.Exp(k1*logB*logB + k2*logB + k3)
	cd := math.Exp(c1*logB + c2)
	halfstep := math.Pow(2, 1.0/12.0)
	ikey := math.Log(f*halfstep/27.5) / math.Log(halfstep)
	return math.Exp(cd - ikey*kd)
}

// MakeThirianDispersionFilter designs the order-2 dispersion allpass for
// inharmonicity coefficient B at fundamental f, using the four-stage (M=4)
// or single-stage curve fit.
func MakeThirianDispersionFilter(b, f float64, m int) ThirianDispersionCoeffs {
	d := dispersionDb(b, f, m)
	if d <= 1.0 {
		return ThirianDispersionCoeffs{
			a: [3]float64{1, 0, 0},
			b: [3]float64{1, 0, 0},
		}
	}
	ca, cb := thirian(2, d)
	return ThirianDispersionCoeffs{a: [3]float64{ca[0], ca[1], ca[2]}, b: [3]float64{cb[0], cb[1], cb[2]}}
}

// MakeThirianAllpass designs a maximally-flat-group-delay fractional
// delay allpass of order n (1..MaxThirianOrder) approximating a delay of
// D samples.
func MakeThirianAllpass(n int, d float64) ThirianCoeffs {
	ca, cb := thirian(n, d)
	var c ThirianCoeffs
	c.order = n
	copy(c.a[:n+1], ca)
	copy(c.b[:n+1], cb)
	return c
}

// thirian computes the order-cn Thirian allpass coefficients
// approximating fractional delay D, matching the original's binomial
// recurrence. D<=1 degenerates to a pure cn-sample delay (a[0]=1,
// b[cn]=1), which at order 1 is the one-sample delay NewString requests
// when a note's residual fractional delay is one sample or less.
func thirian(cn int, d float64) (ca, cb []float64) {
	ca = make([]float64, cn+1)
	cb = make([]float64, cn+1)

	if d <= 1.0 {
		ca[0] = 1
		cb[cn] = 1
		return ca, cb
	}

	for i := 0; i <= cn; i++ {
		k := i
		if cn-i < k {
			k = cn - i
		}
		choose := func() float64 {
			divisor := 1
			multiplier := cn
			answer := 1
			for divisor <= k {
				answer = answer * multiplier / divisor
				multiplier--
				divisor++
			}
			return float64(answer)
		}

		ai := choose()
		if i&1 != 0 {
			ai = -ai
		}
		for n := 0; n <= cn; n++ {
			ai *= (d - float64(cn-n)) / (d - float64(cn-n-i))
		}
		ca[i] = ai
		cb[cn-i] = ai
	}
	return ca, cb
}

// ComputePhaseDelay evaluates the phase delay (in samples) of the filter
// with coefficients a,b (cn+1 entries each) at frequency f and sample
// rate fs, via direct evaluation of the frequency response.
func ComputePhaseDelay(cn int, a, b []float64, f, fs float64) float64 {
	var hnRe, hnIm, hdRe, hdIm float64
	omega := 2 * math.Pi * f / fs
	for i := 0; i <= cn; i++ {
		hnRe += math.Cos(float64(i)*omega) * b[i]
		hnIm += math.Sin(float64(i)*omega) * b[i]
	}
	for i := 0; i <= cn; i++ {
		hdRe += math.Cos(float64(i)*omega) * a[i]
		hdIm += math.Sin(float64(i)*omega) * a[i]
	}

	argN := math.Atan2(hnIm, hnRe)
	argD := math.Atan2(hdIm, hdRe)
	arg := argN - argD

	if arg < 0 {
		arg += 2 * math.Pi
	}
	return arg / omega
}

// ComputeGroupDelay evaluates the group delay (in samples) of the filter
// at frequency f via central-difference evaluation of ComputePhaseDelay,
// a 5 Hz offset either side exactly as the original firmware does.
func ComputeGroupDelay(cn int, a, b []float64, f, fs float64) float64 {
	const df = 5
	f2 := f + df
	f1 := f - df
	omega2 := 2 * math.Pi * f2 / fs
	omega1 := 2 * math.Pi * f1 / fs
	return (omega2*ComputePhaseDelay(cn, a, b, f2, fs) - omega1*ComputePhaseDelay(cn, a, b, f1, fs)) / (omega2 - omega1)
}

// GroupDelay returns the group delay of a Biquad in samples at f/fs.
func (c *BiquadCoeffs) GroupDelay(f, fs float64) float64 {
	return ComputeGroupDelay(2, c.A[:], c.B[:], f, fs)
}

// GroupDelay returns the group delay of a Thirian allpass in samples.
func (c *ThirianCoeffs) GroupDelay(f, fs float64) float64 {
	return ComputeGroupDelay(c.order, c.a[:c.order+1], c.b[:c.order+1], f, fs)
}

// GroupDelay returns the group delay of the loss filter in samples.
func (c *LossCoeffs) GroupDelay(f, fs float64) float64 {
	a := [2]float64{1, -c.negA1}
	b := [2]float64{c.b0, 0}
	return ComputeGroupDelay(1, a[:], b[:], f, fs)
}

// GroupDelay returns the group delay of a Thirian dispersion filter in
// samples at f/fs.
func (c *ThirianDispersionCoeffs) GroupDelay(f, fs float64) float64 {
	return ComputeGroupDelay(2, c.a[:], c.b[:], f, fs)
}
