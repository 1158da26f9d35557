package dsp

import (
	"math"
	"testing"
)

func TestDelayLineRoundTrip(t *testing.T) {
	d := NewDelayLine(8)
	d.Update(5.0, 3)
	d.Update(0, 3)
	d.Update(0, 3)
	out := d.Update(0, 3)
	if out != 5.0 {
		t.Fatalf("delay of 3: got %v want 5.0", out)
	}
}

func TestDelayLineZeroIsBypass(t *testing.T) {
	d := NewDelayLine(8)
	for i := 0; i < 10; i++ {
		out := d.Update(float64(i), 0)
		if out != float64(i) {
			t.Fatalf("zero-delay bypass at step %d: got %v want %v", i, out, i)
		}
	}
}

func TestBiquadLowpassAttenuatesNyquist(t *testing.T) {
	fs := 44100.0
	c := MakeBiquad(1000, fs, 0.707, BiquadLowpass)
	var st BiquadState

	// Drive with a signal near Nyquist; lowpass should attenuate it well
	// below the amplitude it passes at a low frequency.
	var hiEnergy, loEnergy float64
	for i := 0; i < 2000; i++ {
		hi := math.Sin(math.Pi * float64(i) * 0.99)
		out := c.Process(hi, &st)
		if i > 200 {
			hiEnergy += out * out
		}
	}
	st.Reset()
	for i := 0; i < 2000; i++ {
		lo := math.Sin(2 * math.Pi * float64(i) * 100 / fs)
		out := c.Process(lo, &st)
		if i > 200 {
			loEnergy += out * out
		}
	}
	if hiEnergy >= loEnergy {
		t.Fatalf("lowpass did not attenuate high frequency: hi=%v lo=%v", hiEnergy, loEnergy)
	}
}

func TestLossFilterIsStableAndLossy(t *testing.T) {
	c := MakeLossFilter(200, 44100, 0.25, 5.85)
	var st LossState
	out := c.Process(1.0, &st)
	for i := 0; i < 1000; i++ {
		out = c.Process(0, &st)
	}
	if math.Abs(out) > 1.0 || math.IsNaN(out) {
		t.Fatalf("loss filter diverged: %v", out)
	}
}

func TestThirianPureDelayWhenDAtMostOne(t *testing.T) {
	c := MakeThirianAllpass(3, 0.5)
	var st ThirianState
	in := 3.14
	for i := 0; i < 4; i++ {
		x, want := 0.0, 0.0
		if i == 0 {
			x = in
		}
		if i == 3 {
			want = in
		}
		if out := c.Process(x, &st); out != want {
			t.Fatalf("D<=1 should be a pure 3-sample delay: sample %d got %v want %v", i, out, want)
		}
	}
}

func TestThirianGroupDelayNearTarget(t *testing.T) {
	fs := 44100.0
	d := 3.3
	c := MakeThirianAllpass(4, d)
	gd := c.GroupDelay(200, fs)
	if math.Abs(gd-d) > 0.5 {
		t.Fatalf("group delay %v far from target %v", gd, d)
	}
}

func TestThirianDispersionIdentityBelowThreshold(t *testing.T) {
	c := MakeThirianDispersionFilter(1e-6, 4186.0, 1)
	var st ThirianDispersionState
	in := 2.5
	out := c.Process(in, &st)
	if out != in {
		t.Fatalf("curve-fit delay below one sample should give the identity filter: got %v want %v", out, in)
	}
}

// TestThirianGroupDelayMatchesTargetAt440 reproduces spec.md's concrete
// "round-trip Thirian group delay" scenario: at f=440, fs=22050, the
// computed group delay should land within ±0.05 samples of the requested
// fractional delay D.
func TestThirianGroupDelayMatchesTargetAt440(t *testing.T) {
	const fs = 22050.0
	const f = 440.0
	for _, d := range []float64{1.2, 2.5, 3.8, 5.1} {
		c := MakeThirianAllpass(MaxThirianOrder, d)
		gd := c.GroupDelay(f, fs)
		if diff := math.Abs(gd - d); diff > 0.05 {
			t.Fatalf("D=%v: group delay %v differs from target by %v, want <=0.05", d, gd, diff)
		}
	}
}

// TestBiquadIsLinear checks the LTI doubling property spec.md invariant 5
// requires: doubling the input sequence doubles the output sequence.
func TestBiquadIsLinear(t *testing.T) {
	c := MakeBiquad(1000, 44100, 0.707, BiquadLowpass)
	var st1, st2 BiquadState
	for i := 0; i < 200; i++ {
		x := math.Sin(float64(i) * 0.1)
		y1 := c.Process(x, &st1)
		y2 := c.Process(2*x, &st2)
		if diff := math.Abs(2*y1 - y2); diff > 1e-9 {
			t.Fatalf("sample %d: biquad not linear: 2*y1=%v y2=%v diff=%v", i, 2*y1, y2, diff)
		}
	}
}

// TestLossFilterIsLinear checks the same LTI doubling property for the
// one-pole loss filter used in the string loop and soundboard branches.
func TestLossFilterIsLinear(t *testing.T) {
	c := MakeLossFilter(200, 44100, 0.25, 5.85)
	var st1, st2 LossState
	for i := 0; i < 200; i++ {
		x := math.Sin(float64(i) * 0.07)
		y1 := c.Process(x, &st1)
		y2 := c.Process(2*x, &st2)
		if diff := math.Abs(2*y1 - y2); diff > 1e-9 {
			t.Fatalf("sample %d: loss filter not linear: 2*y1=%v y2=%v diff=%v", i, 2*y1, y2, diff)
		}
	}
}

// TestThirianAllpassIsLinear checks the same LTI doubling property for
// the fractional-delay tuning allpass.
func TestThirianAllpassIsLinear(t *testing.T) {
	c := MakeThirianAllpass(5, 3.3)
	var st1, st2 ThirianState
	for i := 0; i < 200; i++ {
		x := math.Sin(float64(i) * 0.05)
		y1 := c.Process(x, &st1)
		y2 := c.Process(2*x, &st2)
		if diff := math.Abs(2*y1 - y2); diff > 1e-9 {
			t.Fatalf("sample %d: thirian allpass not linear: 2*y1=%v y2=%v diff=%v", i, 2*y1, y2, diff)
		}
	}
}
