package analysis

import (
	"math"
	"testing"

	algofft "github.com/cwbudde/algo-fft"
	pdefd "github.com/cwbudde/algo-pde/fd"
	pdepoisson "github.com/cwbudde/algo-pde/poisson"

	"github.com/cwbudde/pm-piano/dsp"
)

// TestAlgoFFTConvolveRealMatchesDirect cross-checks algo-fft's frequency-
// domain convolution against a direct time-domain sum, establishing it as
// a trustworthy oracle before using it to verify the loop-loss filter's
// cascaded impulse response elsewhere in this package.
func TestAlgoFFTConvolveRealMatchesDirect(t *testing.T) {
	a := []float32{1, 2, 3, 4, 5}
	b := []float32{0.5, -0.25, 0.125}
	got := make([]float32, len(a)+len(b)-1)
	if err := algofft.ConvolveReal(got, a, b); err != nil {
		t.Fatalf("ConvolveReal error: %v", err)
	}

	want := directConvolve(a, b)
	for i := range got {
		if math.Abs(float64(got[i]-want[i])) > 1e-4 {
			t.Fatalf("fft convolution mismatch at %d: got=%f want=%f", i, got[i], want[i])
		}
	}
}

// TestAlgoPDEEigenspectrumSanity checks the finite-difference Laplacian
// eigenspectrum algo-pde reports for a periodic and a clamped (Dirichlet)
// boundary behaves as a mode-spacing oracle should: a periodic grid's
// zero mode sits at DC, and a clamped grid's mode spacing is strictly
// non-decreasing, the same qualitative shape a digital waveguide's
// stiffness-induced overtone spreading (string_waveguide.go's dispersion cascade)
// is built to reproduce.
func TestAlgoPDEEigenspectrumSanity(t *testing.T) {
	const n = 64
	const h = 1.0 / 64.0

	periodic := pdefd.Eigenvalues(n, h, pdepoisson.Periodic)
	if len(periodic) != n {
		t.Fatalf("unexpected periodic eigenvalue count: %d", len(periodic))
	}
	if math.Abs(periodic[0]) > 1e-12 {
		t.Fatalf("expected periodic zero mode at index 0, got %g", periodic[0])
	}

	dirichlet := pdefd.Eigenvalues(n, h, pdepoisson.Dirichlet)
	if len(dirichlet) != n {
		t.Fatalf("unexpected dirichlet eigenvalue count: %d", len(dirichlet))
	}
	if dirichlet[0] <= 0 {
		t.Fatalf("expected strictly positive first dirichlet eigenvalue, got %g", dirichlet[0])
	}
	for i := 1; i < len(dirichlet); i++ {
		if dirichlet[i] < dirichlet[i-1] {
			t.Fatalf("expected non-decreasing dirichlet eigenspectrum at %d: %g < %g", i, dirichlet[i], dirichlet[i-1])
		}
	}
}

// TestLoopLossFilterCascadeMatchesFFTConvolution derives the impulse
// response of the string loop's one-pole loss filter (the same
// dsp.MakeLossFilter used by string_waveguide.go and soundboard.go),
// then checks that convolving that response with itself via algo-fft
// reproduces the impulse response of running the filter twice in
// cascade — the LTI identity a two-stage loop-loss path depends on.
func TestLoopLossFilterCascadeMatchesFFTConvolution(t *testing.T) {
	const n = 256
	c := dsp.MakeLossFilter(440.0, 22050.0, 0.25, 5.85)

	ir := impulseResponse(c, n)

	cascade := make([]float64, n)
	var st1, st2 dsp.LossState
	for i := 0; i < n; i++ {
		in := 0.0
		if i == 0 {
			in = 1.0
		}
		cascade[i] = c.Process(c.Process(in, &st1), &st2)
	}

	convLen := 2*n - 1
	irF32 := toFloat32(ir)
	got := make([]float32, convLen)
	if err := algofft.ConvolveReal(got, irF32, irF32); err != nil {
		t.Fatalf("ConvolveReal error: %v", err)
	}

	for i := 0; i < n; i++ {
		if math.Abs(float64(got[i])-cascade[i]) > 5e-3 {
			t.Fatalf("cascade mismatch at sample %d: fft-convolved=%f direct-cascade=%f", i, got[i], cascade[i])
		}
	}
}

func impulseResponse(c dsp.LossCoeffs, n int) []float64 {
	out := make([]float64, n)
	var st dsp.LossState
	for i := 0; i < n; i++ {
		in := 0.0
		if i == 0 {
			in = 1.0
		}
		out[i] = c.Process(in, &st)
	}
	return out
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

func directConvolve(a, b []float32) []float32 {
	out := make([]float32, len(a)+len(b)-1)
	for i, av := range a {
		for j, bv := range b {
			out[i+j] += av * bv
		}
	}
	return out
}
