package piano

import (
	dspcore "github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/cwbudde/pm-piano/dsp"
)

// String is the immutable digital-waveguide coefficient set for one
// physical string: two coupled delay-line loops (hammer-side H,
// bridge-side B) joined by a dispersion cascade and a loop-loss filter,
// plus a fractional-delay Thirian allpass that tunes the total loop
// length to the target period. Grounded on string.cpp/string.h.
//
//	     Z         Z         Zb
//	|<-d0a<-|H|<-d1a<-|B|<-0
//	|->d0b->| |->d1b->| |->out
type String struct {
	delay1 int // d0a/d0b length, hammer side
	delay2 int // d1a length, bridge side before the tuning stage
	delay3 int // d1b length, hammer side after the dispersion cascade

	dispersionOrder int // M: 4 stages below 400 Hz, 1 stage above
	dispersion      [4]dsp.ThirianDispersionCoeffs
	lowpass         dsp.LossCoeffs
	fracDelay       dsp.ThirianCoeffs

	alpha12 float64 // 2Z/(Z+Zb)
}

// StringState carries one voice's per-string delay-line and filter
// state. Delay-line buffers are allocated once by NewStringState and
// re-armed (zeroed) by Reset on every key-on, so the audio thread never
// allocates once a voice has been warmed up.
type StringState struct {
	d0a, d0b, d1a, d1b *dsp.DelayLine

	// in holds the scattering junction's output destined for the next
	// sample's delay advance; out holds this sample's freshly advanced
	// value. Splitting them mirrors the original firmware's
	// DelayNode::State{in,out} and its two-phase update ordering: a
	// note reads HammerInputVelocity before advancing (seeing last
	// sample's out), then advances, then reads BridgeInputVelocity and
	// runs Update (seeing this sample's out).
	d0aIn, d0bIn, d1aIn, d1bIn    float64
	d0aOut, d0bOut, d1aOut, d1bOut float64

	dispersion [4]dsp.ThirianDispersionState
	lowpass    dsp.LossState
	fracDelay  dsp.ThirianState
}

// NewString derives a string's waveguide coefficients for fundamental f,
// inharmonicity coefficient B, characteristic impedance Z and combined
// bridge-side impedance Zb (the real bridge impedance plus the load of
// the other unison strings), matching String::initialize.
func NewString(f, b, z, zb float64, sys *SystemParameters) *String {
	fs := float64(sys.SampleRate)
	delayTotal := fs / f
	delay1 := maxInt(1, int(sys.HammerPosition*0.5*delayTotal))

	m := 4
	if f > 400 {
		m = 1
	}

	s := &String{dispersionOrder: m}
	for i := 0; i < m; i++ {
		s.dispersion[i] = dsp.MakeThirianDispersionFilter(b, f, m)
	}
	for i := m; i < 4; i++ {
		s.dispersion[i] = identityDispersion()
	}
	dispersionGD := s.dispersion[0].GroupDelay(f, fs)
	dispersionDelay := float64(m) * dispersionGD

	s.lowpass = dsp.MakeLossFilter(f, fs, sys.StringLossC1, sys.StringLossC3)
	lowpassDelay := s.lowpass.GroupDelay(f, fs)

	delay2 := maxInt(1, int(0.5*(delayTotal-2*float64(delay1))-dispersionDelay))
	delay3 := maxInt(1, int(0.5*(delayTotal-2*float64(delay1))-lowpassDelay-5))

	d := delayTotal - (float64(delay1)*2 + float64(delay2) + float64(delay3) + dispersionDelay + lowpassDelay)
	s.fracDelay = dsp.MakeThirianAllpass(maxInt(1, int(d)), maxFloat(d, 1))

	// DelayNode::initialize sets delay_ = max(0, d-1): the node's own
	// two-phase split (HammerInputVelocity/BridgeInputVelocity read
	// before UpdateDelay advances) already contributes the extra sample
	// of latency the raw segment length accounts for, so the ring
	// buffer itself is driven one sample shorter than the segment
	// length computed above.
	s.delay1 = ringDelay(delay1)
	s.delay2 = ringDelay(delay2)
	s.delay3 = ringDelay(delay3)

	s.alpha12 = 2 * z / (z + zb)
	return s
}

// identityDispersion returns a dispersion filter that passes its input
// unchanged, used for the dispersion cascade stages beyond a string's
// active order M. The curve fit gives D of about 0.61 for B=1e-6 at
// 4186 Hz, which selects MakeThirianDispersionFilter's identity branch.
func identityDispersion() dsp.ThirianDispersionCoeffs {
	return dsp.MakeThirianDispersionFilter(1e-6, 4186.0, 1)
}

// NewStringState allocates delay-line buffers sized for this string's
// configured segment lengths. Call once per voice at pool-construction
// time, then Reset on every key-on.
func (s *String) NewStringState() *StringState {
	return &StringState{
		d0a: dsp.NewDelayLine(s.delay1),
		d0b: dsp.NewDelayLine(s.delay1),
		d1a: dsp.NewDelayLine(s.delay2),
		d1b: dsp.NewDelayLine(s.delay3),
	}
}

// ArenaSize returns the number of float64 words this string's four delay
// segments require from a voice's scratch arena.
func (s *String) ArenaSize() int {
	return 2*dsp.BufferSizeFor(s.delay1) + dsp.BufferSizeFor(s.delay2) + dsp.BufferSizeFor(s.delay3)
}

// NewStringStateInArena builds this string's delay-line state from a
// voice's preallocated scratch arena instead of allocating fresh buffers,
// matching the no-heap-after-init resource policy: the arena is sized
// once (at NoteManager init) to the largest note's total delay demand, so
// every key-on reuses the same backing memory regardless of which note
// the voice is currently playing.
func (s *String) NewStringStateInArena(take func(maxDelay int) []float64) *StringState {
	return &StringState{
		d0a: dsp.NewDelayLineInto(take(s.delay1), s.delay1),
		d0b: dsp.NewDelayLineInto(take(s.delay1), s.delay1),
		d1a: dsp.NewDelayLineInto(take(s.delay2), s.delay2),
		d1b: dsp.NewDelayLineInto(take(s.delay3), s.delay3),
	}
}

// Reset re-arms the string state for a fresh strike.
func (s *String) Reset(st *StringState) {
	st.d0a.Clear(s.delay1)
	st.d0b.Clear(s.delay1)
	st.d1a.Clear(s.delay2)
	st.d1b.Clear(s.delay3)
	for i := range st.dispersion {
		st.dispersion[i].Reset()
	}
	st.lowpass.Reset()
	s.fracDelay.Reset(&st.fracDelay)
	st.d0aIn, st.d0bIn, st.d1aIn, st.d1bIn = 0, 0, 0, 0
	st.d0aOut, st.d0bOut, st.d1aOut, st.d1bOut = 0, 0, 0, 0
}

// HammerInputVelocity returns the velocity the hammer sees at this
// string's contact point. Must be read before UpdateDelay to get the
// one-sample-delayed feedback the waveguide junction requires.
func (s *String) HammerInputVelocity(st *StringState) float64 {
	return st.d0bOut + st.d1aOut
}

// BridgeInputVelocity returns the velocity feeding the bridge/soundboard
// junction. Must be read after UpdateDelay.
func (s *String) BridgeInputVelocity(st *StringState) float64 {
	return st.d1bOut
}

// UpdateDelay advances all four delay-line segments by one sample.
func (s *String) UpdateDelay(st *StringState) {
	st.d0aOut = dspcore.FlushDenormals(st.d0a.Update(st.d0aIn, s.delay1))
	st.d0bOut = dspcore.FlushDenormals(st.d0b.Update(st.d0bIn, s.delay1))
	st.d1aOut = dspcore.FlushDenormals(st.d1a.Update(st.d1aIn, s.delay2))
	st.d1bOut = dspcore.FlushDenormals(st.d1b.Update(st.d1bIn, s.delay3))
}

// Update performs the scattering-junction math for one sample given the
// bridge load contribution (from the soundboard/other unison strings)
// and the hammer's contact load, storing the next sample's delay-line
// inputs and returning the sample fed toward the bridge/soundboard.
func (s *String) Update(st *StringState, bridgeLoad, hammerLoad float64) float64 {
	loadH := st.d0bOut + st.d1aOut + hammerLoad
	loadB := s.alpha12 * st.d1bOut
	loadB1 := loadB + bridgeLoad

	st.d0aIn = loadH - st.d0bOut
	st.d0bIn = -st.d0aOut
	st.d1bIn = s.filterH(loadH-st.d1aOut, st)
	st.d1aIn = s.filterB(loadB1-st.d1bOut, st)

	return loadB
}

// filterH runs the dispersion cascade (only the first dispersionOrder
// stages are non-identity; the rest pass through unchanged).
func (s *String) filterH(y float64, st *StringState) float64 {
	y = s.dispersion[0].Process(y, &st.dispersion[0])
	y = s.dispersion[1].Process(y, &st.dispersion[1])
	y = s.dispersion[2].Process(y, &st.dispersion[2])
	y = s.dispersion[3].Process(y, &st.dispersion[3])
	return y
}

// filterB runs the loop-loss lowpass followed by the fractional-delay
// tuning allpass.
func (s *String) filterB(y float64, st *StringState) float64 {
	y = s.lowpass.Process(y, &st.lowpass)
	y = s.fracDelay.Process(y, &st.fracDelay)
	return y
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// ringDelay converts a computed segment length into the delay actually
// driven into its ring buffer, matching DelayNode::initialize's
// `delay_ = max(0, d-1)`.
func ringDelay(d int) int {
	return maxInt(0, d-1)
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
