package piano

// SystemParameters holds the physical constants shared by every note and
// the soundboard, matching the original firmware's SystemParameters.
// These are the "physics" knobs; Params below holds the per-instrument,
// per-build knobs layered on top of them.
type SystemParameters struct {
	SampleRate int // audio sample rate, Hz; original hardware ran at 22050

	YoungsModulus      float64 // [Pa], string core stiffness
	StringDensity      float64 // [kg/m^3]
	BridgeImpedance    float64
	StringLossC1       float64 // DC loop loss
	StringLossC3       float64 // HF loop loss
	SoundboardLossC1   float64
	SoundboardLossC3   float64
	SoundboardFeedback float64 // FDN feedback gain on the summed branch outputs
	SoundboardScale    float64 // output scale applied after the FDN sum

	HammerPosition float64 // strike point as a fraction of string length

	Tune [3]float64 // per-unison-string detune ratio

	// HammerSoftPositionShift / HammerSoftHardnessScale model the soft
	// (una corda) pedal: the hammer's effective mass is scaled by
	// (1+HammerSoftPositionShift), standing in for the shifted strike
	// point, and its felt stiffness K by HammerSoftHardnessScale; the
	// stiffness exponent p is unchanged.
	HammerSoftPositionShift float64
	HammerSoftHardnessScale float64

	// Verbose gates the startup diagnostic print; off by default so
	// library use never writes to stderr.
	Verbose bool
}

// DeltaT returns the simulation time step, 1/SampleRate.
func (p *SystemParameters) DeltaT() float64 {
	return 1.0 / float64(p.SampleRate)
}

// NewDefaultSystemParameters returns the physical constants from the
// original firmware's sys_params.h, at the given sample rate.
func NewDefaultSystemParameters(sampleRate int) *SystemParameters {
	return &SystemParameters{
		SampleRate:              sampleRate,
		YoungsModulus:           200e9,
		StringDensity:           7850.0,
		BridgeImpedance:         4000.0,
		StringLossC1:            0.25,
		StringLossC3:            5.85,
		SoundboardLossC1:        20.0,
		SoundboardLossC3:        20.0,
		SoundboardFeedback:      -0.25,
		SoundboardScale:         10.0 / 8.0,
		HammerPosition:          1.0 / 7.0,
		Tune:                    [3]float64{1, 1.0003, 0.9996},
		HammerSoftPositionShift: 0.08,
		HammerSoftHardnessScale: 0.78,
	}
}

// convertSampleSize scales a sample count given at a 44100 Hz reference
// rate down (or up) to sys.SampleRate, flooring the result. This mirrors
// the original firmware's convertSampleSize and is the authoritative
// resolution of the "should soundboard delay lengths round or floor"
// open question: they floor.
func convertSampleSize(sampleRate, s int) int {
	return s * sampleRate / 44100
}

// Params holds instrument-level knobs layered on top of SystemParameters:
// output gain/scale and polyphony. Per-note overrides (tuning,
// inharmonicity correction, loss correction) live in PerNote.
type Params struct {
	System *SystemParameters

	MaxPolyphony int
	OutputGain   float64

	PerNote map[int]*NoteOverride
}

// NoteOverride allows a preset to nudge a single MIDI note's physical
// derivation away from its analytic default.
type NoteOverride struct {
	FreqRatio     float64 // multiplies the analytic MIDI->Hz frequency
	Inharmonicity float64 // multiplies the analytic B coefficient
	Loss          float64 // multiplies both loss C1/C3 constants
}

// NewDefaultParams returns a Params with sensible defaults for a
// 22050 Hz real-time build with an 8-voice pool.
func NewDefaultParams(sampleRate int) *Params {
	return &Params{
		System:       NewDefaultSystemParameters(sampleRate),
		MaxPolyphony: 8,
		OutputGain:   1.0,
		PerNote:      make(map[int]*NoteOverride),
	}
}
