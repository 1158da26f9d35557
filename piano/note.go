package piano

import "math"

// idleForceThreshold is the per-sample |F_2Z| below which a hammer is
// considered to have separated from the string for the rest of a block.
// The original firmware tracks this with a fixed-point exponent mask
// (getAbsMask) that is always zero once ported to a float build, so this
// is this port's own resolution: track the block's peak contact force
// directly and compare it against a small absolute floor instead.
const idleForceThreshold = 1e-9

// Note is the immutable per-key coefficient set: up to three unison
// strings (doubled/tripled above the bass break points), one hammer, and
// the bridge load-sharing ratio between them. One Note is shared by
// every voice currently sounding that key; NoteState carries the
// per-voice mutable state. Grounded on note.cpp/note.h.
type Note struct {
	nStrings        int
	invNStrings     float64
	bridgeLoadRatio float64

	strings    [3]*String
	hammer     *Hammer // full-blow coefficients
	hammerSoft *Hammer // una corda coefficients: softer felt, shifted strike leverage
}

// NoteState carries one voice's per-key mutable state.
type NoteState struct {
	strings [3]*StringState
	hammer  HammerState

	keyOn      bool
	sostenuto  bool
	idle       bool
	softHammer bool // which of Note.hammer/hammerSoft this strike is using
}

// activeHammer returns the coefficient set this strike was struck with,
// fixed for the note's lifetime at KeyOn (a soft-pedal release mid-note
// does not retroactively harden an already-struck hammer).
func (n *Note) activeHammer(st *NoteState) *Hammer {
	if st.softHammer {
		return n.hammerSoft
	}
	return n.hammer
}

// NewNote derives a key's physical model at fundamental freq (Hz),
// matching Note::initialize. override, if non-nil, nudges the analytic
// frequency/inharmonicity/loss derivation for this specific MIDI note.
func NewNote(freq float64, sys *SystemParameters, override *NoteOverride) *Note {
	const (
		lnf0      = 3.3141860 // log(27.5), A0
		ilnf87mf0 = 0.1989924 // 1/(log(4186.009)-lnf0)
	)

	if override != nil && override.FreqRatio != 0 {
		freq *= override.FreqRatio
	}

	lnFreqRate := math.Log(freq) - lnf0
	keyRate := lnFreqRate * ilnf87mf0

	rho := sys.StringDensity
	l := 0.04 + 1.4/(1+math.Exp(-3.4+1.4*lnFreqRate))
	r := 0.002 * math.Pow(1+0.6*lnFreqRate, -1.4)
	rhoL := math.Pi * r * r * rho
	t := (2 * l * freq) * (2 * l * freq) * rhoL

	z := math.Sqrt(t * rhoL)
	zb := sys.BridgeImpedance

	e := sys.YoungsModulus
	rcore := math.Min(r, 0.0006)
	b := (math.Pi * math.Pi * math.Pi) * e * (rcore * rcore * rcore * rcore) / (4 * l * l * t)
	if override != nil && override.Inharmonicity != 0 {
		b *= override.Inharmonicity
	}

	n := &Note{}
	switch {
	case freq < 47.6: // < G1
		n.nStrings = 1
	case freq < 84.8: // < F2
		n.nStrings = 2
	default:
		n.nStrings = 3
	}
	n.invNStrings = 1.0 / float64(n.nStrings)

	lossScale := 1.0
	if override != nil && override.Loss != 0 {
		lossScale = override.Loss
	}
	stringSys := *sys
	stringSys.StringLossC1 *= lossScale
	stringSys.StringLossC3 *= lossScale

	for i := 0; i < n.nStrings; i++ {
		freqI := freq * sys.Tune[i]
		zbI := zb + float64(n.nStrings-1)*z
		n.strings[i] = NewString(freqI, b, z, zbI, &stringSys)
	}

	alpha := 0.1e-4 * keyRate
	p := 2.0 + keyRate
	m := 0.06 - 0.058*math.Pow(keyRate, 0.1)
	k := 40.0 * math.Pow(0.7e-3, -p)
	mode := hammerSolverFor(keyRate)
	n.hammer = NewHammer(m, k, p, z, alpha, sys.DeltaT(), mode)

	// Soft (una corda) pedal coefficients: softer felt (scaled stiffness
	// K) and a shifted strike leverage (scaled effective mass), applied
	// as documented in SPEC_FULL.md section 5 — hardness/position, never
	// the strike velocity itself.
	kSoft := k * sys.HammerSoftHardnessScale
	mSoft := m * (1 + sys.HammerSoftPositionShift)
	n.hammerSoft = NewHammer(mSoft, kSoft, p, z, alpha, sys.DeltaT(), mode)

	n.bridgeLoadRatio = 2 * z / (z*float64(n.nStrings) + zb)
	return n
}

// NewNoteState allocates one voice's per-key state, including delay-line
// buffers for every active string. Call once per pool slot.
func (n *Note) NewNoteState() *NoteState {
	st := &NoteState{}
	for i := 0; i < n.nStrings; i++ {
		st.strings[i] = n.strings[i].NewStringState()
	}
	return st
}

// ArenaSize returns the number of float64 words this note's strings
// require from a voice's scratch arena.
func (n *Note) ArenaSize() int {
	total := 0
	for i := 0; i < n.nStrings; i++ {
		total += n.strings[i].ArenaSize()
	}
	return total
}

// NewNoteStateInArena builds a voice's per-key state from a preallocated
// scratch arena (see String.NewStringStateInArena), used by NoteManager
// so a voice's delay-line memory is reserved once and reused on every
// subsequent key-on, even across a voice steal that reassigns it to a
// different note.
func (n *Note) NewNoteStateInArena(take func(maxDelay int) []float64) *NoteState {
	st := &NoteState{}
	for i := 0; i < n.nStrings; i++ {
		st.strings[i] = n.strings[i].NewStringStateInArena(take)
	}
	return st
}

// KeyOn re-arms a voice for a fresh strike at velocity v (hammer initial
// velocity in m/s), matching Note::keyOn. soft optionally selects this
// strike's hammer coefficient set (full-blow by default, una corda if
// soft[0] is true); the choice is locked in for the strike's lifetime.
func (n *Note) KeyOn(st *NoteState, v float64, soft ...bool) {
	for i := 0; i < n.nStrings; i++ {
		n.strings[i].Reset(st.strings[i])
	}
	st.hammer.Reset(v)
	st.keyOn = true
	st.sostenuto = false
	st.idle = false
	st.softHammer = len(soft) > 0 && soft[0]
}

// KeyOff releases a voice's key; the string keeps ringing if the damper
// or sostenuto pedal is held, matching Note::keyOff.
func (n *Note) KeyOff(st *NoteState) {
	st.keyOn = false
}

// Idle reports whether the voice has decayed to silence and its slot can
// be reclaimed.
func (st *NoteState) Idle() bool {
	return st.idle
}

// Update renders nSamples of audio into out, accumulating into whatever
// is already there, matching Note::update's per-sample ordering exactly:
// every string's stale (pre-advance) hammer-side output feeds the
// hammer's input velocity before the delay lines advance, and the
// freshly advanced bridge-side output feeds both the bridge sum and the
// hammer's own update, one sample later than a naive reading of the
// scattering equations would suggest. This one-sample offset is what
// makes the coupled nonlinear feedback loop realizable.
func (n *Note) Update(out []float64, st *NoteState, pedal *PedalState) {
	if pedal.SostenutoTrigger && st.keyOn {
		st.sostenuto = true
	}
	st.sostenuto = st.sostenuto && pedal.Sostenuto

	sustain := st.keyOn || st.sostenuto || pedal.Damper
	if !sustain {
		st.idle = true
		return
	}

	peakForce := 0.0
	hammer := n.activeHammer(st)

	for i := range out {
		vString := 0.0
		load := 0.0
		for j := 0; j < n.nStrings; j++ {
			s := n.strings[j]
			ss := st.strings[j]

			vString += s.HammerInputVelocity(ss)
			s.UpdateDelay(ss)
			load += s.BridgeInputVelocity(ss)
		}

		bload := load * n.bridgeLoadRatio
		vStringAve := vString * n.invNStrings

		if !st.hammer.Idle {
			hammer.Update(&st.hammer, vStringAve, hammer.DT())
		}

		hload := st.hammer.F2Z
		if a := math.Abs(hload); a > peakForce {
			peakForce = a
		}

		sample := 0.0
		for j := 0; j < n.nStrings; j++ {
			sample += n.strings[j].Update(st.strings[j], bload, hload)
		}
		out[i] += sample
	}

	if peakForce < idleForceThreshold {
		st.hammer.Idle = true
	}
}
