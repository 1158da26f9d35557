package piano

import (
	dspcore "github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/cwbudde/pm-piano/dsp"
)

const soundboardBranches = 8

// soundboardDelayLengths are the eight FDN branch lengths in samples at
// the reference rate of 44100 Hz, matching the original firmware's
// Soundboard::delayLengths.
var soundboardDelayLengths = [soundboardBranches]int{37, 87, 181, 271, 359, 592, 687, 721}

// Soundboard is the immutable coefficient set for the 8-branch feedback
// delay network every voice's bridge output is summed into. One instance
// lives with the Piano; it is not per-voice. Grounded on soundboard.cpp.
type Soundboard struct {
	delayLen [soundboardBranches]int
	loss     [soundboardBranches]dsp.LossCoeffs
	feedback float64
	scale    float64
}

// SoundboardState carries the FDN's mutable delay-line and loss-filter
// state plus the previous block's per-branch outputs and cross-branch
// feedback tap.
type SoundboardState struct {
	delay     [soundboardBranches]*dsp.DelayLine
	lossState [soundboardBranches]dsp.LossState
	prevOut   [soundboardBranches]float64
	prevOt    float64
}

// NewSoundboard derives the FDN's branch delay lengths (scaled from the
// reference 44100 Hz rate down to sys.SampleRate, flooring per the
// original firmware's convertSampleSize) and per-branch loss filters
// tuned to each branch's loop frequency Fs/L_i.
func NewSoundboard(sys *SystemParameters) *Soundboard {
	sb := &Soundboard{
		feedback: sys.SoundboardFeedback,
		scale:    sys.SoundboardScale,
	}
	fs := float64(sys.SampleRate)
	for i, refLen := range soundboardDelayLengths {
		l := convertSampleSize(sys.SampleRate, refLen)
		if l < 1 {
			l = 1
		}
		sb.delayLen[i] = l
		f0 := fs / float64(l)
		sb.loss[i] = dsp.MakeLossFilter(f0, fs, sys.SoundboardLossC1, sys.SoundboardLossC3)
	}
	return sb
}

// NewSoundboardState allocates the FDN's delay-line buffers, sized to
// this soundboard's configured branch lengths.
func (sb *Soundboard) NewSoundboardState() *SoundboardState {
	st := &SoundboardState{}
	for i, l := range sb.delayLen {
		st.delay[i] = dsp.NewDelayLine(l)
	}
	return st
}

// Update runs one sample of the FDN, mixing voice input x into the
// feedback network and returning the soundboard's output sample,
// matching Soundboard::update's branch topology exactly: branch i's
// input is the shared feedback tap t plus branch (i+1)%8's previous
// output (so branch 7 feeds branch 0), even branches sum positively and
// odd branches subtract to decorrelate the output from the running
// cross-feedback sum.
func (sb *Soundboard) Update(st *SoundboardState, x float64) float64 {
	t := st.prevOt*sb.feedback + x

	var out [soundboardBranches]float64
	for i := 0; i < soundboardBranches; i++ {
		neighbor := st.prevOut[(i+1)%soundboardBranches]
		in := t + neighbor
		d := st.delay[i].Update(in, sb.delayLen[i])
		out[i] = dspcore.FlushDenormals(sb.loss[i].Process(d, &st.lossState[i]))
	}

	oe := out[0] + out[2] + out[4] + out[6]
	oo := out[1] + out[3] + out[5] + out[7]

	st.prevOt = oe + oo
	st.prevOut = out

	return (oe - oo) * sb.scale
}

// Clear re-arms the soundboard state to silence.
func (sb *Soundboard) Clear(st *SoundboardState) {
	for i := 0; i < soundboardBranches; i++ {
		st.delay[i].Clear(sb.delayLen[i])
		st.lossState[i].Reset()
		st.prevOut[i] = 0
	}
	st.prevOt = 0
}
