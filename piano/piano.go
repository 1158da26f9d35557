// Package piano implements a real-time physically-modeled piano
// synthesis engine: a felt hammer driving a digital-waveguide string set
// per key, summed through a shared feedback-delay-network soundboard,
// with polyphony managed by a pooled, worker-assisted voice manager.
package piano

// Piano is the engine's external facade: MIDI event demux, the pooled
// voice manager, and the shared soundboard reverberator, matching
// Piano::update's role in the original firmware.
type Piano struct {
	sys    *SystemParameters
	params *Params

	nm      *NoteManager
	sb      *Soundboard
	sbState *SoundboardState

	pedal  PedalState
	mixBuf []float64
}

// NewPiano constructs a Piano bound to params but does not yet allocate
// its voice pool; call Initialize to do that, matching the two-phase
// Piano::initialize surface the spec's external interfaces describe.
func NewPiano(params *Params) *Piano {
	if params == nil {
		params = NewDefaultParams(22050)
	}
	return &Piano{
		sys:    params.System,
		params: params,
	}
}

// Initialize builds the 88-key table and allocates a polyphony-sized
// voice pool plus the soundboard, matching Piano::initialize. Startup
// failures in this port are limited to a nil/invalid SystemParameters;
// everything else (OS object creation in the original firmware) does not
// apply to a Go worker goroutine.
func (p *Piano) Initialize(polyphony int) bool {
	if p.sys == nil || p.sys.SampleRate <= 0 {
		return false
	}
	p.nm = NewNoteManager(p.sys, polyphony)
	p.sb = NewSoundboard(p.sys)
	p.sbState = p.sb.NewSoundboardState()
	return true
}

// Close shuts down the voice manager's worker goroutine. Call once at
// shutdown; no further Update calls are valid afterward.
func (p *Piano) Close() {
	if p.nm != nil {
		p.nm.Close()
	}
}

// CurrentNoteCount reports how many voices are currently sounding, for
// UI/telemetry collaborators.
func (p *Piano) CurrentNoteCount() int {
	if p.nm == nil {
		return 0
	}
	return p.nm.CurrentNoteCount()
}

// Update drains midi to empty, applies every message to pedal/voice
// state, then renders exactly nSamples frames into out, matching
// Piano::update. No partial block is ever emitted: out is always fully
// written, even if the queue was empty or every voice is silent.
func (p *Piano) Update(out []int32, nSamples int, midi *MidiQueue) {
	midi.DrainAll(p.handleMessage)

	if cap(p.mixBuf) < nSamples {
		p.mixBuf = make([]float64, nSamples)
	}
	buf := p.mixBuf[:nSamples]
	for i := range buf {
		buf[i] = 0
	}

	p.nm.Update(buf, nSamples, &p.pedal)

	for i := 0; i < nSamples; i++ {
		s := p.sb.Update(p.sbState, buf[i]) * p.params.OutputGain
		out[i] = clampInt32(s)
	}

	p.pedal.ClearTrigger()
}

// SetOutputScale adjusts the soundboard's post-FDN output scale at
// runtime, matching Soundboard::setScale in the original firmware.
func (p *Piano) SetOutputScale(scale float64) {
	p.sys.SoundboardScale = scale
	if p.sb != nil {
		p.sb.scale = scale
	}
}

// handleMessage applies one MIDI channel-voice message to pedal state or
// the voice manager, matching Piano's event demux (spec.md section 4.9).
// System-common/system-realtime bytes never reach here: the queue only
// ever carries 1-3 byte channel-voice messages.
func (p *Piano) handleMessage(m MidiMessage) {
	if m.Len < 1 {
		return
	}
	status := m.Data[0] & 0xF0
	switch status {
	case 0x80:
		if m.Len < 2 {
			return
		}
		p.noteOff(int(m.Data[1]))
	case 0x90:
		if m.Len < 3 {
			return
		}
		p.noteOn(int(m.Data[1]), int(m.Data[2]))
	case 0xB0:
		if m.Len < 3 {
			return
		}
		p.controlChange(m.Data[1], m.Data[2])
	}
}

func (p *Piano) noteOn(note, velocity int) {
	k := note - 21
	if k < 0 || k >= NNotes {
		return
	}
	v := float64(velocity) * 10.0 / 127.0
	p.nm.KeyOn(k, v, p.pedal.Soft)
}

func (p *Piano) noteOff(note int) {
	k := note - 21
	if k < 0 || k >= NNotes {
		return
	}
	p.nm.KeyOff(k)
}

func (p *Piano) controlChange(cc, value byte) {
	switch cc {
	case 64: // damper/sustain
		p.pedal.SetDamper(value >= 64)
	case 66: // sostenuto
		p.pedal.NoteAnyHeld(p.nm.AnyKeyHeld())
		p.pedal.SetSostenuto(value >= 64)
	case 67: // soft / una corda
		p.pedal.SetSoft(value >= 64)
	}
}

func clampInt32(v float64) int32 {
	const maxI32 = float64(1<<31 - 1)
	const minI32 = float64(-1 << 31)
	if v > maxI32 {
		return 1<<31 - 1
	}
	if v < minI32 {
		return -1 << 31
	}
	return int32(v)
}
