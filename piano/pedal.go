package piano

// PedalState mirrors the three piano pedals. Damper (sustain) and Soft
// (una corda) are simple level-triggered booleans; Sostenuto additionally
// exposes SostenutoTrigger, a one-block edge pulse set the instant the
// pedal transitions off->on.
//
// The original firmware computes SostenutoTrigger independent of any
// note's key state (PedalState::setSostenuto just edge-detects the CC
// itself). This port instead gates the edge on "at least one key is
// currently held", matching this repo's documented invariant that
// sostenuto only captures notes that are actually ringing at the moment
// the pedal comes down — a deliberate behavioral deviation from the
// original, recorded in DESIGN.md, not a reproduction of a bug.
type PedalState struct {
	Damper            bool
	Sostenuto         bool
	SostenutoTrigger  bool
	Soft              bool
	anyKeyHeld        bool
	prevSostenutoDown bool
}

// SetDamper sets the sustain pedal level.
func (p *PedalState) SetDamper(down bool) {
	p.Damper = down
}

// SetSoft sets the soft (una corda) pedal level.
func (p *PedalState) SetSoft(down bool) {
	p.Soft = down
}

// NoteAnyHeld reports to the pedal state whether any key is currently
// physically held, so SetSostenuto can gate its edge trigger on it.
func (p *PedalState) NoteAnyHeld(held bool) {
	p.anyKeyHeld = held
}

// SetSostenuto sets the sostenuto pedal level, raising SostenutoTrigger
// for exactly the block in which the pedal transitions down while at
// least one key is held.
func (p *PedalState) SetSostenuto(down bool) {
	p.SostenutoTrigger = !p.prevSostenutoDown && down && p.anyKeyHeld
	p.prevSostenutoDown = down
	p.Sostenuto = down
}

// ClearTrigger resets the one-block sostenuto edge pulse; called by
// Piano.Update after every block has consumed it.
func (p *PedalState) ClearTrigger() {
	p.SostenutoTrigger = false
}
