package piano

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/cwbudde/pm-piano/dsp"
)

// NNotes is the number of playable keys, MIDI 21..108 inclusive.
const NNotes = 88

// noteSlot is one entry in the voice pool: a fixed physical voice
// (coefficient-independent scratch arena) that can be bound to any of the
// 88 keys over its lifetime. prev/next thread the doubly-linked active
// list; nextFree threads the singly-linked free list. noteIndex is the
// key currently sounding through this slot, or -1 when unattached.
type noteSlot struct {
	noteIndex int
	boundNote int // which key's Note shape state/arena currently match, -1 if none yet
	state     *NoteState
	arena     []float64

	prev, next int
	nextFree   int
}

// NoteManager owns the static 88-key coefficient table and the pooled
// voice assignment: a free list, a doubly-linked active list ordered so
// the least-recently-released voice is always at the head (the first
// candidate for stealing), and the noteToVoice lookup the spec's
// invariants are phrased against. Grounded on note_manager.cpp/h.
type NoteManager struct {
	sys   *SystemParameters
	notes [NNotes]*Note

	nodes       []noteSlot
	freeHead    int
	activeHead  int
	activeTail  int
	noteToVoice [NNotes]int

	workItems []int
	workBuf   []float64
	wIdx      atomic.Int64
	nSamples  int
	pedal     *PedalState

	startCh chan struct{}
	doneCh  chan struct{}
	exitCh  chan struct{}
}

// NewNoteManager builds the 88-key frequency/physics table and allocates
// a pool of `polyphony` voices, each with a scratch arena sized to the
// largest key's total delay-line demand (the lowest playable note, whose
// period is longest), matching the original firmware's upfront
// allocator sizing and its startup diagnostic print.
func NewNoteManager(sys *SystemParameters, polyphony int) *NoteManager {
	if polyphony < 1 {
		polyphony = 1
	}
	m := &NoteManager{
		sys:      sys,
		freeHead: -1,
		activeHead: -1,
		activeTail: -1,
		startCh:  make(chan struct{}),
		doneCh:   make(chan struct{}),
		exitCh:   make(chan struct{}),
	}

	maxArena := 0
	for i := 0; i < NNotes; i++ {
		freq := midiToFreq64(i + 21)
		n := NewNote(freq, sys, nil)
		m.notes[i] = n
		if sz := n.ArenaSize(); sz > maxArena {
			maxArena = sz
		}
		m.noteToVoice[i] = -1
	}

	m.nodes = make([]noteSlot, polyphony)
	for i := range m.nodes {
		m.nodes[i] = noteSlot{
			noteIndex: -1,
			boundNote: -1,
			arena:     make([]float64, maxArena),
			prev:      -1,
			next:      -1,
			nextFree:  i + 1,
		}
	}
	m.nodes[len(m.nodes)-1].nextFree = -1
	m.freeHead = 0

	if sys.Verbose {
		fmt.Fprintf(os.Stderr, "notemanager: notes %d, voices %d, arena %d words/voice\n", NNotes, polyphony, maxArena)
	}

	go m.workerLoop()
	return m
}

// Close shuts down the manager's worker goroutine. Safe to call once.
func (m *NoteManager) Close() {
	close(m.exitCh)
}

// Polyphony returns the configured voice-pool size.
func (m *NoteManager) Polyphony() int {
	return len(m.nodes)
}

// CurrentNoteCount returns the number of currently active voices.
func (m *NoteManager) CurrentNoteCount() int {
	n := 0
	for i := m.activeHead; i != -1; i = m.nodes[i].next {
		n++
	}
	return n
}

// attachNote rebinds slot to key index note, building fresh NoteState
// wrappers over the slot's existing arena only when the slot wasn't
// already shaped for this key: the backing sample buffers are always the
// same preallocated arena, so a retrigger of the same key on the same
// slot allocates nothing.
func (m *NoteManager) attachNote(slot *noteSlot, note int) {
	if slot.boundNote == note && slot.state != nil {
		return
	}
	off := 0
	take := func(maxDelay int) []float64 {
		n := dsp.BufferSizeFor(maxDelay)
		b := slot.arena[off : off+n]
		off += n
		return b
	}
	slot.state = m.notes[note].NewNoteStateInArena(take)
	slot.boundNote = note
}

func (m *NoteManager) popFree() int {
	idx := m.freeHead
	if idx < 0 {
		return -1
	}
	m.freeHead = m.nodes[idx].nextFree
	m.nodes[idx].nextFree = -1
	return idx
}

func (m *NoteManager) pushFree(idx int) {
	m.nodes[idx].nextFree = m.freeHead
	m.freeHead = idx
}

func (m *NoteManager) pushActiveTail(idx int) {
	m.nodes[idx].prev = m.activeTail
	m.nodes[idx].next = -1
	if m.activeTail >= 0 {
		m.nodes[m.activeTail].next = idx
	} else {
		m.activeHead = idx
	}
	m.activeTail = idx
}

func (m *NoteManager) pushActiveFront(idx int) {
	m.nodes[idx].next = m.activeHead
	m.nodes[idx].prev = -1
	if m.activeHead >= 0 {
		m.nodes[m.activeHead].prev = idx
	} else {
		m.activeTail = idx
	}
	m.activeHead = idx
}

func (m *NoteManager) popActiveFront() int {
	idx := m.activeHead
	if idx < 0 {
		return -1
	}
	m.removeActive(idx)
	return idx
}

func (m *NoteManager) removeActive(idx int) {
	n := &m.nodes[idx]
	if n.prev >= 0 {
		m.nodes[n.prev].next = n.next
	} else {
		m.activeHead = n.next
	}
	if n.next >= 0 {
		m.nodes[n.next].prev = n.prev
	} else {
		m.activeTail = n.prev
	}
	n.prev, n.next = -1, -1
}

// KeyOn triggers (or retriggers) a key at velocity v (hammer initial
// velocity, m/s), stealing the least-recently-released active voice
// when the pool is exhausted, matching NoteManager::keyOn. soft
// optionally selects the una corda hammer coefficients for this strike.
func (m *NoteManager) KeyOn(note int, v float64, soft ...bool) {
	if note < 0 || note >= NNotes {
		return
	}
	if idx := m.noteToVoice[note]; idx >= 0 {
		m.attachNote(&m.nodes[idx], note)
		m.notes[note].KeyOn(m.nodes[idx].state, v, soft...)
		return
	}

	idx := m.popFree()
	if idx < 0 {
		idx = m.popActiveFront()
		if idx < 0 {
			return
		}
		if old := m.nodes[idx].noteIndex; old >= 0 {
			m.noteToVoice[old] = -1
		}
	}

	m.attachNote(&m.nodes[idx], note)
	m.notes[note].KeyOn(m.nodes[idx].state, v, soft...)
	m.nodes[idx].noteIndex = note
	m.noteToVoice[note] = idx
	m.pushActiveTail(idx)
}

// KeyOff releases a key; the voice keeps sounding if sustained by a
// pedal. A released voice is moved behind the voices released before it
// and ahead of every still-held voice, so the oldest release is stolen
// first and no held voice is stolen while a released one remains.
func (m *NoteManager) KeyOff(note int) {
	if note < 0 || note >= NNotes {
		return
	}
	idx := m.noteToVoice[note]
	if idx < 0 {
		return
	}
	m.notes[note].KeyOff(m.nodes[idx].state)
	m.removeActive(idx)
	h := m.activeHead
	for h != -1 && !m.nodes[h].state.keyOn {
		h = m.nodes[h].next
	}
	switch {
	case h == -1:
		m.pushActiveTail(idx)
	case h == m.activeHead:
		m.pushActiveFront(idx)
	default:
		p := m.nodes[h].prev
		m.nodes[idx].prev, m.nodes[idx].next = p, h
		m.nodes[p].next, m.nodes[h].prev = idx, idx
	}
}

// AnyKeyHeld reports whether at least one voice's key is currently
// physically held (ignoring pedal sustain), used to gate the sostenuto
// edge trigger.
func (m *NoteManager) AnyKeyHeld() bool {
	for i := m.activeHead; i != -1; i = m.nodes[i].next {
		if m.nodes[i].state.keyOn {
			return true
		}
	}
	return false
}

// workerLoop is the manager's single long-lived DSP worker: it blocks on
// startCh at the top of every block, drains the shared work queue
// alongside the audio-driver thread via wIdx.fetch_add, and signals
// doneCh when its share is rendered. It never allocates and never reads
// the active/free lists directly, only the immutable work-item snapshot
// and the per-voice state NoteManager.Update already handed it.
func (m *NoteManager) workerLoop() {
	for {
		select {
		case <-m.startCh:
			m.drainWork(m.workBuf)
			m.doneCh <- struct{}{}
		case <-m.exitCh:
			return
		}
	}
}

// drainWork pulls voice indices from the shared atomic counter until the
// work-item snapshot is exhausted, rendering each into dst with +=.
func (m *NoteManager) drainWork(dst []float64) {
	for {
		i := int(m.wIdx.Add(1)) - 1
		if i >= len(m.workItems) {
			return
		}
		slot := &m.nodes[m.workItems[i]]
		m.notes[slot.noteIndex].Update(dst, slot.state, m.pedal)
	}
}

// Update renders nSamples of audio, splitting the active voice list
// between the calling (audio-driver) thread and the one worker thread:
// both race the same atomic work-item counter so neither blocks waiting
// on a fixed partition, then the caller waits for the worker's SYNC
// signal before reducing the worker's buffer into dst. Matches
// NoteManager::update's concurrency structure (spec.md section 5).
func (m *NoteManager) Update(dst []float64, nSamples int, pedal *PedalState) {
	m.workItems = m.workItems[:0]
	for i := m.activeHead; i != -1; i = m.nodes[i].next {
		m.workItems = append(m.workItems, i)
	}

	if cap(m.workBuf) < nSamples {
		m.workBuf = make([]float64, nSamples)
	}
	m.workBuf = m.workBuf[:nSamples]
	for i := range m.workBuf {
		m.workBuf[i] = 0
	}

	m.nSamples = nSamples
	m.pedal = pedal
	m.wIdx.Store(0)

	m.startCh <- struct{}{}
	m.drainWork(dst)
	<-m.doneCh

	for i := range dst[:nSamples] {
		dst[i] += m.workBuf[i]
	}

	m.sweepIdle()
}

// sweepIdle removes every voice whose Note.Update marked it idle this
// block, returning it to the free list and clearing its noteToVoice
// mapping, matching step 6 of NoteManager::update.
func (m *NoteManager) sweepIdle() {
	i := m.activeHead
	for i != -1 {
		next := m.nodes[i].next
		if m.nodes[i].state.Idle() {
			note := m.nodes[i].noteIndex
			m.removeActive(i)
			m.nodes[i].noteIndex = -1
			m.noteToVoice[note] = -1
			m.pushFree(i)
		}
		i = next
	}
}
