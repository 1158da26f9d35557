package piano

import "github.com/cwbudde/pm-piano/fixedpoint"

// HammerODEMode selects which of the three adaptive ODE solvers a note's
// hammer runs, chosen once at note initialization from the note's
// normalized key rate (a log-frequency position between A0 and C8):
// low notes (slow contact dynamics relative to the sample rate) get away
// with explicit Euler, middle notes need the midpoint corrector, and the
// fastest high notes need RK4 to stay stable.
type HammerODEMode int

const (
	HammerEuler HammerODEMode = iota
	HammerMidpoint
	HammerRK4
)

// hammerKeyRateThresholds select the solver, matching note.cpp.
const (
	hammerMidpointThreshold = 0.4
	hammerRK4Threshold      = 0.85
)

// hammerSolverFor returns the ODE mode for a given normalized key rate.
func hammerSolverFor(keyRate float64) HammerODEMode {
	switch {
	case keyRate < hammerMidpointThreshold:
		return HammerEuler
	case keyRate < hammerRK4Threshold:
		return HammerMidpoint
	default:
		return HammerRK4
	}
}

// Hammer holds the immutable nonlinear felt-contact coefficients for one
// note, derived once at note initialization from mass m, stiffness K,
// stiffness exponent p, string impedance Z and hysteresis constant alpha.
type Hammer struct {
	p    float64 // stiffness exponent
	c1   float64 // log2(K/2Z)
	c2   float64 // alpha/dt
	c3   float64 // dt*2Z/m
	c2h  float64 // 2*c2, used by the half-step stages
	c3h  float64 // c3/2, used by the half-step stages
	step float64 // simulation time step, 1/sampleRate
	mode HammerODEMode
}

// DT returns the simulation time step this hammer was initialized with.
func (h *Hammer) DT() float64 { return h.step }

// NewHammer derives a hammer's contact coefficients, matching
// Hammer::initialize.
func NewHammer(m, k, p, z, alpha, dt float64, mode HammerODEMode) *Hammer {
	return &Hammer{
		p:    p,
		c1:   fixedpoint.Log2Estimate2(k/(2*z), 0),
		c2:   alpha / dt,
		c3:   dt * (2 * z) / m,
		c2h:  2 * (alpha / dt),
		c3h:  0.5 * (dt * (2 * z) / m),
		step: dt,
		mode: mode,
	}
}

// HammerState carries one voice's felt-contact integrator state.
type HammerState struct {
	V         float64 // hammer velocity
	U         float64 // felt compression
	PrevUpK2Z float64 // upK_2Z from the previous sample, for the hysteresis term
	F2Z       float64 // normalized contact force F/2Z
	Idle      bool
}

// Reset re-arms the hammer state for a fresh strike at initial velocity
// v, matching Hammer::State::reset.
func (s *HammerState) Reset(v float64) {
	s.V = v
	s.U = 0
	s.PrevUpK2Z = 0
	s.F2Z = 0
	s.Idle = false
}

// computeVelocity runs one explicit integration sub-step shared by all
// three solvers: given the current (v,u,F2Z), the string velocity vin,
// the hysteresis feedback coefficients (c2,c3) and step size dt, it
// returns the updated (v,u,F2Z,upK2Z).
func (h *Hammer) computeVelocity(v, u, f2z, vin, dt, prevUpK2Z, c2, c3 float64) (newV, newU, newF2Z, upK2Z float64) {
	tv := v - vin - f2z
	du := tv * dt
	newU = u + du

	upK2Z = 0
	if newU > 0 {
		l := fixedpoint.Log2Estimate2(newU, 0)
		tl := h.c1 + l*h.p
		upK2Z = fixedpoint.Exp2Estimate2(tl, 0)
	}

	dupK2Z := upK2Z - prevUpK2Z
	newF2Z = fixedpoint.ClampPositive(upK2Z + c2*dupK2Z)
	newV = v - newF2Z*c3
	return newV, newU, newF2Z, upK2Z
}

// Update advances the hammer one sample against string velocity vin,
// using whichever solver the note selected at initialization.
func (h *Hammer) Update(s *HammerState, vin, dt float64) {
	switch h.mode {
	case HammerEuler:
		h.updateEuler(s, vin, dt)
	case HammerMidpoint:
		h.updateMidpoint(s, vin, dt)
	default:
		h.updateRK4(s, vin, dt)
	}
}

func (h *Hammer) updateEuler(s *HammerState, vin, dt float64) {
	v, u, f2z, upK2Z := h.computeVelocity(s.V, s.U, s.F2Z, vin, dt, s.PrevUpK2Z, h.c2, h.c3)
	s.V, s.U, s.F2Z = v, u, f2z
	s.PrevUpK2Z = upK2Z
}

func (h *Hammer) updateMidpoint(s *HammerState, vin, dt float64) {
	vc, uc, f2zc, _ := h.computeVelocity(s.V, s.U, s.F2Z, vin, dt*0.5, s.PrevUpK2Z, h.c2h, h.c3h)
	// The corrector step deliberately reuses the ORIGINAL felt
	// compression s.U rather than the half-step uc: only the velocity
	// carries the multi-stage prediction forward, verbatim against the
	// source firmware.
	v, u, f2z, upK2Z := h.computeVelocity(vc, s.U, f2zc, vin, dt, s.PrevUpK2Z, h.c2, h.c3)
	s.V, s.U, s.F2Z = v, u, f2z
	s.PrevUpK2Z = upK2Z
}

func (h *Hammer) updateRK4(s *HammerState, vin, dt float64) {
	v2, u2, f2zc, _ := h.computeVelocity(s.V, s.U, s.F2Z, vin, dt*0.5, s.PrevUpK2Z, h.c2h, h.c3h)
	v3, _, f2zc2, _ := h.computeVelocity(v2, u2, s.F2Z, vin, dt*0.5, s.PrevUpK2Z, h.c2h, h.c3h)
	// The v4 sub-step and the final corrector below reuse the ORIGINAL s.U
	// rather than the previous sub-step's u, the same verbatim quirk as
	// the midpoint solver's corrector; only v3's step takes u2.
	v4, _, f2zc3, _ := h.computeVelocity(v3, s.U, s.F2Z, vin, dt, s.PrevUpK2Z, h.c2, h.c3)
	_ = f2zc
	_ = f2zc2

	vAvg := (s.V + 2*v2 + 2*v3 + v4) / 6.0

	v, u, f2z, upK2Z := h.computeVelocity(vAvg, s.U, f2zc3, vin, dt, s.PrevUpK2Z, h.c2, h.c3)
	s.V, s.U, s.F2Z = v, u, f2z
	s.PrevUpK2Z = upK2Z
}
