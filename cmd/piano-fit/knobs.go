package main

import (
	"fmt"
	"math"

	"github.com/cwbudde/pm-piano/piano"
)

// initCandidate builds the knob set and its starting values from base,
// scoped to the fields piano.Params and piano.NoteOverride actually expose:
// overall output gain plus this note's frequency ratio, inharmonicity, and
// loss scale.
func initCandidate(base *piano.Params, note int) ([]knobDef, candidate) {
	np := base.PerNote[note]
	if np == nil {
		np = &piano.NoteOverride{FreqRatio: 1.0, Inharmonicity: 1.0, Loss: 1.0}
	}
	freqRatio := np.FreqRatio
	if freqRatio == 0 {
		freqRatio = 1.0
	}
	inharm := np.Inharmonicity
	if inharm == 0 {
		inharm = 1.0
	}
	loss := np.Loss
	if loss == 0 {
		loss = 1.0
	}

	defs := []knobDef{
		{Name: "output_gain", Min: 4000.0, Max: 32000.0},
		{Name: fmt.Sprintf("per_note.%d.freq_ratio", note), Min: 0.98, Max: 1.02},
		{Name: fmt.Sprintf("per_note.%d.inharmonicity", note), Min: 0.5, Max: 2.0},
		{Name: fmt.Sprintf("per_note.%d.loss", note), Min: 0.5, Max: 2.0},
	}
	vals := []float64{base.OutputGain, freqRatio, inharm, loss}
	for i := range vals {
		vals[i] = clamp(vals[i], defs[i].Min, defs[i].Max)
	}
	return defs, candidate{Vals: vals}
}

// applyCandidate returns a copy of base with the candidate's knob values
// written into the appropriate Params/NoteOverride fields.
func applyCandidate(base *piano.Params, note int, defs []knobDef, c candidate) *piano.Params {
	p := cloneParams(base)
	if p.PerNote == nil {
		p.PerNote = make(map[int]*piano.NoteOverride)
	}
	np := p.PerNote[note]
	if np == nil {
		np = &piano.NoteOverride{}
		p.PerNote[note] = np
	}

	freqRatioName := fmt.Sprintf("per_note.%d.freq_ratio", note)
	inharmName := fmt.Sprintf("per_note.%d.inharmonicity", note)
	lossName := fmt.Sprintf("per_note.%d.loss", note)

	for i, d := range defs {
		v := c.Vals[i]
		switch d.Name {
		case "output_gain":
			p.OutputGain = v
		case freqRatioName:
			np.FreqRatio = v
		case inharmName:
			np.Inharmonicity = v
		case lossName:
			np.Loss = v
		}
	}
	return p
}

func cloneParams(base *piano.Params) *piano.Params {
	p := *base
	if base.PerNote != nil {
		p.PerNote = make(map[int]*piano.NoteOverride, len(base.PerNote))
		for k, v := range base.PerNote {
			if v == nil {
				continue
			}
			cp := *v
			p.PerNote[k] = &cp
		}
	}
	return &p
}

// fromNormalized maps a mayfly position vector in [0,1]^N onto each knob's
// natural [Min,Max] range.
func fromNormalized(pos []float64, defs []knobDef) candidate {
	vals := make([]float64, len(defs))
	for i := range defs {
		x := 0.0
		if i < len(pos) {
			x = clamp(pos[i], 0, 1)
		}
		v := defs[i].Min + x*(defs[i].Max-defs[i].Min)
		if defs[i].IsInt {
			v = math.Round(v)
		}
		vals[i] = v
	}
	return candidate{Vals: vals}
}
