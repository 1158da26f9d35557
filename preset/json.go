// Package preset loads instrument presets from JSON, layering per-build
// and per-note overrides on top of piano.NewDefaultParams, matching the
// original firmware's JSON preset loader.
package preset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cwbudde/pm-piano/piano"
)

// File is the JSON schema for an instrument preset.
type File struct {
	OutputGain   *float64 `json:"output_gain"`
	MaxPolyphony *int     `json:"max_polyphony"`

	// IR settings apply only to the offline cabinet/room convolution
	// stage (cmd/piano-render); they are not part of piano.Params since
	// the real-time engine never convolves.
	IRWavPath string   `json:"ir_wav_path"`
	IRWetMix  *float64 `json:"ir_wet_mix"`
	IRDryMix  *float64 `json:"ir_dry_mix"`
	IRGain    *float64 `json:"ir_gain"`

	PerNote map[string]NoteSetting `json:"per_note"`
}

// NoteSetting is a partial per-note override entry in a preset file.
type NoteSetting struct {
	FreqRatio     *float64 `json:"freq_ratio"`
	Inharmonicity *float64 `json:"inharmonicity"`
	Loss          *float64 `json:"loss"`
}

// Preset is the resolved result of loading a preset file: the engine
// params plus the offline-only cabinet IR settings.
type Preset struct {
	Params *piano.Params

	IRWavPath string
	IRWetMix  float64
	IRDryMix  float64
	IRGain    float64
}

// LoadJSON loads a preset JSON file and applies it on top of
// piano.NewDefaultParams(sampleRate). A relative ir_wav_path is resolved
// against the preset file's own directory.
func LoadJSON(path string, sampleRate int) (*Preset, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f File
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, err
	}

	ps := &Preset{
		Params:   piano.NewDefaultParams(sampleRate),
		IRWetMix: 1.0,
		IRDryMix: 0.0,
		IRGain:   1.0,
	}
	if err := ApplyFile(ps, &f); err != nil {
		return nil, err
	}

	if ps.IRWavPath != "" && !filepath.IsAbs(ps.IRWavPath) {
		base := filepath.Dir(path)
		ps.IRWavPath = filepath.Clean(filepath.Join(base, ps.IRWavPath))
	}
	return ps, nil
}

// SaveJSON writes a Preset back out in the same schema LoadJSON reads,
// used by cmd/piano-fit to persist a fitted parameter set.
func SaveJSON(path string, ps *Preset) error {
	f := File{
		OutputGain:   floatPtr(ps.Params.OutputGain),
		MaxPolyphony: intPtr(ps.Params.MaxPolyphony),
		IRWavPath:    ps.IRWavPath,
		IRWetMix:     floatPtr(ps.IRWetMix),
		IRDryMix:     floatPtr(ps.IRDryMix),
		IRGain:       floatPtr(ps.IRGain),
	}
	if len(ps.Params.PerNote) > 0 {
		f.PerNote = make(map[string]NoteSetting, len(ps.Params.PerNote))
		for note, np := range ps.Params.PerNote {
			if np == nil {
				continue
			}
			f.PerNote[strconv.Itoa(note)] = NoteSetting{
				FreqRatio:     floatPtrNonZero(np.FreqRatio),
				Inharmonicity: floatPtrNonZero(np.Inharmonicity),
				Loss:          floatPtrNonZero(np.Loss),
			}
		}
	}

	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func floatPtrNonZero(v float64) *float64 {
	if v == 0 {
		return nil
	}
	return &v
}

// ApplyFile applies a parsed preset file onto an existing Preset.
func ApplyFile(dst *Preset, f *File) error {
	if dst == nil || dst.Params == nil {
		return fmt.Errorf("preset: nil destination")
	}
	if f == nil {
		return nil
	}

	if f.OutputGain != nil {
		if *f.OutputGain <= 0 {
			return fmt.Errorf("output_gain must be > 0")
		}
		dst.Params.OutputGain = *f.OutputGain
	}
	if f.MaxPolyphony != nil {
		if *f.MaxPolyphony < 1 {
			return fmt.Errorf("max_polyphony must be >= 1")
		}
		dst.Params.MaxPolyphony = *f.MaxPolyphony
	}
	if f.IRWavPath != "" {
		dst.IRWavPath = strings.TrimSpace(f.IRWavPath)
	}
	if f.IRWetMix != nil {
		if *f.IRWetMix < 0 {
			return fmt.Errorf("ir_wet_mix must be >= 0")
		}
		dst.IRWetMix = *f.IRWetMix
	}
	if f.IRDryMix != nil {
		if *f.IRDryMix < 0 {
			return fmt.Errorf("ir_dry_mix must be >= 0")
		}
		dst.IRDryMix = *f.IRDryMix
	}
	if f.IRGain != nil {
		if *f.IRGain <= 0 {
			return fmt.Errorf("ir_gain must be > 0")
		}
		dst.IRGain = *f.IRGain
	}

	if len(f.PerNote) == 0 {
		return nil
	}
	if dst.Params.PerNote == nil {
		dst.Params.PerNote = make(map[int]*piano.NoteOverride)
	}

	keys := make([]string, 0, len(f.PerNote))
	for k := range f.PerNote {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		note, err := strconv.Atoi(k)
		if err != nil || note < 21 || note > 108 {
			return fmt.Errorf("invalid per_note key %q (expected 21..108)", k)
		}
		override := f.PerNote[k]
		np, ok := dst.Params.PerNote[note]
		if !ok || np == nil {
			np = &piano.NoteOverride{}
			dst.Params.PerNote[note] = np
		}
		if override.FreqRatio != nil {
			if *override.FreqRatio <= 0 {
				return fmt.Errorf("per_note[%d].freq_ratio must be > 0", note)
			}
			np.FreqRatio = *override.FreqRatio
		}
		if override.Inharmonicity != nil {
			if *override.Inharmonicity < 0 {
				return fmt.Errorf("per_note[%d].inharmonicity must be >= 0", note)
			}
			np.Inharmonicity = *override.Inharmonicity
		}
		if override.Loss != nil {
			if *override.Loss <= 0 || *override.Loss > 4 {
				return fmt.Errorf("per_note[%d].loss must be in (0,4]", note)
			}
			np.Loss = *override.Loss
		}
	}
	return nil
}
