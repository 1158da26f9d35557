// Command piano-fit searches output gain and per-note loss/inharmonicity/
// frequency-ratio overrides against a recorded reference note, using the
// mayfly metaheuristic optimizer. Grounded on the teacher's
// cmd/piano-fit-fast (the simpler single-note variant of the teacher's
// fitting tools), scoped down to the knobs piano.Params actually exposes.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/cwbudde/pm-piano/analysis"
	"github.com/cwbudde/pm-piano/internal/fitcommon"
	"github.com/cwbudde/pm-piano/piano"
	"github.com/cwbudde/pm-piano/preset"
)

type knobDef struct {
	Name  string
	Min   float64
	Max   float64
	IsInt bool
}

type candidate struct {
	Vals []float64
}

func cloneCandidate(c candidate) candidate {
	vals := make([]float64, len(c.Vals))
	copy(vals, c.Vals)
	return candidate{Vals: vals}
}

type runReport struct {
	ReferencePath  string             `json:"reference_path"`
	PresetPath     string             `json:"preset_path"`
	OutputPreset   string             `json:"output_preset"`
	SampleRate     int                `json:"sample_rate"`
	Note           int                `json:"note"`
	DurationSec    float64            `json:"elapsed_seconds"`
	Evaluations    int                `json:"evaluations"`
	MayflyVariant  string             `json:"mayfly_variant"`
	BestScore      float64            `json:"best_score"`
	BestSimilarity float64            `json:"best_similarity"`
	BestMetrics    analysis.Metrics   `json:"best_metrics"`
	BestKnobs      map[string]float64 `json:"best_knobs"`
}

func main() {
	referencePath := flag.String("reference", "reference/c4.wav", "Reference WAV path")
	presetPath := flag.String("preset", "", "Base preset JSON path (optional; falls back to defaults)")
	outputPreset := flag.String("output-preset", "fitted.json", "Path to write the fitted preset JSON")
	reportPath := flag.String("report", "", "Optional report JSON path (default: <output-preset>.report.json)")
	note := flag.Int("note", 60, "MIDI note to fit")
	sampleRate := flag.Int("sample-rate", 22050, "Render/analysis sample rate")
	seed := flag.Int64("seed", 1, "Random seed")
	maxEvals := flag.Int("max-evals", 400, "Maximum objective evaluations")
	reportEvery := flag.Int("report-every", 20, "Print progress every N evaluations")
	releaseAfter := flag.Float64("release-after", 1.5, "Seconds before NoteOff for each evaluation render")
	renderDuration := flag.Float64("render-duration", 2.5, "Total render duration in seconds for each evaluation")
	mayflyVariant := flag.String("mayfly-variant", "desma", "Mayfly variant: ma|desma|olce|eobbma|gsasma|mpma|aoblmoa")
	mayflyPop := flag.Int("mayfly-pop", 10, "Male and female population size")
	flag.Parse()

	if *outputPreset == "" {
		die("output-preset must not be empty")
	}
	if *maxEvals < 1 {
		die("max-evals must be >= 1")
	}
	if *reportEvery < 1 {
		*reportEvery = 1
	}
	if *mayflyPop < 2 {
		*mayflyPop = 2
	}
	if *note < 21 || *note > 108 {
		die("note must be in 21..108")
	}

	var ps *preset.Preset
	if *presetPath != "" {
		loaded, err := preset.LoadJSON(*presetPath, *sampleRate)
		if err != nil {
			die("failed to load preset: %v", err)
		}
		ps = loaded
	} else {
		ps = &preset.Preset{Params: piano.NewDefaultParams(*sampleRate)}
	}

	refRaw, refSR, err := fitcommon.ReadWAVMono(*referencePath)
	if err != nil {
		die("failed to read reference: %v", err)
	}
	reference, err := fitcommon.ResampleIfNeeded(refRaw, refSR, *sampleRate)
	if err != nil {
		die("failed to resample reference: %v", err)
	}

	defs, initCand := initCandidate(ps.Params, *note)

	if resumed, ok, err := loadCandidateFromReport(reportPathOrDefault(*reportPath, *outputPreset), defs, initCand); err != nil {
		fmt.Fprintf(os.Stderr, "resume skipped: %v\n", err)
	} else if ok {
		initCand = resumed
		fmt.Println("resumed candidate from previous report")
	}

	cfg := &optimizationConfig{
		reference:      reference,
		baseParams:     ps.Params,
		defs:           defs,
		initCandidate:  initCand,
		note:           *note,
		releaseAfter:   *releaseAfter,
		renderDuration: *renderDuration,
		sampleRate:     *sampleRate,
		seed:           *seed,
		maxEvals:       *maxEvals,
		reportEvery:    *reportEvery,
		mayflyVariant:  strings.ToLower(*mayflyVariant),
		mayflyPop:      *mayflyPop,
	}

	result, err := runOptimization(cfg)
	if err != nil {
		die("optimization failed: %v", err)
	}

	bestParams := applyCandidate(ps.Params, *note, defs, result.best)
	outPreset := &preset.Preset{
		Params:    bestParams,
		IRWavPath: ps.IRWavPath,
		IRWetMix:  ps.IRWetMix,
		IRDryMix:  ps.IRDryMix,
		IRGain:    ps.IRGain,
	}
	if err := preset.SaveJSON(*outputPreset, outPreset); err != nil {
		die("failed to write fitted preset: %v", err)
	}

	knobVals := make(map[string]float64, len(defs))
	for i, d := range defs {
		knobVals[d.Name] = result.best.Vals[i]
	}
	report := runReport{
		ReferencePath:  *referencePath,
		PresetPath:     *presetPath,
		OutputPreset:   *outputPreset,
		SampleRate:     *sampleRate,
		Note:           *note,
		DurationSec:    result.elapsed,
		Evaluations:    result.evals,
		MayflyVariant:  strings.ToLower(*mayflyVariant),
		BestScore:      result.bestMetrics.Score,
		BestSimilarity: result.bestMetrics.Similarity,
		BestMetrics:    result.bestMetrics,
		BestKnobs:      knobVals,
	}
	if err := writeReport(reportPathOrDefault(*reportPath, *outputPreset), report); err != nil {
		die("failed to write report: %v", err)
	}

	fmt.Printf("Done evals=%d elapsed=%.1fs best_score=%.4f best_similarity=%.2f%% variant=%s\n",
		result.evals, result.elapsed, result.bestMetrics.Score, result.bestMetrics.Similarity*100.0, strings.ToLower(*mayflyVariant))
}

func reportPathOrDefault(reportPath, outputPreset string) string {
	if reportPath != "" {
		return reportPath
	}
	return outputPreset + ".report.json"
}

func writeReport(path string, report runReport) error {
	b, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func loadCandidateFromReport(path string, defs []knobDef, fallback candidate) (candidate, bool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fallback, false, nil
		}
		return fallback, false, err
	}

	var rep struct {
		BestKnobs map[string]float64 `json:"best_knobs"`
	}
	if err := json.Unmarshal(b, &rep); err != nil {
		return fallback, false, err
	}
	if len(rep.BestKnobs) == 0 {
		return fallback, false, nil
	}

	vals := make([]float64, len(fallback.Vals))
	copy(vals, fallback.Vals)
	updated := false
	for i, d := range defs {
		if v, ok := rep.BestKnobs[d.Name]; ok {
			vals[i] = clamp(v, d.Min, d.Max)
			if d.IsInt {
				vals[i] = math.Round(vals[i])
			}
			updated = true
		}
	}
	if !updated {
		return fallback, false, nil
	}
	return candidate{Vals: vals}, true, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
