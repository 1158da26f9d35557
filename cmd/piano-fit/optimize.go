package main

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/cwbudde/mayfly"
	"github.com/cwbudde/pm-piano/analysis"
	"github.com/cwbudde/pm-piano/piano"
)

type optimizationConfig struct {
	reference      []float64
	baseParams     *piano.Params
	defs           []knobDef
	initCandidate  candidate
	note           int
	releaseAfter   float64
	renderDuration float64
	sampleRate     int
	seed           int64
	maxEvals       int
	reportEvery    int
	mayflyVariant  string
	mayflyPop      int
}

type optimizationResult struct {
	best        candidate
	bestMetrics analysis.Metrics
	evals       int
	elapsed     float64
}

// runOptimization runs successive mayfly rounds against the objective
// until maxEvals is spent, tracking the best candidate seen so far.
// Grounded on the teacher's cmd/piano-fit-fast round loop, reduced to a
// single worker since one evaluation render is already cheap at this
// scope (a few seconds of single-note audio, not a dual-IR convolution).
func runOptimization(cfg *optimizationConfig) (*optimizationResult, error) {
	evaluate := func(c candidate) (analysis.Metrics, error) {
		p := applyCandidate(cfg.baseParams, cfg.note, cfg.defs, c)
		mono, err := renderCandidate(p, cfg.note, cfg.sampleRate, cfg.renderDuration, cfg.releaseAfter)
		if err != nil {
			return analysis.Metrics{}, err
		}
		return analysis.Compare(cfg.reference, mono, cfg.sampleRate), nil
	}

	start := time.Now()
	best := cloneCandidate(cfg.initCandidate)
	bestMetrics, err := evaluate(best)
	if err != nil {
		return nil, fmt.Errorf("initial evaluation failed: %w", err)
	}
	fmt.Printf("Start score=%.4f similarity=%.2f%%\n", bestMetrics.Score, bestMetrics.Similarity*100.0)

	evals := 1
	round := 0
	for evals < cfg.maxEvals {
		round++
		remaining := cfg.maxEvals - evals
		budget := remaining
		if budget > cfg.mayflyPop*12 {
			budget = cfg.mayflyPop * 12
		}
		iters := maxInt(1, budget/(2*cfg.mayflyPop))

		mayflyCfg, err := newMayflyConfig(cfg.mayflyVariant, cfg.mayflyPop, len(cfg.defs), iters)
		if err != nil {
			return nil, err
		}
		mayflyCfg.Rand = rand.New(rand.NewSource(cfg.seed + int64(round)*7919))
		mayflyCfg.ObjectiveFunc = func(pos []float64) float64 {
			if evals >= cfg.maxEvals {
				return bestMetrics.Score + 1.0
			}
			evals++
			cand := fromNormalized(pos, cfg.defs)
			m, err := evaluate(cand)
			if err != nil {
				return bestMetrics.Score + 0.8
			}
			if m.Score < bestMetrics.Score {
				best = cloneCandidate(cand)
				bestMetrics = m
				fmt.Printf("Improved eval=%d score=%.4f sim=%.2f%%\n", evals, bestMetrics.Score, bestMetrics.Similarity*100.0)
			}
			if cfg.reportEvery > 0 && evals%cfg.reportEvery == 0 {
				fmt.Printf("Progress round=%d eval=%d elapsed=%.1fs best=%.4f\n", round, evals, time.Since(start).Seconds(), bestMetrics.Score)
			}
			return m.Score
		}

		if _, err := runMayfly(mayflyCfg); err != nil {
			return nil, fmt.Errorf("mayfly round %d failed: %w", round, err)
		}
	}

	return &optimizationResult{
		best:        best,
		bestMetrics: bestMetrics,
		evals:       evals,
		elapsed:     time.Since(start).Seconds(),
	}, nil
}

// renderCandidate strikes note at a moderate velocity, releases it after
// releaseAfter seconds, and returns the rendered mono samples normalized
// to [-1,1].
func renderCandidate(p *piano.Params, note, sampleRate int, renderSeconds, releaseAfter float64) ([]float64, error) {
	const velocity = 100
	const blockSize = 256

	engine := piano.NewPiano(p)
	if !engine.Initialize(4) {
		return nil, fmt.Errorf("piano: initialize failed")
	}
	defer engine.Close()

	midi := piano.NewMidiQueue(piano.DefaultMidiQueueCapacity)
	midi.TryPush(piano.MidiMessage{Len: 3, Data: [3]byte{0x90, byte(note), velocity}})

	totalFrames := int(float64(sampleRate) * renderSeconds)
	if totalFrames < 1 {
		totalFrames = 1
	}
	releaseAtFrame := int(float64(sampleRate) * releaseAfter)

	block := make([]int32, blockSize)
	mono := make([]float64, 0, totalFrames)
	released := false
	rendered := 0
	for rendered < totalFrames {
		n := blockSize
		if rendered+n > totalFrames {
			n = totalFrames - rendered
		}
		if !released && rendered+n > releaseAtFrame {
			midi.TryPush(piano.MidiMessage{Len: 3, Data: [3]byte{0x80, byte(note), 0}})
			released = true
		}
		engine.Update(block[:n], n, midi)
		for i := 0; i < n; i++ {
			mono = append(mono, float64(block[i])/32768.0)
		}
		rendered += n
	}
	return mono, nil
}

func newMayflyConfig(variant string, pop, dims, iters int) (*mayfly.Config, error) {
	var cfg *mayfly.Config
	switch variant {
	case "ma":
		cfg = mayfly.NewDefaultConfig()
	case "desma":
		cfg = mayfly.NewDESMAConfig()
	case "olce":
		cfg = mayfly.NewOLCEConfig()
	case "eobbma":
		cfg = mayfly.NewEOBBMAConfig()
	case "gsasma":
		cfg = mayfly.NewGSASMAConfig()
	case "mpma":
		cfg = mayfly.NewMPMAConfig()
	case "aoblmoa":
		cfg = mayfly.NewAOBLMOAConfig()
	default:
		return nil, fmt.Errorf("unsupported mayfly variant %q", variant)
	}
	cfg.ProblemSize = dims
	cfg.LowerBound = 0.0
	cfg.UpperBound = 1.0
	cfg.MaxIterations = iters
	cfg.NPop = pop
	cfg.NPopF = pop
	cfg.NC = 2 * pop
	cfg.NM = maxInt(1, int(math.Round(0.05*float64(pop))))
	return cfg, nil
}

func runMayfly(cfg *mayfly.Config) (_ *mayfly.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mayfly panic: %v", r)
		}
	}()
	return mayfly.Optimize(cfg)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
