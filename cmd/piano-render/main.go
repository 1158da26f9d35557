package main

import (
	"flag"
	"fmt"
	"math"
	"os"

	"github.com/cwbudde/pm-piano/piano"
	"github.com/cwbudde/pm-piano/preset"
	"github.com/cwbudde/wav"
	"github.com/go-audio/audio"
)

func main() {
	// Command-line flags
	note := flag.Int("note", 69, "MIDI note number (69 = A4 = 440 Hz)")
	velocity := flag.Int("velocity", 100, "MIDI velocity (0-127)")
	duration := flag.Float64("duration", 2.0, "Duration in seconds")
	decayDBFS := flag.Float64("decay-dbfs", math.Inf(1), "Auto-stop when block RMS falls below this dBFS (e.g. -90). Disabled by default")
	decayHoldBlocks := flag.Int("decay-hold-blocks", 6, "Consecutive below-threshold blocks required to stop in auto-decay mode")
	minDuration := flag.Float64("min-duration", 0.5, "Minimum render duration in seconds when using -decay-dbfs")
	maxDuration := flag.Float64("max-duration", 20.0, "Maximum render duration in seconds when using -decay-dbfs")
	releaseAfter := flag.Float64("release-after", 0.12, "Send NoteOff after this many seconds")
	sampleRate := flag.Int("sample-rate", 48000, "Render sample rate in Hz")
	polyphony := flag.Int("polyphony", 16, "Voice pool size")
	presetPath := flag.String("preset", "", "Preset JSON file path (optional; falls back to defaults)")
	irPath := flag.String("ir", "", "IR WAV path override (optional)")
	output := flag.String("output", "output.wav", "Output WAV file path")
	flag.Parse()

	var params *piano.Params
	var irWavPath string
	if *presetPath != "" {
		ps, err := preset.LoadJSON(*presetPath, *sampleRate)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading preset %q: %v\n", *presetPath, err)
			os.Exit(1)
		}
		params = ps.Params
		irWavPath = ps.IRWavPath
	} else {
		params = piano.NewDefaultParams(*sampleRate)
	}
	params.MaxPolyphony = *polyphony
	params.System.Verbose = true

	if *irPath != "" {
		irWavPath = *irPath
	}
	if irWavPath == "" {
		irWavPath = piano.DefaultIRWavPath
	}

	fmt.Printf("Rendering note %d, velocity %d, for %.2f seconds at %d Hz (preset: %q, IR: %s)...\n", *note, *velocity, *duration, *sampleRate, *presetPath, irWavPath)

	p := piano.NewPiano(params)
	if !p.Initialize(*polyphony) {
		fmt.Fprintf(os.Stderr, "piano: initialize failed\n")
		os.Exit(1)
	}
	defer p.Close()

	conv := piano.NewSoundboardConvolver(*sampleRate)
	numChannels := 1
	if err := conv.SetIRFromWAV(irWavPath); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to load IR %q, rendering mono: %v\n", irWavPath, err)
		conv = nil
	} else {
		numChannels = 2
	}

	midi := piano.NewMidiQueue(piano.DefaultMidiQueueCapacity)
	midi.TryPush(piano.MidiMessage{Len: 3, Data: [3]byte{0x90, byte(*note), byte(*velocity)}})

	const blockSize = 128
	autoStop := !math.IsInf(*decayDBFS, 1)

	block := make([]int32, blockSize)
	var mono []float32

	framesRendered := 0
	if autoStop {
		minFrames := int(float64(*sampleRate) * *minDuration)
		maxFrames := int(float64(*sampleRate) * *maxDuration)
		releaseAtFrame := int(float64(*sampleRate) * *releaseAfter)
		if releaseAtFrame < 0 {
			releaseAtFrame = 0
		}
		if maxFrames < minFrames {
			maxFrames = minFrames
		}
		if maxFrames < 1 {
			maxFrames = blockSize
		}
		if *decayHoldBlocks < 1 {
			*decayHoldBlocks = 1
		}

		thresholdLin := math.Pow(10.0, *decayDBFS/20.0)
		noteReleased := false
		belowCount := 0
		for framesRendered < maxFrames {
			n := blockSize
			if framesRendered+n > maxFrames {
				n = maxFrames - framesRendered
			}
			if !noteReleased && framesRendered+n > releaseAtFrame {
				midi.TryPush(piano.MidiMessage{Len: 3, Data: [3]byte{0x80, byte(*note), 0}})
				noteReleased = true
			}

			p.Update(block[:n], n, midi)
			start := len(mono)
			for i := 0; i < n; i++ {
				mono = append(mono, float32(block[i])/32768.0)
			}
			framesRendered += n

			if framesRendered >= minFrames {
				if blockRMS(mono[start:]) < thresholdLin {
					belowCount++
					if belowCount >= *decayHoldBlocks {
						break
					}
				} else {
					belowCount = 0
				}
			}
		}
		fmt.Printf("Auto-stop at %d frames (%.3fs), threshold %.1f dBFS\n", framesRendered, float64(framesRendered)/float64(*sampleRate), *decayDBFS)
	} else {
		totalFrames := int(float64(*sampleRate) * *duration)
		if totalFrames < 1 {
			totalFrames = 1
		}
		releaseAtFrame := int(float64(*sampleRate) * *releaseAfter)
		noteReleased := false
		for framesRendered < totalFrames {
			n := blockSize
			if framesRendered+n > totalFrames {
				n = totalFrames - framesRendered
			}
			if !noteReleased && framesRendered+n > releaseAtFrame {
				midi.TryPush(piano.MidiMessage{Len: 3, Data: [3]byte{0x80, byte(*note), 0}})
				noteReleased = true
			}
			p.Update(block[:n], n, midi)
			for i := 0; i < n; i++ {
				mono = append(mono, float32(block[i])/32768.0)
			}
			framesRendered += n
		}
	}

	var samples []float32
	if conv != nil {
		samples = conv.Process(mono)
	} else {
		samples = mono
	}

	file, err := os.Create(*output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	encoder := wav.NewEncoder(file, *sampleRate, 16, numChannels, 1)
	defer encoder.Close()

	buf := &audio.Float32Buffer{
		Format: &audio.Format{
			SampleRate:  *sampleRate,
			NumChannels: numChannels,
		},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := encoder.Write(buf); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing WAV file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Successfully wrote %s (%d frames, %d channel(s))\n", *output, framesRendered, numChannels)
}

func blockRMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
