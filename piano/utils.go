package piano

import "github.com/cwbudde/algo-approx"

// midiToFreq64 converts a MIDI note number to frequency in Hz using the
// fast exponential approximant, matching the original firmware's table
// precomputation at NoteManager init (440*2^((n-69)/12)).
func midiToFreq64(note int) float64 {
	const a4Freq = 440.0
	const a4Note = 69
	const ln2 = 0.69314718055994530942
	exponent := float32(note-a4Note) / 12.0
	return a4Freq * float64(approx.FastExp(exponent*ln2))
}

// toFloat64 widens a float32 slice, used by the offline cabinet convolver
// which runs its overlap-add math in float64.
func toFloat64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

// overlapAddBlock slices exactly blockLen samples out of a freshly
// produced convolution result, folding in any carried-over tail from the
// previous block and returning the new tail to carry forward.
func overlapAddBlock(convOut []float64, tail []float64, blockLen int) ([]float64, []float64) {
	if len(convOut) < blockLen {
		out := make([]float64, blockLen)
		copy(out, convOut)
		return out, nil
	}

	full := make([]float64, len(convOut))
	copy(full, convOut)
	n := len(tail)
	if n > len(full) {
		n = len(full)
	}
	for i := 0; i < n; i++ {
		full[i] += tail[i]
	}

	out := make([]float64, blockLen)
	copy(out, full[:blockLen])
	newTail := make([]float64, len(full)-blockLen)
	copy(newTail, full[blockLen:])
	return out, newTail
}
