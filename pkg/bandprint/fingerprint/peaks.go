package fingerprint

import "math"

// Peaks returns the record bin of every band for one window.
func (e *Engine) Peaks(window []float32) ([]int, error) {
	if len(window) != e.windowSize {
		return nil, ErrWindowSize
	}
	return e.peaks(window), nil
}

func (e *Engine) peaks(window []float32) []int {
	frame := make([]float64, len(window))
	for i, s := range window {
		frame[i] = float64(s)
	}
	return bandPeaks(e.transform.Transform(frame), e.bands)
}

// bandPeaks scans bins bands[0]..bands[last]. A bin belongs to the first
// boundary that is >= the bin; a band whose bins are all silent keeps bin 0.
func bandPeaks(spectrum []complex128, bands []int) []int {
	peaks := make([]int, len(bands))
	loudest := make([]float64, len(bands))

	band := 0
	for bin := bands[0]; bin <= bands[len(bands)-1]; bin++ {
		for bands[band] < bin {
			band++
		}
		mag := math.Hypot(real(spectrum[bin]), imag(spectrum[bin]))
		if mag > loudest[band] {
			loudest[band] = mag
			peaks[band] = bin
		}
	}
	return peaks
}
