package fingerprint

import "fmt"

// Fingerprint packs the quantized band peaks of one window.
type Fingerprint uint64

// Encode packs one peak per band into a fingerprint. Each peak is measured
// as its distance from the band's upper boundary and divided by the fuzz
// factor; band i occupies the decimal digits weighted by base^i, so the
// highest band is the most significant.
func (e *Engine) Encode(peaks []int) (Fingerprint, error) {
	if len(peaks) != len(e.bands) {
		return 0, fmt.Errorf("%w: %d peaks for %d bands", ErrBandCount, len(peaks), len(e.bands))
	}

	var fp uint64
	for i := len(peaks) - 1; i >= 0; i-- {
		q := quantize(peaks[i], e.bands[i], e.fuzz)
		if q >= e.base {
			return 0, fmt.Errorf("%w: band %d peak %d", ErrPeakOutOfRange, i, peaks[i])
		}
		fp = fp*e.base + q
	}
	return Fingerprint(fp), nil
}

func quantize(peak, boundary, fuzz int) uint64 {
	d := boundary - peak
	if d < 0 {
		d = -d
	}
	return uint64(d / fuzz)
}

// digitBase returns the smallest power of ten greater than max.
func digitBase(max int) uint64 {
	base := uint64(10)
	for uint64(max) >= base {
		base *= 10
	}
	return base
}
