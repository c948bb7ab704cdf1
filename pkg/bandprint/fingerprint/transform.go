package fingerprint

import (
	"sync"

	"github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/dsp/fourier"
)

// Transformer computes the spectrum of one window of Size() samples.
// Implementations must be safe for concurrent use and return at least
// Size()/2+1 bins.
type Transformer interface {
	Size() int
	Transform(window []float64) []complex128
}

// DSPTransform uses the radix-2/Bluestein FFT from go-dsp.
type DSPTransform struct {
	n int
}

func NewDSPTransform(n int) *DSPTransform {
	return &DSPTransform{n: n}
}

func (t *DSPTransform) Size() int { return t.n }

func (t *DSPTransform) Transform(window []float64) []complex128 {
	return fft.FFTReal(window)
}

// GonumTransform uses gonum's real FFT. A plan is not safe for concurrent
// use, so each caller borrows one from a pool.
type GonumTransform struct {
	n    int
	pool sync.Pool
}

func NewGonumTransform(n int) *GonumTransform {
	t := &GonumTransform{n: n}
	t.pool.New = func() any {
		return fourier.NewFFT(n)
	}
	return t
}

func (t *GonumTransform) Size() int { return t.n }

func (t *GonumTransform) Transform(window []float64) []complex128 {
	plan := t.pool.Get().(*fourier.FFT)
	defer t.pool.Put(plan)
	return plan.Coefficients(nil, window)
}

// NewTransform returns the named backend ("dsp" or "gonum").
func NewTransform(name string, n int) (Transformer, error) {
	switch name {
	case "", "dsp":
		return NewDSPTransform(n), nil
	case "gonum":
		return NewGonumTransform(n), nil
	default:
		return nil, &ConfigError{Field: "transform", Reason: "unknown backend " + name}
	}
}
