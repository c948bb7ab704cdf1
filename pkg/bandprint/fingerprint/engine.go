package fingerprint

import (
	"context"
	"fmt"
	"math/bits"
	"runtime"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultWindowSize = 4096
	DefaultFuzz       = 2
)

// DefaultBands is the band table used when none is configured.
var DefaultBands = []int{32, 40, 80, 120, 180, 320}

type Config struct {
	WindowSize int
	Bands      []int
	Fuzz       int
	// Workers bounds the number of windows analyzed at once.
	Workers   int
	Transform Transformer
}

func DefaultConfig() Config {
	return Config{
		WindowSize: DefaultWindowSize,
		Bands:      append([]int(nil), DefaultBands...),
		Fuzz:       DefaultFuzz,
		Workers:    runtime.NumCPU(),
	}
}

// Engine turns mono samples into one fingerprint per window. It holds only
// read-only state after New and is safe for concurrent use.
type Engine struct {
	windowSize int
	bands      []int
	fuzz       int
	base       uint64
	workers    int
	transform  Transformer
}

func New(cfg Config) (*Engine, error) {
	if cfg.WindowSize < 2 {
		return nil, &ConfigError{Field: "window size", Reason: fmt.Sprintf("%d is too small", cfg.WindowSize)}
	}
	if cfg.Fuzz < 1 {
		return nil, &ConfigError{Field: "fuzz factor", Reason: fmt.Sprintf("%d must be at least 1", cfg.Fuzz)}
	}
	if err := validateBands(cfg.Bands, cfg.WindowSize); err != nil {
		return nil, err
	}
	if cfg.Transform == nil {
		cfg.Transform = NewDSPTransform(cfg.WindowSize)
	}
	if cfg.Transform.Size() != cfg.WindowSize {
		return nil, &ConfigError{
			Field:  "transform",
			Reason: fmt.Sprintf("size %d does not match window size %d", cfg.Transform.Size(), cfg.WindowSize),
		}
	}
	if cfg.Workers < 1 {
		cfg.Workers = runtime.NumCPU()
	}

	last := cfg.Bands[len(cfg.Bands)-1]
	base := digitBase(last / cfg.Fuzz)
	if !fitsUint64(base, len(cfg.Bands)) {
		return nil, &ConfigError{
			Field:  "bands",
			Reason: fmt.Sprintf("%d bands up to bin %d with fuzz %d do not fit in 64 bits", len(cfg.Bands), last, cfg.Fuzz),
		}
	}

	return &Engine{
		windowSize: cfg.WindowSize,
		bands:      append([]int(nil), cfg.Bands...),
		fuzz:       cfg.Fuzz,
		base:       base,
		workers:    cfg.Workers,
		transform:  cfg.Transform,
	}, nil
}

func validateBands(bands []int, windowSize int) error {
	if len(bands) == 0 {
		return &ConfigError{Field: "bands", Reason: "table is empty"}
	}
	if bands[0] < 0 {
		return &ConfigError{Field: "bands", Reason: fmt.Sprintf("negative boundary %d", bands[0])}
	}
	for i := 1; i < len(bands); i++ {
		if bands[i] <= bands[i-1] {
			return &ConfigError{
				Field:  "bands",
				Reason: fmt.Sprintf("boundaries must be strictly ascending, %d follows %d", bands[i], bands[i-1]),
			}
		}
	}
	if last := bands[len(bands)-1]; last > windowSize/2 {
		return &ConfigError{
			Field:  "bands",
			Reason: fmt.Sprintf("boundary %d is above the last usable bin %d", last, windowSize/2),
		}
	}
	return nil
}

func fitsUint64(base uint64, n int) bool {
	total := uint64(1)
	for range n {
		hi, lo := bits.Mul64(total, base)
		if hi != 0 {
			return false
		}
		total = lo
	}
	return true
}

func (e *Engine) WindowSize() int { return e.windowSize }

func (e *Engine) Bands() []int { return append([]int(nil), e.bands...) }

func (e *Engine) Fuzz() int { return e.fuzz }

// Analyze returns one fingerprint per full window, in window order. A
// trailing partial window is dropped; input shorter than one window yields
// an empty collection.
func (e *Engine) Analyze(ctx context.Context, samples []float32) ([]Fingerprint, error) {
	n := len(samples) / e.windowSize
	out := make([]Fingerprint, n)
	if n == 0 {
		return out, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range n {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			window := samples[i*e.windowSize : (i+1)*e.windowSize]
			fp, err := e.Encode(e.peaks(window))
			if err != nil {
				return fmt.Errorf("window %d: %w", i, err)
			}
			out[i] = fp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
