package bandprint

import (
	"context"
	"errors"

	"github.com/himanishpuri/bandprint/pkg/bandprint/stream"
)

// DefaultWatchChunks is used when WatchOptions.Chunks is not positive.
const DefaultWatchChunks = 32

// Watch collects opts.Chunks decoded buffers from rx, identifies them and
// reports the result, over and over. It returns ctx.Err() when ctx ends and
// nil once rx is closed; a final partial batch covering at least one window
// is identified before returning.
func (s *Service) Watch(ctx context.Context, rx *stream.Receiver, opts WatchOptions) error {
	chunks := opts.Chunks
	if chunks <= 0 {
		chunks = DefaultWatchChunks
	}

	var batch []float32
	n := 0
	for {
		samples, err := rx.Recv(ctx)
		if errors.Is(err, stream.ErrClosed) {
			if len(batch) >= s.engine.WindowSize() {
				return s.report(ctx, batch, opts.OnResult)
			}
			return nil
		}
		if err != nil {
			return err
		}

		batch = append(batch, samples...)
		n++
		if n < chunks {
			continue
		}
		if err := s.report(ctx, batch, opts.OnResult); err != nil {
			return err
		}
		batch = batch[:0]
		n = 0
	}
}

func (s *Service) report(ctx context.Context, samples []float32, onResult func(Result)) error {
	res, err := s.IdentifySamples(ctx, samples)
	if err != nil {
		return err
	}
	if res.Found {
		s.log.Infof("Identified %q (%d votes, %.1f%%)", res.Best.SongID, res.Best.Votes, res.Confidence)
	} else {
		s.log.Debugf("No match for %d samples", len(samples))
	}
	if onResult != nil {
		onResult(res)
	}
	return nil
}
