// Package stream pulls a live audio stream in the background, decodes it
// chunk by chunk and broadcasts the samples to subscribers.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/himanishpuri/bandprint/pkg/bandprint/audio"
	"github.com/himanishpuri/bandprint/pkg/logger"
)

const DefaultChunkSize = 16 << 10

// Decoder turns one transport chunk into mono samples. A decoder may keep
// state between chunks; it must not retain the chunk slice.
type Decoder interface {
	Decode(chunk []byte) ([]float32, error)
}

// DecodeFunc decodes every chunk on its own.
type DecodeFunc func(chunk []byte) ([]float32, error)

func (f DecodeFunc) Decode(chunk []byte) ([]float32, error) { return f(chunk) }

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}

type ListenerOption func(*Listener)

func WithResolver(r Resolver) ListenerOption {
	return func(l *Listener) { l.resolver = r }
}

func WithFetcher(f Fetcher) ListenerOption {
	return func(l *Listener) { l.fetcher = f }
}

// WithDecoder sets the decoder factory; each Start gets a fresh decoder.
func WithDecoder(newDecoder func() Decoder) ListenerOption {
	return func(l *Listener) { l.newDecoder = newDecoder }
}

// WithDecodeFunc decodes each chunk independently with fn.
func WithDecodeFunc(fn DecodeFunc) ListenerOption {
	return WithDecoder(func() Decoder { return fn })
}

func WithChunkSize(n int) ListenerOption {
	return func(l *Listener) {
		if n > 0 {
			l.chunkSize = n
		}
	}
}

func WithLogger(log Logger) ListenerOption {
	return func(l *Listener) { l.log = log }
}

func WithName(name string) ListenerOption {
	return func(l *Listener) { l.name = name }
}

// Listener owns at most one background worker for a stream URI.
//
// Everything except the activation state is fixed by NewListener. The
// activation state (active flag, generation and the worker's cancel func)
// is guarded by mu; a worker keeps running only while the listener is
// active and still on the generation that started it.
type Listener struct {
	id         string
	uri        string
	name       string
	chunkSize  int
	resolver   Resolver
	fetcher    Fetcher
	newDecoder func() Decoder
	log        Logger
	hub        *hub

	mu     sync.Mutex
	active bool
	closed bool
	gen    uint64
	cancel context.CancelFunc
}

func NewListener(uri string, opts ...ListenerOption) *Listener {
	l := &Listener{
		id:        uuid.NewString(),
		uri:       uri,
		name:      uri,
		chunkSize: DefaultChunkSize,
		resolver:  NewPlaylistResolver(nil),
		fetcher:   NewHTTPFetcher(nil),
		newDecoder: func() Decoder {
			return audio.NewMP3ChunkDecoder()
		},
		log: logger.GetLogger(),
		hub: newHub(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Listener) ID() string   { return l.id }
func (l *Listener) URI() string  { return l.uri }
func (l *Listener) Name() string { return l.name }

// IsActive reports the activation flag at the time of the call.
func (l *Listener) IsActive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Subscribe returns a receiver for every buffer published from now on.
func (l *Listener) Subscribe() *Receiver {
	return &Receiver{hub: l.hub, queue: l.hub.subscribe()}
}

// Start resolves the stream URI, opens it and starts the worker. It fails
// with *ConflictError while a worker is active and with *ResolveError when
// the URI cannot be resolved; in both cases no worker is started.
//
// ctx bounds resolving and connecting only. The worker runs until
// Deactivate, Close, or the end of the stream.
func (l *Listener) Start(ctx context.Context) (*Worker, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	if l.active {
		l.mu.Unlock()
		return nil, &ConflictError{URI: l.uri}
	}
	l.active = true
	l.gen++
	gen := l.gen
	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.cancel = cancel
	l.mu.Unlock()

	mediaURI, err := l.resolver.Resolve(ctx, l.uri)
	if err != nil {
		l.stop(gen)
		var resolveErr *ResolveError
		if !errors.As(err, &resolveErr) {
			err = &ResolveError{URI: l.uri, Reason: "resolver failed", Err: err}
		}
		return nil, err
	}

	// ctx may cancel the fetch until Fetch returns; after that the body
	// belongs to the worker.
	stopConnect := context.AfterFunc(ctx, cancel)
	body, err := l.fetcher.Fetch(workerCtx, mediaURI)
	if !stopConnect() {
		if err == nil {
			body.Close()
		}
		l.stop(gen)
		return nil, fmt.Errorf("stream: connect %s: %w", mediaURI, context.Cause(ctx))
	}
	if err != nil {
		l.stop(gen)
		return nil, fmt.Errorf("stream: fetch %s: %w", mediaURI, err)
	}
	if !l.running(gen) {
		body.Close()
		return nil, ErrStopped
	}

	w := &Worker{
		id:       uuid.NewString(),
		mediaURI: mediaURI,
		done:     make(chan struct{}),
	}
	l.log.Infof("Listener %s: streaming %s (worker %s)", l.name, mediaURI, w.id)
	go l.run(workerCtx, gen, body, l.newDecoder(), w)
	return w, nil
}

// Deactivate stops the current worker. The worker publishes nothing once
// Deactivate has returned and exits at its next chunk boundary; its pending
// network read is cancelled.
func (l *Listener) Deactivate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.active {
		return
	}
	l.active = false
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}

// Close deactivates the listener for good. Receivers drain what is queued
// and then return ErrClosed.
func (l *Listener) Close() {
	l.Deactivate()
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.hub.close()
}

func (l *Listener) running(gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active && l.gen == gen
}

// stop deactivates the listener if gen is still the current run.
func (l *Listener) stop(gen uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen != gen || !l.active {
		return
	}
	l.active = false
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}

// publish broadcasts samples unless gen has been deactivated. Holding mu
// while publishing is what makes Deactivate a hard cut-off.
func (l *Listener) publish(gen uint64, samples []float32) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.active || l.gen != gen {
		return false
	}
	l.hub.publish(samples)
	return true
}

func (l *Listener) run(ctx context.Context, gen uint64, body io.ReadCloser, dec Decoder, w *Worker) {
	defer close(w.done)
	defer body.Close()

	chunk := make([]byte, l.chunkSize)
	for {
		n, readErr := io.ReadFull(body, chunk)
		if n > 0 {
			if !l.running(gen) {
				l.log.Debugf("Listener %s: deactivated, worker %s exiting", l.name, w.id)
				return
			}
			w.chunks.Add(1)

			samples, err := dec.Decode(chunk[:n])
			switch {
			case err != nil:
				w.dropped.Add(1)
				l.log.Warnf("Listener %s: dropping chunk %d: %v", l.name, w.chunks.Load(), err)
			case len(samples) > 0:
				if !l.publish(gen, samples) {
					return
				}
				w.published.Add(1)
			}
		}

		switch {
		case readErr == nil:
			continue
		case errors.Is(readErr, io.EOF), errors.Is(readErr, io.ErrUnexpectedEOF):
			l.log.Infof("Listener %s: stream ended", l.name)
		case !l.running(gen) || ctx.Err() != nil:
			// the read was cut short by Deactivate
		default:
			w.err = fmt.Errorf("stream: read %s: %w", w.mediaURI, readErr)
			l.log.Errorf("Listener %s: %v", l.name, w.err)
		}
		l.stop(gen)
		return
	}
}

// Worker is the handle of one background run of a listener.
type Worker struct {
	id       string
	mediaURI string
	done     chan struct{}
	err      error

	chunks    atomic.Int64
	dropped   atomic.Int64
	published atomic.Int64
}

func (w *Worker) ID() string { return w.id }

// MediaURI is the resolved URI the worker reads from.
func (w *Worker) MediaURI() string { return w.mediaURI }

// Done is closed when the worker has exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Wait blocks until the worker exits and returns its transport error, or
// nil when it was deactivated or the stream ended.
func (w *Worker) Wait() error {
	<-w.done
	return w.err
}

// WorkerStats counts chunks seen by a worker.
type WorkerStats struct {
	Chunks    int64 `json:"chunks"`
	Dropped   int64 `json:"dropped"`
	Published int64 `json:"published"`
}

func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Chunks:    w.chunks.Load(),
		Dropped:   w.dropped.Load(),
		Published: w.published.Load(),
	}
}
