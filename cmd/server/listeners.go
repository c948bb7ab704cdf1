package main

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/himanishpuri/bandprint/pkg/bandprint"
	"github.com/himanishpuri/bandprint/pkg/bandprint/stream"
)

var errListenerNotFound = errors.New("listener not found")

// liveListener is a stream listener plus the identification loop feeding on
// it.
type liveListener struct {
	l      *stream.Listener
	chunks int

	mu         sync.Mutex
	worker     *stream.Worker
	watchDone  chan struct{}
	last       *bandprint.Result
	lastAt     time.Time
	identified int
	err        error
}

// start launches the worker and a Watch loop over a fresh subscription. The
// loop drains what the worker published and ends after the worker exits.
func (ll *liveListener) start(ctx context.Context, svc *bandprint.Service) error {
	rx := ll.l.Subscribe()
	w, err := ll.l.Start(ctx)
	if err != nil {
		rx.Close()
		return err
	}

	done := make(chan struct{})

	ll.mu.Lock()
	ll.worker = w
	ll.watchDone = done
	ll.err = nil
	ll.mu.Unlock()

	go func() {
		<-w.Done()
		rx.Close()
	}()
	go func() {
		defer close(done)
		err := svc.Watch(context.Background(), rx, bandprint.WatchOptions{
			Chunks:   ll.chunks,
			OnResult: ll.record,
		})
		if err != nil {
			ll.mu.Lock()
			ll.err = err
			ll.mu.Unlock()
		}
	}()
	return nil
}

func (ll *liveListener) record(res bandprint.Result) {
	ll.mu.Lock()
	defer ll.mu.Unlock()
	if !res.Found {
		return
	}
	ll.last = &res
	ll.lastAt = time.Now()
	ll.identified++
}

// stop deactivates the listener and waits for its loop to finish.
func (ll *liveListener) stop() {
	ll.l.Deactivate()
	ll.mu.Lock()
	done := ll.watchDone
	ll.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (ll *liveListener) dto() ListenerDTO {
	ll.mu.Lock()
	defer ll.mu.Unlock()

	out := ListenerDTO{
		ID:         ll.l.ID(),
		URL:        ll.l.URI(),
		Name:       ll.l.Name(),
		Active:     ll.l.IsActive(),
		Identified: ll.identified,
	}
	if ll.worker != nil {
		stats := ll.worker.Stats()
		out.MediaURL = ll.worker.MediaURI()
		out.Stats = &stats
		select {
		case <-ll.worker.Done():
			if err := ll.worker.Wait(); err != nil {
				out.Error = err.Error()
			}
		default:
		}
	}
	if ll.err != nil {
		out.Error = ll.err.Error()
	}
	if ll.last != nil {
		m := newMatchResponse(*ll.last)
		at := ll.lastAt
		out.LastMatch = &m
		out.LastAt = &at
	}
	return out
}

type registry struct {
	mu    sync.Mutex
	items map[string]*liveListener
}

func newRegistry() *registry {
	return &registry{items: make(map[string]*liveListener)}
}

func (r *registry) add(ll *liveListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[ll.l.ID()] = ll
}

func (r *registry) get(id string) (*liveListener, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ll, ok := r.items[id]
	if !ok {
		return nil, errListenerNotFound
	}
	return ll, nil
}

func (r *registry) remove(id string) (*liveListener, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ll, ok := r.items[id]
	if !ok {
		return nil, errListenerNotFound
	}
	delete(r.items, id)
	return ll, nil
}

// list returns listeners ordered by name, then id.
func (r *registry) list() []*liveListener {
	r.mu.Lock()
	out := make([]*liveListener, 0, len(r.items))
	for _, ll := range r.items {
		out = append(out, ll)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].l.Name() != out[j].l.Name() {
			return out[i].l.Name() < out[j].l.Name()
		}
		return out[i].l.ID() < out[j].l.ID()
	})
	return out
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// closeAll stops and closes every listener.
func (r *registry) closeAll() {
	r.mu.Lock()
	items := r.items
	r.items = make(map[string]*liveListener)
	r.mu.Unlock()

	for _, ll := range items {
		ll.stop()
		ll.l.Close()
	}
}
