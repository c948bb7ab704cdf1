package stream

import (
	"context"
	"sync"
)

// hub fans every published buffer out to one unbounded queue per
// subscriber, so a slow consumer never blocks the worker.
type hub struct {
	mu     sync.Mutex
	subs   map[*queue]struct{}
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[*queue]struct{})}
}

func (h *hub) subscribe() *queue {
	q := newQueue()
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		q.close()
		return q
	}
	h.subs[q] = struct{}{}
	return q
}

func (h *hub) unsubscribe(q *queue) {
	h.mu.Lock()
	delete(h.subs, q)
	h.mu.Unlock()
	q.close()
}

func (h *hub) publish(samples []float32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for q := range h.subs {
		q.push(samples)
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for q := range h.subs {
		q.close()
	}
	clear(h.subs)
}

type queue struct {
	mu     sync.Mutex
	items  [][]float32
	closed bool
	notify chan struct{}
}

func newQueue() *queue {
	return &queue{notify: make(chan struct{}, 1)}
}

func (q *queue) push(samples []float32) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, samples)
	q.mu.Unlock()
	q.wake()
}

func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// pop returns the oldest buffer, waiting for one if the queue is empty.
// A closed queue is drained before ErrClosed is returned.
func (q *queue) pop(ctx context.Context) ([]float32, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			samples := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return samples, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Receiver is one subscription to a listener's decoded sample buffers.
// Buffers are shared between receivers and must not be modified.
type Receiver struct {
	hub   *hub
	queue *queue
}

// Recv returns the next buffer in publish order.
func (r *Receiver) Recv(ctx context.Context) ([]float32, error) {
	return r.queue.pop(ctx)
}

// Clone subscribes again; the clone sees every buffer published after it
// was created.
func (r *Receiver) Clone() *Receiver {
	return &Receiver{hub: r.hub, queue: r.hub.subscribe()}
}

// Pending is the number of buffers queued and not yet received.
func (r *Receiver) Pending() int {
	return r.queue.len()
}

// Close unsubscribes. Buffers already queued can still be received.
func (r *Receiver) Close() {
	r.hub.unsubscribe(r.queue)
}
