package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

// pipeFetcher hands out pipes the test writes chunks into. The read side
// fails once the fetch context is cancelled, like an HTTP body would.
type pipeFetcher struct {
	writers chan *io.PipeWriter
}

func newPipeFetcher() *pipeFetcher {
	return &pipeFetcher{writers: make(chan *io.PipeWriter, 4)}
}

func (f *pipeFetcher) Fetch(ctx context.Context, uri string) (io.ReadCloser, error) {
	pr, pw := io.Pipe()
	go func() {
		<-ctx.Done()
		pw.CloseWithError(ctx.Err())
	}()
	f.writers <- pw
	return pr, nil
}

func (f *pipeFetcher) next(t *testing.T) *io.PipeWriter {
	t.Helper()
	select {
	case pw := <-f.writers:
		return pw
	case <-time.After(waitTimeout):
		t.Fatal("fetch was not called")
		return nil
	}
}

// byteDecoder maps every byte to one sample; chunks starting with 'x' fail.
func byteDecoder(chunk []byte) ([]float32, error) {
	if len(chunk) > 0 && chunk[0] == 'x' {
		return nil, errors.New("bad chunk")
	}
	out := make([]float32, len(chunk))
	for i, b := range chunk {
		out[i] = float32(b)
	}
	return out, nil
}

var passThrough = ResolverFunc(func(_ context.Context, uri string) (string, error) { return uri, nil })

func newTestListener(f Fetcher, opts ...ListenerOption) *Listener {
	base := []ListenerOption{
		WithResolver(passThrough),
		WithFetcher(f),
		WithDecodeFunc(byteDecoder),
		WithChunkSize(4),
		WithName("test"),
	}
	return NewListener("http://radio.test/stream.mp3", append(base, opts...)...)
}

func recv(t *testing.T, rx *Receiver) []float32 {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	samples, err := rx.Recv(ctx)
	require.NoError(t, err)
	return samples
}

func waitDone(t *testing.T, w *Worker) {
	t.Helper()
	select {
	case <-w.Done():
	case <-time.After(waitTimeout):
		t.Fatal("worker did not exit")
	}
}

func TestStartWhileActiveConflicts(t *testing.T) {
	f := newPipeFetcher()
	l := newTestListener(f)
	defer l.Close()

	w, err := l.Start(context.Background())
	require.NoError(t, err)
	require.True(t, l.IsActive())
	f.next(t)

	_, err = l.Start(context.Background())
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, l.URI(), conflict.URI)

	l.Deactivate()
	assert.False(t, l.IsActive())
	waitDone(t, w)
	assert.NoError(t, w.Wait())
}

func TestDeactivateStopsPublishing(t *testing.T) {
	f := newPipeFetcher()
	l := newTestListener(f)
	defer l.Close()
	rx := l.Subscribe()

	w, err := l.Start(context.Background())
	require.NoError(t, err)
	pw := f.next(t)

	_, err = pw.Write([]byte("abcd"))
	require.NoError(t, err)
	assert.Equal(t, []float32{'a', 'b', 'c', 'd'}, recv(t, rx))

	l.Deactivate()
	waitDone(t, w)

	// the pipe is closed once the worker's context is cancelled
	_, err = pw.Write([]byte("efgh"))
	assert.Error(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = rx.Recv(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(1), w.Stats().Published)
}

func TestBroadcastToEverySubscriber(t *testing.T) {
	f := newPipeFetcher()
	l := newTestListener(f)
	defer l.Close()

	first := l.Subscribe()
	second := l.Subscribe()
	clone := first.Clone()

	_, err := l.Start(context.Background())
	require.NoError(t, err)
	pw := f.next(t)

	for _, chunk := range []string{"aaaa", "bbbb", "cccc"} {
		_, err := pw.Write([]byte(chunk))
		require.NoError(t, err)
	}

	for _, rx := range []*Receiver{first, second, clone} {
		assert.Equal(t, []float32{'a', 'a', 'a', 'a'}, recv(t, rx))
		assert.Equal(t, []float32{'b', 'b', 'b', 'b'}, recv(t, rx))
		assert.Equal(t, []float32{'c', 'c', 'c', 'c'}, recv(t, rx))
	}
}

func TestClosedReceiverStopsGettingBuffers(t *testing.T) {
	f := newPipeFetcher()
	l := newTestListener(f)
	defer l.Close()

	gone := l.Subscribe()
	kept := l.Subscribe()
	gone.Close()

	_, err := l.Start(context.Background())
	require.NoError(t, err)
	pw := f.next(t)
	_, err = pw.Write([]byte("abcd"))
	require.NoError(t, err)

	recv(t, kept)
	assert.Zero(t, gone.Pending())
	_, err = gone.Recv(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDecodeErrorsAreDropped(t *testing.T) {
	data := []byte("aaaaxbadcccc")
	f := FetcherFunc(func(context.Context, string) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	})
	l := newTestListener(f)
	defer l.Close()
	rx := l.Subscribe()

	w, err := l.Start(context.Background())
	require.NoError(t, err)
	waitDone(t, w)
	require.NoError(t, w.Wait())

	assert.Equal(t, []float32{'a', 'a', 'a', 'a'}, recv(t, rx))
	assert.Equal(t, []float32{'c', 'c', 'c', 'c'}, recv(t, rx))
	assert.Equal(t, WorkerStats{Chunks: 3, Dropped: 1, Published: 2}, w.Stats())
	assert.False(t, l.IsActive(), "listener should go inactive at end of stream")
}

func TestTrailingPartialChunkIsDecoded(t *testing.T) {
	f := FetcherFunc(func(context.Context, string) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader([]byte("abcdef"))), nil
	})
	l := newTestListener(f)
	defer l.Close()
	rx := l.Subscribe()

	w, err := l.Start(context.Background())
	require.NoError(t, err)
	require.NoError(t, w.Wait())

	assert.Equal(t, []float32{'a', 'b', 'c', 'd'}, recv(t, rx))
	assert.Equal(t, []float32{'e', 'f'}, recv(t, rx))
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

func TestTransportErrorEndsWorker(t *testing.T) {
	boom := errors.New("connection reset")
	f := FetcherFunc(func(context.Context, string) (io.ReadCloser, error) {
		return io.NopCloser(failingReader{boom}), nil
	})
	l := newTestListener(f)
	defer l.Close()

	w, err := l.Start(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, w.Wait(), boom)
	assert.False(t, l.IsActive())
}

func TestResolveFailureLeavesListenerInactive(t *testing.T) {
	calls := 0
	resolver := ResolverFunc(func(_ context.Context, uri string) (string, error) {
		calls++
		if calls == 1 {
			return "", &ResolveError{URI: uri, Reason: "master playlist has no usable variant"}
		}
		return uri, nil
	})
	f := newPipeFetcher()
	l := newTestListener(f, WithResolver(resolver))
	defer l.Close()

	_, err := l.Start(context.Background())
	var resolveErr *ResolveError
	require.ErrorAs(t, err, &resolveErr)
	assert.False(t, l.IsActive())

	w, err := l.Start(context.Background())
	require.NoError(t, err)
	f.next(t)
	l.Deactivate()
	waitDone(t, w)
}

func TestResolverErrorsAreWrapped(t *testing.T) {
	resolver := ResolverFunc(func(context.Context, string) (string, error) {
		return "", errors.New("dns failure")
	})
	l := newTestListener(newPipeFetcher(), WithResolver(resolver))
	defer l.Close()

	_, err := l.Start(context.Background())
	var resolveErr *ResolveError
	assert.ErrorAs(t, err, &resolveErr)
}

func TestFetchFailureLeavesListenerInactive(t *testing.T) {
	f := FetcherFunc(func(context.Context, string) (io.ReadCloser, error) {
		return nil, errors.New("503 Service Unavailable")
	})
	l := newTestListener(f)
	defer l.Close()

	_, err := l.Start(context.Background())
	require.Error(t, err)
	assert.False(t, l.IsActive())
}

func TestStartContextBoundsConnect(t *testing.T) {
	f := FetcherFunc(func(ctx context.Context, _ string) (io.ReadCloser, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	l := newTestListener(f)
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := l.Start(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, l.IsActive())
}

func TestStartContextDoesNotStopWorker(t *testing.T) {
	f := newPipeFetcher()
	l := newTestListener(f)
	defer l.Close()
	rx := l.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	_, err := l.Start(ctx)
	require.NoError(t, err)
	pw := f.next(t)
	cancel()

	_, err = pw.Write([]byte("abcd"))
	require.NoError(t, err)
	assert.Equal(t, []float32{'a', 'b', 'c', 'd'}, recv(t, rx))
	assert.True(t, l.IsActive())
}

func TestRestartAfterDeactivate(t *testing.T) {
	f := newPipeFetcher()
	l := newTestListener(f)
	defer l.Close()
	rx := l.Subscribe()

	first, err := l.Start(context.Background())
	require.NoError(t, err)
	f.next(t)
	l.Deactivate()
	waitDone(t, first)

	second, err := l.Start(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), second.ID())

	pw := f.next(t)
	_, err = pw.Write([]byte("wxyz"))
	require.NoError(t, err)
	assert.Equal(t, []float32{'w', 'x', 'y', 'z'}, recv(t, rx))
}

func TestCloseDrainsThenEnds(t *testing.T) {
	f := newPipeFetcher()
	l := newTestListener(f)
	rx := l.Subscribe()

	_, err := l.Start(context.Background())
	require.NoError(t, err)
	pw := f.next(t)
	_, err = pw.Write([]byte("abcd"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rx.Pending() == 1 }, waitTimeout, 5*time.Millisecond)

	l.Close()
	assert.False(t, l.IsActive())
	assert.Equal(t, []float32{'a', 'b', 'c', 'd'}, recv(t, rx))
	_, err = rx.Recv(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	_, err = l.Start(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	late := l.Subscribe()
	_, err = late.Recv(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSlowConsumerDoesNotBlockWorker(t *testing.T) {
	const chunks = 500
	data := bytes.Repeat([]byte("abcd"), chunks)
	f := FetcherFunc(func(context.Context, string) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	})
	l := newTestListener(f)
	defer l.Close()
	rx := l.Subscribe()

	w, err := l.Start(context.Background())
	require.NoError(t, err)
	waitDone(t, w)
	assert.Equal(t, chunks, rx.Pending())
}
