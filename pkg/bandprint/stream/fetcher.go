package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/grafov/m3u8"
)

// Fetcher opens a media URI as a byte stream.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) (io.ReadCloser, error)
}

type FetcherFunc func(ctx context.Context, uri string) (io.ReadCloser, error)

func (f FetcherFunc) Fetch(ctx context.Context, uri string) (io.ReadCloser, error) { return f(ctx, uri) }

// HTTPFetcher streams a response body. When the body is an HLS media
// playlist it follows the playlist's segments instead, polling live
// playlists for new ones.
type HTTPFetcher struct {
	client    *http.Client
	UserAgent string
}

// NewHTTPFetcher uses client, or a client without an overall timeout so
// long-lived streams are not cut off.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 15 * time.Second,
				IdleConnTimeout:       90 * time.Second,
			},
		}
	}
	return &HTTPFetcher{client: client}
}

func (f *HTTPFetcher) get(ctx context.Context, uri string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %s", uri, resp.Status)
	}
	return resp, nil
}

func (f *HTTPFetcher) Fetch(ctx context.Context, uri string) (io.ReadCloser, error) {
	resp, err := f.get(ctx, uri)
	if err != nil {
		return nil, err
	}
	if !isPlaylistResponse(uri, resp.Header.Get("Content-Type")) {
		return resp.Body, nil
	}

	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistSize))
	if err != nil {
		return nil, err
	}
	sr := &segmentReader{ctx: ctx, fetcher: f, uri: uri}
	if err := sr.load(data); err != nil {
		return nil, err
	}
	return sr, nil
}

func isPlaylistResponse(uri, contentType string) bool {
	mt, _, _ := mime.ParseMediaType(contentType)
	switch strings.ToLower(mt) {
	case "application/vnd.apple.mpegurl", "application/x-mpegurl", "audio/mpegurl", "audio/x-mpegurl":
		return true
	}
	return isPlaylistURI(uri) && !strings.HasPrefix(mt, "audio/mpeg")
}

// segmentReader concatenates the segments of an HLS media playlist.
type segmentReader struct {
	ctx     context.Context
	fetcher *HTTPFetcher
	uri     string

	queue    []string
	lastSeq  uint64
	started  bool
	ended    bool
	interval time.Duration
	current  io.ReadCloser
}

// load queues the segments of a media playlist not seen before.
func (r *segmentReader) load(data []byte) error {
	pl, kind, err := m3u8.DecodeFrom(bytes.NewReader(data), false)
	if err != nil {
		return fmt.Errorf("parsing media playlist: %w", err)
	}
	if kind != m3u8.MEDIA {
		return errors.New("expected a media playlist, got a master playlist")
	}
	media := pl.(*m3u8.MediaPlaylist)

	for _, seg := range media.Segments {
		if seg == nil {
			break
		}
		if r.started && seg.SeqId <= r.lastSeq {
			continue
		}
		ref, err := resolveReference(r.uri, seg.URI)
		if err != nil {
			return err
		}
		r.queue = append(r.queue, ref)
		r.lastSeq = seg.SeqId
		r.started = true
	}
	r.ended = media.Closed
	r.interval = time.Duration(media.TargetDuration * float64(time.Second))
	if r.interval <= 0 {
		r.interval = 2 * time.Second
	}
	return nil
}

func (r *segmentReader) refresh() error {
	select {
	case <-r.ctx.Done():
		return r.ctx.Err()
	case <-time.After(r.interval):
	}
	resp, err := r.fetcher.get(r.ctx, r.uri)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistSize))
	if err != nil {
		return err
	}
	return r.load(data)
}

func (r *segmentReader) Read(p []byte) (int, error) {
	for {
		if r.current != nil {
			n, err := r.current.Read(p)
			if errors.Is(err, io.EOF) {
				r.current.Close()
				r.current = nil
				if n > 0 {
					return n, nil
				}
				continue
			}
			return n, err
		}

		if len(r.queue) == 0 {
			if r.ended {
				return 0, io.EOF
			}
			if err := r.refresh(); err != nil {
				return 0, err
			}
			continue
		}

		next := r.queue[0]
		r.queue = r.queue[1:]
		resp, err := r.fetcher.get(r.ctx, next)
		if err != nil {
			return 0, err
		}
		r.current = resp.Body
	}
}

func (r *segmentReader) Close() error {
	if r.current != nil {
		return r.current.Close()
	}
	return nil
}
