package stream

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/grafov/m3u8"
)

const maxPlaylistSize = 1 << 20

// Resolver turns a stream URI into the URI the worker fetches.
type Resolver interface {
	Resolve(ctx context.Context, uri string) (string, error)
}

type ResolverFunc func(ctx context.Context, uri string) (string, error)

func (f ResolverFunc) Resolve(ctx context.Context, uri string) (string, error) { return f(ctx, uri) }

// PlaylistResolver follows one level of playlist indirection. URIs that do
// not name a playlist are returned unchanged. An HLS master playlist
// resolves to its highest-bandwidth variant; a plain M3U resolves to its
// first entry.
type PlaylistResolver struct {
	client    *http.Client
	UserAgent string
}

func NewPlaylistResolver(client *http.Client) *PlaylistResolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &PlaylistResolver{client: client}
}

func (r *PlaylistResolver) Resolve(ctx context.Context, uri string) (string, error) {
	if !isPlaylistURI(uri) {
		return uri, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", &ResolveError{URI: uri, Reason: "bad request", Err: err}
	}
	if r.UserAgent != "" {
		req.Header.Set("User-Agent", r.UserAgent)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", &ResolveError{URI: uri, Reason: "fetching playlist", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &ResolveError{URI: uri, Reason: fmt.Sprintf("playlist returned %s", resp.Status)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistSize))
	if err != nil {
		return "", &ResolveError{URI: uri, Reason: "reading playlist", Err: err}
	}
	return resolvePlaylist(uri, data)
}

func resolvePlaylist(uri string, data []byte) (string, error) {
	if !bytes.HasPrefix(bytes.TrimSpace(data), []byte("#EXTM3U")) {
		entry := firstEntry(data)
		if entry == "" {
			return "", &ResolveError{URI: uri, Reason: "playlist has no entries"}
		}
		return resolveReference(uri, entry)
	}

	pl, kind, err := m3u8.DecodeFrom(bytes.NewReader(data), false)
	if err != nil {
		return "", &ResolveError{URI: uri, Reason: "malformed playlist", Err: err}
	}
	switch kind {
	case m3u8.MEDIA:
		return uri, nil
	case m3u8.MASTER:
		master := pl.(*m3u8.MasterPlaylist)
		var best *m3u8.Variant
		for _, v := range master.Variants {
			if v == nil || strings.TrimSpace(v.URI) == "" {
				continue
			}
			if best == nil || v.Bandwidth > best.Bandwidth {
				best = v
			}
		}
		if best == nil {
			return "", &ResolveError{URI: uri, Reason: "master playlist has no usable variant"}
		}
		return resolveReference(uri, best.URI)
	default:
		return "", &ResolveError{URI: uri, Reason: "unknown playlist type"}
	}
}

// firstEntry returns the first non-comment line of a plain M3U or PLS file.
func firstEntry(data []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "[") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		switch {
		case ok && strings.HasPrefix(strings.ToLower(k), "file"):
			// PLS: File1=http://...
			return strings.TrimSpace(v)
		case ok && !strings.Contains(k, "://"):
			continue
		}
		return line
	}
	return ""
}

func resolveReference(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", &ResolveError{URI: base, Reason: "bad playlist uri", Err: err}
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", &ResolveError{URI: base, Reason: "bad playlist entry", Err: err}
	}
	return b.ResolveReference(r).String(), nil
}

func isPlaylistURI(uri string) bool {
	u, err := url.Parse(uri)
	if err != nil {
		return false
	}
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".m3u8", ".m3u", ".pls":
		return true
	}
	return false
}
