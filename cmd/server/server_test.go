package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himanishpuri/bandprint/pkg/bandprint"
	"github.com/himanishpuri/bandprint/pkg/bandprint/fingerprint"
	"github.com/himanishpuri/bandprint/pkg/bandprint/stream"
	"github.com/himanishpuri/bandprint/pkg/logger"
)

const window = fingerprint.DefaultWindowSize

func noise(seed uint64, n int) []float32 {
	r := rand.New(rand.NewPCG(seed, seed+1))
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(r.Float64()*2 - 1)
	}
	return out
}

func float32Decoder(chunk []byte) ([]float32, error) {
	out := make([]float32, len(chunk)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(chunk[i*4:]))
	}
	return out, nil
}

// newTestServer serves payload as the body of every stream URL.
func newTestServer(t *testing.T, payload []byte) (*Server, *httptest.Server) {
	t.Helper()
	log := logger.New(logger.Config{Level: logger.ERROR, Output: io.Discard})
	svc, err := bandprint.NewService(
		bandprint.WithLogger(log),
		bandprint.WithTempDir(t.TempDir()),
		bandprint.WithChunkDecoder(func() stream.Decoder { return stream.DecodeFunc(float32Decoder) }),
		bandprint.WithResolver(stream.ResolverFunc(func(_ context.Context, uri string) (string, error) {
			return uri, nil
		})),
		bandprint.WithFetcher(stream.FetcherFunc(func(context.Context, string) (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(payload)), nil
		})),
	)
	require.NoError(t, err)

	s := NewServer(svc, &ServerConfig{
		Store:          "memory",
		TempDir:        t.TempDir(),
		SampleRate:     44100,
		AllowedOrigins: []string{"*"},
		MaxUploadMB:    10,
		RequestTimeout: 10 * time.Second,
		StreamChunks:   4,
		ChunkSize:      window * 4,
	}, log)
	ts := httptest.NewServer(s.setupRoutes())
	t.Cleanup(func() {
		ts.Close()
		s.listeners.closeAll()
		svc.Close()
	})
	return s, ts
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, nil)

	var body map[string]string
	code := doJSON(t, http.MethodGet, ts.URL+"/health", nil, &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
}

func TestSongsAndMatchFingerprints(t *testing.T) {
	s, ts := newTestServer(t, nil)
	ctx := context.Background()

	song := noise(11, 16*window)
	_, err := s.service.IndexSamples(ctx, song, "Track One - Band")
	require.NoError(t, err)

	var songs ListSongsResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/api/songs", nil, &songs))
	assert.Equal(t, []string{"Track One - Band"}, songs.Songs)

	fps, err := s.service.Engine().Analyze(ctx, song[4*window:10*window])
	require.NoError(t, err)
	req := map[string][]any{"fingerprints": {}}
	for i, fp := range fps {
		// alternate the two accepted encodings
		if i%2 == 0 {
			req["fingerprints"] = append(req["fingerprints"], strconv.FormatUint(uint64(fp), 10))
		} else {
			req["fingerprints"] = append(req["fingerprints"], uint64(fp))
		}
	}

	var res MatchResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, ts.URL+"/api/match/fingerprints", req, &res))
	require.True(t, res.Found)
	assert.Equal(t, "Track One - Band", res.Best.SongID)
	assert.Equal(t, 6, res.Queried)

	var metrics MetricsResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/api/health/metrics", nil, &metrics))
	assert.Equal(t, 1, metrics.SongCount)
	assert.Equal(t, "memory", metrics.Store)
}

func TestMatchFingerprintsRejectsBadInput(t *testing.T) {
	_, ts := newTestServer(t, nil)

	var e ErrorResponse
	code := doJSON(t, http.MethodPost, ts.URL+"/api/match/fingerprints", MatchFingerprintsRequest{}, &e)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, e.Message, "empty")

	code = doJSON(t, http.MethodPost, ts.URL+"/api/match/fingerprints",
		map[string][]string{"fingerprints": {"12", "-3"}}, &e)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, e.Message, "-3")

	code = doJSON(t, http.MethodGet, ts.URL+"/api/match/fingerprints", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestListenerLifecycle(t *testing.T) {
	song := noise(12, 12*window)
	var payload bytes.Buffer
	require.NoError(t, binary.Write(&payload, binary.LittleEndian, song))

	s, ts := newTestServer(t, payload.Bytes())
	_, err := s.service.IndexSamples(context.Background(), song, "On Air")
	require.NoError(t, err)

	var created ListenerDTO
	code := doJSON(t, http.MethodPost, ts.URL+"/api/listeners",
		StartListenerRequest{URL: "http://radio.test/live", Name: "Test FM"}, &created)
	require.Equal(t, http.StatusCreated, code)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "Test FM", created.Name)

	var got ListenerDTO
	require.Eventually(t, func() bool {
		doJSON(t, http.MethodGet, ts.URL+"/api/listeners/"+created.ID, nil, &got)
		return got.Identified == 3 && !got.Active
	}, 5*time.Second, 20*time.Millisecond)
	require.NotNil(t, got.LastMatch)
	assert.Equal(t, "On Air", got.LastMatch.Best.SongID)
	assert.Empty(t, got.Error)

	var list ListListenersResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/api/listeners", nil, &list))
	assert.Equal(t, 1, list.Count)

	require.Equal(t, http.StatusOK, doJSON(t, http.MethodDelete, ts.URL+"/api/listeners/"+created.ID, nil, nil))
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodGet, ts.URL+"/api/listeners/"+created.ID, nil, nil))
}

func TestStartListenerValidation(t *testing.T) {
	_, ts := newTestServer(t, nil)

	code := doJSON(t, http.MethodPost, ts.URL+"/api/listeners", StartListenerRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code = doJSON(t, http.MethodPost, ts.URL+"/api/listeners/missing/stop", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAddSongYouTubeRejectsOtherURLs(t *testing.T) {
	_, ts := newTestServer(t, nil)

	for _, u := range []string{"https://radio.example/live.mp3", "https://www.youtube.com/playlist?list=PL1"} {
		var e ErrorResponse
		code := doJSON(t, http.MethodPost, ts.URL+"/api/songs/youtube", AddSongYouTubeRequest{YouTubeURL: u}, &e)
		assert.Equal(t, http.StatusBadRequest, code, u)
		assert.Contains(t, e.Message, "not a YouTube video URL", u)
	}
}

func TestCORSPreflight(t *testing.T) {
	_, ts := newTestServer(t, nil)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/songs", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
