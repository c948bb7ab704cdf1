package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/himanishpuri/bandprint/pkg/bandprint"
	"github.com/himanishpuri/bandprint/pkg/bandprint/fingerprint"
	"github.com/himanishpuri/bandprint/pkg/bandprint/stream"
	"github.com/himanishpuri/bandprint/pkg/utils"
)

// Fingerprint limits for client-computed queries
const (
	// MaxFingerprintsSoftLimit is about 4 minutes of audio at 4096-sample windows
	MaxFingerprintsSoftLimit = 2500

	// MaxFingerprintsHardLimit is the absolute maximum accepted
	MaxFingerprintsHardLimit = 20000
)

// MatchFingerprintsRequest is the request body for POST /api/match/fingerprints.
// Fingerprints may be JSON numbers or decimal strings, since browsers cannot
// represent every uint64 as a number.
type MatchFingerprintsRequest struct {
	Fingerprints []json.Number `json:"fingerprints"`
}

// Validate checks if the request is valid
func (r *MatchFingerprintsRequest) Validate() error {
	if len(r.Fingerprints) == 0 {
		return errors.New("fingerprints cannot be empty")
	}
	if len(r.Fingerprints) > MaxFingerprintsHardLimit {
		return fmt.Errorf("too many fingerprints: %d (maximum: %d)", len(r.Fingerprints), MaxFingerprintsHardLimit)
	}
	return nil
}

// Values parses the fingerprints as unsigned integers
func (r *MatchFingerprintsRequest) Values() ([]fingerprint.Fingerprint, error) {
	out := make([]fingerprint.Fingerprint, len(r.Fingerprints))
	for i, n := range r.Fingerprints {
		v, err := strconv.ParseUint(n.String(), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid fingerprint %q", n.String())
		}
		out[i] = fingerprint.Fingerprint(v)
	}
	return out, nil
}

// MatchResponse is the response for every match endpoint
type MatchResponse struct {
	Found      bool              `json:"found"`
	Best       *bandprint.Match  `json:"best,omitempty"`
	Candidates []bandprint.Match `json:"candidates"`
	Queried    int               `json:"queried"`
	Confidence float64           `json:"confidence"`
}

func newMatchResponse(res bandprint.Result) MatchResponse {
	out := MatchResponse{
		Found:      res.Found,
		Candidates: res.Candidates,
		Queried:    res.Queried,
		Confidence: res.Confidence,
	}
	if out.Candidates == nil {
		out.Candidates = []bandprint.Match{}
	}
	if res.Found {
		best := res.Best
		out.Best = &best
	}
	return out
}

// AddSongYouTubeRequest is the request body for POST /api/songs/youtube
type AddSongYouTubeRequest struct {
	YouTubeURL string `json:"youtube_url"`
}

// Validate checks if the request is valid
func (r *AddSongYouTubeRequest) Validate() error {
	if r.YouTubeURL == "" {
		return errors.New("youtube_url is required")
	}
	_, err := utils.YouTubeVideoID(r.YouTubeURL)
	return err
}

// AddSongResponse is the response for successful song addition
type AddSongResponse struct {
	Message      string `json:"message"`
	SongID       string `json:"song_id"`
	Fingerprints int    `json:"fingerprints"`
}

// ListSongsResponse is the response for GET /api/songs
type ListSongsResponse struct {
	Songs []string `json:"songs"`
	Count int      `json:"count"`
}

// MetricsResponse provides server health and repository metrics
type MetricsResponse struct {
	Status     string `json:"status"`
	Store      string `json:"store"`
	SongCount  int    `json:"song_count"`
	Listeners  int    `json:"listeners"`
	SampleRate int    `json:"sample_rate"`
}

// StartListenerRequest is the request body for POST /api/listeners
type StartListenerRequest struct {
	URL    string `json:"url"`
	Name   string `json:"name,omitempty"`
	Chunks int    `json:"chunks,omitempty"`
}

// Validate checks if the request is valid
func (r *StartListenerRequest) Validate() error {
	if r.URL == "" {
		return errors.New("url is required")
	}
	if r.Chunks < 0 {
		return errors.New("chunks cannot be negative")
	}
	return nil
}

// ListenerDTO represents a listener in API responses
type ListenerDTO struct {
	ID         string              `json:"id"`
	URL        string              `json:"url"`
	Name       string              `json:"name"`
	Active     bool                `json:"active"`
	MediaURL   string              `json:"media_url,omitempty"`
	Stats      *stream.WorkerStats `json:"stats,omitempty"`
	Identified int                 `json:"identified"`
	LastMatch  *MatchResponse      `json:"last_match,omitempty"`
	LastAt     *time.Time          `json:"last_at,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// ListListenersResponse is the response for GET /api/listeners
type ListListenersResponse struct {
	Listeners []ListenerDTO `json:"listeners"`
	Count     int           `json:"count"`
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}
