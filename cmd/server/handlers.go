package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/himanishpuri/bandprint/pkg/bandprint"
	"github.com/himanishpuri/bandprint/pkg/bandprint/audio"
	"github.com/himanishpuri/bandprint/pkg/bandprint/stream"
	"github.com/himanishpuri/bandprint/pkg/logger"
	"github.com/himanishpuri/bandprint/pkg/utils"
)

// Server encapsulates the HTTP server and its dependencies
type Server struct {
	service   *bandprint.Service
	config    *ServerConfig
	log       *logger.Logger
	listeners *registry
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Store          string
	TempDir        string
	SampleRate     int
	AllowedOrigins []string
	MaxUploadMB    int
	RequestTimeout time.Duration
	StreamChunks   int
	ChunkSize      int
}

// NewServer creates a new server instance
func NewServer(service *bandprint.Service, config *ServerConfig, log *logger.Logger) *Server {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Server{
		service:   service,
		config:    config,
		log:       log,
		listeners: newRegistry(),
	}
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// handleRoot handles GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"service": "bandprint API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"health":            "GET /health",
			"metrics":           "GET /api/health/metrics",
			"songs":             "GET /api/songs",
			"addSongFile":       "POST /api/songs",
			"addSongYouTube":    "POST /api/songs/youtube",
			"matchFile":         "POST /api/match",
			"matchFingerprints": "POST /api/match/fingerprints",
			"listeners":         "GET /api/listeners",
			"startListener":     "POST /api/listeners",
			"getListener":       "GET /api/listeners/{id}",
			"restartListener":   "POST /api/listeners/{id}/start",
			"stopListener":      "POST /api/listeners/{id}/stop",
			"deleteListener":    "DELETE /api/listeners/{id}",
		},
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleMetrics handles GET /api/health/metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	songs, err := s.service.Songs(r.Context())
	if err != nil && !errors.Is(err, bandprint.ErrNoCatalog) {
		s.log.Errorf("Failed to get song count: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve metrics")
		return
	}

	s.respondJSON(w, http.StatusOK, MetricsResponse{
		Status:     "healthy",
		Store:      s.config.Store,
		SongCount:  len(songs),
		Listeners:  s.listeners.len(),
		SampleRate: s.config.SampleRate,
	})
}

// handleListSongs handles GET /api/songs
func (s *Server) handleListSongs(w http.ResponseWriter, r *http.Request) {
	songs, err := s.service.Songs(r.Context())
	if errors.Is(err, bandprint.ErrNoCatalog) {
		s.respondError(w, http.StatusNotImplemented, "The configured store cannot list songs")
		return
	}
	if err != nil {
		s.log.Errorf("Failed to list songs: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve songs")
		return
	}
	if songs == nil {
		songs = []string{}
	}

	s.respondJSON(w, http.StatusOK, ListSongsResponse{
		Songs: songs,
		Count: len(songs),
	})
}

// saveUpload copies the multipart "audio" field into a temporary file. The
// caller removes the file.
func (s *Server) saveUpload(r *http.Request, prefix string) (string, string, error) {
	if err := r.ParseMultipartForm(int64(s.config.MaxUploadMB) << 20); err != nil {
		return "", "", fmt.Errorf("failed to parse form data: %w", err)
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		return "", "", errors.New("audio file is required")
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	tempFile := filepath.Join(s.config.TempDir, fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixNano(), name))
	out, err := os.Create(tempFile)
	if err != nil {
		return "", "", err
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(tempFile)
		return "", "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(tempFile)
		return "", "", err
	}
	return tempFile, name, nil
}

// handleAddSongFile handles POST /api/songs (multipart file upload)
func (s *Server) handleAddSongFile(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	tempFile, name, err := s.saveUpload(r, "upload")
	if err != nil {
		s.log.Errorf("Failed to save upload: %v", err)
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer os.Remove(tempFile)

	songID := strings.TrimSpace(r.FormValue("song_id"))
	if songID == "" {
		if title := r.FormValue("title"); title != "" {
			songID = audio.SongID(title, r.FormValue("artist"))
		}
	}
	if songID == "" {
		songID = strings.TrimSuffix(name, filepath.Ext(name))
	}

	s.log.Infof("Adding song from file: %s", songID)
	n, err := s.service.IndexFile(ctx, tempFile, songID)
	if err != nil {
		s.log.Errorf("Failed to add song: %v", err)
		s.respondError(w, statusFor(err), fmt.Sprintf("Failed to add song: %v", err))
		return
	}

	s.respondJSON(w, http.StatusCreated, AddSongResponse{
		Message:      "Song added successfully",
		SongID:       songID,
		Fingerprints: n,
	})
}

// handleAddSongYouTube handles POST /api/songs/youtube
func (s *Server) handleAddSongYouTube(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	var req AddSongYouTubeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.log.Infof("Adding song from YouTube URL: %s", req.YouTubeURL)
	songID, n, err := s.service.IndexYouTube(ctx, req.YouTubeURL)
	if err != nil {
		s.log.Errorf("Failed to add YouTube song: %v", err)
		s.respondError(w, statusFor(err), fmt.Sprintf("Failed to add song: %v", err))
		return
	}

	s.respondJSON(w, http.StatusCreated, AddSongResponse{
		Message:      "Song added successfully from YouTube",
		SongID:       songID,
		Fingerprints: n,
	})
}

// handleMatchFile handles POST /api/match (multipart file upload)
func (s *Server) handleMatchFile(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	tempFile, name, err := s.saveUpload(r, "query")
	if err != nil {
		s.log.Errorf("Failed to save upload: %v", err)
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer os.Remove(tempFile)

	s.log.Infof("Matching uploaded file: %s", name)
	res, err := s.service.IdentifyFile(ctx, tempFile)
	if err != nil {
		s.log.Errorf("Failed to match song: %v", err)
		s.respondError(w, statusFor(err), fmt.Sprintf("Failed to match song: %v", err))
		return
	}
	s.respondJSON(w, http.StatusOK, newMatchResponse(res))
}

// handleMatchFingerprints handles POST /api/match/fingerprints (WASM clients)
func (s *Server) handleMatchFingerprints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	var req MatchFingerprintsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Fingerprints) >= MaxFingerprintsSoftLimit {
		s.log.Warnf("Large fingerprint batch received: %d", len(req.Fingerprints))
	}

	fps, err := req.Values()
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.service.IdentifyFingerprints(ctx, fps)
	if err != nil {
		s.log.Errorf("Failed to match fingerprints: %v", err)
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to match fingerprints: %v", err))
		return
	}
	s.respondJSON(w, http.StatusOK, newMatchResponse(res))
}

// handleStartListener handles POST /api/listeners
func (s *Server) handleStartListener(w http.ResponseWriter, r *http.Request) {
	var req StartListenerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts := []stream.ListenerOption{stream.WithChunkSize(s.config.ChunkSize)}
	if req.Name != "" {
		opts = append(opts, stream.WithName(req.Name))
	}
	chunks := req.Chunks
	if chunks == 0 {
		chunks = s.config.StreamChunks
	}
	ll := &liveListener{l: s.service.NewListener(req.URL, opts...), chunks: chunks}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()
	if err := ll.start(ctx, s.service); err != nil {
		ll.l.Close()
		s.log.Warnf("Failed to start listener for %s: %v", req.URL, err)
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.listeners.add(ll)

	s.log.Infof("Started listener %s for %s", ll.l.ID(), req.URL)
	s.respondJSON(w, http.StatusCreated, ll.dto())
}

// handleListListeners handles GET /api/listeners
func (s *Server) handleListListeners(w http.ResponseWriter, r *http.Request) {
	items := s.listeners.list()
	out := make([]ListenerDTO, len(items))
	for i, ll := range items {
		out[i] = ll.dto()
	}
	s.respondJSON(w, http.StatusOK, ListListenersResponse{
		Listeners: out,
		Count:     len(out),
	})
}

// handleListenerAction handles start and stop of an existing listener
func (s *Server) handleListenerAction(w http.ResponseWriter, r *http.Request, id, action string) {
	ll, err := s.listeners.get(id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("Listener %s not found", id))
		return
	}

	switch action {
	case "start":
		ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
		defer cancel()
		if err := ll.start(ctx, s.service); err != nil {
			s.respondError(w, statusFor(err), err.Error())
			return
		}
		s.log.Infof("Restarted listener %s", id)
	case "stop":
		ll.stop()
		s.log.Infof("Stopped listener %s", id)
	default:
		http.NotFound(w, r)
		return
	}
	s.respondJSON(w, http.StatusOK, ll.dto())
}

// handleDeleteListener handles DELETE /api/listeners/{id}
func (s *Server) handleDeleteListener(w http.ResponseWriter, r *http.Request, id string) {
	ll, err := s.listeners.remove(id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("Listener %s not found", id))
		return
	}
	ll.stop()
	ll.l.Close()

	s.log.Infof("Deleted listener %s", id)
	s.respondJSON(w, http.StatusOK, ll.dto())
}

// handleSongs routes requests to /api/songs
func (s *Server) handleSongs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListSongs(w, r)
	case http.MethodPost:
		s.handleAddSongFile(w, r)
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleMatch routes requests to /api/match
func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.handleMatchFile(w, r)
}

// handleListeners routes requests to /api/listeners
func (s *Server) handleListeners(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListListeners(w, r)
	case http.MethodPost:
		s.handleStartListener(w, r)
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleListener routes requests to /api/listeners/{id}[/start|/stop]
func (s *Server) handleListener(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/listeners/"), "/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		s.respondError(w, http.StatusBadRequest, "Listener ID required")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		ll, err := s.listeners.get(id)
		if err != nil {
			s.respondError(w, http.StatusNotFound, fmt.Sprintf("Listener %s not found", id))
			return
		}
		s.respondJSON(w, http.StatusOK, ll.dto())
	case action == "" && r.Method == http.MethodDelete:
		s.handleDeleteListener(w, r, id)
	case action != "" && r.Method == http.MethodPost:
		s.handleListenerAction(w, r, id, action)
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// statusFor maps service errors onto HTTP status codes
func statusFor(err error) int {
	var (
		conflict  *stream.ConflictError
		resolve   *stream.ResolveError
		decodeErr *audio.DecodeError
	)
	switch {
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &resolve):
		return http.StatusBadGateway
	case errors.As(err, &decodeErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, utils.ErrNotYouTube):
		return http.StatusBadRequest
	case errors.Is(err, stream.ErrClosed):
		return http.StatusGone
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
