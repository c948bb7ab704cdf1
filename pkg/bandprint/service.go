// Package bandprint indexes and identifies songs by their band-peak
// fingerprints, from files or from live streams.
package bandprint

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/himanishpuri/bandprint/pkg/bandprint/audio"
	"github.com/himanishpuri/bandprint/pkg/bandprint/fingerprint"
	"github.com/himanishpuri/bandprint/pkg/bandprint/repository"
	"github.com/himanishpuri/bandprint/pkg/bandprint/stream"
	"github.com/himanishpuri/bandprint/pkg/logger"
)

// DefaultCandidates is how many ranked matches a Result carries.
const DefaultCandidates = 10

var ErrNoCatalog = errors.New("bandprint: repository cannot list songs")

type Service struct {
	engine *fingerprint.Engine
	repo   repository.Repository
	log    Logger
	config *Config
}

func NewService(opts ...Option) (*Service, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}

	engine := cfg.Engine
	if engine == nil {
		ec := fingerprint.DefaultConfig()
		if cfg.EngineConfig != nil {
			ec = *cfg.EngineConfig
		}
		var err error
		engine, err = fingerprint.New(ec)
		if err != nil {
			return nil, fmt.Errorf("failed to create engine: %w", err)
		}
	}

	repo := cfg.Repository
	if repo == nil {
		if cfg.Store != nil {
			var err error
			repo, err = repository.Open(context.Background(), *cfg.Store)
			if err != nil {
				return nil, fmt.Errorf("failed to open repository: %w", err)
			}
		} else {
			repo = repository.NewMemory(repository.MemoryOptions{})
		}
	}

	return &Service{
		engine: engine,
		repo:   repo,
		log:    cfg.Logger,
		config: cfg,
	}, nil
}

func (s *Service) Engine() *fingerprint.Engine { return s.engine }

func (s *Service) Repository() repository.Repository { return s.repo }

// IndexSamples fingerprints mono samples and stores them under songID. It
// returns the number of fingerprints computed.
func (s *Service) IndexSamples(ctx context.Context, samples []float32, songID string) (int, error) {
	if songID == "" {
		return 0, repository.ErrEmptySongID
	}
	fps, err := s.engine.Analyze(ctx, samples)
	if err != nil {
		return 0, fmt.Errorf("fingerprinting %q: %w", songID, err)
	}
	if len(fps) == 0 {
		s.log.Warnf("Song %q is shorter than one window, nothing to index", songID)
		return 0, nil
	}
	if err := s.repo.Store(ctx, fps, songID); err != nil {
		return 0, fmt.Errorf("storing %q: %w", songID, err)
	}
	s.log.Infof("Indexed %q with %d fingerprints", songID, len(fps))
	return len(fps), nil
}

// IndexFile decodes a whole audio file and indexes it. An empty songID is
// derived from the file's tags or name.
func (s *Service) IndexFile(ctx context.Context, path, songID string) (int, error) {
	if songID == "" {
		songID = audio.SongIDForFile(path)
	}
	samples, rate, err := s.decodeFile(ctx, path)
	if err != nil {
		return 0, err
	}
	s.log.Debugf("Decoded %s: %d samples at %d Hz", path, len(samples), rate)
	return s.IndexSamples(ctx, samples, songID)
}

// IndexYouTube downloads a video's audio and indexes it under the
// "Title - Artist" id taken from the video metadata.
func (s *Service) IndexYouTube(ctx context.Context, url string) (string, int, error) {
	path, meta, err := audio.DownloadYouTube(ctx, url, s.config.TempDir)
	if err != nil {
		return "", 0, fmt.Errorf("youtube download failed: %w", err)
	}
	defer os.Remove(path)

	songID := meta.SongID()
	n, err := s.IndexFile(ctx, path, songID)
	if err != nil {
		return "", 0, err
	}
	return songID, n, nil
}

// IdentifySamples fingerprints a query and votes for the songs sharing its
// fingerprints.
func (s *Service) IdentifySamples(ctx context.Context, samples []float32) (Result, error) {
	fps, err := s.engine.Analyze(ctx, samples)
	if err != nil {
		return Result{}, fmt.Errorf("fingerprinting query: %w", err)
	}
	return s.IdentifyFingerprints(ctx, fps)
}

// IdentifyFingerprints votes with fingerprints computed elsewhere, such as
// by the WebAssembly client.
func (s *Service) IdentifyFingerprints(ctx context.Context, fps []fingerprint.Fingerprint) (Result, error) {
	tally, err := s.repo.FindMatches(ctx, fps)
	if err != nil {
		return Result{}, fmt.Errorf("finding matches: %w", err)
	}

	res := Result{
		Candidates: tally.Top(DefaultCandidates),
		Queried:    len(fps),
	}
	res.Best, res.Found = repository.PickBest(tally)
	if res.Found {
		res.Confidence = calculateConfidence(res.Best.Votes, res.Queried)
	}
	s.log.Debugf("Query of %d fingerprints matched %d songs", res.Queried, len(tally))
	return res, nil
}

func (s *Service) IdentifyFile(ctx context.Context, path string) (Result, error) {
	samples, _, err := s.decodeFile(ctx, path)
	if err != nil {
		return Result{}, err
	}
	return s.IdentifySamples(ctx, samples)
}

func (s *Service) decodeFile(ctx context.Context, path string) ([]float32, int, error) {
	samples, rate, err := audio.DecodeFile(ctx, path, audio.FileOptions{
		TempDir:    s.config.TempDir,
		SampleRate: s.config.SampleRate,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("decoding %s: %w", path, err)
	}
	return samples, rate, nil
}

// Songs lists indexed song ids when the repository keeps a catalog.
func (s *Service) Songs(ctx context.Context) ([]string, error) {
	cat, ok := s.repo.(repository.Catalog)
	if !ok {
		return nil, ErrNoCatalog
	}
	return cat.Songs(ctx)
}

// NewListener builds a stream listener wired with the service's decoder,
// fetcher, resolver and logger. opts are applied last.
func (s *Service) NewListener(uri string, opts ...stream.ListenerOption) *stream.Listener {
	base := []stream.ListenerOption{stream.WithLogger(s.log)}
	if s.config.ChunkDecoder != nil {
		base = append(base, stream.WithDecoder(s.config.ChunkDecoder))
	}
	if s.config.Fetcher != nil {
		base = append(base, stream.WithFetcher(s.config.Fetcher))
	}
	if s.config.Resolver != nil {
		base = append(base, stream.WithResolver(s.config.Resolver))
	}
	return stream.NewListener(uri, append(base, opts...)...)
}

// Close releases the repository.
func (s *Service) Close() error {
	return s.repo.Close()
}

// calculateConfidence maps the share of query fingerprints that voted for a
// song onto 0-100 with a logistic curve centred on a 15% share.
func calculateConfidence(votes, queried int) float64 {
	if votes == 0 || queried == 0 {
		return 0.0
	}

	ratio := float64(votes) / float64(queried)

	const (
		steepness = 20.0
		midpoint  = 0.15
	)

	exponent := -steepness * (ratio - midpoint)
	confidence := 100.0 / (1.0 + math.Exp(exponent))

	if ratio > 0.30 {
		boost := (ratio - 0.30) * 50
		confidence = math.Min(100.0, confidence+boost)
	}

	// Very low vote counts are unreliable
	if votes < 5 {
		confidence *= float64(votes) / 5.0
	}

	return confidence
}
