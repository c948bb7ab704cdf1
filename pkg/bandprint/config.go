package bandprint

import (
	"os"

	"github.com/himanishpuri/bandprint/pkg/bandprint/audio"
	"github.com/himanishpuri/bandprint/pkg/bandprint/fingerprint"
	"github.com/himanishpuri/bandprint/pkg/bandprint/repository"
	"github.com/himanishpuri/bandprint/pkg/bandprint/stream"
)

type Config struct {
	Engine       *fingerprint.Engine
	EngineConfig *fingerprint.Config
	Repository   repository.Repository
	// Store opens a repository when none is given. Nil means an in-memory one.
	Store        *repository.Config
	TempDir      string
	SampleRate   int
	Logger       Logger
	ChunkDecoder func() stream.Decoder
	Fetcher      stream.Fetcher
	Resolver     stream.Resolver
}

type Option func(*Config)

// WithEngine uses an already built engine. It wins over WithEngineConfig.
func WithEngine(e *fingerprint.Engine) Option {
	return func(c *Config) {
		c.Engine = e
	}
}

func WithEngineConfig(cfg fingerprint.Config) Option {
	return func(c *Config) {
		c.EngineConfig = &cfg
	}
}

func WithRepository(repo repository.Repository) Option {
	return func(c *Config) {
		c.Repository = repo
	}
}

func WithStore(cfg repository.Config) Option {
	return func(c *Config) {
		c.Store = &cfg
	}
}

func WithTempDir(dir string) Option {
	return func(c *Config) {
		c.TempDir = dir
	}
}

func WithSampleRate(rate int) Option {
	return func(c *Config) {
		c.SampleRate = rate
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

// WithChunkDecoder sets the decoder factory handed to listeners.
func WithChunkDecoder(newDecoder func() stream.Decoder) Option {
	return func(c *Config) {
		c.ChunkDecoder = newDecoder
	}
}

func WithFetcher(f stream.Fetcher) Option {
	return func(c *Config) {
		c.Fetcher = f
	}
}

func WithResolver(r stream.Resolver) Option {
	return func(c *Config) {
		c.Resolver = r
	}
}

func defaultConfig() *Config {
	return &Config{
		TempDir:    os.TempDir(),
		SampleRate: audio.DefaultSampleRate,
	}
}
