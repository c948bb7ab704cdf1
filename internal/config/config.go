// Package config loads the settings shared by the bandprint binaries.
//
// Sources are applied in order: a .env file in the working directory, an
// optional YAML file, then BANDPRINT_* environment variables. Command-line
// flags are applied by the caller on top of the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"

	"github.com/himanishpuri/bandprint/pkg/bandprint/audio"
	"github.com/himanishpuri/bandprint/pkg/bandprint/fingerprint"
	"github.com/himanishpuri/bandprint/pkg/bandprint/repository"
	"github.com/himanishpuri/bandprint/pkg/bandprint/stream"
)

const envPrefix = "BANDPRINT_"

type Config struct {
	Store      StoreConfig  `yaml:"store"`
	Engine     EngineConfig `yaml:"engine"`
	Stream     StreamConfig `yaml:"stream"`
	Server     ServerConfig `yaml:"server"`
	TempDir    string       `yaml:"temp_dir"`
	SampleRate int          `yaml:"sample_rate"`
	LogLevel   string       `yaml:"log_level"`
	LogJSON    bool         `yaml:"log_json"`
}

type StoreConfig struct {
	Driver        string `yaml:"driver"`
	Path          string `yaml:"path"`
	DSN           string `yaml:"dsn"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
	MaxRetries    int    `yaml:"max_retries"`
}

type EngineConfig struct {
	WindowSize int    `yaml:"window_size"`
	Bands      []int  `yaml:"bands"`
	Fuzz       int    `yaml:"fuzz"`
	Workers    int    `yaml:"workers"`
	Transform  string `yaml:"transform"`
}

type StreamConfig struct {
	ChunkSize int `yaml:"chunk_size"`
	// Chunks is how many decoded chunks a live identification collects.
	Chunks int `yaml:"chunks"`
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	MaxUploadMB    int           `yaml:"max_upload_mb"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

func Default() *Config {
	fp := fingerprint.DefaultConfig()
	return &Config{
		Store: StoreConfig{
			Driver:        repository.DriverBadger,
			Path:          "bandprint.db",
			MongoDatabase: "bandprint",
		},
		Engine: EngineConfig{
			WindowSize: fp.WindowSize,
			Bands:      fp.Bands,
			Fuzz:       fp.Fuzz,
			Workers:    fp.Workers,
		},
		Stream: StreamConfig{
			ChunkSize: stream.DefaultChunkSize,
			Chunks:    32,
		},
		Server: ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"*"},
			MaxUploadMB:    50,
			RequestTimeout: 2 * time.Minute,
		},
		TempDir:    os.TempDir(),
		SampleRate: audio.DefaultSampleRate,
		LogLevel:   "INFO",
	}
}

// Load builds the configuration from .env, the YAML file at path (skipped
// when path is empty) and the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(name string, dst *int) {
		v, ok := lookup(envPrefix + name)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
			return
		}
		*dst = n
	}

	str("STORE", &c.Store.Driver)
	str("DB", &c.Store.Path)
	str("POSTGRES_DSN", &c.Store.DSN)
	str("REDIS_ADDR", &c.Store.RedisAddr)
	str("REDIS_PASSWORD", &c.Store.RedisPassword)
	num("REDIS_DB", &c.Store.RedisDB)
	str("MONGO_URI", &c.Store.MongoURI)
	str("MONGO_DATABASE", &c.Store.MongoDatabase)
	num("MAX_RETRIES", &c.Store.MaxRetries)

	num("WINDOW_SIZE", &c.Engine.WindowSize)
	num("FUZZ", &c.Engine.Fuzz)
	num("WORKERS", &c.Engine.Workers)
	str("TRANSFORM", &c.Engine.Transform)
	if v, ok := lookup(envPrefix + "BANDS"); ok && v != "" {
		bands, err := parseBands(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sBANDS: %w", envPrefix, err))
		} else {
			c.Engine.Bands = bands
		}
	}

	num("CHUNK_SIZE", &c.Stream.ChunkSize)
	num("CHUNKS", &c.Stream.Chunks)

	num("PORT", &c.Server.Port)
	num("MAX_UPLOAD_MB", &c.Server.MaxUploadMB)
	if v, ok := lookup(envPrefix + "ORIGINS"); ok && v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}

	str("TEMP_DIR", &c.TempDir)
	num("SAMPLE_RATE", &c.SampleRate)
	str("LOG_LEVEL", &c.LogLevel)
	return errors.Join(errs...)
}

// Validate checks the values the engine and repository do not check
// themselves.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case repository.DriverMemory, repository.DriverBadger, repository.DriverSQLite,
		repository.DriverPostgres, repository.DriverRedis, repository.DriverMongo:
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("config: sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Stream.Chunks <= 0 {
		return fmt.Errorf("config: stream.chunks must be positive, got %d", c.Stream.Chunks)
	}
	return nil
}

// Repository maps the store section onto repository.Config.
func (c *Config) Repository(log repository.Logger) repository.Config {
	return repository.Config{
		Driver:        c.Store.Driver,
		Path:          c.Store.Path,
		DSN:           c.Store.DSN,
		RedisAddr:     c.Store.RedisAddr,
		RedisPassword: c.Store.RedisPassword,
		RedisDB:       c.Store.RedisDB,
		MongoURI:      c.Store.MongoURI,
		MongoDatabase: c.Store.MongoDatabase,
		MaxRetries:    c.Store.MaxRetries,
		Logger:        log,
	}
}

// Fingerprint maps the engine section onto fingerprint.Config, building the
// named transform for the configured window size.
func (c *Config) Fingerprint() (fingerprint.Config, error) {
	tr, err := fingerprint.NewTransform(c.Engine.Transform, c.Engine.WindowSize)
	if err != nil {
		return fingerprint.Config{}, err
	}
	return fingerprint.Config{
		WindowSize: c.Engine.WindowSize,
		Bands:      append([]int(nil), c.Engine.Bands...),
		Fuzz:       c.Engine.Fuzz,
		Workers:    c.Engine.Workers,
		Transform:  tr,
	}, nil
}

func parseBands(s string) ([]int, error) {
	parts := splitList(s)
	bands := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		bands = append(bands, n)
	}
	return bands, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
