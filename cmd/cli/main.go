package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mdobak/go-xerrors"
	"github.com/spf13/cobra"

	"github.com/himanishpuri/bandprint/internal/config"
	"github.com/himanishpuri/bandprint/pkg/bandprint"
	"github.com/himanishpuri/bandprint/pkg/logger"
)

// Global flags
var (
	configPath string
	storeFlag  string
	dbPath     string
	tempDir    string
	verbose    bool
	jsonLogs   bool
)

var (
	cfg *config.Config
	log *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "bandprint",
	Short: "Audio fingerprinting and live stream identification",
	Long: `bandprint indexes songs by their per-band spectral peaks and identifies
recordings or live radio streams against the index.

Configuration is read from .env, then the file given with --config, then
BANDPRINT_* environment variables. Flags override all of them.

Examples:
  # Index a directory of songs into a badger store
  bandprint --db ./index index ~/Music

  # Identify a recording
  bandprint match clip.mp3

  # Identify whatever a radio station is playing
  bandprint listen https://radio.example/live.m3u8`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", os.Getenv("BANDPRINT_CONFIG"), "YAML config file")
	pf.StringVar(&storeFlag, "store", "", "repository driver: memory, badger, sqlite, postgres, redis, mongo")
	pf.StringVar(&dbPath, "db", "", "badger directory or SQLite file")
	pf.StringVar(&tempDir, "temp", "", "directory for temporary audio files")
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	pf.BoolVar(&jsonLogs, "json-logs", false, "log as JSON")

	rootCmd.AddCommand(indexCmd, matchCmd, listenCmd, songsCmd, spectrogramCmd)
}

func setup(_ *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}
	if storeFlag != "" {
		cfg.Store.Driver = storeFlag
	}
	if dbPath != "" {
		cfg.Store.Path = dbPath
	}
	if tempDir != "" {
		cfg.TempDir = tempDir
	}

	lc := logger.Config{Level: logger.INFO, JSON: jsonLogs || cfg.LogJSON, Output: os.Stderr}
	if lvl, ok := logger.ParseLevel(cfg.LogLevel); ok {
		lc.Level = lvl
	}
	if verbose {
		lc.Level = logger.DEBUG
	}
	log = logger.New(lc)
	return cfg.Validate()
}

// newService builds the service described by the loaded configuration.
func newService() (*bandprint.Service, error) {
	ec, err := cfg.Fingerprint()
	if err != nil {
		return nil, err
	}
	return bandprint.NewService(
		bandprint.WithEngineConfig(ec),
		bandprint.WithStore(cfg.Repository(log)),
		bandprint.WithTempDir(cfg.TempDir),
		bandprint.WithSampleRate(cfg.SampleRate),
		bandprint.WithLogger(log),
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		l := slog.Default()
		if log != nil {
			l = log.Slog()
		}
		l.ErrorContext(ctx, "Command failed.", slog.Any("error", xerrors.New(err)))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
