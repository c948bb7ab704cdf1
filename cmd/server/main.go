//go:build !js && !wasm

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mdobak/go-xerrors"

	"github.com/himanishpuri/bandprint/internal/config"
	"github.com/himanishpuri/bandprint/pkg/bandprint"
	"github.com/himanishpuri/bandprint/pkg/logger"
)

var (
	configPath     string
	port           int
	storeDriver    string
	dbPath         string
	allowedOrigins string
)

func init() {
	flag.StringVar(&configPath, "config", os.Getenv("BANDPRINT_CONFIG"), "YAML config file")
	flag.IntVar(&port, "port", 0, "HTTP server port (default from config)")
	flag.StringVar(&storeDriver, "store", "", "repository driver")
	flag.StringVar(&dbPath, "db", "", "badger directory or SQLite file")
	flag.StringVar(&allowedOrigins, "origins", "", "Comma-separated list of allowed CORS origins (use * for all)")
}

func main() {
	flag.Parse()
	log := logger.GetLogger()

	if err := run(log); err != nil {
		log.Slog().Error("Server failed.", slog.Any("error", xerrors.New(err)))
		os.Exit(1)
	}
}

func run(log *logger.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if storeDriver != "" {
		cfg.Store.Driver = storeDriver
	}
	if dbPath != "" {
		cfg.Store.Path = dbPath
	}
	if allowedOrigins != "" {
		origins := strings.Split(allowedOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.Server.AllowedOrigins = origins
	}
	if lvl, ok := logger.ParseLevel(cfg.LogLevel); ok {
		log.SetLevel(lvl)
	}

	ec, err := cfg.Fingerprint()
	if err != nil {
		return err
	}
	service, err := bandprint.NewService(
		bandprint.WithEngineConfig(ec),
		bandprint.WithStore(cfg.Repository(log)),
		bandprint.WithTempDir(cfg.TempDir),
		bandprint.WithSampleRate(cfg.SampleRate),
		bandprint.WithLogger(log),
	)
	if err != nil {
		return err
	}
	defer service.Close()

	server := NewServer(service, &ServerConfig{
		Port:           cfg.Server.Port,
		Store:          cfg.Store.Driver,
		TempDir:        cfg.TempDir,
		SampleRate:     cfg.SampleRate,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxUploadMB:    cfg.Server.MaxUploadMB,
		RequestTimeout: cfg.Server.RequestTimeout,
		StreamChunks:   cfg.Stream.Chunks,
		ChunkSize:      cfg.Stream.ChunkSize,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return server.Run(ctx)
}
