package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ASISBusiness/workers-sdk/internal/config"
	"github.com/ASISBusiness/workers-sdk/internal/logging"
	"github.com/ASISBusiness/workers-sdk/internal/observability"
	"github.com/ASISBusiness/workers-sdk/internal/registry"
	"github.com/ASISBusiness/workers-sdk/internal/timestore"
)

// The daemon is optional: any worker process can own the registry, but
// running this keeps one process holding it across worker restarts.
func main() {
	configFile := flag.String("config", "", "path to JSON config file")
	flag.Parse()

	if *configFile != "" {
		if err := config.LoadConfig(*configFile); err != nil {
			bootLogger := logging.Init("")
			bootLogger.Fatal().Err(err).Msg("loading config")
		}
	}
	cfg := config.AppConfig

	logger := logging.Init(cfg.LogLevel)
	logger.Info().Msg("starting dev registry...")

	if cfg.MetricsAddr != "" {
		observability.ServeMetrics(cfg.MetricsAddr)
	}

	svc := registry.NewService(registry.Options{
		Host:         cfg.RegistryHost,
		Port:         cfg.RegistryPort,
		DrainTimeout: time.Duration(cfg.DrainTimeoutMs) * time.Millisecond,
		Logger:       &logger,
	})

	if err := svc.StartRegistry(); err != nil {
		logger.Fatal().Err(err).Msg("starting registry server")
	}
	if !svc.Owner() {
		logger.Info().Msg("registry already running in another process, nothing to do")
		return
	}

	recordStart(logger, cfg)

	// Set up signal handling for graceful shutdown
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	<-sigs
	logger.Info().Msg("shutting down dev registry...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	svc.Shutdown(ctx)
	logger.Info().Msg("dev registry exited properly")
}

// recordStart persists the daemon start time so tooling can tell when the
// registry was last up. Best-effort: a failed write is logged and ignored.
func recordStart(logger zerolog.Logger, cfg config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var store timestore.Store
	if cfg.DB.URI != "" {
		mongoStore, err := timestore.NewMongoStore(ctx, cfg.DB.URI, cfg.DB.Name, cfg.DB.Collection)
		if err != nil {
			logger.Warn().Err(err).Msg("connecting last-check store")
			return
		}
		defer mongoStore.Disconnect(ctx)
		store = mongoStore
	} else {
		path := cfg.LastCheckFile
		if path == "" {
			path = "last_checked.json"
		}
		store = timestore.NewFileStore(path)
	}

	if last, err := store.Get(ctx); err == nil {
		logger.Debug().Str("last_started", last).Msg("previous registry start")
	} else if err != timestore.ErrNotFound {
		logger.Warn().Err(err).Msg("reading last-check store")
	}

	if err := store.Put(ctx, time.Now().UTC().Format(time.RFC3339)); err != nil {
		logger.Warn().Err(err).Msg("recording registry start time")
	}
}
