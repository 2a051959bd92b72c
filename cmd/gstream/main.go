package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/gstream/internal/app"
	"github.com/mantonx/gstream/internal/config"
	"github.com/mantonx/gstream/internal/database"
	"github.com/mantonx/gstream/internal/events"
	"github.com/mantonx/gstream/internal/history"
	"github.com/mantonx/gstream/internal/logger"
	"github.com/mantonx/gstream/internal/metrics"
	"github.com/mantonx/gstream/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", config.DefaultPath(), "Path to the configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "gstream: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cm := config.NewConfigManager(nil)
	if err := cm.LoadConfig(configPath); err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	cfg := cm.GetConfig()

	log, closer, err := logger.New(logger.Options{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		Output:   cfg.Logging.Output,
		FilePath: cfg.Logging.FilePath,
	})
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer closer.Close()
	logger.SetDefault(log)
	log.Info("configuration loaded", "path", configPath)

	dbPath := cfg.Database.Path
	if dbPath == "" && cfg.Database.Type != database.TypePostgres {
		dbPath = filepath.Join(filepath.Dir(configPath), "history.db")
	}
	db, err := database.Open(database.Config{
		Type: cfg.Database.Type,
		Path: dbPath,
		URL:  cfg.Database.URL,
	}, log)
	if err != nil {
		return err
	}
	defer database.Close(db)

	store := history.NewStore(db)
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrate history: %w", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		if m, err = metrics.New(); err != nil {
			return fmt.Errorf("create metrics: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The bus outlives the signal so shutdown events still get delivered
	bus := events.NewBus(events.DefaultBusConfig(), log)
	if err := bus.Start(context.Background()); err != nil {
		return fmt.Errorf("start event bus: %w", err)
	}

	a, err := app.New(app.Options{
		Config:  cm,
		Bus:     bus,
		History: store,
		Metrics: m,
		Logger:  log,
	})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	watcher, err := config.NewWatcher(cm, 0, log)
	if err != nil {
		log.Warn("config hot-reload disabled", "error", err)
	} else {
		watcher.OnError(func(err error) {
			log.Warn("config reload failed", "error", err)
		})
		watcher.Start(ctx)
		defer watcher.Close()
	}

	var srv *server.Server
	if cfg.Server.Enabled {
		srv, err = server.New(server.FromConfig(cfg), a, bus, m, log)
		if err != nil {
			return err
		}
		if err := srv.Start(); err != nil {
			_ = bus.Stop(context.Background())
			return err
		}
	}

	if err := a.Start(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = shutdown(shutdownCtx, log, srv, a, bus)
		return err
	}
	log.Info("gstream started", "host", cfg.Host.Address, "port", cfg.Host.Port)

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return shutdown(shutdownCtx, log, srv, a, bus)
}

func shutdown(ctx context.Context, log hclog.Logger, srv *server.Server, a *app.App, bus events.Bus) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			log.Error("server shutdown failed", "error", err)
			keep(err)
		}
	}
	if err := a.Stop(ctx); err != nil {
		log.Error("app shutdown failed", "error", err)
		keep(err)
	}
	if err := bus.Stop(ctx); err != nil {
		log.Error("event bus shutdown failed", "error", err)
		keep(err)
	}
	return firstErr
}
