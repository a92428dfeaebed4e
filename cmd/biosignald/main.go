// ABOUTME: Main entry point for the biosignal acquisition daemon
// ABOUTME: Loads config, opens storage and catalog, runs the dashboard HTTP server
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	nethttp "net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/harper/biosignal-recorder/internal/application/config"
	"github.com/harper/biosignal-recorder/internal/application/logging"
	"github.com/harper/biosignal-recorder/internal/application/manager"
	"github.com/harper/biosignal-recorder/internal/infrastructure/catalog"
	"github.com/harper/biosignal-recorder/internal/infrastructure/device"
	"github.com/harper/biosignal-recorder/internal/infrastructure/http"
	"github.com/harper/biosignal-recorder/internal/infrastructure/storage"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run() error {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfgPath := "config.yaml"
	if v := os.Getenv("BIOSIGNAL_CONFIG"); v != "" {
		cfgPath = v
	}
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.Logging)
	slog.SetDefault(logger)

	sinks, err := storage.NewFactory(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("open data dir: %w", err)
	}
	logger.Info("data directory ready", "path", sinks.Dir())

	store, err := catalog.Open(cfg.Storage.CatalogPath)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer store.Close()

	sensors := make([]device.SensorType, 0, len(cfg.Device.Sensors))
	for _, name := range cfg.Device.Sensors {
		st, ok := device.ParseSensorType(name)
		if !ok {
			return fmt.Errorf("unknown sensor type %q", name)
		}
		sensors = append(sensors, st)
	}
	sim := device.NewSimulator(device.SimulatorConfig{
		Sensors:  sensors,
		Realtime: *cfg.Device.Realtime,
	}, logger)

	mgr := manager.NewFromConfig(cfg, sim, sinks, store, logger)

	srv := &nethttp.Server{
		Addr: net.JoinHostPort(cfg.Listen.Host, strconv.Itoa(cfg.Listen.Port)),
		Handler: http.NewServer(mgr, http.Dashboard{
			PollMs:         cfg.Dashboard.PollMs,
			LengthDisplayS: cfg.Dashboard.LengthDisplayS,
		}, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.StopTimeout() + 15*time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return context.Background()
		},
	}

	// Graceful shutdown
	shutdown := make(chan error, 1)
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		logger.Info("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		shutdown <- srv.Shutdown(ctx)
	}()

	logger.Info("listening", "url", "http://"+srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != nethttp.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}

	if err := <-shutdown; err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	// Drain the active session before the catalog closes
	ctx, cancel := context.WithTimeout(context.Background(), cfg.StopTimeout())
	defer cancel()
	if err := mgr.Shutdown(ctx); err != nil {
		return fmt.Errorf("stop session: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
