package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apihttp "otagent/internal/api/http"
	"otagent/internal/app"
	"otagent/internal/device"
	"otagent/internal/domain/ports"
	"otagent/internal/metrics"
	"otagent/internal/partition"
	memoryrepo "otagent/internal/repository/memory"
	mongorepo "otagent/internal/repository/mongo"
	"otagent/internal/telemetry"
	"otagent/internal/transfer"
	"otagent/internal/usecase"
)

const firmwareImageName = "firmware.img"

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "ota-agent")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	if cfg.UpdateURL == "" {
		logger.Error("OTA_UPDATE_URL is required")
		os.Exit(1)
	}
	if version := readVersionFile(cfg.VersionFile, logger); version != "" {
		cfg.CurrentVersion = version
	}

	logger.Info("configuration loaded",
		slog.String("service", "ota-agent"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("deviceId", cfg.DeviceID),
		slog.String("firmwareVersion", cfg.CurrentVersion),
		slog.String("updateUrl", cfg.UpdateURL),
		slog.Duration("checkInterval", cfg.CheckInterval),
		slog.String("stagingDir", cfg.StagingDir),
		slog.Int("chunkSizeBytes", cfg.ChunkSizeBytes),
		slog.Int64("bandwidthLimitBytes", cfg.BandwidthLimit),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, disconnect := buildRepository(rootCtx, cfg, logger)
	defer disconnect()

	slot := partition.NewFile(cfg.StagingDir, firmwareImageName, logger)
	controller := transfer.New(slot, logger, transfer.Config{
		ChunkSize:      cfg.ChunkSizeBytes,
		PollInterval:   cfg.PollInterval,
		BandwidthLimit: cfg.BandwidthLimit,
	})

	// The response body is the firmware stream, so no client-level timeout;
	// only the header wait is bounded.
	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(&http.Transport{
			ResponseHeaderTimeout: 30 * time.Second,
		}),
	}

	check := usecase.CheckUpdate{
		Client:         httpClient,
		Endpoint:       cfg.UpdateURL,
		DeviceID:       cfg.DeviceID,
		CurrentVersion: cfg.CurrentVersion,
		BufferSize:     cfg.SourceBufferBytes,
		Logger:         logger,
	}

	var rebooter ports.Rebooter = device.NopRebooter{Logger: logger}
	if !cfg.RebootDisabled && len(cfg.RebootCommand) > 0 {
		rebooter = device.CommandRebooter{Command: cfg.RebootCommand, Logger: logger}
	}

	apply := usecase.ApplyUpdate{
		Check:          check,
		Transfer:       controller,
		Repo:           repo,
		Rebooter:       rebooter,
		DeviceID:       cfg.DeviceID,
		CurrentVersion: cfg.CurrentVersion,
		Logger:         logger,
	}
	sched := usecase.NewScheduler(apply, logger, cfg.CheckInterval)
	go sched.Run(rootCtx)

	handler := apihttp.NewServer(
		apihttp.WithLogger(logger),
		apihttp.WithRepository(repo),
		apihttp.WithScheduler(sched),
		apihttp.WithProgress(controller),
		apihttp.WithDeviceInfo(cfg.DeviceID, cfg.CurrentVersion),
		apihttp.WithHistoryLimit(cfg.HistoryLimit),
		apihttp.WithAllowedOrigins(cfg.AllowedOrigins),
	)
	controller.OnProgress(func(written, declared int64) {
		_, state := controller.Progress()
		handler.BroadcastProgress(written, state)
	})
	go broadcastOutcomes(rootCtx, sched, handler)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("agent started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}

	logger.Info("agent stopped")
}

// broadcastOutcomes pushes each newly settled update attempt to the WebSocket
// clients. Polling the scheduler keeps the transfer path free of any API
// dependency.
func broadcastOutcomes(ctx context.Context, sched *usecase.Scheduler, handler *apihttp.Server) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var lastSeen string
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rec := sched.LastOutcome()
			if rec == nil || rec.ID == lastSeen {
				continue
			}
			lastSeen = rec.ID
			handler.BroadcastOutcome(*rec)
		}
	}
}

// buildRepository connects the mongo-backed history store when configured and
// falls back to the bounded in-memory store otherwise.
func buildRepository(ctx context.Context, cfg app.Config, logger *slog.Logger) (ports.UpdateRepository, func()) {
	if cfg.HistoryURI == "" {
		return memoryrepo.NewRepository(cfg.HistoryLimit), func() {}
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongorepo.Connect(connectCtx, cfg.HistoryURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
	if err != nil {
		logger.Warn("history store connect failed, using in-memory history", slog.String("error", err.Error()))
		return memoryrepo.NewRepository(cfg.HistoryLimit), func() {}
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		logger.Warn("history store ping failed, using in-memory history", slog.String("error", err.Error()))
		_ = client.Disconnect(context.Background())
		return memoryrepo.NewRepository(cfg.HistoryLimit), func() {}
	}

	repo := mongorepo.NewRepository(client, cfg.HistoryDB, cfg.HistoryCollection)
	if err := repo.EnsureIndexes(connectCtx); err != nil {
		logger.Warn("history ensure indexes failed", slog.String("error", err.Error()))
	}
	logger.Info("history store connected", slog.String("db", cfg.HistoryDB), slog.String("collection", cfg.HistoryCollection))

	disconnect := func() {
		if err := client.Disconnect(context.Background()); err != nil {
			logger.Warn("history store disconnect error", slog.String("error", err.Error()))
		}
	}
	return repo, disconnect
}

func readVersionFile(path string, logger *slog.Logger) string {
	if strings.TrimSpace(path) == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("version file read failed", slog.String("path", path), slog.String("error", err.Error()))
		return ""
	}
	return strings.TrimSpace(string(data))
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
