package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"danbooru-captioner/internal/acquire"
	"danbooru-captioner/internal/batch"
	"danbooru-captioner/internal/character"
	"danbooru-captioner/internal/config"
	"danbooru-captioner/internal/creds"
	"danbooru-captioner/internal/metrics"
	"danbooru-captioner/internal/modelclient"
	"danbooru-captioner/internal/storegw"
	"danbooru-captioner/internal/worker"
)

func main() {
	cfg, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	logOutput := os.Stdout
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to open log file", "error", err)
			os.Exit(1)
		}
		defer f.Close()
		logOutput = f
	}

	logger := slog.New(slog.NewJSONHandler(logOutput, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if _, err := creds.Bootstrap(cfg.GoogleApplicationCredentials, cfg.GoogleApplicationCredentialsContent); err != nil {
		slog.Error("failed to bootstrap google credentials", "error", err)
		os.Exit(1)
	}
	slog.Info("google credentials ready")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storeClient, err := storegw.NewClient(ctx, cfg.MongoDBURI)
	if err != nil {
		slog.Error("failed to connect to document store", "error", err)
		os.Exit(1)
	}
	defer storeClient.Close(context.Background())
	slog.Info("document store connected")

	pics := storegw.NewPicsGateway(storeClient)
	captions := storegw.NewCaptionsGateway(storeClient)
	tags := storegw.NewTagsGateway(storeClient, logger)
	analyzer := character.NewAnalyzer(pics, tags)

	var archive acquire.ArchiveSource
	if cfg.HFRepo != "" {
		archive = acquire.NewHFPicsSource(cfg.HFRepo)
	}
	wget := acquire.NewWgetDownloader()
	httpDownloader := acquire.NewHTTPDownloader(logger)
	downloader := acquire.NewCompositeDownloader(wget, httpDownloader)
	acquirer := acquire.NewAcquirer(acquire.Config{PreferArchiveFirst: cfg.UseHFPicsFirst}, archive, downloader)

	reg := metrics.New()
	model := modelclient.NewClient(modelclient.Config{
		ModelID:   cfg.ModelID,
		ProjectID: cfg.ProjectID,
		Regions:   cfg.Regions,
	}, logger, reg)

	nowSecond := func() float64 { return float64(time.Now().UnixNano()) / 1e9 }
	w := worker.New(pics, captions, analyzer, acquirer, model, cfg.Language, logger, nowSecond)
	orchestrator := batch.New(pics, captions, w, int64(cfg.MaxConcurrency), cfg.SaveImage, cfg.OutputDir, logger, nowSecond, reg)

	if cfg.MetricsAddr != "" {
		go func() {
			if err := reg.ListenAndServe(cfg.MetricsAddr); err != nil {
				slog.Error("metrics server stopped", "error", err)
			}
		}()
		slog.Info("metrics server listening", "addr", cfg.MetricsAddr)

		go pollBreakerStates(ctx, storeClient, reg)
	}

	var stats batch.Stats
	switch {
	case cfg.KeySet && cfg.RangeSet:
		// unreachable: config.Validate() rejects this combination
	case cfg.KeySet:
		slog.Info("running batch by shard key", "key", cfg.Key)
		stats, err = orchestrator.RunByKey(ctx, cfg.Key)
	case cfg.RangeSet:
		slog.Info("running batch by id range", "start_id", cfg.StartID, "end_id", cfg.EndID)
		stats, err = orchestrator.RunRange(ctx, cfg.StartID, cfg.EndID)
	}
	if err != nil {
		slog.Error("batch run failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("total=%d success=%d failed=%d skipped=%d total_time=%.2fs avg_time_per_item=%.3fs\n",
		stats.Total, stats.Success, stats.Failed, stats.Skipped, stats.TotalTime, stats.AvgTimePerItem)
	slog.Info("batch run complete", "total", stats.Total, "success", stats.Success,
		"failed", stats.Failed, "skipped", stats.Skipped, "total_time", stats.TotalTime)
}

// pollBreakerStates periodically exports each storegw gateway's circuit
// breaker state to the circuit-state gauge, until ctx is canceled.
func pollBreakerStates(ctx context.Context, store *storegw.Client, reg *metrics.Registry) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, check := range store.BreakerStates() {
				reg.SetCircuitState(check.Name, check.State)
			}
		}
	}
}
