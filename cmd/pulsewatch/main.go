package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dhowlett/pulsewire/internal/config"
	"github.com/dhowlett/pulsewire/internal/connection"
	"github.com/dhowlett/pulsewire/internal/progress"
	"github.com/dhowlett/pulsewire/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/pulsewatch.local.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	// Set up structured logging
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting pulsewatch",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"endpoint", cfg.Stream.Endpoint,
		"fallback_enabled", cfg.Fallback.Enabled,
	)

	// Parse the task IDs to watch
	if flag.NArg() == 0 {
		logger.Error("no task IDs given", "usage", "pulsewatch [flags] TASK_ID...")
		os.Exit(1)
	}
	taskIDs := make([]uuid.UUID, 0, flag.NArg())
	for _, arg := range flag.Args() {
		id, err := uuid.Parse(arg)
		if err != nil {
			logger.Error("invalid task ID", "arg", arg, "error", err)
			os.Exit(1)
		}
		taskIDs = append(taskIDs, id)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	handler := &printHandler{logger: logger}

	// Build the live stream
	connCfg := connection.DefaultConfig()
	connCfg.Endpoint = cfg.Stream.Endpoint
	connCfg.AuthToken = cfg.Stream.AuthToken
	connCfg.QueueWhileConnecting = cfg.Stream.QueueWhileConnecting
	connCfg.ReconnectEnabled = !cfg.Stream.Reconnect.Disabled
	if cfg.Stream.Reconnect.InitialDelay > 0 {
		connCfg.InitialBackoff = cfg.Stream.Reconnect.InitialDelay
	}
	if cfg.Stream.Reconnect.MaxDelay > 0 {
		connCfg.MaxBackoff = cfg.Stream.Reconnect.MaxDelay
	}
	if cfg.Stream.Reconnect.Multiplier > 0 {
		connCfg.BackoffMultiplier = cfg.Stream.Reconnect.Multiplier
	}
	connCfg.MaxReconnectAttempts = cfg.Stream.Reconnect.MaxAttempts
	connCfg.FallbackEnabled = cfg.Fallback.Enabled
	if cfg.Fallback.RetryInterval > 0 {
		connCfg.FallbackRetryInterval = cfg.Fallback.RetryInterval
	}

	stream := progress.NewStream(connCfg, handler, progress.WithStreamLogger(logger))

	// Start the fallback poller if configured
	if cfg.Fallback.Enabled {
		pollCfg := progress.DefaultPollerConfig()
		pollCfg.BaseURL = cfg.Fallback.PollURL
		pollCfg.AuthToken = cfg.Stream.AuthToken
		if cfg.Fallback.PollInterval > 0 {
			pollCfg.Interval = cfg.Fallback.PollInterval
		}
		if cfg.Fallback.PollTimeout > 0 {
			pollCfg.Timeout = cfg.Fallback.PollTimeout
		}
		if cfg.Fallback.Concurrency > 0 {
			pollCfg.Concurrency = cfg.Fallback.Concurrency
		}

		poller := progress.NewPoller(pollCfg, stream.Manager(), handler, logger)
		for _, id := range taskIDs {
			poller.Track(id)
		}
		if err := poller.Start(ctx); err != nil {
			logger.Error("failed to start fallback poller", "error", err)
			os.Exit(1)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			if err := poller.Stop(stopCtx); err != nil {
				logger.Warn("poller shutdown timed out", "error", err)
			}
		}()
	}

	stream.Connect()
	defer stream.Disconnect()

	g, gctx := errgroup.WithContext(ctx)

	// Subscribe the watched tasks each time the stream comes up. The
	// server drops subscriptions on disconnect, so they are replayed
	// after every reconnect.
	g.Go(func() error {
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		subscribed := false
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				connected := stream.Manager().State() == connection.StateConnected
				if connected && !subscribed {
					for _, id := range taskIDs {
						stream.Subscribe(id)
						logger.Debug("subscribed", "task_id", id)
					}
					subscribed = true
				} else if !connected {
					subscribed = false
				}
			}
		}
	})

	// Periodic connection status report
	g.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				stats := stream.Manager().Stats()
				logger.Info("connection stats",
					"state", stream.Manager().State(),
					"attempts", stats.ConnectionAttempts,
					"successful", stats.SuccessfulConnections,
					"reconnects", stats.TotalReconnectAttempts,
				)
			}
		}
	})

	<-ctx.Done()
	if err := g.Wait(); err != nil {
		logger.Error("watcher error", "error", err)
	}

	logger.Info("pulsewatch stopped")
}

// printHandler writes decoded stream events to the log.
type printHandler struct {
	logger *slog.Logger
}

func (h *printHandler) HandleProgress(u progress.ProgressUpdate) {
	h.logger.Info("progress",
		"task_id", u.TaskID,
		"stage", u.Stage,
		"percent", u.Percent,
		"message", u.Message,
	)
}

func (h *printHandler) HandleToolStatus(s progress.ToolStatus) {
	h.logger.Info("tool status",
		"task_id", s.TaskID,
		"tool", s.Tool,
		"state", s.State,
	)
}

func (h *printHandler) HandleStreamError(e progress.StreamError) {
	h.logger.Warn("task error",
		"task_id", e.TaskID,
		"code", e.Code,
		"message", e.Message,
	)
}
