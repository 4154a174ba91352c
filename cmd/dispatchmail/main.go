package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"
	_ "time/tzdata"

	slogmulti "github.com/samber/slog-multi"

	"github.com/tracyhatemice/dispatchmail/internal/config"
	"github.com/tracyhatemice/dispatchmail/internal/dedup"
	"github.com/tracyhatemice/dispatchmail/internal/dispatch"
	"github.com/tracyhatemice/dispatchmail/internal/forwarder"
	"github.com/tracyhatemice/dispatchmail/internal/mailbox"
	"github.com/tracyhatemice/dispatchmail/internal/metrics"
	"github.com/tracyhatemice/dispatchmail/internal/receiver"
)

const restartDelay = 5 * time.Second

func main() {
	defaultConfig := os.Getenv("EM_CONFIG")
	if defaultConfig == "" {
		defaultConfig = "config.yaml"
	}
	configPath := flag.String("config", defaultConfig, "path to configuration file")
	dataDir := flag.String("data-dir", "", "directory for persistent data (dedup state), overrides data_dir")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	logger, closeLog, err := setupLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	mb := cfg.Mailbox
	logger.Info("dispatchmail starting", "protocol", mb.Protocol, "host", mb.Host, "folder", mb.GetFolder(), "mode", mb.Mode)

	fwd, err := newForwarder(cfg, logger)
	if err != nil {
		logger.Error("setup failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup

	if cfg.MetricsAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.Error("metrics listener failed", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		supervise(ctx, fwd, logger)
	}()

	<-ctx.Done()
	logger.Info("shutting down, waiting for forwarder to finish...")

	// Force exit on second signal.
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Warn("forced shutdown")
		os.Exit(1)
	}()

	wg.Wait()
	logger.Info("dispatchmail stopped")
}

func newForwarder(cfg *config.Config, logger *slog.Logger) (*forwarder.Forwarder, error) {
	mb := cfg.Mailbox
	dialer, err := receiver.New(mb.Protocol, mb.Host, mb.Port, mb.Username, mb.Password, mb.UseTLS, logger)
	if err != nil {
		return nil, err
	}
	mode, err := mailbox.ParseMode(mb.Mode)
	if err != nil {
		return nil, err
	}
	syncer := mailbox.New(dialer, mailbox.Options{
		Mailbox:      mb.GetFolder(),
		Mode:         mode,
		IdleTimeout:  mb.IdleTimeout(),
		PollInterval: mb.PollInterval(),
	}, logger)

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	tracker, err := dedup.NewTracker(filepath.Join(cfg.DataDir, "dispatch.seen"), 0)
	if err != nil {
		return nil, fmt.Errorf("create dedup tracker: %w", err)
	}
	logger.Info("loaded dedup state", "seen_count", tracker.Count())

	return forwarder.New(
		syncer,
		dispatch.NewParser(loc, logger),
		cfg.Printing.CopyPolicy(),
		forwarder.LogRenderer{Logger: logger},
		tracker,
		logger,
	), nil
}

// supervise runs fwd until ctx is done and restarts it after a panic.
func supervise(ctx context.Context, fwd *forwarder.Forwarder, logger *slog.Logger) {
	for {
		if !runRecovered(ctx, fwd, logger) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(restartDelay):
		}
		logger.Info("restarting forwarder")
	}
}

// runRecovered reports whether fwd panicked.
func runRecovered(ctx context.Context, fwd *forwarder.Forwarder, logger *slog.Logger) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("forwarder panicked", "panic", r)
			panicked = true
		}
	}()
	fwd.Run(ctx)
	return false
}

func setupLogger(level, file string) (*slog.Logger, func(), error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	stderr := slog.NewTextHandler(os.Stderr, opts)
	if file == "" {
		return slog.New(stderr), func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	logger := slog.New(
		slogmulti.Fanout(
			stderr,
			slog.NewTextHandler(f, opts),
		),
	)
	return logger, func() { f.Close() }, nil
}
