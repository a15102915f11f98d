package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dgnsrekt/tv_relay/internal/api"
	"github.com/dgnsrekt/tv_relay/internal/config"
	"github.com/dgnsrekt/tv_relay/internal/netutil"
	"github.com/dgnsrekt/tv_relay/internal/notify"
	"github.com/dgnsrekt/tv_relay/internal/relay"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load relay config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	slog.Info("relay config loaded",
		"bind_addr", cfg.BindAddr,
		"port_auto_fallback", cfg.PortAutoFallback,
		"port_candidates", cfg.PortCandidates,
		"heartbeat_interval", cfg.HeartbeatInterval,
		"reap_interval", cfg.ReapInterval,
		"idle_timeout", cfg.IdleTimeout,
		"notify_enabled", cfg.NotifyEndpoint != "",
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	clk := clock.New()
	registry := relay.NewRegistry(clk)
	engine := relay.NewEngine(registry)

	notifier := notify.New(cfg.NotifyEndpoint, nil)
	if notifier.Enabled() {
		engine.SetForwardHook(func(_ context.Context, fromID, targetID string) {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := notifier.OrderForwarded(ctx, fromID, targetID); err != nil {
					slog.Debug("forward notification failed", "error", err)
				}
			}()
		})
	}

	serverCtx, stop := context.WithCancel(context.Background())
	defer stop()

	reaper := relay.NewReaper(registry, clk, cfg.ReapInterval, cfg.IdleTimeout)
	go reaper.Run(serverCtx)

	h := api.NewServer(serverCtx, registry, engine, api.Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
		Clock:             clk,
	})

	srv := &http.Server{Addr: bindAddr, Handler: h}

	go func() {
		slog.Info("relay listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("relay server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	// Tear down the reaper, heartbeats and live websocket sessions before
	// draining the HTTP server.
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("relay shutdown failed", "error", err)
	}
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll("logs", 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
