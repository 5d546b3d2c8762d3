package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/meetlite/server/internal/config"
	"github.com/meetlite/server/internal/httpserver"
	"github.com/meetlite/server/internal/janitor"
	"github.com/meetlite/server/internal/metrics"
	"github.com/meetlite/server/internal/ratelimit"
	"github.com/meetlite/server/internal/room"
	"github.com/meetlite/server/internal/signaling"
	"github.com/meetlite/server/internal/upload"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting meetlite-server",
		"listen_addr", cfg.ListenAddr(),
		"client_url", cfg.ClientURL,
		"mode", cfg.Mode,
		"upload_dir", cfg.UploadDir,
		"max_upload_bytes", cfg.MaxUploadBytes,
	)

	store, err := upload.NewStore(cfg.UploadDir, cfg.MaxUploadBytes, logger)
	if err != nil {
		logger.Error("failed to prepare upload storage", "err", err)
		os.Exit(2)
	}

	rooms := room.NewRegistry(logger)
	offers := ratelimit.NewOfferFilter(ratelimit.RealClock{},
		ratelimit.DefaultOfferInterval, ratelimit.DefaultOfferEntryMaxAge)
	stats := metrics.New()

	sig := signaling.NewServer(signaling.Config{
		IdleTimeout:       cfg.SignalingWSIdleTimeout,
		PingInterval:      cfg.SignalingWSPingInterval,
		MaxMessageBytes:   cfg.MaxSignalingMessageBytes,
		MessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		AllowedOrigins:    []string{cfg.ClientURL},
		Metrics:           stats,
	}, rooms, signaling.NewHub(), offers, logger)

	jan := janitor.New(janitor.Config{}, rooms, offers, store, logger)
	rooms.SetOnEmpty(jan.ScheduleRoomDeletion)

	srv := httpserver.New(cfg, httpserver.Deps{
		Rooms:     rooms,
		Uploads:   upload.NewHandler(store, stats, logger),
		UploadDir: cfg.UploadDir,
		Signaling: sig,
		Metrics:   stats,
	}, logger)

	ln, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	janitorCtx, cancelJanitor := context.WithCancel(context.Background())
	defer cancelJanitor()
	go jan.Run(janitorCtx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		sig.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	sig.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
		_ = srv.Close()
	}
	cancelJanitor()

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
