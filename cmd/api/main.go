package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/docpipe/api-go/internal/blob"
	"github.com/example/docpipe/api-go/internal/broker"
	"github.com/example/docpipe/api-go/internal/config"
	"github.com/example/docpipe/api-go/internal/httpapi"
	"github.com/example/docpipe/api-go/internal/intake"
	"github.com/example/docpipe/api-go/internal/model"
	"github.com/example/docpipe/api-go/internal/status"
	"github.com/example/docpipe/api-go/internal/store"
)

func main() {
	config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err.Error())
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: config.ParseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api exited", "error", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}

	ledger, err := store.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer ledger.Close()

	blobs, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		return err
	}
	if c, ok := blobs.(io.Closer); ok {
		defer c.Close()
	}

	dialer, err := broker.NewDialer(cfg.Broker)
	if err != nil {
		return err
	}
	publisher := broker.NewPublisher[model.Envelope](dialer, broker.OptionsFrom(cfg.Broker), logger)

	coord := intake.New(ledger, blobs, publisher, intake.Options{
		Queue:               cfg.Broker.Queue,
		MarkPublishFailures: cfg.MarkPublishFailures,
	}, logger)

	server := httpapi.Server{
		Intake: coord,
		Status: status.NewService(ledger),
		Stages: ledger,
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API listening",
			"addr", cfg.Addr,
			"ledger", cfg.Ledger.Kind,
			"blob", cfg.Blob.Kind,
			"broker", cfg.Broker.Kind,
			"queue", cfg.Broker.Queue,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
