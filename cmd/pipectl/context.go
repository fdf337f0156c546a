package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/example/docpipe/api-go/internal/blob"
	"github.com/example/docpipe/api-go/internal/broker"
	"github.com/example/docpipe/api-go/internal/config"
	"github.com/example/docpipe/api-go/internal/intake"
	"github.com/example/docpipe/api-go/internal/model"
	"github.com/example/docpipe/api-go/internal/store"
)

type commandContext struct {
	configFlag *string
	jsonFlag   *bool

	configOnce sync.Once
	config     config.Config
	configErr  error
}

func newCommandContext(configFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{configFlag: configFlag, jsonFlag: jsonFlag}
}

func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		config.LoadDotEnv()
		if c.configFlag != nil {
			if path := strings.TrimSpace(*c.configFlag); path != "" {
				os.Setenv("DOCPIPE_CONFIG", path)
			}
		}
		c.config, c.configErr = config.Load()
	})
	return c.config, c.configErr
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func (c *commandContext) logger(w io.Writer) *slog.Logger {
	cfg, _ := c.ensureConfig()
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: config.ParseLevel(cfg.LogLevel)}))
}

// withLedger opens the configured ledger for the duration of fn.
func (c *commandContext) withLedger(ctx context.Context, fn func(store.Ledger) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	ledger, err := store.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer ledger.Close()
	return fn(ledger)
}

func (c *commandContext) newPublisher(logger *slog.Logger) (*broker.Publisher[model.Envelope], error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	dialer, err := broker.NewDialer(cfg.Broker)
	if err != nil {
		return nil, err
	}
	return broker.NewPublisher[model.Envelope](dialer, broker.OptionsFrom(cfg.Broker), logger), nil
}

// withCoordinator wires the same intake path the API server uses.
func (c *commandContext) withCoordinator(ctx context.Context, logger *slog.Logger, fn func(*intake.Coordinator) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	return c.withLedger(ctx, func(ledger store.Ledger) error {
		blobs, err := blob.Open(ctx, cfg.Blob)
		if err != nil {
			return err
		}
		if closer, ok := blobs.(io.Closer); ok {
			defer closer.Close()
		}
		publisher, err := c.newPublisher(logger)
		if err != nil {
			return err
		}
		coord := intake.New(ledger, blobs, publisher, intake.Options{
			Queue:               cfg.Broker.Queue,
			MarkPublishFailures: cfg.MarkPublishFailures,
		}, logger)
		return fn(coord)
	})
}
