package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/example/docpipe/api-go/internal/broker"
	"github.com/example/docpipe/api-go/internal/config"
	"github.com/example/docpipe/api-go/internal/model"
	"github.com/example/docpipe/api-go/internal/stage"
	"github.com/example/docpipe/api-go/internal/store"
)

// newRelayCommand runs a pass-through stage worker: it reports the stage
// and forwards each message unchanged. Useful for wiring up a pipeline
// before a stage's real work exists.
func newRelayCommand(ctx *commandContext) *cobra.Command {
	var (
		stageName   string
		from        string
		next        string
		concurrency int
		wait        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run a pass-through stage worker on a Redis queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.Broker.Kind != config.BrokerRedis {
				return fmt.Errorf("relay needs the redis broker, configured kind is %q", cfg.Broker.Kind)
			}
			if from == "" {
				from = cfg.Broker.Queue
			}
			if concurrency <= 0 {
				concurrency = cfg.WorkerConcurrency
			}

			logger := ctx.logger(cmd.ErrOrStderr())
			dialer, err := broker.NewRedisDialer(cfg.Broker.URL)
			if err != nil {
				return err
			}
			client := redis.NewClient(dialer.Options())
			defer client.Close()

			forward := broker.NewPublisher[model.Envelope](dialer, broker.OptionsFrom(cfg.Broker), logger)

			return ctx.withLedger(cmd.Context(), func(ledger store.Ledger) error {
				reporter, err := stage.NewReporter(ledger, stageName, logger)
				if err != nil {
					return err
				}
				consumer := stage.NewConsumer(
					stage.NewRedisSource(client, from, wait),
					reporter,
					func(context.Context, *model.Envelope) error { return nil },
					forward,
					stage.ConsumerOptions{Next: next, Concurrency: concurrency},
					logger,
				)
				err = consumer.Run(cmd.Context())
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&stageName, "stage", model.StageValidation, "Stage name to report")
	cmd.Flags().StringVar(&from, "from", "", "Queue to consume (defaults to the ingestion queue)")
	cmd.Flags().StringVar(&next, "next", "", "Queue to forward to; empty for the last stage")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Parallel consumers (defaults to WORKER_CONCURRENCY)")
	cmd.Flags().DurationVar(&wait, "wait", 5*time.Second, "BRPOP timeout")
	return cmd
}
