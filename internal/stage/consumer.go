package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/example/docpipe/api-go/internal/broker"
	"github.com/example/docpipe/api-go/internal/model"
)

// drainTimeout bounds the work on a frame popped while shutting down.
const drainTimeout = 30 * time.Second

// ErrEmpty is returned by a Source when no message arrived in time.
var ErrEmpty = errors.New("queue empty")

// Source yields raw queued frames.
type Source interface {
	Pop(ctx context.Context) ([]byte, error)
}

// Forwarder hands a processed envelope to the next stage's queue.
type Forwarder interface {
	Publish(ctx context.Context, destination string, msg broker.Message[model.Envelope]) error
}

// Handler runs the stage's work. It may fill in sections of env before it
// is forwarded.
type Handler func(ctx context.Context, env *model.Envelope) error

// RedisSource blocks on BRPOP against one list.
type RedisSource struct {
	client *redis.Client
	queue  string
	wait   time.Duration
}

func NewRedisSource(client *redis.Client, queue string, wait time.Duration) *RedisSource {
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisSource{client: client, queue: queue, wait: wait}
}

func (s *RedisSource) Pop(ctx context.Context) ([]byte, error) {
	res, err := s.client.BRPop(ctx, s.wait, s.queue).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, err
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected brpop reply of %d items", len(res))
	}
	return []byte(res[1]), nil
}

type ConsumerOptions struct {
	// Next is the queue processed envelopes are forwarded to. Empty means
	// this is the last stage.
	Next        string
	Concurrency int
}

// Consumer pulls ingest envelopes, runs the handler and reports the stage
// through the ledger. Handler failures are recorded as data and the loop
// moves on.
type Consumer struct {
	source   Source
	reporter *Reporter
	handler  Handler
	forward  Forwarder
	opts     ConsumerOptions
	logger   *slog.Logger
}

func NewConsumer(source Source, reporter *Reporter, handler Handler, forward Forwarder, opts ConsumerOptions, logger *slog.Logger) *Consumer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		source:   source,
		reporter: reporter,
		handler:  handler,
		forward:  forward,
		opts:     opts,
		logger:   logger.With("stage", reporter.Stage()),
	}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("stage consumer started", "concurrency", c.opts.Concurrency, "next", c.opts.Next)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < c.opts.Concurrency; i++ {
		worker := i
		g.Go(func() error {
			return c.loop(ctx, worker)
		})
	}
	err := g.Wait()
	c.logger.Info("stage consumer stopped")
	return err
}

func (c *Consumer) loop(ctx context.Context, worker int) error {
	for {
		raw, err := c.source.Pop(ctx)
		if err == nil && ctx.Err() != nil {
			// The frame is already off the queue, so finish it before stopping.
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
			c.Process(drainCtx, raw)
			cancel()
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrEmpty) {
			continue
		}
		if err != nil {
			c.logger.Warn("pop failed", "worker", worker, "error", err.Error())
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		c.Process(ctx, raw)
	}
}

// Process handles one raw frame. Malformed frames are logged and dropped.
func (c *Consumer) Process(ctx context.Context, raw []byte) {
	env, err := DecodeFrame(raw)
	if err != nil {
		c.logger.Error("drop malformed message", "error", err.Error())
		return
	}
	id := env.Data.ID
	log := c.logger.With("doc_id", id)

	if err := c.reporter.Started(ctx, id, nil); err != nil {
		log.Warn("report started", "error", err.Error())
	}

	if err := c.handler(ctx, env); err != nil {
		log.Error("stage handler failed", "error", err.Error())
		if rerr := c.reporter.Fail(ctx, id, err, nil); rerr != nil {
			log.Warn("report failure", "error", rerr.Error())
		}
		return
	}

	if c.opts.Next != "" && c.forward != nil {
		err := c.forward.Publish(ctx, c.opts.Next, broker.Message[model.Envelope]{
			Subject: model.IngestSubject,
			Body:    *env,
		})
		if err != nil {
			log.Error("forward failed", "next", c.opts.Next, "error", err.Error())
			if rerr := c.reporter.Fail(ctx, id, err, map[string]any{"next": c.opts.Next}); rerr != nil {
				log.Warn("report failure", "error", rerr.Error())
			}
			return
		}
	}

	if err := c.reporter.OK(ctx, id, nil); err != nil {
		log.Warn("report ok", "error", err.Error())
	}
}

// DecodeFrame parses a queued frame into an envelope carrying a document id.
func DecodeFrame(raw []byte) (*model.Envelope, error) {
	var frame broker.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	var env model.Envelope
	if err := json.Unmarshal(frame.Body, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Data == nil || env.Data.ID == "" {
		return nil, errors.New("envelope has no document id")
	}
	return &env, nil
}
