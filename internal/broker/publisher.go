package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = time.Second
)

// Envelope is an encoded message as handed to a transport.
type Envelope struct {
	Subject     string
	ContentType string
	Body        []byte
}

// Session is one broker connection. It is owned by a single publish attempt
// and closed before the attempt ends.
type Session interface {
	Send(ctx context.Context, destination string, env Envelope) error
	Close() error
}

// Dialer opens a fresh Session per publish attempt.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

type DialerFunc func(ctx context.Context) (Session, error)

func (f DialerFunc) Dial(ctx context.Context) (Session, error) { return f(ctx) }

// Message pairs a routing subject with a structured body.
type Message[T any] struct {
	Subject string
	Body    T
}

type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Jitter adds up to half of each backoff delay at random.
	Jitter bool
	// Sleep waits between attempts; nil uses a timer that honours ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

// ExhaustedError reports that every publish attempt failed. It unwraps to
// the error of the last attempt.
type ExhaustedError struct {
	Destination string
	Attempts    int
	Err         error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("publish to %s failed after %d attempts: %v", e.Destination, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Publisher delivers messages with bounded retry and exponential backoff.
// It knows nothing about what the messages describe.
type Publisher[T any] struct {
	dialer Dialer
	opts   Options
	logger *slog.Logger
}

func NewPublisher[T any](dialer Dialer, opts Options, logger *slog.Logger) *Publisher[T] {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BaseDelay < 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher[T]{dialer: dialer, opts: opts, logger: logger}
}

// MaxAttempts is the number of sends Publish tries before giving up.
func (p *Publisher[T]) MaxAttempts() int { return p.opts.MaxAttempts }

// Publish sends msg to destination, retrying failed attempts after
// BaseDelay * 2^(attempt-1). It returns an *ExhaustedError once MaxAttempts
// sends have failed, or the context error if ctx ends while waiting.
func (p *Publisher[T]) Publish(ctx context.Context, destination string, msg Message[T]) error {
	body, err := json.Marshal(msg.Body)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	env := Envelope{Subject: msg.Subject, ContentType: "application/json", Body: body}

	maxAttempts := p.opts.MaxAttempts
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = p.attempt(ctx, destination, env)
		if lastErr == nil {
			if attempt > 1 {
				p.logger.Info("broker send succeeded after retry",
					"destination", destination,
					"attempt", attempt,
				)
			}
			return nil
		}

		p.logger.Warn("broker send attempt failed",
			"destination", destination,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"error", lastErr.Error(),
		)
		if attempt == maxAttempts {
			break
		}
		if err := p.opts.Sleep(ctx, p.Backoff(attempt)); err != nil {
			return fmt.Errorf("publish to %s interrupted after %d attempts: %w", destination, attempt, errors.Join(err, lastErr))
		}
	}
	return &ExhaustedError{Destination: destination, Attempts: maxAttempts, Err: lastErr}
}

// MaxBackoff caps the wait between two attempts.
const MaxBackoff = 10 * time.Minute

// Backoff is the wait after the given failed attempt (1-indexed), doubling
// from BaseDelay up to MaxBackoff.
func (p *Publisher[T]) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.opts.BaseDelay
	for i := 1; i < attempt && delay > 0 && delay < MaxBackoff; i++ {
		delay *= 2
	}
	if delay > MaxBackoff {
		delay = MaxBackoff
	}
	if p.opts.Jitter && delay > 0 {
		delay += time.Duration(rand.Int63n(int64(delay)/2 + 1))
	}
	return delay
}

func (p *Publisher[T]) attempt(ctx context.Context, destination string, env Envelope) (err error) {
	session, err := p.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("open broker session: %w", err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			p.logger.Debug("close broker session", "destination", destination, "error", closeErr.Error())
		}
	}()
	return session.Send(ctx, destination, env)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
