package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeBroker struct {
	mu       sync.Mutex
	failures int
	dialErr  error
	dials    int
	closes   int
	sent     []Envelope
	dests    []string
}

func (b *fakeBroker) Dial(ctx context.Context) (Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials++
	if b.dialErr != nil {
		return nil, b.dialErr
	}
	return &fakeSession{broker: b}, nil
}

type fakeSession struct {
	broker *fakeBroker
}

func (s *fakeSession) Send(ctx context.Context, destination string, env Envelope) error {
	b := s.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures != 0 {
		if b.failures > 0 {
			b.failures--
		}
		return fmt.Errorf("broker unavailable (attempt %d)", b.dials)
	}
	b.sent = append(b.sent, env)
	b.dests = append(b.dests, destination)
	return nil
}

func (s *fakeSession) Close() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	s.broker.closes++
	return nil
}

type sleepRecorder struct {
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type payload struct {
	ID string `json:"id"`
}

func TestPublishRetriesWithExponentialBackoff(t *testing.T) {
	b := &fakeBroker{failures: 3}
	rec := &sleepRecorder{}
	p := NewPublisher[payload](b, Options{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, Sleep: rec.sleep}, quietLogger())

	err := p.Publish(context.Background(), "ingestion-queue", Message[payload]{Subject: "document_ingest", Body: payload{ID: "D1"}})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if b.dials != 4 {
		t.Fatalf("expected 4 attempts, got %d", b.dials)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	if fmt.Sprint(rec.delays) != fmt.Sprint(want) {
		t.Fatalf("delays = %v, want %v", rec.delays, want)
	}
	if len(b.sent) != 1 || b.dests[0] != "ingestion-queue" {
		t.Fatalf("unexpected deliveries: %v", b.dests)
	}
	env := b.sent[0]
	if env.Subject != "document_ingest" || env.ContentType != "application/json" {
		t.Fatalf("unexpected envelope header: %+v", env)
	}
	var got payload
	if err := json.Unmarshal(env.Body, &got); err != nil || got.ID != "D1" {
		t.Fatalf("body = %s (%v)", env.Body, err)
	}
}

func TestPublishExhaustsAttempts(t *testing.T) {
	b := &fakeBroker{failures: -1}
	rec := &sleepRecorder{}
	p := NewPublisher[payload](b, Options{MaxAttempts: 3, BaseDelay: time.Second, Sleep: rec.sleep}, quietLogger())

	err := p.Publish(context.Background(), "q", Message[payload]{Subject: "s", Body: payload{ID: "x"}})
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 3 || exhausted.Destination != "q" {
		t.Fatalf("unexpected error fields: %+v", exhausted)
	}
	if exhausted.Err == nil || exhausted.Err.Error() != "broker unavailable (attempt 3)" {
		t.Fatalf("expected last attempt error, got %v", exhausted.Err)
	}
	if b.dials != 3 {
		t.Fatalf("expected 3 attempts, got %d", b.dials)
	}
	// No wait after the final attempt.
	if len(rec.delays) != 2 || rec.delays[0] != time.Second || rec.delays[1] != 2*time.Second {
		t.Fatalf("unexpected delays %v", rec.delays)
	}
}

func TestPublishClosesEverySession(t *testing.T) {
	b := &fakeBroker{failures: 2}
	rec := &sleepRecorder{}
	p := NewPublisher[payload](b, Options{MaxAttempts: 5, BaseDelay: time.Millisecond, Sleep: rec.sleep}, quietLogger())

	if err := p.Publish(context.Background(), "q", Message[payload]{Body: payload{ID: "x"}}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if b.dials != 3 || b.closes != 3 {
		t.Fatalf("dials=%d closes=%d, want 3 and 3", b.dials, b.closes)
	}
}

func TestPublishDialFailureCountsAsAttempt(t *testing.T) {
	b := &fakeBroker{dialErr: errors.New("connection refused")}
	rec := &sleepRecorder{}
	p := NewPublisher[payload](b, Options{MaxAttempts: 2, BaseDelay: time.Millisecond, Sleep: rec.sleep}, quietLogger())

	err := p.Publish(context.Background(), "q", Message[payload]{Body: payload{ID: "x"}})
	if !errors.Is(err, b.dialErr) {
		t.Fatalf("expected dial error in chain, got %v", err)
	}
	if b.dials != 2 || b.closes != 0 {
		t.Fatalf("dials=%d closes=%d", b.dials, b.closes)
	}
}

func TestPublishStopsWhenContextEnds(t *testing.T) {
	b := &fakeBroker{failures: -1}
	ctx, cancel := context.WithCancel(context.Background())
	sleep := func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	p := NewPublisher[payload](b, Options{MaxAttempts: 5, BaseDelay: time.Second, Sleep: sleep}, quietLogger())

	err := p.Publish(ctx, "q", Message[payload]{Body: payload{ID: "x"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		t.Fatal("cancelled publish must not report exhaustion")
	}
	if b.dials != 1 {
		t.Fatalf("expected a single attempt, got %d", b.dials)
	}
}

func TestBackoffJitterStaysWithinBounds(t *testing.T) {
	p := NewPublisher[payload](&fakeBroker{}, Options{BaseDelay: time.Second, Jitter: true}, quietLogger())
	for attempt := 1; attempt <= 4; attempt++ {
		base := time.Second << (attempt - 1)
		for i := 0; i < 20; i++ {
			d := p.Backoff(attempt)
			if d < base || d > base+base/2 {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", attempt, d, base, base+base/2)
			}
		}
	}
}

func TestBackoffIsCappedForLongRetryRuns(t *testing.T) {
	p := NewPublisher[payload](&fakeBroker{}, Options{BaseDelay: time.Second}, quietLogger())
	if got := p.Backoff(9); got != 256*time.Second {
		t.Fatalf("attempt 9: got %v, want 256s", got)
	}
	prev := time.Duration(0)
	for _, attempt := range []int{10, 11, 35, 64, 200} {
		d := p.Backoff(attempt)
		if d <= 0 || d > MaxBackoff || d < prev {
			t.Fatalf("attempt %d: delay %v not within (0, %v] or shrinking", attempt, d, MaxBackoff)
		}
		prev = d
	}
	if got := p.Backoff(64); got != MaxBackoff {
		t.Fatalf("attempt 64: got %v, want %v", got, MaxBackoff)
	}
}

func TestNewPublisherDefaults(t *testing.T) {
	p := NewPublisher[payload](&fakeBroker{}, Options{}, nil)
	if p.MaxAttempts() != DefaultMaxAttempts {
		t.Fatalf("expected %d attempts, got %d", DefaultMaxAttempts, p.MaxAttempts())
	}
}
