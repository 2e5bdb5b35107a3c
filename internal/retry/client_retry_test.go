package retry

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func fastConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Timeout:        time.Second,
	}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	var calls int32
	got, err := Do(context.Background(), log.New(&bytes.Buffer{}, "", 0), fastConfig(), "lookup",
		func(ctx context.Context) (int, error) {
			atomic.AddInt32(&calls, 1)
			return 42, nil
		})
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if got != 42 {
		t.Errorf("Do() = %d, want 42", got)
	}
	if calls != 1 {
		t.Errorf("op called %d times, want 1", calls)
	}
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	var calls int32
	got, err := Do(context.Background(), log.New(&bytes.Buffer{}, "", 0), fastConfig(), "lookup",
		func(ctx context.Context) (string, error) {
			if atomic.AddInt32(&calls, 1) < 3 {
				return "", errors.New("connection reset by peer")
			}
			return "done", nil
		})
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if got != "done" {
		t.Errorf("Do() = %q, want done", got)
	}
	if calls != 3 {
		t.Errorf("op called %d times, want 3", calls)
	}
}

func TestDo_PermanentErrorStopsImmediately(t *testing.T) {
	var calls int32
	_, err := Do(context.Background(), log.New(&bytes.Buffer{}, "", 0), fastConfig(), "lookup",
		func(ctx context.Context) (int, error) {
			atomic.AddInt32(&calls, 1)
			return 0, errors.New("API error: status 400: bad request")
		})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("permanent error retried: %d calls, want 1", calls)
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	var calls int32
	_, err := Do(context.Background(), log.New(&bytes.Buffer{}, "", 0), fastConfig(), "lookup",
		func(ctx context.Context) (int, error) {
			atomic.AddInt32(&calls, 1)
			return 0, errors.New("503 service unavailable")
		})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 4 {
		t.Errorf("op called %d times, want MaxRetries+1 = 4", calls)
	}
	if !strings.Contains(err.Error(), "after 4 attempts") {
		t.Errorf("error should mention attempt count: %v", err)
	}
}

func TestDo_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Do(ctx, log.New(&bytes.Buffer{}, "", 0), fastConfig(), "lookup",
		func(ctx context.Context) (int, error) {
			t.Error("op must not run on a canceled context")
			return 0, nil
		})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestDo_TimeoutDuringBackoff(t *testing.T) {
	cfg := Config{
		MaxRetries:     5,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     time.Second,
		Timeout:        50 * time.Millisecond,
	}
	start := time.Now()
	_, err := Do(context.Background(), log.New(&bytes.Buffer{}, "", 0), cfg, "lookup",
		func(ctx context.Context) (int, error) {
			return 0, errors.New("timeout talking upstream")
		})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Do() ran %v, should stop near the 50ms budget", elapsed)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "timeout", err: errors.New("request timeout"), want: true},
		{name: "rate limit", err: errors.New("429 rate limit exceeded"), want: true},
		{name: "bad gateway", err: errors.New("status 502"), want: true},
		{name: "circuit open", err: errors.New("circuit breaker is open"), want: true},
		{name: "validation", err: errors.New("status 400: strikes invalid"), want: false},
		{name: "unauthorized", err: errors.New("status 403: forbidden"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
