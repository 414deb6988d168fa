package backoff_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/graflow/backoff"
)

func TestConstant(t *testing.T) {
	c := backoff.NewConstant(5 * time.Second)
	for attempt := 1; attempt <= 5; attempt++ {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want 5s", attempt, got)
		}
	}
}

func TestExponential(t *testing.T) {
	e := backoff.NewExponential(time.Second, 10*time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{40, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_JitterBounds(t *testing.T) {
	e := &backoff.Exponential{Initial: time.Second, Max: 4 * time.Second, Jitter: true}
	for i := 0; i < 200; i++ {
		for attempt := 1; attempt <= 6; attempt++ {
			d := e.Delay(attempt)
			if d < 0 || d > 4*time.Second {
				t.Fatalf("Delay(%d) = %v out of [0, 4s]", attempt, d)
			}
		}
	}
}

func TestDefaultStrategy(t *testing.T) {
	s := backoff.DefaultStrategy()
	if d := s.Delay(100); d > 30*time.Second {
		t.Fatalf("default delay %v exceeds cap", d)
	}
}

func TestRetry(t *testing.T) {
	fast := backoff.NewConstant(time.Millisecond)
	boom := errors.New("boom")

	t.Run("succeeds after failures", func(t *testing.T) {
		calls := 0
		err := backoff.Retry(context.Background(), fast, 3, func(context.Context) error {
			calls++
			if calls < 3 {
				return boom
			}
			return nil
		})
		if err != nil || calls != 3 {
			t.Fatalf("err=%v calls=%d", err, calls)
		}
	})

	t.Run("returns last error", func(t *testing.T) {
		calls := 0
		err := backoff.Retry(context.Background(), fast, 2, func(context.Context) error {
			calls++
			return boom
		})
		if !errors.Is(err, boom) || calls != 2 {
			t.Fatalf("err=%v calls=%d", err, calls)
		}
	})

	t.Run("zero attempts calls once", func(t *testing.T) {
		calls := 0
		_ = backoff.Retry(context.Background(), fast, 0, func(context.Context) error {
			calls++
			return nil
		})
		if calls != 1 {
			t.Fatalf("calls=%d", calls)
		}
	})

	t.Run("context cancelled while waiting", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := backoff.Retry(ctx, backoff.NewConstant(time.Hour), 3, func(context.Context) error {
			calls++
			cancel()
			return boom
		})
		if !errors.Is(err, context.Canceled) || calls != 1 {
			t.Fatalf("err=%v calls=%d", err, calls)
		}
	})
}
