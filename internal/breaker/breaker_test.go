package breaker

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func failing(err error) Operation {
	return func(context.Context) (string, error) { return "", err }
}

func succeeding(result string) Operation {
	return func(context.Context) (string, error) { return result, nil }
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := New("generator", discardLogger(), WithFailureThreshold(3))
	ctx := context.Background()
	boom := errors.New("upstream 500")

	for i := 0; i < 3; i++ {
		if b.State() != StateClosed {
			t.Fatalf("call %d: state = %s, want closed", i, b.State())
		}
		result, usedFallback, err := b.ExecuteWithFallback(ctx, failing(boom), succeeding("degraded"))
		if err != nil || !usedFallback || result != "degraded" {
			t.Fatalf("call %d: result=%q fallback=%v err=%v", i, result, usedFallback, err)
		}
	}

	if b.State() != StateOpen {
		t.Fatalf("state = %s, want open after 3 consecutive failures", b.State())
	}

	// While open the primary must not run at all.
	primaryRan := false
	result, usedFallback, err := b.ExecuteWithFallback(ctx, func(context.Context) (string, error) {
		primaryRan = true
		return "primary", nil
	}, succeeding("degraded"))
	if primaryRan {
		t.Fatal("primary executed while circuit open")
	}
	if err != nil || !usedFallback || result != "degraded" {
		t.Fatalf("result=%q fallback=%v err=%v", result, usedFallback, err)
	}
}

func TestBreaker_SuccessResetsConsecutiveCount(t *testing.T) {
	b := New("generator", discardLogger(), WithFailureThreshold(3))
	ctx := context.Background()
	boom := errors.New("timeout")

	b.ExecuteWithFallback(ctx, failing(boom), succeeding("degraded"))
	b.ExecuteWithFallback(ctx, failing(boom), succeeding("degraded"))
	b.ExecuteWithFallback(ctx, succeeding("ok"), succeeding("degraded"))
	b.ExecuteWithFallback(ctx, failing(boom), succeeding("degraded"))
	b.ExecuteWithFallback(ctx, failing(boom), succeeding("degraded"))

	if b.State() != StateClosed {
		t.Fatalf("state = %s, want closed: success must reset the streak", b.State())
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	b := New("generator", discardLogger(),
		WithFailureThreshold(1), WithResetTimeout(time.Minute), WithClock(clock))
	ctx := context.Background()

	b.ExecuteWithFallback(ctx, failing(errors.New("down")), succeeding("degraded"))
	if b.State() != StateOpen {
		t.Fatalf("state = %s, want open", b.State())
	}

	// Before the reset window elapses the circuit stays open.
	now = now.Add(59 * time.Second)
	if b.State() != StateOpen {
		t.Fatalf("state = %s, want still open at 59s", b.State())
	}

	now = now.Add(2 * time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %s, want half-open after reset timeout", b.State())
	}

	t.Run("failed probe re-opens for a full window", func(t *testing.T) {
		result, usedFallback, err := b.ExecuteWithFallback(ctx, failing(errors.New("still down")), succeeding("degraded"))
		if err != nil || !usedFallback || result != "degraded" {
			t.Fatalf("result=%q fallback=%v err=%v", result, usedFallback, err)
		}
		if b.State() != StateOpen {
			t.Fatalf("state = %s, want open after failed probe", b.State())
		}
		now = now.Add(time.Minute + time.Second)
		if b.State() != StateHalfOpen {
			t.Fatalf("state = %s, want half-open again", b.State())
		}
	})

	t.Run("successful probe closes", func(t *testing.T) {
		result, usedFallback, err := b.ExecuteWithFallback(ctx, succeeding("primary back"), succeeding("degraded"))
		if err != nil || usedFallback || result != "primary back" {
			t.Fatalf("result=%q fallback=%v err=%v", result, usedFallback, err)
		}
		if b.State() != StateClosed {
			t.Fatalf("state = %s, want closed after successful probe", b.State())
		}
	})
}

// A primary success can never be observed while the circuit is open: open
// short-circuits to the fallback without invoking the primary.
func TestBreaker_NoPrimarySuccessWhileOpen(t *testing.T) {
	now := time.Now()
	b := New("generator", discardLogger(),
		WithFailureThreshold(1), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	b.ExecuteWithFallback(ctx, failing(errors.New("down")), succeeding("degraded"))

	for i := 0; i < 10; i++ {
		_, usedFallback, _ := b.ExecuteWithFallback(ctx, succeeding("primary"), succeeding("degraded"))
		if !usedFallback {
			t.Fatalf("call %d: primary ran while open", i)
		}
	}
	if got := b.Snapshot().PrimaryCalls; got != 1 {
		t.Fatalf("primary calls = %d, want exactly the tripping call", got)
	}
}

func TestBreaker_FallbackFailureSurfaces(t *testing.T) {
	b := New("generator", discardLogger(), WithFailureThreshold(1))
	ctx := context.Background()

	_, usedFallback, err := b.ExecuteWithFallback(ctx, failing(errors.New("down")), failing(errors.New("template store gone")))
	if !usedFallback {
		t.Fatal("expected fallback path")
	}
	if err == nil {
		t.Fatal("expected error when both paths fail")
	}
}

func TestBreaker_Snapshot(t *testing.T) {
	b := New("generator", discardLogger(), WithFailureThreshold(2))
	ctx := context.Background()

	b.ExecuteWithFallback(ctx, succeeding("ok"), succeeding("degraded"))
	b.ExecuteWithFallback(ctx, failing(errors.New("500")), succeeding("degraded"))

	m := b.Snapshot()
	if m.State != StateClosed || m.ConsecutiveFailures != 1 {
		t.Fatalf("snapshot = %+v", m)
	}
	if m.TotalCalls != 2 || m.PrimaryCalls != 2 || m.FallbackCalls != 1 || m.PrimaryErrors != 1 {
		t.Fatalf("counters = %+v", m)
	}
	if m.PrimaryHealthPct != 50 {
		t.Fatalf("health = %v, want 50", m.PrimaryHealthPct)
	}
	if m.LastError != "500" {
		t.Fatalf("last error = %q", m.LastError)
	}
}
