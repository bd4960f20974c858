package activity

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func fastPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Millisecond,
		BackoffFactor:  2.0,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func TestExecutor_Register(t *testing.T) {
	x := NewExecutor()

	handler := func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		return nil, nil
	}

	if err := x.Register("q1", "do-thing", handler); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	t.Run("duplicate registration", func(t *testing.T) {
		if err := x.Register("q1", "do-thing", handler); err == nil {
			t.Error("expected error for duplicate registration")
		}
	})

	t.Run("empty queue", func(t *testing.T) {
		if err := x.Register("", "do-thing", handler); err == nil {
			t.Error("expected error for empty queue")
		}
	})

	t.Run("nil handler", func(t *testing.T) {
		if err := x.Register("q1", "other-thing", nil); err == nil {
			t.Error("expected error for nil handler")
		}
	})
}

func TestExecutor_Invoke_Success(t *testing.T) {
	x := NewExecutor()
	err := x.Register("q1", "echo", func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		return input, nil
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	result, err := x.Invoke(context.Background(), Invocation{
		Queue:        "q1",
		ActivityType: "echo",
		Input:        json.RawMessage(`{"n":1}`),
		Retry:        fastPolicy(3),
	})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if string(result) != `{"n":1}` {
		t.Errorf("unexpected result: %s", result)
	}
}

func TestExecutor_Invoke_NotRegistered(t *testing.T) {
	x := NewExecutor()

	_, err := x.Invoke(context.Background(), Invocation{
		Queue:        "q1",
		ActivityType: "missing",
	})
	var nre *NotRegisteredError
	if !errors.As(err, &nre) {
		t.Fatalf("expected NotRegisteredError, got %v", err)
	}
	if nre.Queue != "q1" || nre.ActivityType != "missing" {
		t.Errorf("unexpected error fields: %+v", nre)
	}
}

func TestExecutor_Invoke_RetriesThenSucceeds(t *testing.T) {
	x := NewExecutor()
	attempts := 0
	err := x.Register("q1", "flaky", func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("transient")
		}
		return json.RawMessage(`"ok"`), nil
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	result, err := x.Invoke(context.Background(), Invocation{
		Queue:        "q1",
		ActivityType: "flaky",
		Retry:        fastPolicy(5),
	})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	if string(result) != `"ok"` {
		t.Errorf("unexpected result: %s", result)
	}
}

func TestExecutor_Invoke_NonRetryableStopsImmediately(t *testing.T) {
	x := NewExecutor()
	attempts := 0
	err := x.Register("q1", "terminal", func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		attempts++
		return nil, NonRetryable(errors.New("bad input"))
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	_, err = x.Invoke(context.Background(), Invocation{
		Queue:        "q1",
		ActivityType: "terminal",
		Retry:        fastPolicy(5),
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsNonRetryable(err) {
		t.Errorf("expected non-retryable error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecutor_Invoke_Exhausted(t *testing.T) {
	x := NewExecutor()
	attempts := 0
	err := x.Register("q1", "broken", func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		attempts++
		return nil, errors.New("always down")
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	_, err = x.Invoke(context.Background(), Invocation{
		Queue:        "q1",
		ActivityType: "broken",
		Retry:        fastPolicy(3),
	})

	var ee *ExhaustedError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if ee.Attempts != 3 {
		t.Errorf("expected 3 attempts in error, got %d", ee.Attempts)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	if ee.Cause == nil || ee.Cause.Error() != "always down" {
		t.Errorf("expected last cause preserved, got %v", ee.Cause)
	}
}

func TestExecutor_Invoke_StartToCloseTimeout(t *testing.T) {
	x := NewExecutor()
	err := x.Register("q1", "slow", func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return json.RawMessage(`"done"`), nil
		}
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	_, err = x.Invoke(context.Background(), Invocation{
		Queue:        "q1",
		ActivityType: "slow",
		Retry:        fastPolicy(2),
		StartToClose: 5 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestExecutor_Invoke_ContextCancelled(t *testing.T) {
	x := NewExecutor()
	err := x.Register("q1", "flaky", func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("transient")
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = x.Invoke(ctx, Invocation{
		Queue:        "q1",
		ActivityType: "flaky",
		Retry:        fastPolicy(5),
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBackoffForAttempt(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		BackoffFactor:  2.0,
		MaxBackoff:     5 * time.Second,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 5 * time.Second}, // capped
		{10, 5 * time.Second},
	}

	for _, tt := range tests {
		if got := backoffForAttempt(policy, tt.attempt); got != tt.want {
			t.Errorf("backoffForAttempt(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryPolicy_Normalized(t *testing.T) {
	p := RetryPolicy{}.normalized()
	def := DefaultRetryPolicy()

	if p.MaxAttempts != def.MaxAttempts {
		t.Errorf("expected default max attempts %d, got %d", def.MaxAttempts, p.MaxAttempts)
	}
	if p.InitialBackoff != def.InitialBackoff {
		t.Errorf("expected default initial backoff %v, got %v", def.InitialBackoff, p.InitialBackoff)
	}

	custom := RetryPolicy{MaxAttempts: 2}.normalized()
	if custom.MaxAttempts != 2 {
		t.Errorf("expected custom max attempts preserved, got %d", custom.MaxAttempts)
	}
}

func TestNonRetryable_Unwrap(t *testing.T) {
	base := errors.New("boom")
	wrapped := NonRetryable(base)

	if !errors.Is(wrapped, base) {
		t.Error("expected wrapped error to match base via errors.Is")
	}
	if !IsNonRetryable(wrapped) {
		t.Error("expected IsNonRetryable to be true")
	}
	if IsNonRetryable(base) {
		t.Error("expected bare error to be retryable")
	}
	if NonRetryable(nil) != nil {
		t.Error("expected NonRetryable(nil) to be nil")
	}
}
