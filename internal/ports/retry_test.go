package ports

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func testPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BackoffInitial: 5 * time.Millisecond,
		BackoffMax:     20 * time.Millisecond,
		CallTimeout:    100 * time.Millisecond,
	}
}

func TestBackoffCurve(t *testing.T) {
	policy := RetryPolicy{
		BackoffInitial: 100 * time.Millisecond,
		BackoffMax:     time.Second,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second}, // capped
		{9, time.Second},
	}

	for _, tt := range tests {
		if got := policy.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := testPolicy().Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})

	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesTransientFailures(t *testing.T) {
	calls := 0
	err := testPolicy().Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return NewPortError("translation", KindTransient, fmt.Errorf("connection refused"))
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Do failed after recovery: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	cause := NewPortError("translation", KindTransient, fmt.Errorf("HTTP 503"))

	err := testPolicy().Do(context.Background(), func(ctx context.Context) error {
		calls++
		return cause
	})

	if err == nil {
		t.Fatal("expected error after exhausted attempts")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if !errors.Is(err, cause) {
		t.Errorf("final error should wrap the last failure, got %v", err)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := testPolicy().Do(context.Background(), func(ctx context.Context) error {
		calls++
		return NewPortError("synthesis", KindNoVoice, fmt.Errorf("no voice for tlh"))
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 for non-retryable failure", calls)
	}
}

func TestDoRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- testPolicy().Do(ctx, func(ctx context.Context) error {
			calls++
			if calls == 1 {
				cancel()
			}
			return NewPortError("translation", KindTransient, fmt.Errorf("flaky"))
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestDoAppliesCallTimeout(t *testing.T) {
	policy := testPolicy()
	policy.MaxAttempts = 1
	policy.CallTimeout = 20 * time.Millisecond

	err := policy.Do(context.Background(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded from per-call timeout, got %v", err)
	}
}

func TestPortErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"transient", NewPortError("translation", KindTransient, fmt.Errorf("x")), true},
		{"quota", NewPortError("translation", KindQuota, fmt.Errorf("x")), false},
		{"auth", NewPortError("translation", KindAuth, fmt.Errorf("x")), false},
		{"no voice", NewPortError("synthesis", KindNoVoice, fmt.Errorf("x")), false},
		{"audio too short", NewPortError("transcription", KindAudioTooShort, fmt.Errorf("x")), false},
		{"language detection", NewPortError("transcription", KindLanguageDetection, fmt.Errorf("x")), false},
		{"wrapped transient", fmt.Errorf("stage: %w", NewPortError("transcription", KindTransient, fmt.Errorf("x"))), true},
		{"plain error", fmt.Errorf("unclassified"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestErrorKindStrings(t *testing.T) {
	if KindNoVoice.String() != "no_voice" {
		t.Errorf("KindNoVoice = %s", KindNoVoice.String())
	}

	err := NewPortError("synthesis", KindNoVoice, fmt.Errorf("no mandarin voice"))
	if err.Error() == "" {
		t.Error("empty error string")
	}
	if !errors.Is(err, err.Err) {
		t.Error("Unwrap should expose the cause")
	}
}
