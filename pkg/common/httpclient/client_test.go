package httpclient

import (
	"context"
	"errors"
	"testing"
	"time"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestRetrySucceedsMidway(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, 4*time.Millisecond, func(error) bool { return true }, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestRetryDefaultsToIsRetriable(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, 4*time.Millisecond, nil, func() error {
		calls++
		return timeoutError{}
	})
	if err == nil {
		t.Fatal("expected error after exhausted attempts")
	}
	if calls != 3 {
		t.Fatalf("expected timeout error to be retried, got %d attempts", calls)
	}

	calls = 0
	err = Retry(context.Background(), 3, time.Millisecond, 4*time.Millisecond, nil, func() error {
		calls++
		return errors.New("schema violation")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected non-retriable error to abort, got %d attempts", calls)
	}
}

func TestRetryStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Retry(ctx, 5, time.Second, time.Second, func(error) bool { return true }, func() error {
		calls++
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt before cancellation, got %d", calls)
	}
}

func TestIsRetriable(t *testing.T) {
	if !IsRetriable(timeoutError{}) {
		t.Fatal("expected network timeout to be retriable")
	}
	if !IsRetriable(context.DeadlineExceeded) {
		t.Fatal("expected deadline exceeded to be retriable")
	}
	if IsRetriable(errors.New("schema violation")) {
		t.Fatal("expected plain error to be non-retriable")
	}
}
