// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"testing"

	"github.com/layerkit/layerkit/internal/logging"
)

var noWait = RetryPolicy{Attempts: 3}

func TestRetry_RecoversFromTransient(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Retry(context.Background(), noWait, logging.Discard(), func(attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Retry(context.Background(), noWait, logging.Discard(), func(int) error {
		calls++
		return errors.New("Could not resolve host: registry-1.docker.io")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetry_PermanentStopsImmediately(t *testing.T) {
	t.Parallel()

	boom := errors.New("unknown instruction: RUNN")
	calls := 0
	err := Retry(context.Background(), noWait, logging.Discard(), func(int) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected the permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetry_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, RetryPolicy{Attempts: 5}, logging.Discard(), func(int) error {
		calls++
		cancel()
		return errors.New("connection timed out")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 after cancellation", calls)
	}
}
