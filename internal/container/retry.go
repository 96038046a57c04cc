// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds Retry.
type RetryPolicy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy is used for image builds when no policy is configured.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, InitialBackoff: 2 * time.Second, MaxBackoff: 30 * time.Second}

// Retry runs op until it succeeds, fails with an error IsTransientError
// rejects, or the policy's attempts are exhausted. The last error is returned.
// Waiting between attempts stops as soon as ctx is done.
func Retry(ctx context.Context, policy RetryPolicy, logger *slog.Logger, op func(attempt int) error) error {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = policy.InitialBackoff
	if policy.MaxBackoff > 0 {
		exp.MaxInterval = policy.MaxBackoff
	}
	exp.MaxElapsedTime = 0
	exp.Reset()
	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(policy.Attempts-1)), ctx)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := op(attempt)
		if err != nil && !IsTransientError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		logger.Warn("transient container engine error, retrying", "attempt", attempt, "wait", wait, "error", err)
	})
}
