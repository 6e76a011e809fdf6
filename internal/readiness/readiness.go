// Package readiness waits for freshly created ledger objects to become
// visible to reads.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Press3/internal/fault"
	"Press3/internal/logger"
	"Press3/internal/registry"
)

const (
	// DefaultAttempts is the number of existence checks before giving up.
	DefaultAttempts = 10

	// DefaultDelay is the pause between existence checks.
	DefaultDelay = 1000 * time.Millisecond
)

// ErrNotReady is returned when the object never became visible.
var ErrNotReady = errors.New("object not ready")

// Prober answers whether an object is visible to reads.
type Prober interface {
	ObjectExists(ctx context.Context, id registry.ObjectID) (bool, error)
}

// Waiter polls a Prober with a bounded number of attempts.
type Waiter struct {
	Prober   Prober        // Prober is queried once per attempt
	Attempts int           // Attempts is the maximum number of checks
	Delay    time.Duration // Delay is the pause between failed checks

	// Sleep pauses for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// New creates a waiter with the default attempts and delay.
func New(p Prober) *Waiter {
	return &Waiter{
		Prober:   p,
		Attempts: DefaultAttempts,
		Delay:    DefaultDelay,
	}
}

// AwaitReady returns once the object exists. A read error and a negative
// answer both count as a failed attempt. After Attempts failures it returns
// an ExternalUnavailable error wrapping ErrNotReady.
func (w *Waiter) AwaitReady(ctx context.Context, id registry.ObjectID) error {
	attempts := w.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}

	sleep := w.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error

	for i := 1; i <= attempts; i++ {
		exists, err := w.Prober.ObjectExists(ctx, id)
		if err == nil && exists {
			if i > 1 {
				logger.Debug("object ready", "id", id, "attempt", i)
			}

			return nil
		}

		lastErr = err

		if i == attempts {
			break
		}

		if err := sleep(ctx, w.Delay); err != nil {
			return fault.New(fault.ExternalUnavailable, "readiness", fmt.Errorf("wait for %s:\n%w", id, err))
		}
	}

	err := fmt.Errorf("%w: %s after %d attempts", ErrNotReady, id, attempts)
	if lastErr != nil {
		err = fmt.Errorf("%w (last error: %v)", err, lastErr)
	}

	return fault.New(fault.ExternalUnavailable, "readiness", err)
}

// sleepContext pauses for d unless ctx is cancelled first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
