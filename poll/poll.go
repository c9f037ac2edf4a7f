// Package poll waits on hardware-style ready predicates.
package poll

import (
	"context"
	"errors"
	"time"
)

var ErrTimeout = errors.New("poll: timed out waiting for condition")

const DefaultInterval = 100 * time.Microsecond

// Poller re-evaluates a predicate every Interval. A zero Timeout waits forever.
type Poller struct {
	Interval time.Duration
	Timeout  time.Duration
}

func Forever() Poller {
	return Poller{Interval: DefaultInterval}
}

func WithTimeout(timeout time.Duration) Poller {
	return Poller{Interval: DefaultInterval, Timeout: timeout}
}

// Until blocks until ready returns true.
func (p Poller) Until(ctx context.Context, ready func() bool) error {
	return p.UntilWoken(ctx, ready, nil)
}

// UntilWoken is Until with an extra wake source. A send on wake re-evaluates ready at once,
// so an interrupt-driven flag does not wait for the next tick.
func (p Poller) UntilWoken(ctx context.Context, ready func() bool, wake <-chan struct{}) error {
	if ready() {
		return nil
	}

	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if p.Timeout > 0 {
		timer := time.NewTimer(p.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			if ready() {
				return nil
			}
			return ErrTimeout
		case <-wake:
		case <-ticker.C:
		}
		if ready() {
			return nil
		}
	}
}
