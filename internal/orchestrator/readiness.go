package orchestrator

import (
	"context"
	"os"
	"time"
)

const (
	DefaultPollInterval   = 500 * time.Millisecond
	DefaultStartupTimeout = 15 * time.Second
)

// ReadinessDetector polls for a session's manifest. The transcoder is an
// opaque process, so the manifest appearing on disk is the only readiness
// signal available.
type ReadinessDetector struct {
	Interval time.Duration
	Deadline time.Duration
}

// Watch checks for path every Interval until it exists or Deadline elapses,
// calling onReady or onTimeout respectively. Cancelling ctx stops the watch
// without calling either; both timers are released on every exit path.
// Watch blocks; run it on its own goroutine.
func (d ReadinessDetector) Watch(ctx context.Context, path string, onReady, onTimeout func()) {
	interval, deadline := d.Interval, d.Deadline
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if deadline <= 0 {
		deadline = DefaultStartupTimeout
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if ctx.Err() == nil {
				onTimeout()
			}
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			if fileExists(path) {
				onReady()
				return
			}
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
