package testutil

import (
	"time"

	"github.com/pkg/errors"
)

// WaitFor polls condition every interval until it holds or timeout elapses.
func WaitFor(timeout, interval time.Duration, condition func() bool) error {
	if timeout < interval {
		return errors.New("timeout must be greater than interval")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	deadline := time.After(timeout)
	for {
		if condition() {
			return nil
		}

		select {
		case <-deadline:
			return errors.Errorf("condition not met within %v", timeout)
		case <-ticker.C:
		}
	}
}
