// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ahmed-machine/howfar/isochrone"
)

// healthChecker is the subset of workerFleet WaitForFleet needs.
type healthChecker interface {
	HealthCheck(ctx context.Context) bool
}

// WaitForFleet polls f.HealthCheck up to attempts times, waiting
// interval between each, and returns once a check succeeds. It returns
// isochrone.ErrFleetUnhealthy if every attempt fails, or the context
// error if ctx is cancelled first. A batch run's startup gate: nothing
// is dispatched until at least one worker answers.
func WaitForFleet(ctx context.Context, f healthChecker, c clock.Clock, attempts int, interval time.Duration) error {
	if c == nil {
		c = clock.New()
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		if f.HealthCheck(ctx) {
			return nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.After(interval):
		}
	}
	return fmt.Errorf("orchestrator: wait for fleet: %w after %d attempts", isochrone.ErrFleetUnhealthy, attempts)
}
