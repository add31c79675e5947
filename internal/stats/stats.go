// Package stats keeps cumulative per-source run counters, in memory or in a
// Redis hash per source.
package stats

import (
	"context"
	"time"
)

// RunEvent is what one source run reports once it finishes.
type RunEvent struct {
	Source       string
	Status       string
	Collected    int
	Normalized   int
	Skipped      int
	Persisted    int
	PageFailures int
	At           time.Time
}

type Recorder interface {
	Record(ctx context.Context, ev RunEvent) error
}

type Counters struct {
	Runs         int64
	Failed       int64
	Collected    int64
	Normalized   int64
	Skipped      int64
	Persisted    int64
	PageFailures int64
	LastStatus   string
	LastRunAt    time.Time
}

func (c *Counters) add(ev RunEvent) {
	c.Runs++
	if ev.Status == "failed" {
		c.Failed++
	}
	c.Collected += int64(ev.Collected)
	c.Normalized += int64(ev.Normalized)
	c.Skipped += int64(ev.Skipped)
	c.Persisted += int64(ev.Persisted)
	c.PageFailures += int64(ev.PageFailures)
	c.LastStatus = ev.Status
	c.LastRunAt = ev.At
}
