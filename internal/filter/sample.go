package filter

import (
	"slices"

	"github.com/dyluth/pacer/pkg/telemetry"
)

// Criteria selects telemetry samples.
// All filters are ANDed together; zero values match everything.
type Criteria struct {
	SinceTimestampMs int64   // Inclusive lower bound on TimestampMs, 0 = no filter
	UntilTimestampMs int64   // Inclusive upper bound on TimestampMs, 0 = no filter
	RunnerIDs        []int64 // Accepted runners, empty = all
}

// Matches returns true if the sample satisfies every criterion.
func (c *Criteria) Matches(s telemetry.Sample) bool {
	if c.SinceTimestampMs > 0 && s.TimestampMs < c.SinceTimestampMs {
		return false
	}
	if c.UntilTimestampMs > 0 && s.TimestampMs > c.UntilTimestampMs {
		return false
	}
	if len(c.RunnerIDs) > 0 && !slices.Contains(c.RunnerIDs, s.RunnerID) {
		return false
	}
	return true
}

// HasFilters returns true if any filter is active.
func (c *Criteria) HasFilters() bool {
	return c.SinceTimestampMs > 0 || c.UntilTimestampMs > 0 || len(c.RunnerIDs) > 0
}
