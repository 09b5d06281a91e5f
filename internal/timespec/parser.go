package timespec

import (
	"fmt"
	"strconv"
	"time"
)

// Parse turns a time specification into Unix milliseconds.
// Accepted forms:
//   - Go duration, relative to now: "90s", "5m", "1h30m" (meaning that long ago)
//   - RFC3339 timestamp: "2024-06-10T06:13:20Z"
//   - Unix milliseconds as written in telemetry: "1718000000000"
func Parse(spec string, now time.Time) (int64, error) {
	if spec == "" {
		return 0, fmt.Errorf("empty time specification")
	}

	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		return t.UnixMilli(), nil
	}

	if d, err := time.ParseDuration(spec); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("negative duration: %s", spec)
		}
		return now.Add(-d).UnixMilli(), nil
	}

	if ms, err := strconv.ParseInt(spec, 10, 64); err == nil && ms > 0 {
		return ms, nil
	}

	return 0, fmt.Errorf("invalid time specification: %s (use a duration like '5m', RFC3339 like '2024-06-10T06:13:20Z', or Unix milliseconds)", spec)
}

// ParseRange parses --since and --until into (sinceMs, untilMs).
// Zero means no bound on that side.
func ParseRange(since, until string, now time.Time) (int64, int64, error) {
	var sinceMS, untilMS int64
	var err error

	if since != "" {
		sinceMS, err = Parse(since, now)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid --since: %w", err)
		}
	}

	if until != "" {
		untilMS, err = Parse(until, now)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid --until: %w", err)
		}
	}

	if sinceMS > 0 && untilMS > 0 && sinceMS >= untilMS {
		return 0, 0, fmt.Errorf("--since must be before --until")
	}

	return sinceMS, untilMS, nil
}
