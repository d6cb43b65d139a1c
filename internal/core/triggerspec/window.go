package triggerspec

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
)

// Window is a report window [Start, End) measured from source registration.
type Window struct {
	Start time.Duration
	End   time.Duration
}

// Contains reports whether an offset from source registration falls in the window.
func (w Window) Contains(offset time.Duration) bool {
	return offset >= w.Start && offset < w.End
}

// buildWindows chains ends into consecutive windows starting at start.
func buildWindows(start time.Duration, ends []time.Duration) ([]Window, error) {
	if start < 0 {
		return nil, fmt.Errorf("start_time must not be negative, got %d", start.Milliseconds())
	}
	if len(ends) == 0 {
		return nil, fmt.Errorf("end_times must not be empty")
	}
	windows := make([]Window, 0, len(ends))
	prev := start
	for i, end := range ends {
		if end <= prev {
			return nil, fmt.Errorf("end_times[%d] = %d must be greater than %d", i, end.Milliseconds(), prev.Milliseconds())
		}
		windows = append(windows, Window{Start: prev, End: end})
		prev = end
	}
	return windows, nil
}

const (
	maxOffsetMillis = math.MaxInt64 / int64(time.Millisecond)
	maxOffsetDays   = math.MaxInt64 / int64(24*time.Hour)
)

func millis(ms int64) (time.Duration, error) {
	if ms > maxOffsetMillis || ms < -maxOffsetMillis {
		return 0, fmt.Errorf("offset %dms out of range", ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// parseOffset reads a window boundary. Numbers and numeric strings are milliseconds;
// other strings use Go duration syntax plus "Xd" for days.
func parseOffset(raw json.RawMessage) (time.Duration, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, fmt.Errorf("empty offset")
	}
	if raw[0] != '"' {
		ms, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid offset %s: %w", raw, err)
		}
		return millis(ms)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("invalid offset %s: %w", raw, err)
	}
	if s == "" {
		return 0, fmt.Errorf("offset must not be empty")
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return millis(ms)
	}

	// "d" is not understood by time.ParseDuration.
	if len(s) > 1 && s[len(s)-1] == 'd' {
		days, err := strconv.Atoi(s[:len(s)-1])
		if err != nil {
			return 0, fmt.Errorf("invalid offset %q: %w", s, err)
		}
		if int64(days) > maxOffsetDays || int64(days) < -maxOffsetDays {
			return 0, fmt.Errorf("offset %q out of range", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q: %w", s, err)
	}
	return d, nil
}
