package job

import (
	"fmt"
	"time"
)

// Window is a rolling lookback interval used to bound discovery queries.
type Window struct {
	Lookback time.Duration
}

// ParseWindow accepts durations like "24h" or a day shorthand like "3d".
func ParseWindow(s string) (Window, error) {
	if n := len(s); n > 1 && s[n-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err == nil && days > 0 {
			return Window{Lookback: time.Duration(days) * 24 * time.Hour}, nil
		}
	}

	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return Window{}, fmt.Errorf("invalid search window %q", s)
	}

	return Window{Lookback: d}, nil
}

// Cutoff returns the oldest acceptable posting time relative to now.
func (w Window) Cutoff(now time.Time) time.Time {
	return now.Add(-w.Lookback)
}

// Contains reports whether t falls inside the window relative to now.
func (w Window) Contains(now, t time.Time) bool {
	return !t.Before(w.Cutoff(now))
}

func (w Window) String() string {
	return w.Lookback.String()
}
