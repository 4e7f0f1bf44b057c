package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Minute is a wall-clock time of day in minutes since midnight.
type Minute int

// ParseMinute parses "HH:MM" into a Minute.
func ParseMinute(s string) (Minute, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return Minute(h*60 + m), nil
}

func (m Minute) String() string {
	return fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
}

// MinuteOf converts a wall-clock instant to its Minute of day.
func MinuteOf(t time.Time) Minute {
	return Minute(t.Hour()*60 + t.Minute())
}

// Window is the wall-clock span during which the fleet is permitted to be
// active. A window with Start > End wraps through midnight.
type Window struct {
	Start Minute
	End   Minute
}

// ParseWindow builds a Window from two "HH:MM" bounds.
func ParseWindow(start, end string) (Window, error) {
	s, err := ParseMinute(start)
	if err != nil {
		return Window{}, fmt.Errorf("window start: %w", err)
	}
	e, err := ParseMinute(end)
	if err != nil {
		return Window{}, fmt.Errorf("window end: %w", err)
	}
	return Window{Start: s, End: e}, nil
}

// Contains reports window membership. Both endpoints are inclusive.
func (w Window) Contains(m Minute) bool {
	if w.Start <= w.End {
		return m >= w.Start && m <= w.End
	}
	// Wrapping span: active through midnight.
	return m >= w.Start || m <= w.End
}

func (w Window) String() string {
	return w.Start.String() + "-" + w.End.String()
}
