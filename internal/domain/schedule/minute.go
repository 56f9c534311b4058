// Package schedule models a patient's dose schedule: medications, their daily
// dose instants, and the versioned mutations the resolution path applies.
package schedule

import (
	"fmt"
	"time"
)

// MinutesPerDay is the size of the wrapping time-of-day domain.
const MinutesPerDay = 24 * 60

// MinuteOfDay is an instant within a recurring daily schedule, in minutes
// after midnight. Valid values are in [0, MinutesPerDay).
type MinuteOfDay int

// ParseMinuteOfDay parses an "HH:MM" clock string.
func ParseMinuteOfDay(v string) (MinuteOfDay, error) {
	var h, m int
	if _, err := fmt.Sscanf(v, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", v, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time %q: out of range", v)
	}
	return MinuteOfDay(h*60 + m), nil
}

// String formats the instant as "HH:MM".
func (m MinuteOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
}

// Valid reports whether the instant falls inside a single day.
func (m MinuteOfDay) Valid() bool { return m >= 0 && m < MinutesPerDay }

// Add shifts the instant by d, wrapping at the day boundary.
func (m MinuteOfDay) Add(d time.Duration) MinuteOfDay {
	n := (int(m) + int(d.Minutes())) % MinutesPerDay
	if n < 0 {
		n += MinutesPerDay
	}
	return MinuteOfDay(n)
}

// Forward returns the distance from m to other moving forward in time,
// wrapping at midnight. The result is in [0, 24h).
func (m MinuteOfDay) Forward(other MinuteOfDay) time.Duration {
	d := int(other) - int(m)
	if d < 0 {
		d += MinutesPerDay
	}
	return time.Duration(d) * time.Minute
}

// Gap returns the smaller circular distance between two daily instants.
// Schedules recur daily, so 23:30 and 00:15 are 45 minutes apart.
func (m MinuteOfDay) Gap(other MinuteOfDay) time.Duration {
	f := m.Forward(other)
	if b := other.Forward(m); b < f {
		return b
	}
	return f
}
