package media

import (
	"math"
	"strconv"
	"time"
)

// Time is a position on the presentation timeline in 100ns units.
type Time int64

const (
	// TimeUnitsPerSecond is the resolution of the presentation timeline.
	TimeUnitsPerSecond Time = 10_000_000

	// InvalidTime marks an unresolved presentation time. It never reaches a sink.
	InvalidTime Time = math.MinInt64
)

// Valid reports whether t is a resolved time.
func (t Time) Valid() bool {
	return t != InvalidTime
}

// Duration converts t to a time.Duration.
func (t Time) Duration() time.Duration {
	if !t.Valid() {
		return 0
	}
	return time.Duration(t) * 100
}

// Seconds returns t in seconds.
func (t Time) Seconds() float64 {
	return float64(t) / float64(TimeUnitsPerSecond)
}

func (t Time) String() string {
	if !t.Valid() {
		return "invalid"
	}
	return t.Duration().String()
}

// FromDuration converts a time.Duration to presentation units.
func FromDuration(d time.Duration) Time {
	return Time(d / 100)
}

// FromSeconds converts seconds to presentation units.
func FromSeconds(s float64) Time {
	return Time(math.Round(s * float64(TimeUnitsPerSecond)))
}

// ParseTime accepts either a Go duration string ("1m30s") or a plain
// integer count of presentation units.
func ParseTime(s string) (Time, error) {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Time(v), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return InvalidTime, err
	}
	return FromDuration(d), nil
}
