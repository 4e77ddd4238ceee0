// Package timebase converts between container-native rational timestamps
// and the fixed-unit presentation timeline.
package timebase

import (
	"math"
	"math/bits"

	"github.com/zsiec/splitter/internal/container"
	"github.com/zsiec/splitter/internal/media"
)

// Rescale returns a*b/c rounded to the nearest integer, ties away from
// zero. The product is computed in 128 bits so no precision is lost before
// the division. Results that do not fit in an int64 saturate. A zero
// divisor yields zero.
func Rescale(a, b, c int64) int64 {
	if c == 0 {
		return 0
	}

	neg := (a < 0) != (b < 0)
	if c < 0 {
		neg = !neg
	}
	ua, ub, uc := abs64(a), abs64(b), abs64(c)

	hi, lo := bits.Mul64(ua, ub)
	var carry uint64
	lo, carry = bits.Add64(lo, uc/2, 0)
	hi += carry

	if hi >= uc {
		return saturate(neg)
	}
	q, _ := bits.Div64(hi, lo, uc)

	if neg {
		if q > 1<<63 {
			return math.MinInt64
		}
		return -int64(q)
	}
	if q > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(q)
}

func abs64(v int64) uint64 {
	if v < 0 {
		return uint64(-(v + 1)) + 1
	}
	return uint64(v)
}

func saturate(neg bool) int64 {
	if neg {
		return math.MinInt64
	}
	return math.MaxInt64
}

// Converter maps timestamps between a stream's time base and the
// presentation timeline, anchored at the container's global start time.
type Converter struct {
	startTime int64
}

// NewConverter creates a converter for a container whose global start time
// is startTime, in container.TimeBase ticks. container.NoTimestamp and zero
// both mean "no offset".
func NewConverter(startTime int64) Converter {
	return Converter{startTime: startTime}
}

// StartTime returns the container start time the converter is anchored at.
func (c Converter) StartTime() int64 {
	return c.startTime
}

// Offset returns the start time in presentation units.
func (c Converter) Offset() media.Time {
	if c.startTime == container.NoTimestamp || c.startTime == 0 {
		return 0
	}
	return media.Time(Rescale(c.startTime, int64(media.TimeUnitsPerSecond), container.TimeBase))
}

// ToPresentation converts ts, expressed in tb, to presentation time. An
// unset ts yields media.InvalidTime.
func (c Converter) ToPresentation(ts int64, tb media.Rational) media.Time {
	if ts == container.NoTimestamp {
		return media.InvalidTime
	}
	return media.Time(Rescale(ts, tb.Num*int64(media.TimeUnitsPerSecond), tb.Den)) - c.Offset()
}

// ToContainer converts pt back into tb. media.InvalidTime yields
// container.NoTimestamp.
func (c Converter) ToContainer(pt media.Time, tb media.Rational) int64 {
	if pt == media.InvalidTime {
		return container.NoTimestamp
	}
	return Rescale(int64(pt+c.Offset()), tb.Den, tb.Num*int64(media.TimeUnitsPerSecond))
}

// Duration converts a relative span in tb to presentation units without
// applying the start offset. Unset or negative spans yield zero.
func Duration(d int64, tb media.Rational) media.Time {
	if d == container.NoTimestamp || d <= 0 {
		return 0
	}
	return media.Time(Rescale(d, tb.Num*int64(media.TimeUnitsPerSecond), tb.Den))
}

// ContainerDuration converts a container-global duration to presentation
// units. Unknown or negative durations yield zero.
func ContainerDuration(d int64) media.Time {
	return Duration(d, media.Rational{Num: 1, Den: container.TimeBase})
}
