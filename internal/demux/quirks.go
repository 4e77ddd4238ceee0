package demux

import (
	"strings"

	"github.com/zsiec/splitter/internal/container"
	"github.com/zsiec/splitter/internal/media"
	"github.com/zsiec/splitter/internal/stream"
)

// Timing is the raw timing of one unit while quirks are applied to it.
// Values are in the owning stream's time base.
type Timing struct {
	PTS       int64
	DTS       int64
	Duration  int64
	PreferDTS bool
}

// Quirk corrects a known container or encoder timestamp defect.
type Quirk struct {
	Name string

	// Matches reports whether the quirk applies to a stream of a container
	// format. It is evaluated once per stream at load.
	Matches func(format string, d stream.Descriptor) bool

	// Apply corrects t for unit u and reports whether anything changed.
	Apply func(u *container.Unit, t *Timing) bool
}

// DefaultQuirks returns the built-in quirk table in the order it is applied.
func DefaultQuirks() []Quirk {
	return []Quirk{
		{
			// Some demuxers report 0 instead of an unset timestamp.
			Name:    "zero-timestamp-unset",
			Matches: func(string, stream.Descriptor) bool { return true },
			Apply: func(_ *container.Unit, t *Timing) bool {
				changed := false
				if t.DTS == 0 {
					t.DTS = container.NoTimestamp
					changed = true
				}
				if t.PTS == 0 {
					t.PTS = container.NoTimestamp
					changed = true
				}
				return changed
			},
		},
		{
			Name: "matroska-text-convergence",
			Matches: func(format string, d stream.Descriptor) bool {
				return isFormat(format, "matroska") && d.Codec.ID == media.CodecText
			},
			Apply: func(u *container.Unit, t *Timing) bool {
				if u.ConvergenceDuration == 0 {
					return false
				}
				t.Duration = u.ConvergenceDuration
				return true
			},
		},
		{
			// AVI presentation timestamps are unreliable for video.
			Name: "avi-video-dts-only",
			Matches: func(format string, d stream.Descriptor) bool {
				return isFormat(format, "avi") && d.Kind == media.KindVideo
			},
			Apply: func(_ *container.Unit, t *Timing) bool {
				if t.PTS == container.NoTimestamp {
					return false
				}
				t.PTS = container.NoTimestamp
				return true
			},
		},
		{
			Name: "vc1-prefer-dts",
			Matches: func(_ string, d stream.Descriptor) bool {
				return d.Codec.ID == media.CodecVC1
			},
			Apply: func(_ *container.Unit, t *Timing) bool {
				t.PreferDTS = true
				return t.DTS != container.NoTimestamp
			},
		},
	}
}

// isFormat matches a container format name. Names may be comma separated
// aliases such as "matroska,webm".
func isFormat(format, name string) bool {
	for _, f := range strings.Split(format, ",") {
		if strings.EqualFold(strings.TrimSpace(f), name) {
			return true
		}
	}
	return false
}

// quirkTable holds the quirks that apply to each registered stream.
type quirkTable map[int][]Quirk

func newQuirkTable(quirks []Quirk, format string, reg *stream.Registry) quirkTable {
	t := make(quirkTable)
	for _, d := range reg.All() {
		for _, q := range quirks {
			if q.Matches(format, d) {
				t[d.ID] = append(t[d.ID], q)
			}
		}
	}
	return t
}

// apply runs the stream's quirks over u in table order and returns the
// corrected timing along with the names of the quirks that changed it.
func (t quirkTable) apply(u *container.Unit) (Timing, []string) {
	tm := Timing{PTS: u.PTS, DTS: u.DTS, Duration: u.Duration}
	var applied []string
	for _, q := range t[u.StreamIndex] {
		if q.Apply(u, &tm) {
			applied = append(applied, q.Name)
		}
	}
	return tm, applied
}
