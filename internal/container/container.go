// Package container defines the contract between the demux engine and a
// container parsing library: opening a locator, probing its streams,
// pulling raw units and repositioning the read cursor.
package container

import (
	"context"
	"errors"
	"math"

	"github.com/zsiec/splitter/internal/media"
)

const (
	// NoTimestamp is the container's "unset" timestamp sentinel.
	NoTimestamp int64 = math.MinInt64

	// TimeBase is the number of ticks per second for container-global
	// values (duration, start time).
	TimeBase int64 = 1_000_000
)

var (
	// ErrTryAgain is returned by ReadNext when no unit is available yet.
	ErrTryAgain = errors.New("container: try again")

	// ErrUnsupportedFormat is returned by an Opener that cannot parse the input.
	ErrUnsupportedFormat = errors.New("container: unsupported format")

	// ErrStreamNotFound is returned when a stream index is not part of the container.
	ErrStreamNotFound = errors.New("container: stream not found")
)

// Opener opens a locator and returns an exclusively owned Demuxer.
type Opener interface {
	Open(ctx context.Context, locator string) (Demuxer, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, locator string) (Demuxer, error)

// Open implements Opener.
func (f OpenerFunc) Open(ctx context.Context, locator string) (Demuxer, error) {
	return f(ctx, locator)
}

// Demuxer is an open container. It is not safe for concurrent use.
type Demuxer interface {
	// Probe reports the container layout. It may be called once, before
	// the first ReadNext.
	Probe() (*ProbeResult, error)

	// ReadNext returns the next unit in file order. ErrTryAgain means no
	// unit is ready; io.EOF means the input is exhausted.
	ReadNext() (*Unit, error)

	// Seek positions the read cursor on the nearest access point at or
	// before ts, expressed in the time base of streamID.
	Seek(streamID int, ts int64) error

	Close() error
}

// Indexer is implemented by demuxers that can report per-stream access
// point indexes. Index must be safe to call concurrently with ReadNext.
type Indexer interface {
	Index(streamID int) ([]IndexEntry, error)
}

// ProbeResult describes an opened container.
type ProbeResult struct {
	Format    string
	Streams   []media.StreamInfo
	Duration  int64 // in TimeBase ticks, NoTimestamp when unknown
	StartTime int64 // in TimeBase ticks, NoTimestamp when unknown
	Chapters  []Chapter
}

// Unit is one raw access unit as read from the container. Timestamps are in
// the owning stream's time base.
type Unit struct {
	StreamIndex         int
	Data                []byte
	Size                int // declared size; negative marks a corrupt read
	PTS                 int64
	DTS                 int64
	Duration            int64
	ConvergenceDuration int64
	Keyframe            bool
	Pos                 int64
}

// NewUnit returns a unit with unset timestamps.
func NewUnit(streamIndex int, data []byte) *Unit {
	return &Unit{
		StreamIndex: streamIndex,
		Data:        data,
		Size:        len(data),
		PTS:         NoTimestamp,
		DTS:         NoTimestamp,
		Pos:         -1,
	}
}

// Chapter is a named span of the container timeline.
type Chapter struct {
	ID       int64
	TimeBase media.Rational
	Start    int64
	End      int64
	Title    string
}

// IndexEntry is one access point in a stream's index.
type IndexEntry struct {
	Timestamp int64 // in the stream's time base
	Pos       int64 // byte offset, -1 when unknown
	Keyframe  bool
}
