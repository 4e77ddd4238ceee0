package demux

import (
	"context"

	"github.com/zsiec/splitter/internal/media"
)

// Seeker is the positioning capability of a splitter.
type Seeker interface {
	SetPositions(ctx context.Context, current media.Time, currentFlags SeekFlags, stop media.Time, stopFlags SeekFlags) error
	SeekTo(ctx context.Context, target media.Time, flags SeekFlags) error
	GetPositions() (current, stop media.Time)
	GetDuration() media.Time
	GetAvailable() (earliest, latest media.Time)
	GetCapabilities() Capabilities
	CheckCapabilities(want Capabilities) (Capabilities, bool)
}

// RateController sets the playback rate announced to sinks.
type RateController interface {
	SetRate(rate float64) error
	GetRate() float64
}

// StreamSelector switches which container stream feeds each sink.
type StreamSelector interface {
	Count() int
	Info(index int) (StreamInfo, error)
	Enable(ctx context.Context, index int) error
	SelectStream(ctx context.Context, fromID, toID int) error
}

// ChapterLister reports container chapters.
type ChapterLister interface {
	ChapterCount() int
	ListChapters() []Chapter
	CurrentChapter() (int, error)
}

// KeyFrameLister reports indexed access points.
type KeyFrameLister interface {
	ListKeyFrames(streamID int) ([]media.Time, error)
	KeyFrameCount(streamID int) (int, error)
}

var (
	_ Seeker         = (*Splitter)(nil)
	_ RateController = (*Splitter)(nil)
	_ StreamSelector = (*Splitter)(nil)
	_ ChapterLister  = (*Splitter)(nil)
	_ KeyFrameLister = (*Splitter)(nil)
)
