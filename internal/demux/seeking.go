package demux

import (
	"context"
	"time"

	"github.com/zsiec/splitter/internal/media"
	"github.com/zsiec/splitter/internal/metrics"
)

// SeekFlags selects how a position passed to SetPositions is interpreted.
type SeekFlags uint32

const (
	// NoPositioning leaves the position unchanged.
	NoPositioning SeekFlags = 0
	// AbsolutePositioning sets the position to the value.
	AbsolutePositioning SeekFlags = 1
	// RelativePositioning adds the value to the position.
	RelativePositioning SeekFlags = 2
	// IncrementalPositioning adds the value to the current position. For
	// the stop position it is relative to the new current position.
	IncrementalPositioning SeekFlags = 3

	// PositioningMask selects the positioning bits of SeekFlags.
	PositioningMask SeekFlags = 3
)

// Capabilities is a bit set of seeking capabilities.
type Capabilities uint32

const (
	CanSeekAbsolute Capabilities = 1 << iota
	CanSeekForwards
	CanSeekBackwards
	CanGetCurrentPos
	CanGetStopPos
	CanGetDuration
	CanPlayBackwards
)

var capabilityNames = []struct {
	bit  Capabilities
	name string
}{
	{CanSeekAbsolute, "seek_absolute"},
	{CanSeekForwards, "seek_forwards"},
	{CanSeekBackwards, "seek_backwards"},
	{CanGetCurrentPos, "get_current_pos"},
	{CanGetStopPos, "get_stop_pos"},
	{CanGetDuration, "get_duration"},
	{CanPlayBackwards, "play_backwards"},
}

// Names lists the set capabilities in bit order.
func (c Capabilities) Names() []string {
	names := make([]string, 0, len(capabilityNames))
	for _, n := range capabilityNames {
		if c&n.bit != 0 {
			names = append(names, n.name)
		}
	}
	return names
}

// ExtendedCapabilities is a bit set of marker (chapter) capabilities.
type ExtendedCapabilities uint32

const (
	CanSeek ExtendedCapabilities = 1 << iota
	CanMarkerSeek
)

const splitterCapabilities = CanGetStopPos | CanGetDuration | CanSeekAbsolute | CanSeekForwards | CanSeekBackwards

// SetPositions changes the current and stop positions. When the worker is
// running the sinks are flushed around the seek and the worker restarts
// delivery at the new position. A failed reposition leaves the timeline
// unchanged and is returned as ErrSeekFailure. ctx is checked before the
// flush begins; a seek that has flushed the sinks always runs to completion.
func (s *Splitter) SetPositions(ctx context.Context, current media.Time, currentFlags SeekFlags, stop media.Time, stopFlags SeekFlags) error {
	currentFlags &= PositioningMask
	stopFlags &= PositioningMask
	if currentFlags == NoPositioning && stopFlags == NoPositioning {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.st == nil {
		return ErrNotLoaded
	}

	prevCur, prevStop := s.st.timeline.positions()
	cur, stp := prevCur, prevStop
	switch currentFlags {
	case AbsolutePositioning:
		cur = current
	case RelativePositioning, IncrementalPositioning:
		cur += current
	}
	switch stopFlags {
	case AbsolutePositioning:
		stp = stop
	case RelativePositioning:
		stp += stop
	case IncrementalPositioning:
		stp = cur + stop
	}
	if cur == prevCur && stp == prevStop {
		return nil
	}
	if s.worker == nil {
		s.st.timeline.requestDeferred(cur, stp)
		return nil
	}

	// Once the flush has begun the seek is always posted, so ctx is only
	// honoured up to here.
	if err := ctx.Err(); err != nil {
		return err
	}

	began := time.Now()
	s.st.gate.begin(s.st.sinks)
	metrics.IncrementFlushes()

	// No delivery can move current until the flush ends.
	snap := s.st.timeline.snapshot()
	s.st.timeline.request(cur, stp)
	err := s.callWorker(cmdSeek)
	if err != nil {
		s.st.timeline.restore(snap)
	}
	s.st.gate.end(s.st.sinks)
	metrics.RecordSeek(err, since(began))

	log := s.log.WithFields(map[string]interface{}{
		"current": cur.String(),
		"stop":    stp.String(),
	})
	if err != nil {
		log.WithError(err).Warn("Seek failed")
		return err
	}
	log.Debug("Seek applied")
	return nil
}

// flushAndCall runs a worker command inside a flush barrier.
func (s *Splitter) flushAndCall(kind commandKind) error {
	s.st.gate.begin(s.st.sinks)
	metrics.IncrementFlushes()
	err := s.callWorker(kind)
	s.st.gate.end(s.st.sinks)
	if err != nil {
		s.log.WithField("command", kind.String()).Debug("Worker command failed")
	}
	return err
}

// SeekTo moves the current position, leaving the stop position unchanged.
func (s *Splitter) SeekTo(ctx context.Context, target media.Time, flags SeekFlags) error {
	return s.SetPositions(ctx, target, flags, 0, NoPositioning)
}

// GetPositions returns the current and stop positions.
func (s *Splitter) GetPositions() (current, stop media.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.st == nil {
		return 0, 0
	}
	return s.st.timeline.positions()
}

// GetDuration returns the container duration, zero when unknown.
func (s *Splitter) GetDuration() media.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.st == nil {
		return 0
	}
	return s.st.timeline.getDuration()
}

// GetStopPosition returns the stop position.
func (s *Splitter) GetStopPosition() media.Time {
	_, stop := s.GetPositions()
	return stop
}

// GetAvailable returns the seekable range.
func (s *Splitter) GetAvailable() (earliest, latest media.Time) {
	return 0, s.GetDuration()
}

// SetRate sets the playback rate announced with the next segment.
func (s *Splitter) SetRate(rate float64) error {
	if !(rate > 0) {
		return ErrInvalidRate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st == nil {
		return ErrNotLoaded
	}
	s.st.timeline.setRate(rate)
	return nil
}

// GetRate returns the playback rate.
func (s *Splitter) GetRate() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.st == nil {
		return 1
	}
	return s.st.timeline.getRate()
}

// GetCapabilities returns the seeking capabilities.
func (s *Splitter) GetCapabilities() Capabilities {
	return splitterCapabilities
}

// CheckCapabilities returns the subset of want that is supported and
// whether all of it is.
func (s *Splitter) CheckCapabilities(want Capabilities) (Capabilities, bool) {
	if want == 0 {
		return 0, true
	}
	have := splitterCapabilities & want
	return have, have == want
}

// ExtendedCapabilities reports marker seeking when chapters exist.
func (s *Splitter) ExtendedCapabilities() ExtendedCapabilities {
	caps := CanSeek
	if s.ChapterCount() > 0 {
		caps |= CanMarkerSeek
	}
	return caps
}
