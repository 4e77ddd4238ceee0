package demux

import (
	"sync"

	"github.com/zsiec/splitter/internal/container"
	"github.com/zsiec/splitter/internal/media"
	"github.com/zsiec/splitter/internal/sink"
	"github.com/zsiec/splitter/internal/stream"
	"github.com/zsiec/splitter/internal/timebase"
)

// timeline is the session's position state in presentation units. The
// control surface writes the pending target, the worker applies it.
type timeline struct {
	mu       sync.Mutex
	start    media.Time
	stop     media.Time
	current  media.Time
	newStart media.Time
	newStop  media.Time
	rate     float64
	duration media.Time

	// deferred is the state before the first target requested while no
	// worker ran. A failed first seek rolls back to it.
	deferred *timelineSnapshot
}

// timelineSnapshot is a copy of the timeline fields a seek request changes.
type timelineSnapshot struct {
	start, stop, current, newStart, newStop media.Time
}

func newTimeline(duration media.Time) *timeline {
	return &timeline{
		stop:     duration,
		newStop:  duration,
		rate:     1,
		duration: duration,
	}
}

func (t *timeline) positions() (current, stop media.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current, t.stop
}

func (t *timeline) pending() (start, stop media.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.newStart, t.newStop
}

func (t *timeline) snapshot() timelineSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *timeline) snapshotLocked() timelineSnapshot {
	return timelineSnapshot{t.start, t.stop, t.current, t.newStart, t.newStop}
}

func (t *timeline) restore(s timelineSnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.restoreLocked(s)
}

func (t *timeline) restoreLocked(s timelineSnapshot) {
	t.start, t.stop, t.current, t.newStart, t.newStop = s.start, s.stop, s.current, s.newStart, s.newStop
}

// request records a seek target. It reports false when the target equals
// the current position and stop.
func (t *timeline) request(current, stop media.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == current && t.stop == stop {
		return false
	}
	t.newStart = current
	t.current = current
	t.newStop = stop
	return true
}

// requestDeferred records a target the next worker start seeks to. The
// state before the first deferred request is kept for rollback.
func (t *timeline) requestDeferred(current, stop media.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.deferred == nil {
		snap := t.snapshotLocked()
		t.deferred = &snap
	}
	t.newStart = current
	t.current = current
	t.newStop = stop
}

// resumeAtCurrent makes the pending start the current position.
func (t *timeline) resumeAtCurrent() {
	t.mu.Lock()
	t.newStart = t.current
	t.mu.Unlock()
}

// apply moves the pending target into the active segment and returns the
// segment it replaced.
func (t *timeline) apply() (next, prev media.Segment) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev = media.Segment{Start: t.start, Stop: t.stop, Rate: t.rate}
	t.start = t.newStart
	t.stop = t.newStop
	return media.Segment{Start: t.start, Stop: t.stop, Rate: t.rate}, prev
}

// settle drops the rollback state of deferred requests once a seek has
// been applied.
func (t *timeline) settle() {
	t.mu.Lock()
	t.deferred = nil
	t.mu.Unlock()
}

// rollback undoes a failed reposition. Deferred requests are rolled back
// entirely; otherwise seg becomes the active segment again.
func (t *timeline) rollback(seg media.Segment) media.Segment {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.deferred != nil {
		t.restoreLocked(*t.deferred)
		t.deferred = nil
	} else {
		t.start = seg.Start
		t.stop = seg.Stop
	}
	return media.Segment{Start: t.start, Stop: t.stop, Rate: t.rate}
}

func (t *timeline) segment() media.Segment {
	t.mu.Lock()
	defer t.mu.Unlock()
	return media.Segment{Start: t.start, Stop: t.stop, Rate: t.rate}
}

func (t *timeline) advance(current media.Time) {
	t.mu.Lock()
	t.current = current
	t.mu.Unlock()
}

func (t *timeline) setRate(rate float64) {
	t.mu.Lock()
	t.rate = rate
	t.mu.Unlock()
}

func (t *timeline) getRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rate
}

func (t *timeline) getDuration() media.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.duration
}

// discontinuitySet records the streams that already received a
// discontinuity in the current segment. Only the worker touches it.
type discontinuitySet map[int]struct{}

func (d discontinuitySet) signaled(id int) bool {
	_, ok := d[id]
	return ok
}

func (d discontinuitySet) mark(id int) {
	d[id] = struct{}{}
}

func (d discontinuitySet) reset() {
	clear(d)
}

// flushGate is the two-phase flush barrier between the control surface and
// the worker. Deliveries run under the read lock; begin takes the write lock
// once every sink has been told to flush, so when it returns no delivery is
// in progress and none starts until end.
type flushGate struct {
	deliver sync.RWMutex

	mu       sync.Mutex
	flushing bool
	endCh    chan struct{}
}

func newFlushGate() *flushGate {
	ch := make(chan struct{})
	close(ch)
	return &flushGate{endCh: ch}
}

func (g *flushGate) begin(sinks []sink.Sink) {
	g.mu.Lock()
	if !g.flushing {
		g.flushing = true
		g.endCh = make(chan struct{})
	}
	g.mu.Unlock()

	for _, s := range sinks {
		s.NotifyBeginFlush()
	}

	// Wait out any delivery that started before the flag was set.
	g.deliver.Lock()
	g.deliver.Unlock()
}

func (g *flushGate) end(sinks []sink.Sink) {
	for _, s := range sinks {
		s.NotifyEndFlush()
	}

	g.mu.Lock()
	if g.flushing {
		g.flushing = false
		close(g.endCh)
	}
	g.mu.Unlock()
}

func (g *flushGate) isFlushing() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.flushing
}

// done returns a channel closed when the current flush ends. It is already
// closed when no flush is in progress.
func (g *flushGate) done() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.endCh
}

// tryDeliver hands p to s unless a flush is in progress. It reports whether
// the delivery was attempted. accepted, when set, runs after a successful
// Deliver and before a flush can begin.
func (g *flushGate) tryDeliver(s sink.Sink, p *media.Packet, accepted func()) (bool, error) {
	g.deliver.RLock()
	defer g.deliver.RUnlock()
	if g.isFlushing() {
		return false, nil
	}
	if err := s.Deliver(p); err != nil {
		return true, err
	}
	if accepted != nil {
		accepted()
	}
	return true, nil
}

// sessionState is everything one loaded container owns. It is built by Load
// and shared by reference with the worker; sinks and registry are fixed for
// its lifetime.
type sessionState struct {
	demuxer  container.Demuxer
	format   string
	registry *stream.Registry
	conv     timebase.Converter
	quirks   quirkTable
	sinks    []sink.Sink
	chapters []container.Chapter
	timeline *timeline
	gate     *flushGate

	requireVideoAnchor bool

	// Worker owned.
	sent    discontinuitySet
	segment media.Segment
}

// sinkFor returns the sink currently carrying streamID.
func (s *sessionState) sinkFor(streamID int) sink.Sink {
	for _, sk := range s.sinks {
		if sk.StreamID() == streamID {
			return sk
		}
	}
	return nil
}

// sinkOfKind returns the sink of a kind.
func (s *sessionState) sinkOfKind(kind media.Kind) sink.Sink {
	for _, sk := range s.sinks {
		if sk.Kind() == kind {
			return sk
		}
	}
	return nil
}

// seekAnchor picks the stream whose time base a seek target is expressed
// in: the routed video stream, else the first routed stream, else the first
// registered stream.
func (s *sessionState) seekAnchor() (stream.Descriptor, error) {
	if sk := s.sinkOfKind(media.KindVideo); sk != nil {
		if d, ok := s.registry.FindByID(sk.StreamID()); ok {
			return d, nil
		}
	}
	if s.requireVideoAnchor {
		return stream.Descriptor{}, ErrNoSeekAnchor
	}
	for _, sk := range s.sinks {
		if d, ok := s.registry.FindByID(sk.StreamID()); ok {
			return d, nil
		}
	}
	if all := s.registry.All(); len(all) > 0 {
		return all[0], nil
	}
	return stream.Descriptor{}, ErrNoSeekAnchor
}
