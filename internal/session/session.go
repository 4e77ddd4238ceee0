package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/splitter/internal/demux"
	"github.com/zsiec/splitter/internal/logger"
	"github.com/zsiec/splitter/internal/media"
	"github.com/zsiec/splitter/internal/metrics"
	"github.com/zsiec/splitter/internal/queue"
	"github.com/zsiec/splitter/internal/registry"
	"github.com/zsiec/splitter/internal/sink"
)

// receiver is the consuming side of a queue-backed sink.
type receiver interface {
	sink.Sink
	Receive(ctx context.Context) (*media.Packet, error)
}

// streamCounters accumulates what one drain consumed.
type streamCounters struct {
	packets         atomic.Int64
	bytes           atomic.Int64
	discontinuities atomic.Int64
	endOfStream     atomic.Int64
	lastStart       atomic.Int64
	ended           atomic.Bool
}

// SinkStatus is the consumer view of one sink.
type SinkStatus struct {
	sink.Stats
	Consumed        int64  `json:"consumed"`
	ConsumedBytes   int64  `json:"consumed_bytes"`
	Discontinuities int64  `json:"discontinuities"`
	EndOfStreams    int64  `json:"end_of_streams"`
	LastStart       string `json:"last_start,omitempty"`
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	ID        string                `json:"id"`
	Locator   string                `json:"locator"`
	Format    string                `json:"format"`
	State     registry.SessionState `json:"state"`
	Worker    string                `json:"worker"`
	Duration  media.Time            `json:"duration"`
	Position  media.Time            `json:"position"`
	Stop      media.Time            `json:"stop"`
	Rate      float64               `json:"rate"`
	Starving  int                   `json:"starving_sinks"`
	Streams   []demux.StreamSummary `json:"streams"`
	Sinks     []SinkStatus          `json:"sinks"`
	CreatedAt time.Time             `json:"created_at"`
}

// Session is one loaded container with a drain goroutine per sink.
type Session struct {
	id        string
	locator   string
	createdAt time.Time

	splitter *demux.Splitter
	registry registry.Registry
	clock    *playClock
	log      logger.Logger

	cancel context.CancelFunc
	group  *errgroup.Group
	done   chan struct{}

	mu       sync.Mutex
	counters map[media.Kind]*streamCounters
	starving bool
	closed   bool
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// Locator returns the resolved media locator.
func (s *Session) Locator() string { return s.locator }

// Splitter exposes the session's demux engine for queries and seeks.
func (s *Session) Splitter() *demux.Splitter { return s.splitter }

// start launches one drain per sink and the status loop.
func (s *Session) start(statusInterval, heartbeatInterval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	group, gctx := errgroup.WithContext(ctx)
	s.group = group
	for _, sk := range s.splitter.Sinks() {
		r, ok := sk.(receiver)
		if !ok {
			s.log.WithField("kind", sk.Kind().String()).Warn("Sink cannot be drained")
			continue
		}
		c := &streamCounters{}
		s.mu.Lock()
		s.counters[sk.Kind()] = c
		s.mu.Unlock()
		group.Go(func() error {
			return s.drain(gctx, r, c)
		})
	}

	go s.statusLoop(ctx, statusInterval, heartbeatInterval)
}

// drain consumes one sink until it is released.
func (s *Session) drain(ctx context.Context, r receiver, c *streamCounters) error {
	var pc pacer
	for {
		p, err := r.Receive(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if p.EndOfStream {
			c.endOfStream.Add(1)
			c.ended.Store(true)
			s.log.WithField("kind", r.Kind().String()).Debug("End of stream consumed")
			continue
		}
		if err := s.clock.release(ctx, &pc, p); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		c.ended.Store(false)
		c.packets.Add(1)
		c.bytes.Add(int64(p.Len()))
		c.lastStart.Store(int64(p.Start))
		if p.Discontinuity() {
			c.discontinuities.Add(1)
		}
	}
}

func (s *Session) statusLoop(ctx context.Context, statusInterval, heartbeatInterval time.Duration) {
	defer close(s.done)

	status := time.NewTicker(statusInterval)
	defer status.Stop()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-status.C:
			s.publishStatus(ctx)
		case <-heartbeat.C:
			if err := s.registry.Heartbeat(ctx, s.id); err != nil && ctx.Err() == nil {
				s.log.WithError(err).Warn("Session heartbeat failed")
			}
		}
	}
}

func (s *Session) publishStatus(ctx context.Context) {
	snap := s.Snapshot()

	s.mu.Lock()
	wasStarving := s.starving
	s.starving = snap.Starving > 0
	s.mu.Unlock()

	if snap.Starving > 0 && !wasStarving {
		s.log.WithField("starving_sinks", snap.Starving).Warn("Sinks starving")
	} else if snap.Starving == 0 && wasStarving {
		s.log.Info("Sinks recovered from starvation")
	}

	for _, st := range snap.Sinks {
		metrics.ObserveQueueDepth(st.Kind, int(st.Queue.Depth))
	}

	status := registry.Status{
		Position:      int64(snap.Position),
		Stop:          int64(snap.Stop),
		Rate:          snap.Rate,
		StarvingSinks: snap.Starving,
	}
	for _, st := range snap.Sinks {
		status.PacketsDelivered += st.Consumed
		status.BytesDelivered += st.ConsumedBytes
	}
	if err := s.registry.UpdateStatus(ctx, s.id, status); err != nil && ctx.Err() == nil {
		s.log.WithError(err).Warn("Session status update failed")
	}
	if err := s.registry.UpdateState(ctx, s.id, snap.State); err != nil && ctx.Err() == nil {
		s.log.WithError(err).Debug("Session state update failed")
	}
}

// Starving reports whether any sink was starving at the last status tick.
func (s *Session) Starving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starving
}

// Play starts delivery and releases the drains.
func (s *Session) Play() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.splitter.Run(); err != nil {
		return err
	}
	s.clock.setRunning(true)
	s.setState(registry.StateRunning)
	return nil
}

// Pause holds the drains; the worker keeps filling the sinks until they are
// full.
func (s *Session) Pause() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.splitter.Pause(); err != nil {
		return err
	}
	s.clock.setRunning(false)
	s.setState(registry.StatePaused)
	return nil
}

// Stop flushes the sinks and ends the worker. The container stays loaded.
func (s *Session) Stop() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.clock.setRunning(false)
	if err := s.splitter.Stop(); err != nil {
		return err
	}
	s.setState(registry.StateStopped)
	return nil
}

// SetRate changes the playback rate of the splitter and the drain pacing.
func (s *Session) SetRate(rate float64) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.splitter.SetRate(rate); err != nil {
		return err
	}
	s.clock.setRate(rate)
	return nil
}

// Seek repositions the session. ctx bounds waiting for the worker to take
// the command.
func (s *Session) Seek(ctx context.Context, target media.Time, flags demux.SeekFlags) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.splitter.SeekTo(ctx, target, flags)
}

// SetPositions moves the current and stop positions together.
func (s *Session) SetPositions(ctx context.Context, current media.Time, currentFlags demux.SeekFlags, stop media.Time, stopFlags demux.SeekFlags) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.splitter.SetPositions(ctx, current, currentFlags, stop, stopFlags)
}

// Enable routes the stream at a global index to the sink of its kind.
func (s *Session) Enable(ctx context.Context, index int) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.splitter.Enable(ctx, index)
}

// SelectStream switches the sink carrying fromID to toID.
func (s *Session) SelectStream(ctx context.Context, fromID, toID int) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.splitter.SelectStream(ctx, fromID, toID)
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *Session) setState(state registry.SessionState) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.registry.UpdateState(ctx, s.id, state); err != nil {
		s.log.WithError(err).Debug("Session state update failed")
	}
}

// state derives the lifecycle state from the splitter and the drains.
func (s *Session) state() registry.SessionState {
	s.mu.Lock()
	closed := s.closed
	counters := make([]*streamCounters, 0, len(s.counters))
	for _, c := range s.counters {
		counters = append(counters, c)
	}
	s.mu.Unlock()

	if closed {
		return registry.StateClosed
	}
	switch s.splitter.PlaybackState() {
	case demux.Stopped:
		return registry.StateStopped
	case demux.Paused:
		return registry.StatePaused
	}
	if len(counters) > 0 && s.splitter.State() == demux.StateIdle {
		ended := true
		for _, c := range counters {
			if !c.ended.Load() {
				ended = false
				break
			}
		}
		if ended {
			return registry.StateEnded
		}
	}
	return registry.StateRunning
}

// Snapshot returns the current view of the session.
func (s *Session) Snapshot() Snapshot {
	current, stop := s.splitter.GetPositions()
	streams, _ := s.splitter.Streams()

	snap := Snapshot{
		ID:        s.id,
		Locator:   s.locator,
		Format:    s.splitter.Format(),
		State:     s.state(),
		Worker:    s.splitter.State().String(),
		Duration:  s.splitter.GetDuration(),
		Position:  current,
		Stop:      stop,
		Rate:      s.splitter.GetRate(),
		Starving:  s.splitter.StarvingCount(),
		Streams:   streams,
		CreatedAt: s.createdAt,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sk := range s.splitter.Sinks() {
		st := SinkStatus{}
		if qs, ok := sk.(*sink.QueueSink); ok {
			st.Stats = qs.Stats()
		} else {
			st.Stats = sink.Stats{Kind: sk.Kind().String(), StreamID: sk.StreamID(), Connected: sk.IsConnected()}
		}
		if c := s.counters[sk.Kind()]; c != nil {
			st.Consumed = c.packets.Load()
			st.ConsumedBytes = c.bytes.Load()
			st.Discontinuities = c.discontinuities.Load()
			st.EndOfStreams = c.endOfStream.Load()
			if c.packets.Load() > 0 {
				st.LastStart = media.Time(c.lastStart.Load()).String()
			}
		}
		snap.Sinks = append(snap.Sinks, st)
	}
	return snap
}

// close stops the worker, releases the sinks and waits for the drains.
func (s *Session) close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	s.mu.Unlock()

	closeErr := s.splitter.Close()
	s.cancel()

	drained := make(chan error, 1)
	go func() { drained <- s.group.Wait() }()

	var err error
	select {
	case err = <-drained:
	case <-ctx.Done():
		err = ctx.Err()
	}
	<-s.done

	unregCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if uerr := s.registry.Unregister(unregCtx, s.id); uerr != nil && !errors.Is(uerr, registry.ErrSessionNotFound) {
		s.log.WithError(uerr).Warn("Session unregister failed")
	}

	s.log.Info("Session closed")
	if closeErr != nil {
		return closeErr
	}
	return err
}
