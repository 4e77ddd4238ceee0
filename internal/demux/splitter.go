// Package demux is the demultiplexing engine: it pulls units from an open
// container, normalizes their timestamps onto the presentation timeline,
// classifies them and routes them to per-stream sinks, with seek, flush and
// stream selection driven from the control surface.
package demux

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zsiec/splitter/internal/container"
	"github.com/zsiec/splitter/internal/logger"
	"github.com/zsiec/splitter/internal/media"
	"github.com/zsiec/splitter/internal/sink"
	"github.com/zsiec/splitter/internal/stream"
	"github.com/zsiec/splitter/internal/timebase"
)

// DefaultMinPacketsInQueue is the queue depth below which a sink counts as
// starving.
const DefaultMinPacketsInQueue = 100

// Config configures a Splitter.
type Config struct {
	// MinPacketsInQueue is the starvation threshold.
	MinPacketsInQueue int

	// RequireVideoAnchor makes seeks fail with ErrNoSeekAnchor when no
	// video stream is routed instead of anchoring on another stream.
	RequireVideoAnchor bool

	// Quirks replaces the default quirk table when non-nil.
	Quirks []Quirk

	// Renegotiator is called when an audio sink changes stream.
	Renegotiator Renegotiator
}

// PlaybackState is the state the host put the splitter in.
type PlaybackState int

const (
	Stopped PlaybackState = iota
	Paused
	Running
)

// String returns the string representation of PlaybackState
func (s PlaybackState) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Paused:
		return "paused"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

// StreamSummary describes one registered stream after Load.
type StreamSummary struct {
	Index    int               `json:"index"`
	ID       int               `json:"id"`
	Kind     string            `json:"kind"`
	Codec    media.CodecParams `json:"codec"`
	Language string            `json:"language,omitempty"`
	Name     string            `json:"name"`
	Enabled  bool              `json:"enabled"`
}

// Splitter is the control surface of one container. Control calls are
// serialized; the container itself is only touched by the worker while it
// runs.
type Splitter struct {
	cfg     Config
	opener  container.Opener
	factory sink.Factory
	log     logger.Logger

	mu       sync.RWMutex
	locator  string
	st       *sessionState
	worker   *worker
	playback PlaybackState
}

// New creates a splitter that opens containers with opener and creates
// sinks with factory.
func New(opener container.Opener, factory sink.Factory, cfg Config, log logger.Logger) *Splitter {
	if cfg.MinPacketsInQueue <= 0 {
		cfg.MinPacketsInQueue = DefaultMinPacketsInQueue
	}
	if cfg.Quirks == nil {
		cfg.Quirks = DefaultQuirks()
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Splitter{
		cfg:     cfg,
		opener:  opener,
		factory: factory,
		log:     logger.Component(log, "splitter"),
	}
}

// Load opens locator, registers its streams and creates one sink per kind.
// Anything previously loaded is released first. On failure nothing stays
// loaded.
func (s *Splitter) Load(ctx context.Context, locator string) ([]StreamSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.worker != nil {
		return nil, ErrNotStopped
	}
	s.releaseLocked()

	d, err := s.opener.Open(ctx, locator)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenFailure, locator, err)
	}

	probe, err := d.Probe()
	if err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenFailure, locator, err)
	}

	reg := stream.Populate(probe.Streams)
	if reg.Empty() {
		_ = d.Close()
		return nil, fmt.Errorf("%w: %s", ErrNoUsableStreams, locator)
	}

	st := &sessionState{
		demuxer:            d,
		format:             probe.Format,
		registry:           reg,
		conv:               timebase.NewConverter(probe.StartTime),
		quirks:             newQuirkTable(s.cfg.Quirks, probe.Format, reg),
		chapters:           probe.Chapters,
		timeline:           newTimeline(timebase.ContainerDuration(probe.Duration)),
		gate:               newFlushGate(),
		requireVideoAnchor: s.cfg.RequireVideoAnchor,
		sent:               make(discontinuitySet),
	}
	st.sinks = s.createSinks(reg)

	s.st = st
	s.locator = locator

	s.log.WithFields(map[string]interface{}{
		"locator":  locator,
		"format":   probe.Format,
		"streams":  reg.Count(),
		"sinks":    len(st.sinks),
		"duration": st.timeline.getDuration().String(),
	}).Info("Container loaded")

	return s.summariesLocked(), nil
}

// createSinks creates a sink for the first stream of each kind the factory
// accepts.
func (s *Splitter) createSinks(reg *stream.Registry) []sink.Sink {
	var sinks []sink.Sink
	for _, kind := range media.Kinds {
		for _, d := range reg.Streams(kind) {
			sk, err := s.factory.NewSink(kind, d.ID, d.Format())
			if err != nil {
				logger.ForStream(s.log.WithError(err), d.ID).Warn("Sink creation failed, trying next stream")
				continue
			}
			sinks = append(sinks, sk)
			break
		}
	}
	return sinks
}

// releaseLocked closes the container and releases every sink.
func (s *Splitter) releaseLocked() {
	if s.st == nil {
		return
	}
	if err := s.st.demuxer.Close(); err != nil {
		s.log.WithError(err).Warn("Failed to close container")
	}
	for _, sk := range s.st.sinks {
		sk.Release()
	}
	s.st = nil
	s.locator = ""
}

// Close stops the worker, closes the container and releases the sinks.
func (s *Splitter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.releaseLocked()
	return nil
}

// Locator returns the loaded locator.
func (s *Splitter) Locator() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.locator
}

// Format returns the loaded container format name.
func (s *Splitter) Format() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.st == nil {
		return ""
	}
	return s.st.format
}

// Pause starts the worker if the splitter was stopped. Sinks fill up while
// paused.
func (s *Splitter) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.st == nil {
		return ErrNotLoaded
	}
	if s.playback == Stopped {
		s.startLocked()
	}
	s.playback = Paused
	return nil
}

// Run starts delivery, pausing first when stopped.
func (s *Splitter) Run() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.st == nil {
		return ErrNotLoaded
	}
	if s.playback == Stopped {
		s.startLocked()
	}
	s.playback = Running
	return nil
}

// Stop flushes the sinks and ends the worker. The container stays open.
func (s *Splitter) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	return nil
}

func (s *Splitter) startLocked() {
	if s.worker != nil {
		return
	}
	s.worker = newWorker(s.st, s.log)
	go s.worker.run()
	s.log.Debug("Demux worker started")
}

func (s *Splitter) stopLocked() {
	if s.worker != nil {
		if err := s.flushAndCall(cmdExit); err != nil {
			s.log.WithError(err).Warn("Worker exit failed")
		}
		<-s.worker.done
		s.worker = nil
		s.log.Debug("Demux worker stopped")
	}
	s.playback = Stopped
}

// callWorker posts a command and waits for the worker to apply it. Commands
// are never abandoned: the caller may already have flushed the sinks on
// their behalf.
func (s *Splitter) callWorker(kind commandKind) error {
	w := s.worker
	if w == nil {
		return nil
	}
	reply := make(chan error, 1)
	select {
	case w.cmds <- command{kind: kind, reply: reply}:
	case <-w.done:
		return nil
	}
	return <-reply
}

// PlaybackState returns the state set by Pause, Run and Stop.
func (s *Splitter) PlaybackState() PlaybackState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playback
}

// State returns the worker state, StateIdle when no worker runs.
func (s *Splitter) State() WorkerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.worker == nil {
		return StateIdle
	}
	return s.worker.State()
}

// Sinks returns the sinks created by Load.
func (s *Splitter) Sinks() []sink.Sink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.st == nil {
		return nil
	}
	out := make([]sink.Sink, len(s.st.sinks))
	copy(out, s.st.sinks)
	return out
}

// AnyStarving reports whether a sink that already received data since its
// last discontinuity has fewer queued packets than the threshold.
func (s *Splitter) AnyStarving() bool {
	return s.StarvingCount() > 0
}

// StarvingCount returns the number of starving sinks.
func (s *Splitter) StarvingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.st == nil {
		return 0
	}
	n := 0
	for _, sk := range s.st.sinks {
		if !sk.IsDiscontinuous() && sk.QueueDepth() < s.cfg.MinPacketsInQueue {
			n++
		}
	}
	return n
}

func (s *Splitter) summariesLocked() []StreamSummary {
	all := s.st.registry.All()
	out := make([]StreamSummary, 0, len(all))
	for i, d := range all {
		out = append(out, StreamSummary{
			Index:    i,
			ID:       d.ID,
			Kind:     d.Kind.String(),
			Codec:    d.Codec,
			Language: d.Language,
			Name:     d.Describe(),
			Enabled:  s.st.sinkFor(d.ID) != nil,
		})
	}
	return out
}

// Streams returns the registered streams in global index order.
func (s *Splitter) Streams() ([]StreamSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.st == nil {
		return nil, ErrNotLoaded
	}
	return s.summariesLocked(), nil
}

func since(start time.Time) float64 {
	return time.Since(start).Seconds()
}
