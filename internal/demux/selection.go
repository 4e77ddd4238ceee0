package demux

import (
	"context"
	"fmt"

	"github.com/zsiec/splitter/internal/media"
	"github.com/zsiec/splitter/internal/metrics"
	"github.com/zsiec/splitter/internal/sink"
	"github.com/zsiec/splitter/internal/stream"
)

// Renegotiator reconnects an audio sink's downstream consumer after the
// sink was switched to another stream. The pipeline is stopped while it
// runs.
type Renegotiator interface {
	Renegotiate(ctx context.Context, s sink.Sink, d stream.Descriptor) error
}

// RenegotiatorFunc adapts a function to the Renegotiator interface.
type RenegotiatorFunc func(ctx context.Context, s sink.Sink, d stream.Descriptor) error

// Renegotiate implements Renegotiator.
func (f RenegotiatorFunc) Renegotiate(ctx context.Context, s sink.Sink, d stream.Descriptor) error {
	return f(ctx, s, d)
}

// StreamInfo describes a registered stream for stream selection.
type StreamInfo struct {
	Index    int          `json:"index"`
	ID       int          `json:"id"`
	Kind     media.Kind   `json:"-"`
	Group    int          `json:"group"`
	Enabled  bool         `json:"enabled"`
	Language string       `json:"language,omitempty"`
	Name     string       `json:"name"`
	Format   media.Format `json:"format"`
}

// SelectStream switches the sink carrying fromID to toID. Audio sinks are
// switched with the pipeline stopped and renegotiated; it restarts at the
// current position if it was running. Other sinks are switched in place.
func (s *Splitter) SelectStream(ctx context.Context, fromID, toID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.st == nil {
		return ErrNotLoaded
	}
	return s.selectLocked(ctx, fromID, toID)
}

func (s *Splitter) selectLocked(ctx context.Context, fromID, toID int) (err error) {
	sk := s.st.sinkFor(fromID)
	if sk == nil {
		return fmt.Errorf("%w: no sink carries stream %d", ErrNotFound, fromID)
	}
	d, ok := s.st.registry.FindByID(toID)
	if !ok {
		return fmt.Errorf("%w: stream %d", ErrNotFound, toID)
	}
	if d.Kind != sk.Kind() {
		return fmt.Errorf("%w: %s sink cannot carry %s stream %d", ErrKindMismatch, sk.Kind(), d.Kind, toID)
	}

	defer func() { metrics.RecordStreamSelection(d.Kind.String(), err) }()

	log := s.log.WithFields(map[string]interface{}{
		"kind": d.Kind.String(),
		"from": fromID,
		"to":   toID,
	})

	if d.Kind != media.KindAudio {
		sk.Assign(toID, d.Format())
		log.Info("Stream selected")
		return nil
	}

	playback := s.playback
	wasRunning := s.worker != nil
	if wasRunning {
		s.stopLocked()
	}

	sk.Assign(toID, d.Format())

	if r := s.cfg.Renegotiator; r != nil {
		if err = r.Renegotiate(ctx, sk, d); err != nil {
			log.WithError(err).Warn("Audio renegotiation failed")
		}
	}

	if wasRunning {
		s.st.timeline.resumeAtCurrent()
		s.startLocked()
		s.playback = playback
	}

	log.Info("Audio stream selected")
	return err
}

// Count returns the number of registered streams.
func (s *Splitter) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.st == nil {
		return 0
	}
	return s.st.registry.Count()
}

// Info describes the stream at a global index.
func (s *Splitter) Info(index int) (StreamInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.st == nil {
		return StreamInfo{}, ErrNotLoaded
	}

	d, ok := s.st.registry.At(index)
	if !ok {
		return StreamInfo{}, fmt.Errorf("%w: stream index %d", ErrNotFound, index)
	}
	return StreamInfo{
		Index:    index,
		ID:       d.ID,
		Kind:     d.Kind,
		Group:    int(d.Kind),
		Enabled:  s.st.sinkFor(d.ID) != nil,
		Language: d.Language,
		Name:     d.Describe(),
		Format:   d.Format(),
	}, nil
}

// Enable routes the stream at a global index to the sink of its kind.
func (s *Splitter) Enable(ctx context.Context, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st == nil {
		return ErrNotLoaded
	}

	kind, _, ok := s.st.registry.KindOf(index)
	if !ok {
		return fmt.Errorf("%w: stream index %d", ErrNotFound, index)
	}
	to, _ := s.st.registry.At(index)

	for _, d := range s.st.registry.Streams(kind) {
		if s.st.sinkFor(d.ID) == nil {
			continue
		}
		if d.ID == to.ID {
			return nil
		}
		return s.selectLocked(ctx, d.ID, to.ID)
	}
	return fmt.Errorf("%w: no %s sink", ErrNotFound, kind)
}
