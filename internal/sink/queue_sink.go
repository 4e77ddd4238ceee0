package sink

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/zsiec/splitter/internal/logger"
	"github.com/zsiec/splitter/internal/media"
	"github.com/zsiec/splitter/internal/queue"
)

// DefaultQueueSize is the packet capacity of a QueueSink when none is given.
const DefaultQueueSize = 200

// QueueSink buffers delivered packets in a bounded queue for a consumer
// goroutine to Receive. End of stream travels in-band as a packet with
// EndOfStream set.
type QueueSink struct {
	kind  media.Kind
	queue *queue.PacketQueue
	log   logger.Logger

	mu            sync.RWMutex
	streamID      int
	format        media.Format
	connected     bool
	discontinuous bool
	segment       media.Segment
	segments      int64
	endOfStream   bool

	delivered atomic.Int64
	flushed   atomic.Int64
}

// NewQueueSink creates a connected sink carrying streamID.
func NewQueueSink(kind media.Kind, streamID int, format media.Format, capacity int, log logger.Logger) *QueueSink {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &QueueSink{
		kind:          kind,
		queue:         queue.NewPacketQueue(kind.String(), capacity),
		log:           log.WithField("sink", kind.String()),
		streamID:      streamID,
		format:        format,
		connected:     true,
		discontinuous: true,
	}
}

// NewQueueSinkFactory returns a Factory creating QueueSinks of the given
// capacity.
func NewQueueSinkFactory(capacity int, log logger.Logger) Factory {
	return FactoryFunc(func(kind media.Kind, streamID int, format media.Format) (Sink, error) {
		return NewQueueSink(kind, streamID, format, capacity, log), nil
	})
}

// Deliver implements Sink.
func (s *QueueSink) Deliver(p *media.Packet) error {
	if !s.IsConnected() {
		return ErrRejected
	}
	if err := s.queue.Enqueue(p); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.queue.Flushing() {
		s.discontinuous = false
	}
	s.mu.Unlock()
	s.delivered.Add(1)
	return nil
}

// QueueDepth implements Sink.
func (s *QueueSink) QueueDepth() int {
	return s.queue.Len()
}

// NotifySegmentStart implements Sink.
func (s *QueueSink) NotifySegmentStart(seg media.Segment) {
	s.mu.Lock()
	s.segment = seg
	s.segments++
	s.discontinuous = true
	s.endOfStream = false
	s.mu.Unlock()

	s.log.WithFields(map[string]interface{}{
		"start": seg.Start.String(),
		"stop":  seg.Stop.String(),
		"rate":  seg.Rate,
	}).Debug("Segment started")
}

// NotifyEndOfStream implements Sink.
func (s *QueueSink) NotifyEndOfStream() {
	s.mu.Lock()
	s.endOfStream = true
	id := s.streamID
	s.mu.Unlock()

	eos := &media.Packet{StreamID: id, Start: media.InvalidTime, Stop: media.InvalidTime, EndOfStream: true}
	if err := s.queue.Enqueue(eos); err != nil {
		s.log.WithError(err).Debug("End of stream not queued")
	}
}

// NotifyBeginFlush implements Sink.
func (s *QueueSink) NotifyBeginFlush() {
	n := s.queue.BeginFlush()
	s.flushed.Add(int64(n))

	s.mu.Lock()
	s.discontinuous = true
	s.mu.Unlock()

	if n > 0 {
		s.log.WithField("discarded", n).Debug("Flushed queued packets")
	}
}

// NotifyEndFlush implements Sink.
func (s *QueueSink) NotifyEndFlush() {
	s.queue.EndFlush()
}

// IsConnected implements Sink.
func (s *QueueSink) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// IsDiscontinuous implements Sink.
func (s *QueueSink) IsDiscontinuous() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.discontinuous
}

// Kind implements Sink.
func (s *QueueSink) Kind() media.Kind {
	return s.kind
}

// StreamID implements Sink.
func (s *QueueSink) StreamID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streamID
}

// Format implements Sink.
func (s *QueueSink) Format() media.Format {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.format
}

// Assign implements Sink.
func (s *QueueSink) Assign(streamID int, format media.Format) {
	s.mu.Lock()
	prev := s.streamID
	s.streamID = streamID
	s.format = format
	s.discontinuous = true
	s.mu.Unlock()

	s.log.WithFields(map[string]interface{}{
		"from": prev,
		"to":   streamID,
	}).Info("Sink reassigned")
}

// Release implements Sink. Queued packets remain receivable.
func (s *QueueSink) Release() {
	s.mu.Lock()
	wasConnected := s.connected
	s.connected = false
	s.mu.Unlock()

	if wasConnected {
		_ = s.queue.Close()
	}
}

// Disconnect stops the sink accepting packets without closing its queue.
func (s *QueueSink) Disconnect() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
}

// Connect makes a disconnected sink accept packets again. A released sink
// cannot be reconnected.
func (s *QueueSink) Connect() {
	if s.queue.Closed() {
		return
	}
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
}

// Receive returns the next queued packet, blocking until one is available.
// It returns queue.ErrQueueClosed once the sink is released and drained.
func (s *QueueSink) Receive(ctx context.Context) (*media.Packet, error) {
	return s.queue.Dequeue(ctx)
}

// Segment returns the current segment and the number of segments started.
func (s *QueueSink) Segment() (media.Segment, int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.segment, s.segments
}

// Stats is a snapshot of a QueueSink.
type Stats struct {
	Kind          string           `json:"kind"`
	StreamID      int              `json:"stream_id"`
	Connected     bool             `json:"connected"`
	Discontinuous bool             `json:"discontinuous"`
	EndOfStream   bool             `json:"end_of_stream"`
	Segments      int64            `json:"segments"`
	Delivered     int64            `json:"delivered"`
	Flushed       int64            `json:"flushed"`
	Queue         queue.QueueStats `json:"queue"`
}

// Stats returns a snapshot of the sink's counters.
func (s *QueueSink) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Kind:          s.kind.String(),
		StreamID:      s.streamID,
		Connected:     s.connected,
		Discontinuous: s.discontinuous,
		EndOfStream:   s.endOfStream,
		Segments:      s.segments,
		Delivered:     s.delivered.Load(),
		Flushed:       s.flushed.Load(),
		Queue:         s.queue.Stats(),
	}
}

var _ Sink = (*QueueSink)(nil)
