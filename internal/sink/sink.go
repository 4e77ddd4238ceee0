// Package sink defines the per-stream consumer contract the demux worker
// delivers packets to, and a queue-backed implementation of it.
package sink

import (
	"errors"

	"github.com/zsiec/splitter/internal/media"
)

// ErrRejected is returned by Deliver when the sink is not connected.
var ErrRejected = errors.New("sink: rejected")

// Sink receives the packets of one stream kind. Deliver may block while the
// sink's queue is full; a begin-flush notification must release it, and a
// Deliver overlapping a flush must not accept its packet.
type Sink interface {
	// Deliver hands ownership of p to the sink.
	Deliver(p *media.Packet) error
	QueueDepth() int

	NotifySegmentStart(seg media.Segment)
	NotifyEndOfStream()
	NotifyBeginFlush()
	NotifyEndFlush()

	IsConnected() bool
	// IsDiscontinuous reports whether the sink has not received a packet
	// since its last segment start or flush.
	IsDiscontinuous() bool

	Kind() media.Kind
	StreamID() int
	Format() media.Format

	// Assign switches the stream the sink carries.
	Assign(streamID int, format media.Format)
	Release()
}

// Factory creates a sink for the first stream of a kind. Returning an
// error makes the caller try the next stream of that kind.
type Factory interface {
	NewSink(kind media.Kind, streamID int, format media.Format) (Sink, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(kind media.Kind, streamID int, format media.Format) (Sink, error)

// NewSink implements Factory.
func (f FactoryFunc) NewSink(kind media.Kind, streamID int, format media.Format) (Sink, error) {
	return f(kind, streamID, format)
}
