// Package queue provides the bounded packet mailbox that sits between the
// demux worker and a stream consumer.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/zsiec/splitter/internal/media"
)

var (
	// ErrQueueClosed indicates the queue is closed
	ErrQueueClosed = errors.New("queue closed")

	// ErrFlushing indicates the packet was refused or discarded by a flush
	ErrFlushing = errors.New("queue flushing")
)

// PacketQueue is a bounded FIFO of packets. Enqueue blocks while the queue
// is full; a flush wakes blocked producers and discards everything queued.
type PacketQueue struct {
	name     string
	items    chan *media.Packet
	capacity int

	// Metrics
	depth   atomic.Int64
	bytes   atomic.Int64
	dropped atomic.Int64

	// Flush state
	mu       sync.Mutex
	cond     *sync.Cond
	flushing bool
	flushCh  chan struct{}
	inflight int

	// State
	closed  atomic.Bool
	closeCh chan struct{}
}

// NewPacketQueue creates a queue holding at most capacity packets.
func NewPacketQueue(name string, capacity int) *PacketQueue {
	if capacity < 1 {
		capacity = 1
	}
	q := &PacketQueue{
		name:     name,
		items:    make(chan *media.Packet, capacity),
		capacity: capacity,
		flushCh:  make(chan struct{}),
		closeCh:  make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds a packet, blocking while the queue is full. It returns
// ErrFlushing if a flush is in progress or starts while waiting, and
// ErrQueueClosed once the queue is closed.
func (q *PacketQueue) Enqueue(p *media.Packet) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}

	q.mu.Lock()
	if q.flushing {
		q.mu.Unlock()
		return ErrFlushing
	}
	flushCh := q.flushCh
	q.inflight++
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.inflight--
		if q.inflight == 0 {
			q.cond.Broadcast()
		}
		q.mu.Unlock()
	}()

	size := int64(p.Len())
	q.depth.Add(1)
	q.bytes.Add(size)

	select {
	case q.items <- p:
		return nil
	case <-flushCh:
		q.depth.Add(-1)
		q.bytes.Add(-size)
		return ErrFlushing
	case <-q.closeCh:
		q.depth.Add(-1)
		q.bytes.Add(-size)
		return ErrQueueClosed
	}
}

// Dequeue removes the oldest packet, blocking until one is available, the
// context is done, or the queue is closed and empty.
func (q *PacketQueue) Dequeue(ctx context.Context) (*media.Packet, error) {
	select {
	case p := <-q.items:
		q.taken(p)
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.closeCh:
		// Drain what was queued before the close
		select {
		case p := <-q.items:
			q.taken(p)
			return p, nil
		default:
			return nil, ErrQueueClosed
		}
	}
}

// TryDequeue removes the oldest packet without blocking.
func (q *PacketQueue) TryDequeue() (*media.Packet, bool) {
	select {
	case p := <-q.items:
		q.taken(p)
		return p, true
	default:
		return nil, false
	}
}

func (q *PacketQueue) taken(p *media.Packet) {
	q.depth.Add(-1)
	q.bytes.Add(-int64(p.Len()))
}

// BeginFlush refuses new packets, waits for blocked producers to give up,
// and discards the queued packets. It returns the number discarded.
func (q *PacketQueue) BeginFlush() int {
	q.mu.Lock()
	if !q.flushing {
		q.flushing = true
		close(q.flushCh)
	}
	for q.inflight > 0 {
		q.cond.Wait()
	}
	q.mu.Unlock()

	n := 0
	for {
		if _, ok := q.TryDequeue(); !ok {
			break
		}
		n++
	}
	q.dropped.Add(int64(n))
	return n
}

// EndFlush accepts packets again.
func (q *PacketQueue) EndFlush() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.flushing {
		q.flushing = false
		q.flushCh = make(chan struct{})
	}
}

// Flushing reports whether a flush is in progress.
func (q *PacketQueue) Flushing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.flushing
}

// Len returns the number of queued packets, including one a blocked
// producer is handing in.
func (q *PacketQueue) Len() int {
	return int(q.depth.Load())
}

// Capacity returns the maximum number of queued packets.
func (q *PacketQueue) Capacity() int {
	return q.capacity
}

// GetPressure returns queue fill level (0.0 to 1.0)
func (q *PacketQueue) GetPressure() float64 {
	return float64(q.depth.Load()) / float64(q.capacity)
}

// Close closes the queue. Blocked producers return ErrQueueClosed;
// consumers drain the remaining packets first.
func (q *PacketQueue) Close() error {
	if !q.closed.CompareAndSwap(false, true) {
		return errors.New("queue already closed")
	}
	close(q.closeCh)
	return nil
}

// Closed reports whether Close has been called.
func (q *PacketQueue) Closed() bool {
	return q.closed.Load()
}

// Stats returns queue statistics
func (q *PacketQueue) Stats() QueueStats {
	return QueueStats{
		Name:     q.name,
		Depth:    q.depth.Load(),
		Bytes:    q.bytes.Load(),
		Capacity: q.capacity,
		Dropped:  q.dropped.Load(),
		Pressure: q.GetPressure(),
	}
}

// QueueStats contains queue statistics
type QueueStats struct {
	Name     string  `json:"name"`
	Depth    int64   `json:"depth"`
	Bytes    int64   `json:"bytes"`
	Capacity int     `json:"capacity"`
	Dropped  int64   `json:"dropped"`
	Pressure float64 `json:"pressure"`
}
