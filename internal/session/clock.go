package session

import (
	"context"
	"sync"
	"time"

	"github.com/zsiec/splitter/internal/media"
)

// playClock holds the drains while the session is paused and, when
// realtime is set, releases packets at the pace of their timestamps.
type playClock struct {
	realtime bool

	mu      sync.Mutex
	running bool
	rate    float64
	epoch   uint64
	wake    chan struct{}
}

func newPlayClock(realtime bool) *playClock {
	return &playClock{
		realtime: realtime,
		rate:     1,
		wake:     make(chan struct{}),
	}
}

// changed must be called with mu held. Every change starts a new epoch so
// drains re-anchor their pacing.
func (c *playClock) changed() {
	c.epoch++
	close(c.wake)
	c.wake = make(chan struct{})
}

func (c *playClock) setRunning(running bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running == running {
		return
	}
	c.running = running
	c.changed()
}

func (c *playClock) setRate(rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rate <= 0 || rate == c.rate {
		return
	}
	c.rate = rate
	c.changed()
}

func (c *playClock) state() (running bool, rate float64, epoch uint64, wake <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running, c.rate, c.epoch, c.wake
}

// pacer is the per-drain anchor mapping media time to wall time.
type pacer struct {
	epoch    uint64
	anchored bool
	wall     time.Time
	media    media.Time
}

// release blocks until p may be handed on: the clock must be running and,
// in realtime mode, the wall clock must have reached p's start.
func (c *playClock) release(ctx context.Context, pc *pacer, p *media.Packet) error {
	for {
		running, rate, epoch, wake := c.state()
		if !running {
			select {
			case <-wake:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if !c.realtime || !p.Start.Valid() {
			return nil
		}

		if !pc.anchored || pc.epoch != epoch || p.Discontinuity() || p.Start < pc.media {
			*pc = pacer{epoch: epoch, anchored: true, wall: time.Now(), media: p.Start}
			return nil
		}

		offset := time.Duration(float64((p.Start - pc.media).Duration()) / rate)
		wait := time.Until(pc.wall.Add(offset))
		if wait <= 0 {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			return nil
		case <-wake:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
