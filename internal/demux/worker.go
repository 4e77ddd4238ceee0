package demux

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync/atomic"

	"github.com/zsiec/splitter/internal/logger"
	"github.com/zsiec/splitter/internal/metrics"
)

// WorkerState is the demux worker's position in its state machine.
type WorkerState int32

const (
	// StateIdle means no segment is being delivered: the worker has not
	// started, or reached the end of input and waits for a command.
	StateIdle WorkerState = iota
	// StateSeeking means the container cursor is being repositioned.
	StateSeeking
	// StateDelivering means the pull/convert/route loop is running.
	StateDelivering
	// StateFlushing means the worker waits for a flush to end before
	// starting a new segment.
	StateFlushing
	// StateExiting is terminal.
	StateExiting
)

// String returns the string representation of WorkerState
func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSeeking:
		return "seeking"
	case StateDelivering:
		return "delivering"
	case StateFlushing:
		return "flushing"
	case StateExiting:
		return "exiting"
	default:
		return "unknown"
	}
}

type commandKind int

const (
	cmdSeek commandKind = iota
	cmdExit
)

func (k commandKind) String() string {
	if k == cmdExit {
		return "exit"
	}
	return "seek"
}

// command is posted to the worker, which replies once it has been applied.
type command struct {
	kind  commandKind
	reply chan error
}

// errEmpty marks a pull that produced no packet and should be retried.
var errEmpty = errors.New("demux: empty read")

// worker owns the container for the lifetime of one run: it executes
// seeks and the pull/convert/route loop on a single goroutine.
type worker struct {
	st    *sessionState
	cmds  chan command
	done  chan struct{}
	state atomic.Int32

	log  logger.Logger
	plog *logger.SampledLogger
}

func newWorker(st *sessionState, log logger.Logger) *worker {
	w := &worker{
		st:   st,
		cmds: make(chan command),
		done: make(chan struct{}),
		log:  logger.Component(log, "demux_worker"),
	}
	w.plog = logger.NewDemuxLogger(w.log)
	metrics.WorkerTransition("", StateIdle.String())
	return w
}

func (w *worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

func (w *worker) setState(s WorkerState) {
	prev := WorkerState(w.state.Swap(int32(s)))
	if prev != s {
		metrics.WorkerTransition(prev.String(), s.String())
	}
}

// run is the worker goroutine. The first pass starts at the pending
// position without a command to acknowledge.
func (w *worker) run() {
	defer close(w.done)

	var cmd *command
	for {
		if cmd != nil && cmd.kind == cmdExit {
			w.setState(StateExiting)
			metrics.WorkerTransition(StateExiting.String(), "")
			cmd.reply <- nil
			w.log.Debug("Demux worker exited")
			return
		}

		flushDone := w.st.gate.done()

		w.setState(StateSeeking)
		err := w.seek()
		if cmd != nil {
			cmd.reply <- err
		} else if err != nil {
			w.log.WithError(err).Warn("Initial seek failed")
		}

		w.setState(StateFlushing)
		select {
		case <-flushDone:
		case next := <-w.cmds:
			cmd = &next
			continue
		}

		w.startSegment()

		w.setState(StateDelivering)
		cmd = w.deliverLoop()
	}
}

// deliverLoop pulls and routes packets until a command arrives or input
// ends. After end of input it broadcasts end of stream and idles until the
// next command.
func (w *worker) deliverLoop() *command {
	for {
		select {
		case c := <-w.cmds:
			return &c
		default:
		}

		err := w.demuxNext()
		if err == nil {
			continue
		}
		if errors.Is(err, errEmpty) {
			runtime.Gosched()
			continue
		}
		if !errors.Is(err, io.EOF) {
			w.log.WithError(err).Warn("Container read failed, ending stream")
		}
		break
	}

	select {
	case c := <-w.cmds:
		return &c
	default:
	}

	w.endOfStream()
	w.setState(StateIdle)
	c := <-w.cmds
	return &c
}

// seek applies the pending target and repositions the container on the
// seek anchor. On failure the previous segment stays active.
func (w *worker) seek() error {
	seg, prev := w.st.timeline.apply()
	w.st.segment = seg

	anchor, err := w.st.seekAnchor()
	if err != nil {
		w.st.segment = w.st.timeline.rollback(prev)
		return err
	}

	target := seg.Start
	if target < 0 {
		target = 0
	}
	ts := w.st.conv.ToContainer(target, anchor.TimeBase)

	if err := w.st.demuxer.Seek(anchor.ID, ts); err != nil {
		w.st.segment = w.st.timeline.rollback(prev)
		return fmt.Errorf("%w: %w", ErrSeekFailure, err)
	}
	w.st.timeline.settle()

	w.log.WithFields(map[string]interface{}{
		"target": seg.Start.String(),
		"anchor": anchor.ID,
		"ts":     ts,
	}).Debug("Container repositioned")
	return nil
}

// startSegment announces the active segment to connected sinks, unless a
// new flush has already begun, and resets discontinuity tracking.
func (w *worker) startSegment() {
	if !w.st.gate.isFlushing() {
		for _, s := range w.st.sinks {
			if s.IsConnected() {
				s.NotifySegmentStart(w.st.segment)
			}
		}
		metrics.IncrementSegments()
	}
	w.st.sent.reset()
}

func (w *worker) endOfStream() {
	for _, s := range w.st.sinks {
		s.NotifyEndOfStream()
	}
	metrics.IncrementEndOfStream()
	w.log.Debug("End of stream")
}
