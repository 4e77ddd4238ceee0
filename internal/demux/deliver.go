package demux

import (
	"errors"

	"github.com/zsiec/splitter/internal/logger"
	"github.com/zsiec/splitter/internal/media"
	"github.com/zsiec/splitter/internal/metrics"
	"github.com/zsiec/splitter/internal/queue"
	"github.com/zsiec/splitter/internal/sink"
)

// deliver routes p to the sink carrying its stream. Packets for streams
// without a connected sink are dropped. Ownership of p passes to the sink.
func (w *worker) deliver(p *media.Packet, kind media.Kind) {
	s := w.st.sinkFor(p.StreamID)
	if s == nil || !s.IsConnected() {
		w.drop(p.StreamID, dropNoSink)
		return
	}

	// current follows delivered packets only, in timeline units.
	pos := p.Start
	p.Start -= w.st.segment.Start
	p.Stop -= w.st.segment.Start

	if err := p.Validate(); err != nil {
		w.plog.WarnWithCategory(logger.CategoryTiming, "Packet timing out of order", map[string]interface{}{
			"stream": p.StreamID,
			"error":  err.Error(),
		})
		w.drop(p.StreamID, dropInvalidRange)
		return
	}

	id := p.StreamID
	if !w.st.sent.signaled(id) {
		p.SetFlag(media.FlagDiscontinuity)
	}
	discontinuity := p.Discontinuity()
	size := p.Len()

	attempted, err := w.st.gate.tryDeliver(s, p, func() { w.st.timeline.advance(pos) })
	switch {
	case !attempted, errors.Is(err, queue.ErrFlushing):
		w.drop(id, dropFlushing)
		return
	case err != nil:
		if !errors.Is(err, sink.ErrRejected) {
			logger.ForStream(w.log.WithError(err), id).Debug("Sink refused packet")
		}
		w.drop(id, dropRejected)
		return
	}

	metrics.RecordDelivered(kind.String(), size)
	if discontinuity {
		w.st.sent.mark(id)
	}
}
