package demux

import (
	"errors"

	"github.com/zsiec/splitter/internal/container"
	"github.com/zsiec/splitter/internal/logger"
	"github.com/zsiec/splitter/internal/media"
	"github.com/zsiec/splitter/internal/metrics"
	"github.com/zsiec/splitter/internal/stream"
	"github.com/zsiec/splitter/internal/timebase"
)

// Drop reasons reported to metrics and logs.
const (
	dropCorrupt      = "corrupt"
	dropUnregistered = "unregistered"
	dropInvalidTime  = "invalid_time"
	dropInvalidRange = "invalid_range"
	dropNoSink       = "no_sink"
	dropFlushing     = "flushing"
	dropRejected     = "rejected"
)

// demuxNext pulls one unit from the container and routes the resulting
// packet. It returns errEmpty for transient reads, io.EOF or the read error
// when the loop must end, and nil otherwise.
func (w *worker) demuxNext() error {
	u, err := w.st.demuxer.ReadNext()
	if err != nil {
		if errors.Is(err, container.ErrTryAgain) {
			metrics.IncrementReadRetries()
			w.plog.DebugWithCategory(logger.CategoryReadRetry, "Container not ready", nil)
			return errEmpty
		}
		return err
	}

	if u.Size < 0 {
		w.drop(u.StreamIndex, dropCorrupt)
		return errEmpty
	}

	d, ok := w.st.registry.FindByID(u.StreamIndex)
	if !ok {
		w.drop(u.StreamIndex, dropUnregistered)
		return nil
	}

	p := w.packetize(u, d)
	if p == nil {
		w.drop(u.StreamIndex, dropInvalidTime)
		return nil
	}
	w.deliver(p, d.Kind)
	return nil
}

// packetize builds a packet from u after applying the stream's quirks. It
// returns nil when no presentation time can be resolved.
func (w *worker) packetize(u *container.Unit, d stream.Descriptor) *media.Packet {
	t, applied := w.st.quirks.apply(u)
	for _, name := range applied {
		metrics.RecordQuirk(name)
	}

	start, duration := resolveTiming(w.st.conv, t, d.TimeBase)
	if !start.Valid() {
		return nil
	}

	p := &media.Packet{
		StreamID: u.StreamIndex,
		Payload:  u.Data,
		Start:    start,
		Stop:     start + max(duration, 1),
	}
	classify(p, d.Kind, duration)
	return p
}

// resolveTiming picks the presentation start of a unit: the presentation
// timestamp, else the decode timestamp, else InvalidTime. PreferDTS makes
// a set decode timestamp win over the presentation timestamp.
func resolveTiming(conv timebase.Converter, t Timing, tb media.Rational) (start, duration media.Time) {
	pts := conv.ToPresentation(t.PTS, tb)
	dts := conv.ToPresentation(t.DTS, tb)

	start = media.InvalidTime
	switch {
	case pts.Valid():
		start = pts
	case dts.Valid():
		start = dts
	}
	if t.PreferDTS && dts.Valid() {
		start = dts
	}
	return start, timebase.Duration(t.Duration, tb)
}

// classify sets the packet flags. Subtitle units are always discontinuous;
// other units are sync points exactly when they carry a duration.
func classify(p *media.Packet, kind media.Kind, duration media.Time) {
	if kind == media.KindSubtitle {
		p.SetFlag(media.FlagDiscontinuity)
		return
	}
	if duration > 0 {
		p.SetFlag(media.FlagSyncPoint)
	} else {
		p.SetFlag(media.FlagAppendable)
	}
}

func (w *worker) drop(streamID int, reason string) {
	metrics.RecordDropped(reason)
	w.plog.DebugWithCategory(logger.CategoryPacketDrop, "Packet dropped", map[string]interface{}{
		"stream": streamID,
		"reason": reason,
	})
}
