package demux

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zsiec/splitter/internal/container"
	"github.com/zsiec/splitter/internal/logger"
	"github.com/zsiec/splitter/internal/media"
	"github.com/zsiec/splitter/internal/queue"
	"github.com/zsiec/splitter/internal/sink"
)

const (
	videoID    = 0
	audioID    = 1
	audioFraID = 2
	subID      = 3
	dataID     = 4
	subDeuID   = 5
)

var errSeek = errors.New("seek refused")

type readResult struct {
	unit *container.Unit
	err  error
}

type seekCall struct {
	streamID int
	ts       int64
}

// fakeDemuxer replays a script of read results. Seek rewinds the script to
// the first unit whose presentation timestamp is at or after the target.
type fakeDemuxer struct {
	mu       sync.Mutex
	probe    *container.ProbeResult
	probeErr error
	script   []readResult
	pos      int
	reads    int
	seeks    []seekCall
	seekErr  error
	closed   bool
	index    map[int][]container.IndexEntry
}

func (f *fakeDemuxer) Probe() (*container.ProbeResult, error) {
	return f.probe, f.probeErr
}

func (f *fakeDemuxer) ReadNext() (*container.Unit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.pos >= len(f.script) {
		return nil, io.EOF
	}
	r := f.script[f.pos]
	f.pos++
	if r.unit == nil {
		return nil, r.err
	}
	u := *r.unit
	return &u, r.err
}

func (f *fakeDemuxer) Seek(streamID int, ts int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeks = append(f.seeks, seekCall{streamID: streamID, ts: ts})
	if f.seekErr != nil {
		return f.seekErr
	}
	f.pos = len(f.script)
	for i, r := range f.script {
		if r.unit != nil && r.unit.PTS != container.NoTimestamp && r.unit.PTS >= ts {
			f.pos = i
			break
		}
	}
	if ts == 0 {
		f.pos = 0
	}
	return nil
}

func (f *fakeDemuxer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeDemuxer) setSeekErr(err error) {
	f.mu.Lock()
	f.seekErr = err
	f.mu.Unlock()
}

func (f *fakeDemuxer) lastSeek() seekCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.seeks) == 0 {
		return seekCall{streamID: -1}
	}
	return f.seeks[len(f.seeks)-1]
}

func (f *fakeDemuxer) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func (f *fakeDemuxer) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// indexedDemuxer adds an access point index.
type indexedDemuxer struct {
	*fakeDemuxer
}

func (f indexedDemuxer) Index(streamID int) ([]container.IndexEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, ok := f.index[streamID]
	if !ok {
		return nil, container.ErrStreamNotFound
	}
	return entries, nil
}

func streamInfo(index int, typ media.MediaType, codec media.CodecID, tb media.Rational, lang string) media.StreamInfo {
	info := media.StreamInfo{
		Index:    index,
		Type:     typ,
		Codec:    media.CodecParams{ID: codec},
		TimeBase: tb,
	}
	if lang != "" {
		info.Metadata = map[string]string{"language": lang}
	}
	return info
}

// standardProbe is a 10 second transport stream with one video, two audio,
// two subtitle and one data stream.
func standardProbe() *container.ProbeResult {
	return &container.ProbeResult{
		Format: "mpegts",
		Streams: []media.StreamInfo{
			streamInfo(videoID, media.MediaTypeVideo, media.CodecH264, media.TimeBase90kHz, ""),
			streamInfo(audioID, media.MediaTypeAudio, media.CodecAAC, media.TimeBase90kHz, "eng"),
			streamInfo(audioFraID, media.MediaTypeAudio, media.CodecAC3, media.TimeBase90kHz, "fra"),
			streamInfo(subID, media.MediaTypeSubtitle, media.CodecSubRip, media.TimeBase1kHz, "eng"),
			streamInfo(dataID, media.MediaTypeData, media.CodecSCTE35, media.TimeBase90kHz, ""),
			streamInfo(subDeuID, media.MediaTypeSubtitle, media.CodecSubRip, media.TimeBase1kHz, "deu"),
		},
		Duration:  10_000_000,
		StartTime: 0,
	}
}

func unit(id int, pts, dts, dur int64) *container.Unit {
	u := container.NewUnit(id, []byte{0x00, 0x00, 0x01, byte(id)})
	u.PTS = pts
	u.DTS = dts
	u.Duration = dur
	return u
}

func res(u *container.Unit) readResult { return readResult{unit: u} }

// interleaved returns n rounds of video, audio and subtitle units spaced
// 100ms apart.
func interleaved(n int) []readResult {
	var out []readResult
	for i := 0; i < n; i++ {
		ts := int64(i) * 9000
		out = append(out,
			res(unit(videoID, ts, ts, 3000)),
			res(unit(audioID, ts, ts, 1920)),
			res(unit(subID, int64(i)*100, int64(i)*100, 50)),
		)
	}
	return out
}

type sinkEvent struct {
	kind   string
	packet *media.Packet
	seg    media.Segment
}

// recordingSink records every notification and delivery. Deliveries that
// arrive inside a flush window are refused.
type recordingSink struct {
	mu            sync.Mutex
	kind          media.Kind
	streamID      int
	format        media.Format
	connected     bool
	discontinuous bool
	flushing      bool
	released      bool
	depth         int
	events        []sinkEvent
	assigned      []int
}

func newRecordingSink(kind media.Kind, streamID int, format media.Format) *recordingSink {
	return &recordingSink{
		kind:          kind,
		streamID:      streamID,
		format:        format,
		connected:     true,
		discontinuous: true,
	}
}

func (r *recordingSink) Deliver(p *media.Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connected {
		return sink.ErrRejected
	}
	if r.flushing {
		r.events = append(r.events, sinkEvent{kind: "refused", packet: p})
		return queue.ErrFlushing
	}
	r.events = append(r.events, sinkEvent{kind: "packet", packet: p})
	r.discontinuous = false
	return nil
}

func (r *recordingSink) QueueDepth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.depth
}

func (r *recordingSink) NotifySegmentStart(seg media.Segment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sinkEvent{kind: "segment", seg: seg})
	r.discontinuous = true
}

func (r *recordingSink) NotifyEndOfStream() {
	r.record("eos")
}

func (r *recordingSink) NotifyBeginFlush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushing = true
	r.discontinuous = true
	r.events = append(r.events, sinkEvent{kind: "begin"})
}

func (r *recordingSink) NotifyEndFlush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushing = false
	r.events = append(r.events, sinkEvent{kind: "end"})
}

func (r *recordingSink) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

func (r *recordingSink) IsDiscontinuous() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.discontinuous
}

func (r *recordingSink) Kind() media.Kind { return r.kind }

func (r *recordingSink) StreamID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streamID
}

func (r *recordingSink) Format() media.Format {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.format
}

func (r *recordingSink) Assign(streamID int, format media.Format) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streamID = streamID
	r.format = format
	r.assigned = append(r.assigned, streamID)
}

func (r *recordingSink) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = true
	r.connected = false
}

func (r *recordingSink) record(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sinkEvent{kind: kind})
}

func (r *recordingSink) setConnected(v bool) {
	r.mu.Lock()
	r.connected = v
	r.mu.Unlock()
}

func (r *recordingSink) setDepth(n int) {
	r.mu.Lock()
	r.depth = n
	r.mu.Unlock()
}

func (r *recordingSink) snapshot() []sinkEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]sinkEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recordingSink) packets() []*media.Packet {
	var out []*media.Packet
	for _, e := range r.snapshot() {
		if e.kind == "packet" {
			out = append(out, e.packet)
		}
	}
	return out
}

func (r *recordingSink) count(kind string) int {
	n := 0
	for _, e := range r.snapshot() {
		if e.kind == kind {
			n++
		}
	}
	return n
}

func (r *recordingSink) segments() []media.Segment {
	var out []media.Segment
	for _, e := range r.snapshot() {
		if e.kind == "segment" {
			out = append(out, e.seg)
		}
	}
	return out
}

func (r *recordingSink) clear() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// harness wires a Splitter to a fake demuxer and recording sinks.
type harness struct {
	t        *testing.T
	demuxer  *fakeDemuxer
	splitter *Splitter
	sinks    map[media.Kind]*recordingSink
	opened   []string
}

func newHarness(t *testing.T, d *fakeDemuxer, cfg Config) *harness {
	t.Helper()
	h := newHarnessFor(t, func() container.Demuxer {
		if d.index != nil {
			return indexedDemuxer{d}
		}
		return d
	}, cfg)
	h.demuxer = d
	return h
}

// newHarnessFor wires a Splitter to whatever open returns.
func newHarnessFor(t *testing.T, open func() container.Demuxer, cfg Config) *harness {
	t.Helper()
	h := &harness{t: t, sinks: make(map[media.Kind]*recordingSink)}

	opener := container.OpenerFunc(func(_ context.Context, locator string) (container.Demuxer, error) {
		h.opened = append(h.opened, locator)
		return open(), nil
	})
	factory := sink.FactoryFunc(func(kind media.Kind, streamID int, format media.Format) (sink.Sink, error) {
		s := newRecordingSink(kind, streamID, format)
		h.sinks[kind] = s
		return s, nil
	})

	h.splitter = New(opener, factory, cfg, logger.NewNullLogger())
	t.Cleanup(func() { _ = h.splitter.Close() })
	return h
}

func (h *harness) load() []StreamSummary {
	h.t.Helper()
	summaries, err := h.splitter.Load(context.Background(), "test://input.ts")
	require.NoError(h.t, err)
	return summaries
}

func (h *harness) sink(kind media.Kind) *recordingSink {
	h.t.Helper()
	s, ok := h.sinks[kind]
	require.True(h.t, ok, "no %s sink", kind)
	return s
}

// waitEOS blocks until every sink has received n end of stream notifications.
func (h *harness) waitEOS(n int) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		for _, s := range h.sinks {
			if s.count("eos") < n {
				return false
			}
		}
		return true
	}, 2*time.Second, 2*time.Millisecond)
}

// pacedDemuxer produces video units forever, step ticks apart at 90 kHz.
// Seek restarts the sequence at the target. When release is set, read
// number blockAt waits for it to be closed.
type pacedDemuxer struct {
	mu      sync.Mutex
	probe   *container.ProbeResult
	next    int64
	step    int64
	delay   time.Duration
	reads   int
	blockAt int
	release chan struct{}
}

func newPacedDemuxer(step int64) *pacedDemuxer {
	probe := standardProbe()
	probe.Duration = 100_000 * 1_000_000
	return &pacedDemuxer{probe: probe, next: step, step: step}
}

func (f *pacedDemuxer) Probe() (*container.ProbeResult, error) {
	return f.probe, nil
}

func (f *pacedDemuxer) ReadNext() (*container.Unit, error) {
	f.mu.Lock()
	f.reads++
	block := f.release != nil && f.reads == f.blockAt
	f.mu.Unlock()

	if block {
		<-f.release
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	ts := f.next
	f.next += f.step
	return unit(videoID, ts, ts, f.step), nil
}

func (f *pacedDemuxer) Seek(_ int, ts int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next = ts
	if f.next <= 0 {
		f.next = f.step
	}
	return nil
}

func (f *pacedDemuxer) Close() error { return nil }

func (f *pacedDemuxer) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}
