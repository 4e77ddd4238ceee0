package demux

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/splitter/internal/container"
	"github.com/zsiec/splitter/internal/media"
	"github.com/zsiec/splitter/internal/sink"
	"github.com/zsiec/splitter/internal/stream"
)

func TestTimeline_RequestAndApply(t *testing.T) {
	tl := newTimeline(100)

	cur, stop := tl.positions()
	assert.Equal(t, media.Time(0), cur)
	assert.Equal(t, media.Time(100), stop)
	assert.Equal(t, 1.0, tl.getRate())

	assert.False(t, tl.request(0, 100), "unchanged target")
	require.True(t, tl.request(40, 90))

	start, pstop := tl.pending()
	assert.Equal(t, media.Time(40), start)
	assert.Equal(t, media.Time(90), pstop)

	next, prev := tl.apply()
	assert.Equal(t, media.Segment{Start: 40, Stop: 90, Rate: 1}, next)
	assert.Equal(t, media.Segment{Start: 0, Stop: 100, Rate: 1}, prev)

	seg := tl.rollback(prev)
	assert.Equal(t, prev, seg)
	assert.Equal(t, prev, tl.segment())
}

func TestTimeline_DeferredRollback(t *testing.T) {
	tl := newTimeline(100)
	tl.advance(25)

	tl.requestDeferred(60, 100)
	tl.requestDeferred(80, 90)
	_, prev := tl.apply()

	seg := tl.rollback(prev)
	assert.Equal(t, media.Segment{Start: 0, Stop: 100, Rate: 1}, seg)
	cur, stop := tl.positions()
	assert.Equal(t, media.Time(25), cur, "rolls back to the state before the first deferred request")
	assert.Equal(t, media.Time(100), stop)
	start, pstop := tl.pending()
	assert.Equal(t, media.Time(0), start)
	assert.Equal(t, media.Time(100), pstop)

	tl.requestDeferred(40, 100)
	tl.apply()
	tl.settle()
	require.True(t, tl.request(70, 100))
	_, prev = tl.apply()
	seg = tl.rollback(prev)
	assert.Equal(t, media.Time(40), seg.Start, "settled requests only revert the segment")
}

func TestTimeline_SnapshotRestore(t *testing.T) {
	tl := newTimeline(100)
	tl.advance(25)
	snap := tl.snapshot()

	require.True(t, tl.request(70, 100))
	tl.apply()
	tl.restore(snap)

	cur, stop := tl.positions()
	assert.Equal(t, media.Time(25), cur)
	assert.Equal(t, media.Time(100), stop)
	start, _ := tl.pending()
	assert.Equal(t, media.Time(0), start)
	assert.Equal(t, media.Time(0), tl.segment().Start)
}

func TestTimeline_ResumeAtCurrent(t *testing.T) {
	tl := newTimeline(100)
	tl.advance(55)
	tl.resumeAtCurrent()

	seg, _ := tl.apply()
	assert.Equal(t, media.Time(55), seg.Start)
}

func TestDiscontinuitySet(t *testing.T) {
	d := make(discontinuitySet)
	assert.False(t, d.signaled(1))

	d.mark(1)
	assert.True(t, d.signaled(1))
	assert.False(t, d.signaled(2))

	d.reset()
	assert.False(t, d.signaled(1))
}

func TestFlushGate_Done(t *testing.T) {
	g := newFlushGate()
	select {
	case <-g.done():
	default:
		t.Fatal("done must be closed while not flushing")
	}

	g.begin(nil)
	assert.True(t, g.isFlushing())
	ch := g.done()
	select {
	case <-ch:
		t.Fatal("done closed during flush")
	default:
	}

	g.begin(nil)
	assert.Equal(t, ch, g.done(), "nested begin keeps the channel")

	g.end(nil)
	assert.False(t, g.isFlushing())
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("done not closed by end")
	}
}

// countingSink counts deliveries that land while the test marks the flush
// window open.
type countingSink struct {
	*recordingSink
	window    *atomic.Bool
	delivered atomic.Int64
	violated  atomic.Int64
}

func (c *countingSink) Deliver(p *media.Packet) error {
	if c.window.Load() {
		c.violated.Add(1)
	}
	c.delivered.Add(1)
	return nil
}

func TestFlushGate_NoDeliveryInsideWindow(t *testing.T) {
	g := newFlushGate()
	var window atomic.Bool
	cs := &countingSink{
		recordingSink: newRecordingSink(media.KindVideo, 0, media.Format{Kind: media.KindVideo}),
		window:        &window,
	}
	sinks := []sink.Sink{cs}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			_, _ = g.tryDeliver(cs, &media.Packet{Start: 0, Stop: 1}, nil)
		}
	}()

	for i := 0; i < 50; i++ {
		g.begin(sinks)
		window.Store(true)
		time.Sleep(200 * time.Microsecond)
		window.Store(false)
		g.end(sinks)
		time.Sleep(100 * time.Microsecond)
	}
	close(stop)
	wg.Wait()

	assert.Zero(t, cs.violated.Load())
	assert.Positive(t, cs.delivered.Load())
	assert.Equal(t, 50, cs.count("begin"))
	assert.Equal(t, 50, cs.count("end"))
}

func TestSessionState_SeekAnchor(t *testing.T) {
	probe := standardProbe()
	reg := stream.Populate(probe.Streams)
	video := newRecordingSink(media.KindVideo, videoID, media.Format{Kind: media.KindVideo})
	audio := newRecordingSink(media.KindAudio, audioID, media.Format{Kind: media.KindAudio})

	st := &sessionState{registry: reg, sinks: []sink.Sink{audio, video}}
	d, err := st.seekAnchor()
	require.NoError(t, err)
	assert.Equal(t, videoID, d.ID)

	st.sinks = []sink.Sink{audio}
	d, err = st.seekAnchor()
	require.NoError(t, err)
	assert.Equal(t, audioID, d.ID)

	st.sinks = nil
	d, err = st.seekAnchor()
	require.NoError(t, err)
	assert.Equal(t, videoID, d.ID, "first registered stream")

	st.sinks = []sink.Sink{audio}
	st.requireVideoAnchor = true
	_, err = st.seekAnchor()
	assert.ErrorIs(t, err, ErrNoSeekAnchor)
}

func TestQuirkTable(t *testing.T) {
	probe := &container.ProbeResult{
		Streams: []media.StreamInfo{
			streamInfo(0, media.MediaTypeVideo, media.CodecVC1, media.TimeBase90kHz, ""),
			streamInfo(1, media.MediaTypeAudio, media.CodecAAC, media.TimeBase90kHz, ""),
			streamInfo(2, media.MediaTypeSubtitle, media.CodecSSA, media.TimeBase1kHz, ""),
		},
	}
	reg := stream.Populate(probe.Streams)
	table := newQuirkTable(DefaultQuirks(), "avi", reg)

	names := func(id int) []string {
		var out []string
		for _, q := range table[id] {
			out = append(out, q.Name)
		}
		return out
	}
	assert.Equal(t, []string{"zero-timestamp-unset", "avi-video-dts-only", "vc1-prefer-dts"}, names(0))
	assert.Equal(t, []string{"zero-timestamp-unset"}, names(1))
	assert.Equal(t, []string{"zero-timestamp-unset"}, names(2))

	u := unit(0, 9000, 6000, 0)
	tm, applied := table.apply(u)
	assert.Equal(t, container.NoTimestamp, tm.PTS)
	assert.Equal(t, int64(6000), tm.DTS)
	assert.True(t, tm.PreferDTS)
	assert.Equal(t, []string{"avi-video-dts-only", "vc1-prefer-dts"}, applied)

	mkv := newQuirkTable(DefaultQuirks(), "matroska,webm", reg)
	require.Len(t, mkv[2], 2)
	assert.Equal(t, "matroska-text-convergence", mkv[2][1].Name)
}

func TestIsFormat(t *testing.T) {
	assert.True(t, isFormat("matroska,webm", "matroska"))
	assert.True(t, isFormat("matroska, webm", "webm"))
	assert.True(t, isFormat("AVI", "avi"))
	assert.False(t, isFormat("mpegts", "avi"))
	assert.False(t, isFormat("", "avi"))
}
