package demux

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/splitter/internal/container"
	"github.com/zsiec/splitter/internal/logger"
	"github.com/zsiec/splitter/internal/media"
	"github.com/zsiec/splitter/internal/timebase"
)

// newTestWorker loads probe and returns a worker that is driven by hand
// instead of running on its own goroutine.
func newTestWorker(t *testing.T, probe *container.ProbeResult, script []readResult) (*harness, *worker) {
	t.Helper()
	h := newHarness(t, &fakeDemuxer{probe: probe, script: script}, Config{})
	h.load()
	w := newWorker(h.splitter.st, logger.NewNullLogger())
	w.st.segment = w.st.timeline.segment()
	return h, w
}

func drain(t *testing.T, w *worker) {
	t.Helper()
	for i := 0; i < 1000; i++ {
		err := w.demuxNext()
		if err == io.EOF {
			return
		}
		if err != nil {
			require.ErrorIs(t, err, errEmpty)
		}
	}
	t.Fatal("script did not end")
}

func TestDemuxNext_TimestampFallback(t *testing.T) {
	h, w := newTestWorker(t, standardProbe(), []readResult{
		res(unit(videoID, 0, 3000, 3003)),
		res(unit(videoID, 0, 0, 3003)),
		res(unit(audioID, 0, 0, 1920)),
	})

	require.NoError(t, w.demuxNext())
	require.NoError(t, w.demuxNext())
	require.NoError(t, w.demuxNext())
	assert.ErrorIs(t, w.demuxNext(), io.EOF)

	video := h.sink(media.KindVideo).packets()
	require.Len(t, video, 1)
	assert.Equal(t, media.Time(333333), video[0].Start)
	assert.Equal(t, media.Time(333333+333667), video[0].Stop)

	assert.Empty(t, h.sink(media.KindAudio).packets())
}

func TestDemuxNext_TransientReads(t *testing.T) {
	corrupt := unit(videoID, 9000, 9000, 3000)
	corrupt.Size = -1

	h, w := newTestWorker(t, standardProbe(), []readResult{
		{err: container.ErrTryAgain},
		res(corrupt),
		res(unit(dataID, 9000, 9000, 0)),
		res(unit(videoID, 9000, 9000, 3000)),
	})

	assert.ErrorIs(t, w.demuxNext(), errEmpty)
	assert.ErrorIs(t, w.demuxNext(), errEmpty)
	assert.NoError(t, w.demuxNext())
	assert.NoError(t, w.demuxNext())
	assert.ErrorIs(t, w.demuxNext(), io.EOF)

	assert.Len(t, h.sink(media.KindVideo).packets(), 1)
}

func TestDemuxNext_Quirks(t *testing.T) {
	convergence := func(u *container.Unit) *container.Unit {
		u.ConvergenceDuration = 2500
		return u
	}

	tests := []struct {
		name      string
		format    string
		typ       media.MediaType
		codec     media.CodecID
		tb        media.Rational
		unit      *container.Unit
		wantStart media.Time
		wantDur   media.Time
	}{
		{
			name:      "avi video uses decode time",
			format:    "avi",
			typ:       media.MediaTypeVideo,
			codec:     media.CodecH264,
			tb:        media.TimeBase90kHz,
			unit:      unit(0, 9000, 6000, 0),
			wantStart: 666667,
			wantDur:   1,
		},
		{
			name:      "avi audio keeps presentation time",
			format:    "avi",
			typ:       media.MediaTypeAudio,
			codec:     media.CodecMP3,
			tb:        media.TimeBase90kHz,
			unit:      unit(0, 9000, 6000, 0),
			wantStart: 1_000_000,
			wantDur:   1,
		},
		{
			name:      "vc1 prefers decode time",
			format:    "mpegts",
			typ:       media.MediaTypeVideo,
			codec:     media.CodecVC1,
			tb:        media.TimeBase90kHz,
			unit:      unit(0, 9000, 6000, 0),
			wantStart: 666667,
			wantDur:   1,
		},
		{
			name:      "vc1 without decode time",
			format:    "mpegts",
			typ:       media.MediaTypeVideo,
			codec:     media.CodecVC1,
			tb:        media.TimeBase90kHz,
			unit:      unit(0, 9000, container.NoTimestamp, 0),
			wantStart: 1_000_000,
			wantDur:   1,
		},
		{
			name:      "h264 in transport stream",
			format:    "mpegts",
			typ:       media.MediaTypeVideo,
			codec:     media.CodecH264,
			tb:        media.TimeBase90kHz,
			unit:      unit(0, 9000, 6000, 3000),
			wantStart: 1_000_000,
			wantDur:   333333,
		},
		{
			name:      "matroska text uses convergence duration",
			format:    "matroska,webm",
			typ:       media.MediaTypeSubtitle,
			codec:     media.CodecText,
			tb:        media.TimeBase1kHz,
			unit:      convergence(unit(0, 1000, container.NoTimestamp, 0)),
			wantStart: 10_000_000,
			wantDur:   25_000_000,
		},
		{
			name:      "matroska ssa is normalized to text",
			format:    "matroska,webm",
			typ:       media.MediaTypeSubtitle,
			codec:     media.CodecSSA,
			tb:        media.TimeBase1kHz,
			unit:      convergence(unit(0, 1000, container.NoTimestamp, 0)),
			wantStart: 10_000_000,
			wantDur:   25_000_000,
		},
		{
			name:      "convergence ignored outside matroska",
			format:    "mpegts",
			typ:       media.MediaTypeSubtitle,
			codec:     media.CodecText,
			tb:        media.TimeBase1kHz,
			unit:      convergence(unit(0, 1000, container.NoTimestamp, 0)),
			wantStart: 10_000_000,
			wantDur:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probe := &container.ProbeResult{
				Format:    tt.format,
				Streams:   []media.StreamInfo{streamInfo(0, tt.typ, tt.codec, tt.tb, "")},
				Duration:  container.NoTimestamp,
				StartTime: container.NoTimestamp,
			}
			h, w := newTestWorker(t, probe, []readResult{res(tt.unit)})

			require.NoError(t, w.demuxNext())

			kind, _ := tt.typ.Kind()
			packets := h.sink(kind).packets()
			require.Len(t, packets, 1)
			assert.Equal(t, tt.wantStart, packets[0].Start)
			assert.Equal(t, tt.wantDur, packets[0].Stop-packets[0].Start)
		})
	}
}

func TestDemuxNext_Classification(t *testing.T) {
	h, w := newTestWorker(t, standardProbe(), []readResult{
		res(unit(videoID, 9000, 9000, 3000)),
		res(unit(videoID, 12000, 12000, 0)),
		res(unit(subID, 100, 100, 0)),
	})
	drain(t, w)

	video := h.sink(media.KindVideo).packets()
	require.Len(t, video, 2)
	assert.True(t, video[0].SyncPoint())
	assert.False(t, video[0].Appendable())
	assert.True(t, video[1].Appendable())
	assert.False(t, video[1].SyncPoint())

	subs := h.sink(media.KindSubtitle).packets()
	require.Len(t, subs, 1)
	assert.True(t, subs[0].Discontinuity())
	assert.False(t, subs[0].SyncPoint())
	assert.False(t, subs[0].Appendable())
}

func TestDeliver_DiscontinuityOncePerSegment(t *testing.T) {
	h, w := newTestWorker(t, standardProbe(), []readResult{
		res(unit(videoID, 9000, 9000, 3000)),
		res(unit(videoID, 12000, 12000, 3000)),
		res(unit(subID, 100, 100, 50)),
		res(unit(videoID, 15000, 15000, 3000)),
		res(unit(subID, 200, 200, 50)),
		res(unit(videoID, 18000, 18000, 3000)),
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, w.demuxNext())
	}
	w.startSegment()
	require.NoError(t, w.demuxNext())

	video := h.sink(media.KindVideo).packets()
	require.Len(t, video, 4)
	assert.True(t, video[0].Discontinuity())
	assert.False(t, video[1].Discontinuity())
	assert.False(t, video[2].Discontinuity())
	assert.True(t, video[3].Discontinuity(), "first packet of a new segment")

	for _, p := range h.sink(media.KindSubtitle).packets() {
		assert.True(t, p.Discontinuity())
	}
}

func TestDeliver_RebasesOnSegmentStart(t *testing.T) {
	h, w := newTestWorker(t, standardProbe(), []readResult{
		res(unit(videoID, 180000, 180000, 3000)),
	})
	w.st.segment = media.Segment{Start: 10_000_000, Stop: 100_000_000, Rate: 1}

	require.NoError(t, w.demuxNext())

	packets := h.sink(media.KindVideo).packets()
	require.Len(t, packets, 1)
	assert.Equal(t, media.Time(10_000_000), packets[0].Start)

	current, _ := w.st.timeline.positions()
	assert.Equal(t, media.Time(20_000_000), current)
}

func TestDeliver_StartTimeOffset(t *testing.T) {
	probe := standardProbe()
	probe.StartTime = 1_000_000

	h, w := newTestWorker(t, probe, []readResult{
		res(unit(videoID, 135000, 135000, 3000)),
	})
	require.NoError(t, w.demuxNext())

	packets := h.sink(media.KindVideo).packets()
	require.Len(t, packets, 1)
	assert.Equal(t, media.Time(5_000_000), packets[0].Start)
	assert.Equal(t, timebase.Duration(3000, media.TimeBase90kHz), packets[0].Stop-packets[0].Start)
}

func TestDeliver_Drops(t *testing.T) {
	t.Run("disconnected sink", func(t *testing.T) {
		h, w := newTestWorker(t, standardProbe(), []readResult{
			res(unit(videoID, 9000, 9000, 3000)),
		})
		h.sink(media.KindVideo).setConnected(false)

		require.NoError(t, w.demuxNext())
		assert.Empty(t, h.sink(media.KindVideo).packets())
	})

	t.Run("unrouted stream", func(t *testing.T) {
		h, w := newTestWorker(t, standardProbe(), []readResult{
			res(unit(audioFraID, 9000, 9000, 1920)),
		})

		require.NoError(t, w.demuxNext())
		assert.Empty(t, h.sink(media.KindAudio).packets())
	})

	t.Run("during flush", func(t *testing.T) {
		h, w := newTestWorker(t, standardProbe(), []readResult{
			res(unit(videoID, 9000, 9000, 3000)),
			res(unit(videoID, 12000, 12000, 3000)),
		})
		video := h.sink(media.KindVideo)

		w.st.gate.begin(w.st.sinks)
		require.NoError(t, w.demuxNext())
		assert.Zero(t, video.count("packet"))
		assert.Zero(t, video.count("refused"))

		w.st.gate.end(w.st.sinks)
		require.NoError(t, w.demuxNext())

		packets := video.packets()
		require.Len(t, packets, 1)
		assert.True(t, packets[0].Discontinuity(), "a dropped packet does not consume the discontinuity")
	})
}

func TestResolveTiming(t *testing.T) {
	conv := timebase.NewConverter(0)
	tb := media.TimeBase90kHz
	none := container.NoTimestamp

	tests := []struct {
		name   string
		timing Timing
		want   media.Time
	}{
		{"presentation time", Timing{PTS: 9000, DTS: 6000}, 1_000_000},
		{"decode time fallback", Timing{PTS: none, DTS: 6000}, 666667},
		{"prefer decode time", Timing{PTS: 9000, DTS: 6000, PreferDTS: true}, 666667},
		{"prefer decode time unset", Timing{PTS: 9000, DTS: none, PreferDTS: true}, 1_000_000},
		{"nothing set", Timing{PTS: none, DTS: none}, media.InvalidTime},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, _ := resolveTiming(conv, tt.timing, tb)
			assert.Equal(t, tt.want, start)
		})
	}
}
