package server

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/splitter/internal/config"
	"github.com/zsiec/splitter/internal/container"
	"github.com/zsiec/splitter/internal/media"
	"github.com/zsiec/splitter/internal/session"
)

// catalogDemuxer is a three second program with one video and two audio
// streams, two chapters and a keyframe index.
type catalogDemuxer struct {
	mu    sync.Mutex
	units []*container.Unit
	pos   int
}

func newCatalogDemuxer() *catalogDemuxer {
	d := &catalogDemuxer{}
	for i := 0; i < 30; i++ {
		ts := int64(i) * 9000
		for id := 0; id < 3; id++ {
			u := container.NewUnit(id, make([]byte, 64))
			u.PTS, u.DTS, u.Duration = ts, ts, 9000
			u.Keyframe = id == 0 && i%10 == 0
			d.units = append(d.units, u)
		}
	}
	return d
}

func (d *catalogDemuxer) Probe() (*container.ProbeResult, error) {
	ms := media.Rational{Num: 1, Den: 1000}
	return &container.ProbeResult{
		Format: "mpegts",
		Streams: []media.StreamInfo{
			{Index: 0, Type: media.MediaTypeVideo, Codec: media.CodecParams{ID: media.CodecH264}, TimeBase: media.TimeBase90kHz},
			{Index: 1, Type: media.MediaTypeAudio, Codec: media.CodecParams{ID: media.CodecAAC}, TimeBase: media.TimeBase90kHz,
				Metadata: map[string]string{"language": "eng"}},
			{Index: 2, Type: media.MediaTypeAudio, Codec: media.CodecParams{ID: media.CodecAC3}, TimeBase: media.TimeBase90kHz,
				Metadata: map[string]string{"language": "fra"}},
		},
		Duration:  3_000_000,
		StartTime: 0,
		Chapters: []container.Chapter{
			{ID: 1, TimeBase: ms, Start: 0, End: 1500, Title: "Opening"},
			{ID: 2, TimeBase: ms, Start: 1500, End: 3000},
		},
	}, nil
}

func (d *catalogDemuxer) ReadNext() (*container.Unit, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pos >= len(d.units) {
		return nil, io.EOF
	}
	u := *d.units[d.pos]
	d.pos++
	return &u, nil
}

func (d *catalogDemuxer) Seek(streamID int, ts int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pos = len(d.units)
	for i, u := range d.units {
		if u.StreamIndex == streamID && u.PTS >= ts {
			d.pos = i
			break
		}
	}
	return nil
}

func (d *catalogDemuxer) Index(streamID int) ([]container.IndexEntry, error) {
	var out []container.IndexEntry
	for _, u := range d.units {
		if u.StreamIndex == streamID && u.Keyframe {
			out = append(out, container.IndexEntry{Timestamp: u.PTS, Pos: -1, Keyframe: true})
		}
	}
	return out, nil
}

func (d *catalogDemuxer) Close() error { return nil }

var errMissing = errors.New("no such file")

func catalogOpener() container.Opener {
	return container.OpenerFunc(func(ctx context.Context, locator string) (container.Demuxer, error) {
		if locator == "missing.ts" {
			return nil, errMissing
		}
		return newCatalogDemuxer(), nil
	})
}

func testServerConfig() *config.ServerConfig {
	return &config.ServerConfig{
		HTTPPort:        8080,
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		ShutdownTimeout: time.Second,
	}
}

func newTestServer(t *testing.T, cfg *config.ServerConfig) (*Server, *session.Manager, *test.Hook) {
	t.Helper()
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	mgr := session.NewManager(session.Config{
		MinPacketsInQueue: 1,
		SinkQueueSize:     512,
		MaxSessions:       2,
		StatusInterval:    10 * time.Millisecond,
		Host:              "test-host",
	}, catalogOpener(), nil, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, mgr.Shutdown(ctx))
	})

	return New(cfg, log, mgr, nil), mgr, hook
}
