package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zsiec/splitter/internal/container"
	"github.com/zsiec/splitter/internal/media"
	"github.com/zsiec/splitter/internal/registry"
)

// scriptDemuxer replays video and audio units 100ms apart.
type scriptDemuxer struct {
	mu     sync.Mutex
	units  []*container.Unit
	pos    int
	closed bool
}

func newScriptDemuxer(rounds int) *scriptDemuxer {
	d := &scriptDemuxer{}
	for i := 0; i < rounds; i++ {
		ts := int64(i) * 9000
		v := container.NewUnit(0, make([]byte, 100))
		v.PTS, v.DTS, v.Duration, v.Keyframe = ts, ts, 9000, i%10 == 0
		a := container.NewUnit(1, make([]byte, 20))
		a.PTS, a.DTS, a.Duration = ts, ts, 9000
		d.units = append(d.units, v, a)
	}
	return d
}

func (d *scriptDemuxer) Probe() (*container.ProbeResult, error) {
	return &container.ProbeResult{
		Format: "mpegts",
		Streams: []media.StreamInfo{
			{Index: 0, Type: media.MediaTypeVideo, Codec: media.CodecParams{ID: media.CodecH264}, TimeBase: media.TimeBase90kHz},
			{Index: 1, Type: media.MediaTypeAudio, Codec: media.CodecParams{ID: media.CodecAAC}, TimeBase: media.TimeBase90kHz,
				Metadata: map[string]string{"language": "eng"}},
		},
		Duration:  int64(len(d.units)/2) * 100_000,
		StartTime: 0,
	}, nil
}

func (d *scriptDemuxer) ReadNext() (*container.Unit, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pos >= len(d.units) {
		return nil, io.EOF
	}
	u := *d.units[d.pos]
	d.pos++
	return &u, nil
}

func (d *scriptDemuxer) Seek(streamID int, ts int64) error {
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

func (d *scriptDemuxer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *scriptDemuxer) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

var errNoSuchFile = errors.New("no such file")

// fakeOpener hands out a fresh scriptDemuxer per locator; "missing" fails.
type fakeOpener struct {
	mu       sync.Mutex
	rounds   int
	opened   []*scriptDemuxer
	locators []string
}

func (o *fakeOpener) Open(ctx context.Context, locator string) (container.Demuxer, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.locators = append(o.locators, locator)
	if locator == "missing" {
		return nil, errNoSuchFile
	}
	d := newScriptDemuxer(o.rounds)
	o.opened = append(o.opened, d)
	return d, nil
}

func (o *fakeOpener) last() *scriptDemuxer {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened[len(o.opened)-1]
}

func testConfig() Config {
	return Config{
		MinPacketsInQueue: 2,
		SinkQueueSize:     512,
		MaxSessions:       2,
		StatusInterval:    10 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
		Host:              "test-host",
	}
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *fakeOpener, *registry.MemoryRegistry) {
	t.Helper()
	opener := &fakeOpener{rounds: 30}
	reg := registry.NewMemoryRegistry()
	m := NewManager(cfg, opener, reg, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, m.Shutdown(ctx))
	})
	return m, opener, reg
}
