package media

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMediaTypeKind(t *testing.T) {
	tests := []struct {
		mediaType MediaType
		kind      Kind
		ok        bool
	}{
		{MediaTypeVideo, KindVideo, true},
		{MediaTypeAudio, KindAudio, true},
		{MediaTypeSubtitle, KindSubtitle, true},
		{MediaTypeData, 0, false},
		{MediaTypeAttachment, 0, false},
		{MediaTypeUnknown, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.mediaType.String(), func(t *testing.T) {
			kind, ok := tt.mediaType.Kind()
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.kind, kind)
			}
		})
	}
}

func TestKindJSON(t *testing.T) {
	b, err := json.Marshal(Format{Kind: KindSubtitle})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"kind":"subtitle"`)

	var f Format
	require.NoError(t, json.Unmarshal(b, &f))
	assert.Equal(t, KindSubtitle, f.Kind)

	assert.Error(t, json.Unmarshal([]byte(`{"kind":"data"}`), &f))

	k, ok := ParseKind("audio")
	assert.True(t, ok)
	assert.Equal(t, KindAudio, k)
}

func TestPacketFlags(t *testing.T) {
	p := &Packet{}
	p.SetFlag(FlagSyncPoint)
	p.SetFlag(FlagDiscontinuity)

	assert.True(t, p.SyncPoint())
	assert.True(t, p.Discontinuity())
	assert.False(t, p.Appendable())

	p.ClearFlag(FlagSyncPoint)
	assert.False(t, p.SyncPoint())
	assert.True(t, p.HasFlag(FlagDiscontinuity))
}

func TestPacketValidate(t *testing.T) {
	assert.NoError(t, (&Packet{Start: 0, Stop: 1}).Validate())
	assert.NoError(t, (&Packet{Start: 5, Stop: 5}).Validate())
	assert.Error(t, (&Packet{Start: InvalidTime, Stop: 1}).Validate())
	assert.Error(t, (&Packet{Start: 10, Stop: 5}).Validate())
}

func TestTimeConversions(t *testing.T) {
	assert.Equal(t, Time(10_000_000), FromDuration(time.Second))
	assert.Equal(t, time.Second, Time(10_000_000).Duration())
	assert.Equal(t, Time(15_000_000), FromSeconds(1.5))
	assert.InDelta(t, 2.5, Time(25_000_000).Seconds(), 1e-9)
	assert.Equal(t, "invalid", InvalidTime.String())
	assert.Equal(t, time.Duration(0), InvalidTime.Duration())
}

func TestParseTime(t *testing.T) {
	v, err := ParseTime("1m30s")
	require.NoError(t, err)
	assert.Equal(t, FromDuration(90*time.Second), v)

	v, err = ParseTime("12345")
	require.NoError(t, err)
	assert.Equal(t, Time(12345), v)

	_, err = ParseTime("later")
	assert.Error(t, err)
}

func TestCodecParamsString(t *testing.T) {
	assert.Equal(t, "h264 1920x1080", CodecParams{ID: CodecH264, Width: 1920, Height: 1080}.String())
	assert.Equal(t, "aac 48000Hz 2ch", CodecParams{ID: CodecAAC, SampleRate: 48000, Channels: 2}.String())
	assert.Equal(t, "text", CodecParams{ID: CodecText}.String())
}

func TestRational(t *testing.T) {
	r := NewRational(1, 0)
	assert.Equal(t, int64(1), r.Den)
	assert.True(t, TimeBase90kHz.Valid())
	assert.False(t, Rational{}.Valid())
	assert.Equal(t, Rational{Num: 90000, Den: 1}, TimeBase90kHz.Invert())
	assert.Equal(t, "1/90000", TimeBase90kHz.String())
}
