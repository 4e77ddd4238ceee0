package media

import "fmt"

// CodecID names an elementary stream codec.
type CodecID string

const (
	CodecUnknown    CodecID = "unknown"
	CodecMPEG1Video CodecID = "mpeg1video"
	CodecMPEG2Video CodecID = "mpeg2video"
	CodecH264       CodecID = "h264"
	CodecHEVC       CodecID = "hevc"
	CodecVC1        CodecID = "vc1"
	CodecMP2        CodecID = "mp2"
	CodecMP3        CodecID = "mp3"
	CodecAAC        CodecID = "aac"
	CodecAACLATM    CodecID = "aac_latm"
	CodecAC3        CodecID = "ac3"
	CodecEAC3       CodecID = "eac3"
	CodecText       CodecID = "text"
	CodecSSA        CodecID = "ssa"
	CodecSubRip     CodecID = "subrip"
	CodecDVBSub     CodecID = "dvb_subtitle"
	CodecPGS        CodecID = "hdmv_pgs_subtitle"
	CodecTeletext   CodecID = "dvb_teletext"
	CodecSCTE35     CodecID = "scte_35"
)

// CodecParams carries the codec description a container reports for a stream.
type CodecParams struct {
	ID         CodecID `json:"id"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
	Channels   int     `json:"channels,omitempty"`
	BitRate    int64   `json:"bit_rate,omitempty"`
	Extradata  []byte  `json:"-"`
}

// String returns a short human readable description of the codec.
func (c CodecParams) String() string {
	switch {
	case c.Width > 0 && c.Height > 0:
		return fmt.Sprintf("%s %dx%d", c.ID, c.Width, c.Height)
	case c.SampleRate > 0 && c.Channels > 0:
		return fmt.Sprintf("%s %dHz %dch", c.ID, c.SampleRate, c.Channels)
	case c.SampleRate > 0:
		return fmt.Sprintf("%s %dHz", c.ID, c.SampleRate)
	default:
		return string(c.ID)
	}
}

// StreamInfo is one container stream as reported by a probe.
type StreamInfo struct {
	Index        int               `json:"index"`
	Type         MediaType         `json:"type"`
	Codec        CodecParams       `json:"codec"`
	TimeBase     Rational          `json:"time_base"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	FrameCount   int64             `json:"frame_count,omitempty"`
	IndexEntries int               `json:"index_entries,omitempty"`
}

// Format is the declared data format of a sink.
type Format struct {
	Kind     Kind        `json:"kind"`
	Codec    CodecParams `json:"codec"`
	TimeBase Rational    `json:"time_base"`
	Language string      `json:"language,omitempty"`
}
