package mpegts

import (
	"github.com/zsiec/splitter/internal/media"
)

// Stream types from ISO/IEC 13818-1 table 2-34 plus common private ones.
const (
	streamTypeMPEG1Video = 0x01
	streamTypeMPEG2Video = 0x02
	streamTypeMPEG1Audio = 0x03
	streamTypeMPEG2Audio = 0x04
	streamTypePrivatePES = 0x06
	streamTypeAAC        = 0x0F
	streamTypeAACLATM    = 0x11
	streamTypeH264       = 0x1B
	streamTypeHEVC       = 0x24
	streamTypeAC3        = 0x81
	streamTypeSCTE35     = 0x86
	streamTypeEAC3       = 0x87
	streamTypePGS        = 0x90
	streamTypeVC1        = 0xEA
)

// classify maps a PMT entry onto a media type and codec.
func classify(es elementaryStream) (media.MediaType, media.CodecID) {
	switch es.StreamType {
	case streamTypeMPEG1Video:
		return media.MediaTypeVideo, media.CodecMPEG1Video
	case streamTypeMPEG2Video:
		return media.MediaTypeVideo, media.CodecMPEG2Video
	case streamTypeH264:
		return media.MediaTypeVideo, media.CodecH264
	case streamTypeHEVC:
		return media.MediaTypeVideo, media.CodecHEVC
	case streamTypeVC1:
		return media.MediaTypeVideo, media.CodecVC1
	case streamTypeMPEG1Audio:
		return media.MediaTypeAudio, media.CodecMP2
	case streamTypeMPEG2Audio:
		return media.MediaTypeAudio, media.CodecMP3
	case streamTypeAAC:
		return media.MediaTypeAudio, media.CodecAAC
	case streamTypeAACLATM:
		return media.MediaTypeAudio, media.CodecAACLATM
	case streamTypeAC3:
		return media.MediaTypeAudio, media.CodecAC3
	case streamTypeEAC3:
		return media.MediaTypeAudio, media.CodecEAC3
	case streamTypePGS:
		return media.MediaTypeSubtitle, media.CodecPGS
	case streamTypeSCTE35:
		return media.MediaTypeData, media.CodecSCTE35
	case streamTypePrivatePES:
		switch {
		case es.Subtitling:
			return media.MediaTypeSubtitle, media.CodecDVBSub
		case es.Teletext:
			return media.MediaTypeData, media.CodecTeletext
		case es.EAC3 || es.Registration == "EAC3":
			return media.MediaTypeAudio, media.CodecEAC3
		case es.AC3 || es.Registration == "AC-3":
			return media.MediaTypeAudio, media.CodecAC3
		}
	}
	return media.MediaTypeUnknown, media.CodecUnknown
}

// nextStartCode returns the offset of the first byte after a 0x000001
// start code at or after from, or -1.
func nextStartCode(data []byte, from int) int {
	for i := from; i+3 <= len(data); i++ {
		if data[i] == 0x00 && data[i+1] == 0x00 && data[i+2] == 0x01 {
			return i + 3
		}
	}
	return -1
}

// containsIRAP scans an elementary stream access unit for a random access
// point: an IDR slice for H.264, a BLA/IDR/CRA picture for HEVC, or a
// sequence header for MPEG-1/2 video.
func containsIRAP(data []byte, codec media.CodecID) bool {
	for pos := nextStartCode(data, 0); pos >= 0 && pos < len(data); pos = nextStartCode(data, pos) {
		switch codec {
		case media.CodecH264:
			if data[pos]&0x1F == 5 {
				return true
			}
		case media.CodecHEVC:
			nalType := (data[pos] >> 1) & 0x3F
			if nalType >= 16 && nalType <= 21 {
				return true
			}
		case media.CodecMPEG1Video, media.CodecMPEG2Video:
			if data[pos] == 0xB3 {
				return true
			}
		default:
			return false
		}
	}
	return false
}

var aacSamplingRates = []int{
	96000, 88200, 64000, 48000, 44100, 32000,
	24000, 22050, 16000, 12000, 11025, 8000, 7350,
}

// adtsInfo summarises the ADTS frames found in an AAC access unit.
type adtsInfo struct {
	SampleRate int
	Channels   int
	Frames     int
}

// parseADTS walks consecutive ADTS headers. It stops at the first byte that
// is not a valid header.
func parseADTS(data []byte) (adtsInfo, bool) {
	var info adtsInfo
	for off := 0; off+7 <= len(data); {
		h := data[off:]
		if h[0] != 0xFF || h[1]&0xF6 != 0xF0 {
			break
		}
		idx := int(h[2]>>2) & 0x0F
		if idx >= len(aacSamplingRates) {
			break
		}
		frameLength := int(h[3]&0x03)<<11 | int(h[4])<<3 | int(h[5]>>5)
		if frameLength < 7 {
			break
		}

		if info.Frames == 0 {
			info.SampleRate = aacSamplingRates[idx]
			info.Channels = int(h[2]&0x01)<<2 | int(h[3]>>6)
		}
		// number_of_raw_data_blocks_in_frame is stored minus one
		info.Frames += int(h[6]&0x03) + 1
		off += frameLength
	}
	return info, info.Frames > 0
}

// adtsDuration returns the span of the AAC frames in an access unit in
// 90 kHz ticks, or 0 when the payload carries no ADTS header.
func adtsDuration(data []byte) int64 {
	info, ok := parseADTS(data)
	if !ok || info.SampleRate == 0 {
		return 0
	}
	return int64(info.Frames) * 1024 * clockRate / int64(info.SampleRate)
}
