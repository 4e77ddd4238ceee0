package mpegts

import (
	"errors"

	"github.com/zsiec/splitter/internal/container"
)

var (
	errPESTooShort       = errors.New("mpegts: PES header too short")
	errInvalidStartCode  = errors.New("mpegts: invalid PES start code")
	errTimestampTooShort = errors.New("mpegts: PES payload too short for timestamp")
)

// pesHeader is the parsed fixed and optional PES header.
type pesHeader struct {
	StreamID     uint8
	PacketLength int   // 0 when unbounded
	HeaderLength int   // bytes before the elementary stream data
	PTS          int64 // container.NoTimestamp when absent
	DTS          int64 // container.NoTimestamp when absent
}

// isPESPayload checks for the PES start code prefix (0x000001).
func isPESPayload(data []byte) bool {
	return len(data) >= 3 && data[0] == 0x00 && data[1] == 0x00 && data[2] == 0x01
}

// hasOptionalHeader reports whether a stream id carries the optional PES
// header with PTS/DTS fields.
func hasOptionalHeader(streamID uint8) bool {
	switch streamID {
	case 0xBC, 0xBE, 0xBF, 0xF0, 0xF1, 0xF2, 0xF8, 0xFF:
		return false
	}
	return true
}

// parsePESHeader extracts the header fields and timestamps from the start of
// a PES packet.
func parsePESHeader(data []byte) (*pesHeader, error) {
	if len(data) < 6 {
		return nil, errPESTooShort
	}
	if !isPESPayload(data) {
		return nil, errInvalidStartCode
	}

	h := &pesHeader{
		StreamID:     data[3],
		PacketLength: int(data[4])<<8 | int(data[5]),
		HeaderLength: 6,
		PTS:          container.NoTimestamp,
		DTS:          container.NoTimestamp,
	}
	if !hasOptionalHeader(h.StreamID) {
		return h, nil
	}

	if len(data) < 9 {
		return nil, errPESTooShort
	}
	h.HeaderLength = 9 + int(data[8])
	if h.HeaderLength > len(data) {
		return nil, errPESTooShort
	}

	ptsDtsFlags := (data[7] >> 6) & 0x03
	offset := 9

	if ptsDtsFlags&0x02 != 0 {
		pts, err := extractTimestamp(data[offset:])
		if err != nil {
			return nil, err
		}
		h.PTS = pts
		offset += 5

		if ptsDtsFlags&0x01 != 0 {
			dts, err := extractTimestamp(data[offset:])
			if err != nil {
				return nil, err
			}
			h.DTS = dts
		}
	}

	return h, nil
}

// extractTimestamp extracts a 33-bit timestamp from 5 bytes
func extractTimestamp(data []byte) (int64, error) {
	if len(data) < 5 {
		return 0, errTimestampTooShort
	}

	return int64(data[0]&0x0E)<<29 |
		int64(data[1])<<22 |
		int64(data[2]&0xFE)<<14 |
		int64(data[3])<<7 |
		int64(data[4])>>1, nil
}
