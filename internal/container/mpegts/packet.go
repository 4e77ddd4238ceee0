package mpegts

import (
	"errors"
	"fmt"
)

const (
	// MPEG-TS constants
	PacketSize = 188
	SyncByte   = 0x47
	MaxPID     = 8191

	// M2TSPacketSize is a transport packet prefixed by a 4-byte arrival
	// timestamp, as written by Blu-ray and AVCHD recorders.
	M2TSPacketSize = 192

	// PIDs
	PIDProgramAssociation = 0x0000
	PIDNull               = 0x1FFF
)

var errMissingSync = errors.New("mpegts: missing sync byte")

// Packet represents an MPEG-TS packet
type Packet struct {
	PID                   uint16
	PayloadStart          bool
	TransportError        bool
	AdaptationFieldExists bool
	PayloadExists         bool
	ContinuityCounter     uint8
	Payload               []byte

	// Adaptation field flags
	Discontinuity bool
	RandomAccess  bool

	// PCR if present in adaptation field
	HasPCR bool
	PCR    int64
}

// parsePacket parses a single 188-byte transport packet. The payload
// aliases data.
func parsePacket(data []byte) (*Packet, error) {
	if len(data) != PacketSize {
		return nil, fmt.Errorf("mpegts: invalid packet size: %d", len(data))
	}
	if data[0] != SyncByte {
		return nil, errMissingSync
	}

	pkt := &Packet{
		PID:               uint16(data[1]&0x1F)<<8 | uint16(data[2]),
		PayloadStart:      data[1]&0x40 != 0,
		TransportError:    data[1]&0x80 != 0,
		ContinuityCounter: data[3] & 0x0F,
	}

	adaptationFieldControl := (data[3] >> 4) & 0x03
	pkt.AdaptationFieldExists = adaptationFieldControl&0x02 != 0
	pkt.PayloadExists = adaptationFieldControl&0x01 != 0

	offset := 4
	if pkt.AdaptationFieldExists {
		adaptationFieldLength := int(data[offset])
		offset++

		if adaptationFieldLength > 0 && offset+adaptationFieldLength <= PacketSize {
			flags := data[offset]
			pkt.Discontinuity = flags&0x80 != 0
			pkt.RandomAccess = flags&0x40 != 0

			if flags&0x10 != 0 && adaptationFieldLength >= 7 {
				pcrBase := int64(data[offset+1])<<25 |
					int64(data[offset+2])<<17 |
					int64(data[offset+3])<<9 |
					int64(data[offset+4])<<1 |
					int64(data[offset+5]>>7)

				pcrExt := int64(data[offset+5]&0x01)<<8 |
					int64(data[offset+6])

				pkt.PCR = pcrBase*300 + pcrExt
				pkt.HasPCR = true
			}
		}
		offset += adaptationFieldLength
	}

	if pkt.PayloadExists && offset < PacketSize {
		pkt.Payload = data[offset:]
	}

	return pkt, nil
}

// detectPacketSize inspects the leading bytes of a stream and reports the
// transport packet stride and the prefix length preceding each sync byte.
func detectPacketSize(head []byte) (size, prefix int, err error) {
	check := func(stride, prefix int) bool {
		n := 0
		for off := prefix; off < len(head); off += stride {
			if head[off] != SyncByte {
				return false
			}
			n++
		}
		return n > 0
	}

	switch {
	case check(PacketSize, 0):
		return PacketSize, 0, nil
	case check(M2TSPacketSize, 4):
		return M2TSPacketSize, 4, nil
	default:
		return 0, 0, errMissingSync
	}
}
