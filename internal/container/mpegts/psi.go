package mpegts

import (
	"errors"
	"fmt"
)

const (
	tableIDPAT = 0x00
	tableIDPMT = 0x02

	descriptorRegistration = 0x05
	descriptorLanguage     = 0x0A
	descriptorTeletext     = 0x56
	descriptorSubtitling   = 0x59
	descriptorAC3          = 0x6A
	descriptorEAC3         = 0x7A
)

var errSectionTooShort = errors.New("mpegts: section too short")

// program is one PAT entry.
type program struct {
	Number uint16
	PMTPID uint16
}

// elementaryStream is one PMT entry with the descriptors the demuxer
// understands.
type elementaryStream struct {
	PID          uint16
	StreamType   uint8
	Language     string
	Registration string
	AC3          bool
	EAC3         bool
	Subtitling   bool
	Teletext     bool
}

type programMap struct {
	ProgramNumber uint16
	PCRPID        uint16
	Streams       []elementaryStream
}

// sectionBuffer reassembles PSI sections that span transport packets.
type sectionBuffer struct {
	buf     []byte
	started bool
	lastCC  uint8
}

// add appends a packet payload and returns the complete payload once every
// section it carries is whole.
func (sb *sectionBuffer) add(pkt *Packet) []byte {
	if pkt.PayloadStart {
		sb.buf = append(sb.buf[:0], pkt.Payload...)
		sb.started = true
	} else {
		if !sb.started || pkt.ContinuityCounter != (sb.lastCC+1)&0x0F {
			sb.started = false
			return nil
		}
		sb.buf = append(sb.buf, pkt.Payload...)
	}
	sb.lastCC = pkt.ContinuityCounter

	if !isPSIComplete(sb.buf) {
		return nil
	}
	sb.started = false
	out := make([]byte, len(sb.buf))
	copy(out, sb.buf)
	return out
}

// isPSIComplete checks whether the accumulated payload contains complete
// PSI sections.
func isPSIComplete(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}

	offset := 1 + int(payload[0])
	if offset >= len(payload) {
		return false
	}

	for offset < len(payload) {
		if payload[offset] == 0xFF {
			return true
		}
		if offset+3 > len(payload) {
			return false
		}
		// section_syntax_indicator is always set for PAT/PMT
		if payload[offset+1]&0x80 == 0 {
			return true
		}
		sectionLength := int(payload[offset+1]&0x0F)<<8 | int(payload[offset+2])
		needed := 3 + sectionLength
		if offset+needed > len(payload) {
			return false
		}
		offset += needed
	}
	return true
}

// sections splits a PSI payload (pointer field included) into sections,
// verifying each CRC.
func sections(payload []byte) ([][]byte, error) {
	if len(payload) < 1 {
		return nil, errSectionTooShort
	}

	offset := 1 + int(payload[0])
	var out [][]byte
	for offset < len(payload) {
		if payload[offset] == 0xFF || offset+3 > len(payload) {
			break
		}
		if payload[offset+1]&0x80 == 0 {
			break
		}
		sectionLength := int(payload[offset+1]&0x0F)<<8 | int(payload[offset+2])
		end := offset + 3 + sectionLength
		if end > len(payload) {
			return out, errSectionTooShort
		}
		section := payload[offset:end]
		if err := verifyCRC32(section); err != nil {
			return out, fmt.Errorf("table 0x%02x: %w", section[0], err)
		}
		out = append(out, section)
		offset = end
	}
	return out, nil
}

// parsePAT parses a PAT section. The NIT entry (program 0) is skipped.
func parsePAT(section []byte) ([]program, error) {
	if len(section) < 12 || section[0] != tableIDPAT {
		return nil, errSectionTooShort
	}

	entryEnd := len(section) - 4
	var programs []program
	for i := 8; i+4 <= entryEnd; i += 4 {
		number := uint16(section[i])<<8 | uint16(section[i+1])
		pid := uint16(section[i+2]&0x1F)<<8 | uint16(section[i+3])
		if number == 0 {
			continue
		}
		programs = append(programs, program{Number: number, PMTPID: pid})
	}
	return programs, nil
}

// parsePMT parses a PMT section and its elementary stream descriptors.
func parsePMT(section []byte) (*programMap, error) {
	if len(section) < 16 || section[0] != tableIDPMT {
		return nil, errSectionTooShort
	}

	pmt := &programMap{
		ProgramNumber: uint16(section[3])<<8 | uint16(section[4]),
		PCRPID:        uint16(section[8]&0x1F)<<8 | uint16(section[9]),
	}

	programInfoLength := int(section[10]&0x0F)<<8 | int(section[11])
	offset := 12 + programInfoLength
	end := len(section) - 4

	for offset+5 <= end {
		es := elementaryStream{
			StreamType: section[offset],
			PID:        uint16(section[offset+1]&0x1F)<<8 | uint16(section[offset+2]),
		}
		esInfoLength := int(section[offset+3]&0x0F)<<8 | int(section[offset+4])
		offset += 5

		if offset+esInfoLength > end {
			return pmt, errSectionTooShort
		}
		parseDescriptors(section[offset:offset+esInfoLength], &es)
		offset += esInfoLength

		pmt.Streams = append(pmt.Streams, es)
	}
	return pmt, nil
}

func parseDescriptors(data []byte, es *elementaryStream) {
	for len(data) >= 2 {
		tag := data[0]
		length := int(data[1])
		if 2+length > len(data) {
			return
		}
		body := data[2 : 2+length]

		switch tag {
		case descriptorRegistration:
			if len(body) >= 4 {
				es.Registration = string(body[:4])
			}
		case descriptorLanguage:
			es.setLanguage(body)
		case descriptorSubtitling:
			es.Subtitling = true
			es.setLanguage(body)
		case descriptorTeletext:
			es.Teletext = true
			es.setLanguage(body)
		case descriptorAC3:
			es.AC3 = true
		case descriptorEAC3:
			es.EAC3 = true
		}

		data = data[2+length:]
	}
}

// setLanguage takes the ISO 639 code leading a language-bearing descriptor.
func (es *elementaryStream) setLanguage(body []byte) {
	if len(body) >= 3 && es.Language == "" {
		es.Language = string(body[:3])
	}
}
