package mpegts

import (
	"bytes"
)

// tsBuilder assembles a synthetic transport stream. Short payloads are
// padded with adaptation field stuffing so PES data is never corrupted.
type tsBuilder struct {
	buf  bytes.Buffer
	cc   map[uint16]uint8
	m2ts bool
}

func newTSBuilder() *tsBuilder {
	return &tsBuilder{cc: make(map[uint16]uint8)}
}

type esEntry struct {
	pid         uint16
	streamType  uint8
	descriptors []byte
}

func (b *tsBuilder) bytes() []byte {
	return b.buf.Bytes()
}

// packet writes one transport packet carrying payload, which must fit.
func (b *tsBuilder) packet(pid uint16, pusi, randomAccess bool, payload []byte) {
	pkt := make([]byte, PacketSize)
	pkt[0] = SyncByte
	pkt[1] = byte(pid>>8) & 0x1F
	if pusi {
		pkt[1] |= 0x40
	}
	pkt[2] = byte(pid)

	cc := b.cc[pid]
	b.cc[pid] = (cc + 1) & 0x0F

	space := PacketSize - 4
	if len(payload) < space || randomAccess {
		pkt[3] = 0x30 | cc
		afLen := space - len(payload) - 1
		pkt[4] = byte(afLen)
		if afLen > 0 {
			if randomAccess {
				pkt[5] = 0x40
			}
			for i := 6; i < 5+afLen; i++ {
				pkt[i] = 0xFF
			}
		}
		copy(pkt[5+afLen:], payload)
	} else {
		pkt[3] = 0x10 | cc
		copy(pkt[4:], payload)
	}

	if b.m2ts {
		b.buf.Write([]byte{0x00, 0x00, 0x00, 0x00})
	}
	b.buf.Write(pkt)
}

// write splits data across as many packets as needed.
func (b *tsBuilder) write(pid uint16, randomAccess bool, data []byte) {
	first := true
	for len(data) > 0 || first {
		limit := PacketSize - 4
		if first && randomAccess {
			limit -= 2
		}
		n := len(data)
		if n > limit {
			n = limit
		}
		b.packet(pid, first, first && randomAccess, data[:n])
		data = data[n:]
		first = false
	}
}

func (b *tsBuilder) pat(pmtPID uint16) {
	section := []byte{
		tableIDPAT, 0xB0, 0x00,
		0x00, 0x01, 0xC1, 0x00, 0x00,
		0x00, 0x01, 0xE0 | byte(pmtPID>>8), byte(pmtPID),
	}
	b.write(PIDProgramAssociation, false, append([]byte{0x00}, finishSection(section)...))
}

func (b *tsBuilder) pmt(pmtPID, pcrPID uint16, streams []esEntry) {
	section := []byte{
		tableIDPMT, 0xB0, 0x00,
		0x00, 0x01, 0xC1, 0x00, 0x00,
		0xE0 | byte(pcrPID>>8), byte(pcrPID),
		0xF0, 0x00,
	}
	for _, es := range streams {
		section = append(section,
			es.streamType,
			0xE0|byte(es.pid>>8), byte(es.pid),
			0xF0|byte(len(es.descriptors)>>8), byte(len(es.descriptors)))
		section = append(section, es.descriptors...)
	}
	b.write(pmtPID, false, append([]byte{0x00}, finishSection(section)...))
}

// finishSection fills in section_length and appends the CRC.
func finishSection(section []byte) []byte {
	length := len(section) - 3 + 4
	section[1] = 0xB0 | byte(length>>8)&0x0F
	section[2] = byte(length)
	crc := computeCRC32(section)
	return append(section, byte(crc>>24), byte(crc>>16), byte(crc>>8), byte(crc))
}

// pes builds a PES packet. dts < 0 omits the DTS; bounded sets the
// PES_packet_length field.
func pes(streamID byte, pts, dts int64, data []byte, bounded bool) []byte {
	var header []byte
	switch {
	case dts >= 0:
		header = append(encodeTimestamp(0x3, pts), encodeTimestamp(0x1, dts)...)
	case pts >= 0:
		header = encodeTimestamp(0x2, pts)
	}

	flags := byte(0x00)
	switch len(header) {
	case 5:
		flags = 0x80
	case 10:
		flags = 0xC0
	}

	out := []byte{0x00, 0x00, 0x01, streamID, 0x00, 0x00, 0x80, flags, byte(len(header))}
	out = append(out, header...)
	out = append(out, data...)
	if bounded {
		n := len(out) - 6
		out[4] = byte(n >> 8)
		out[5] = byte(n)
	}
	return out
}

func encodeTimestamp(prefix byte, ts int64) []byte {
	return []byte{
		prefix<<4 | byte(ts>>29)&0x0E | 0x01,
		byte(ts >> 22),
		byte(ts>>14)&0xFE | 0x01,
		byte(ts >> 7),
		byte(ts<<1)&0xFE | 0x01,
	}
}

// adtsFrame returns one ADTS frame at 48 kHz stereo.
func adtsFrame(payloadLen int) []byte {
	fl := 7 + payloadLen
	frame := []byte{
		0xFF, 0xF1,
		1<<6 | 3<<2,
		2<<6 | byte(fl>>11)&0x03,
		byte(fl >> 3),
		byte(fl&0x07)<<5 | 0x1F,
		0xFC,
	}
	return append(frame, bytes.Repeat([]byte{0xAA}, payloadLen)...)
}

func languageDescriptor(lang string) []byte {
	return append([]byte{descriptorLanguage, 4}, lang[0], lang[1], lang[2], 0x00)
}

func subtitlingDescriptor(lang string) []byte {
	return append([]byte{descriptorSubtitling, 8}, lang[0], lang[1], lang[2], 0x10, 0x00, 0x01, 0x00, 0x01)
}

const (
	testPMTPID   = 0x1000
	testVideoPID = 0x0100
	testAudioPID = 0x0101
	testSubPID   = 0x0102
	testDataPID  = 0x0103

	testStartPTS      = 126000
	testFrameTicks    = 3003
	testAudioTicks    = 1920
	testFrames        = 10
	testKeyframeEvery = 5
)

func videoPayload(i int) []byte {
	nal := byte(0x41)
	if i%testKeyframeEvery == 0 {
		nal = 0x65
	}
	body := bytes.Repeat([]byte{byte(i + 1)}, 300+i*10)
	return append([]byte{0x00, 0x00, 0x00, 0x01, 0x09, 0xF0, 0x00, 0x00, 0x00, 0x01, nal}, body...)
}

// buildTestStream writes PAT, PMT and interleaved H.264, AAC and DVB
// subtitle PES packets.
func buildTestStream(m2ts bool) []byte {
	b := newTSBuilder()
	b.m2ts = m2ts

	b.pat(testPMTPID)
	b.pmt(testPMTPID, testVideoPID, []esEntry{
		{pid: testVideoPID, streamType: streamTypeH264},
		{pid: testAudioPID, streamType: streamTypeAAC, descriptors: languageDescriptor("eng")},
		{pid: testSubPID, streamType: streamTypePrivatePES, descriptors: subtitlingDescriptor("deu")},
		{pid: testDataPID, streamType: 0x99},
	})

	for i := 0; i < testFrames; i++ {
		pts := int64(testStartPTS + i*testFrameTicks)
		b.write(testVideoPID, i%testKeyframeEvery == 0, pes(0xE0, pts, pts-testFrameTicks, videoPayload(i), false))
		b.write(testAudioPID, false, pes(0xC0, int64(testStartPTS+i*testAudioTicks), -1, adtsFrame(50), true))
		if i == 2 {
			b.write(testSubPID, false, pes(0xBD, pts, -1, []byte{0x20, 0x00, 0x0F, 0x10}, true))
		}
	}
	return b.bytes()
}
