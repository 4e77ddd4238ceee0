package mpegts

import (
	"bufio"
	"errors"
	"io"
)

const readBufferSize = 64 * 1024

// scanner reads transport packets sequentially from a byte range. Each
// scanner owns its cursor, so several may read the same source at once.
type scanner struct {
	src    *io.SectionReader
	br     *bufio.Reader
	stride int
	prefix int
	pos    int64
	buf    []byte
	resync int64
}

func newScanner(r io.ReaderAt, size int64, stride, prefix int) *scanner {
	src := io.NewSectionReader(r, 0, size)
	return &scanner{
		src:    src,
		br:     bufio.NewReaderSize(src, readBufferSize),
		stride: stride,
		prefix: prefix,
		buf:    make([]byte, PacketSize),
	}
}

// seek moves the cursor to an absolute byte offset.
func (s *scanner) seek(pos int64) error {
	if _, err := s.src.Seek(pos, io.SeekStart); err != nil {
		return err
	}
	s.br.Reset(s.src)
	s.pos = pos
	return nil
}

// next returns the next transport packet and its byte offset. Bytes that do
// not start with a sync byte are skipped one at a time until the stream
// realigns. The returned packet is only valid until the following call.
func (s *scanner) next() (*Packet, int64, error) {
	for {
		head, err := s.br.Peek(s.stride)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, s.pos, io.EOF
			}
			return nil, s.pos, err
		}
		if head[s.prefix] != SyncByte {
			_, _ = s.br.Discard(1)
			s.pos++
			s.resync++
			continue
		}

		copy(s.buf, head[s.prefix:s.prefix+PacketSize])
		pos := s.pos
		_, _ = s.br.Discard(s.stride)
		s.pos += int64(s.stride)

		pkt, err := parsePacket(s.buf)
		if err != nil {
			continue
		}
		return pkt, pos, nil
	}
}
