// Package mpegts implements the container contract for MPEG transport
// streams stored in local files: PAT/PMT discovery, PES reassembly with
// PTS/DTS extraction, and keyframe indexing for seeks.
package mpegts

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/zsiec/splitter/internal/container"
	"github.com/zsiec/splitter/internal/logger"
	"github.com/zsiec/splitter/internal/media"
	"github.com/zsiec/splitter/internal/timebase"
)

// FormatName is reported in ProbeResult.Format.
const FormatName = "mpegts"

const (
	clockRate = 90000

	// Timestamps are 33-bit counters of the 90 kHz clock.
	wrapPeriod = int64(1) << 33

	defaultProbeSize = 8 << 20
	defaultTailSize  = 2 << 20
)

var errNoProgram = errors.New("mpegts: no program map found")

type options struct {
	probeSize int64
	tailSize  int64
	log       logger.Logger
}

// Option configures a Demuxer.
type Option func(*options)

// WithProbeSize bounds the bytes read while looking for PAT, PMT and the
// first timestamp of every stream.
func WithProbeSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.probeSize = n
		}
	}
}

// WithTailSize bounds the bytes read from the end of the input to find the
// last timestamp.
func WithTailSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.tailSize = n
		}
	}
}

// WithLogger sets the demuxer's logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// esStream is one PMT entry and its reassembly state.
type esStream struct {
	index     int
	es        elementaryStream
	mediaType media.MediaType
	codec     media.CodecParams
	firstTS   int64
	acc       pesAccumulator
}

func (s *esStream) routable() bool {
	return s.mediaType != media.MediaTypeUnknown
}

// Demuxer reads a transport stream. ReadNext, Seek, Probe and Close must be
// called from one goroutine; Index may be called concurrently with them.
type Demuxer struct {
	src    io.ReaderAt
	size   int64
	closer io.Closer
	opts   options
	log    logger.Logger

	stride int
	prefix int
	cursor *scanner

	pmtPID  uint16
	streams []*esStream
	byPID   map[uint16]*esStream
	startTS int64

	probe   *container.ProbeResult
	pending []*container.Unit
	eof     bool

	indexMu sync.Mutex
	index   map[int][]container.IndexEntry
}

// New wraps size bytes of src. No I/O happens until Probe.
func New(src io.ReaderAt, size int64, opts ...Option) *Demuxer {
	o := options{
		probeSize: defaultProbeSize,
		tailSize:  defaultTailSize,
		log:       logger.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Demuxer{
		src:     src,
		size:    size,
		opts:    o,
		log:     logger.Component(o.log, "mpegts"),
		byPID:   make(map[uint16]*esStream),
		startTS: container.NoTimestamp,
	}
}

// Probe implements container.Demuxer.
func (d *Demuxer) Probe() (*container.ProbeResult, error) {
	if d.probe != nil {
		return d.probe, nil
	}

	head := make([]byte, 5*M2TSPacketSize)
	n, err := d.src.ReadAt(head, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if n < PacketSize {
		return nil, fmt.Errorf("%w: input shorter than one packet", container.ErrUnsupportedFormat)
	}
	d.stride, d.prefix, err = detectPacketSize(head[:n])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", container.ErrUnsupportedFormat, err)
	}
	d.cursor = newScanner(d.src, d.size, d.stride, d.prefix)

	if err := d.scanHead(); err != nil {
		return nil, err
	}

	for _, s := range d.streams {
		if s.firstTS == container.NoTimestamp {
			continue
		}
		if d.startTS == container.NoTimestamp || s.firstTS < d.startTS {
			d.startTS = s.firstTS
		}
	}

	lastTS, err := d.scanTail()
	if err != nil {
		return nil, err
	}

	result := &container.ProbeResult{
		Format:    FormatName,
		Duration:  container.NoTimestamp,
		StartTime: container.NoTimestamp,
	}
	if d.startTS != container.NoTimestamp {
		result.StartTime = timebase.Rescale(d.startTS, container.TimeBase, clockRate)
		if lastTS != container.NoTimestamp && lastTS > d.startTS {
			result.Duration = timebase.Rescale(lastTS-d.startTS, container.TimeBase, clockRate)
		}
	}

	for _, s := range d.streams {
		info := media.StreamInfo{
			Index:    s.index,
			Type:     s.mediaType,
			Codec:    s.codec,
			TimeBase: media.TimeBase90kHz,
			Metadata: map[string]string{"pid": fmt.Sprintf("0x%04x", s.es.PID)},
		}
		if s.es.Language != "" {
			info.Metadata["language"] = s.es.Language
		}
		result.Streams = append(result.Streams, info)
	}

	if err := d.cursor.seek(0); err != nil {
		return nil, err
	}
	d.probe = result

	d.log.WithFields(map[string]interface{}{
		"streams":     len(result.Streams),
		"packet_size": d.stride,
		"start_time":  result.StartTime,
		"duration":    result.Duration,
	}).Debug("Transport stream probed")

	return result, nil
}

// scanHead finds the first program's PMT and the first timestamp of every
// stream within the probe window.
func (d *Demuxer) scanHead() error {
	if err := d.cursor.seek(0); err != nil {
		return err
	}

	var pat, pmt sectionBuffer
	for d.cursor.pos < d.opts.probeSize {
		pkt, _, err := d.cursor.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("scan head: %w", err)
		}
		if pkt.TransportError || !pkt.PayloadExists {
			continue
		}

		switch {
		case pkt.PID == PIDProgramAssociation && d.pmtPID == 0:
			if payload := pat.add(pkt); payload != nil {
				d.handlePAT(payload)
			}
		case d.streams == nil && d.pmtPID != 0 && pkt.PID == d.pmtPID:
			if payload := pmt.add(pkt); payload != nil {
				d.handlePMT(payload)
			}
		case d.streams != nil && pkt.PayloadStart:
			if s := d.byPID[pkt.PID]; s != nil {
				d.probeStream(s, pkt.Payload)
			}
		}

		if d.streams != nil && d.probeComplete() {
			break
		}
	}

	if d.streams == nil {
		return fmt.Errorf("%w: %v", container.ErrUnsupportedFormat, errNoProgram)
	}
	return nil
}

func (d *Demuxer) handlePAT(payload []byte) {
	secs, err := sections(payload)
	if err != nil {
		d.log.WithError(err).Debug("Discarding PAT")
	}
	for _, sec := range secs {
		programs, err := parsePAT(sec)
		if err != nil || len(programs) == 0 {
			continue
		}
		d.pmtPID = programs[0].PMTPID
		return
	}
}

func (d *Demuxer) handlePMT(payload []byte) {
	secs, err := sections(payload)
	if err != nil {
		d.log.WithError(err).Debug("Discarding PMT")
	}
	for _, sec := range secs {
		pm, err := parsePMT(sec)
		if err != nil {
			continue
		}
		streams := make([]*esStream, 0, len(pm.Streams))
		for i, es := range pm.Streams {
			mediaType, codec := classify(es)
			s := &esStream{
				index:     i,
				es:        es,
				mediaType: mediaType,
				codec:     media.CodecParams{ID: codec},
				firstTS:   container.NoTimestamp,
			}
			streams = append(streams, s)
			if s.routable() {
				d.byPID[es.PID] = s
			}
		}
		d.streams = streams
		return
	}
}

// probeStream records the first timestamp of a stream and, for AAC, the
// sample rate and channel layout of its first frame.
func (d *Demuxer) probeStream(s *esStream, payload []byte) {
	h, err := parsePESHeader(payload)
	if err != nil {
		return
	}
	if s.firstTS == container.NoTimestamp {
		ts := h.PTS
		if ts == container.NoTimestamp {
			ts = h.DTS
		}
		s.firstTS = ts
	}
	if s.codec.ID == media.CodecAAC && s.codec.SampleRate == 0 {
		if info, ok := parseADTS(payload[h.HeaderLength:]); ok {
			s.codec.SampleRate = info.SampleRate
			s.codec.Channels = info.Channels
		}
	}
}

func (d *Demuxer) probeComplete() bool {
	for _, s := range d.streams {
		if !s.routable() {
			continue
		}
		if s.firstTS == container.NoTimestamp {
			return false
		}
		if s.codec.ID == media.CodecAAC && s.codec.SampleRate == 0 {
			return false
		}
	}
	return true
}

// scanTail returns the largest timestamp found near the end of the input.
func (d *Demuxer) scanTail() (int64, error) {
	start := d.size - d.opts.tailSize
	if start < 0 {
		start = 0
	}
	start -= start % int64(d.stride)
	if err := d.cursor.seek(start); err != nil {
		return container.NoTimestamp, err
	}

	last := container.NoTimestamp
	for {
		pkt, _, err := d.cursor.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return container.NoTimestamp, fmt.Errorf("scan tail: %w", err)
		}
		if pkt.TransportError || !pkt.PayloadStart || d.byPID[pkt.PID] == nil {
			continue
		}
		h, err := parsePESHeader(pkt.Payload)
		if err != nil {
			continue
		}
		ts := h.PTS
		if ts == container.NoTimestamp {
			ts = h.DTS
		}
		if ts = d.unwrap(ts); ts != container.NoTimestamp && ts > last {
			last = ts
		}
	}
	return last, nil
}

// unwrap lifts timestamps that wrapped past the 33-bit boundary after the
// start of the input.
func (d *Demuxer) unwrap(ts int64) int64 {
	if ts == container.NoTimestamp || d.startTS == container.NoTimestamp {
		return ts
	}
	if ts < d.startTS-wrapPeriod/2 {
		return ts + wrapPeriod
	}
	return ts
}

// ReadNext implements container.Demuxer.
func (d *Demuxer) ReadNext() (*container.Unit, error) {
	if d.probe == nil {
		if _, err := d.Probe(); err != nil {
			return nil, err
		}
	}

	for len(d.pending) == 0 {
		if d.eof {
			return nil, io.EOF
		}

		pkt, pos, err := d.cursor.next()
		if errors.Is(err, io.EOF) {
			d.eof = true
			d.flushAll()
			continue
		}
		if err != nil {
			return nil, err
		}

		s := d.byPID[pkt.PID]
		if s == nil {
			continue
		}
		for _, raw := range s.acc.add(pkt, pos) {
			d.pending = append(d.pending, d.makeUnit(s, raw))
		}
	}

	u := d.pending[0]
	d.pending[0] = nil
	d.pending = d.pending[1:]
	return u, nil
}

func (d *Demuxer) flushAll() {
	for _, s := range d.streams {
		if raw, ok := s.acc.flush(); ok {
			d.pending = append(d.pending, d.makeUnit(s, raw))
		}
	}
}

// makeUnit turns a reassembled PES into a container unit. A PES whose
// header cannot be parsed yields a unit with a negative size.
func (d *Demuxer) makeUnit(s *esStream, raw rawPES) *container.Unit {
	h, err := parsePESHeader(raw.data)
	if err != nil {
		d.log.WithError(err).WithField("pid", s.es.PID).Debug("Corrupt PES")
		u := container.NewUnit(s.index, nil)
		u.Size = -1
		u.Pos = raw.pos
		return u
	}

	end := len(raw.data)
	if h.PacketLength > 0 && 6+h.PacketLength < end {
		end = 6 + h.PacketLength
	}
	payload := raw.data[h.HeaderLength:end]

	u := container.NewUnit(s.index, payload)
	u.PTS = d.unwrap(h.PTS)
	u.DTS = d.unwrap(h.DTS)
	u.Pos = raw.pos
	u.Keyframe = d.isKeyframe(s, raw.randomAccess, payload)
	if s.codec.ID == media.CodecAAC {
		u.Duration = adtsDuration(payload)
	}
	return u
}

func (d *Demuxer) isKeyframe(s *esStream, randomAccess bool, payload []byte) bool {
	if randomAccess || s.mediaType != media.MediaTypeVideo {
		return true
	}
	return containsIRAP(payload, s.codec.ID)
}

func (d *Demuxer) stream(streamID int) (*esStream, error) {
	if streamID < 0 || streamID >= len(d.streams) || !d.streams[streamID].routable() {
		return nil, fmt.Errorf("%w: %d", container.ErrStreamNotFound, streamID)
	}
	return d.streams[streamID], nil
}

// Seek implements container.Demuxer. The cursor lands on the last keyframe
// of streamID whose timestamp is at or before ts, or on the first keyframe
// when none precedes it.
func (d *Demuxer) Seek(streamID int, ts int64) error {
	if d.probe == nil {
		if _, err := d.Probe(); err != nil {
			return err
		}
	}
	if _, err := d.stream(streamID); err != nil {
		return err
	}

	entries, err := d.Index(streamID)
	if err != nil {
		return err
	}

	var pos int64
	if len(entries) > 0 {
		i := sort.Search(len(entries), func(i int) bool { return entries[i].Timestamp > ts }) - 1
		if i < 0 {
			i = 0
		}
		pos = entries[i].Pos
	}

	if err := d.cursor.seek(pos); err != nil {
		return fmt.Errorf("seek to offset %d: %w", pos, err)
	}
	for _, s := range d.streams {
		s.acc.reset()
	}
	for i := range d.pending {
		d.pending[i] = nil
	}
	d.pending = d.pending[:0]
	d.eof = false
	return nil
}

// Index implements container.Indexer. The index of every stream is built
// by one scan of the input on first use.
func (d *Demuxer) Index(streamID int) ([]container.IndexEntry, error) {
	if d.probe == nil {
		return nil, fmt.Errorf("%w: not probed", container.ErrStreamNotFound)
	}
	if _, err := d.stream(streamID); err != nil {
		return nil, err
	}

	d.indexMu.Lock()
	defer d.indexMu.Unlock()

	if d.index == nil {
		index, err := d.buildIndex()
		if err != nil {
			return nil, err
		}
		d.index = index
	}

	entries := d.index[streamID]
	out := make([]container.IndexEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (d *Demuxer) buildIndex() (map[int][]container.IndexEntry, error) {
	sc := newScanner(d.src, d.size, d.stride, d.prefix)
	index := make(map[int][]container.IndexEntry)

	for {
		pkt, pos, err := sc.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("build index: %w", err)
		}
		if pkt.TransportError || !pkt.PayloadStart {
			continue
		}
		s := d.byPID[pkt.PID]
		if s == nil {
			continue
		}
		h, err := parsePESHeader(pkt.Payload)
		if err != nil {
			continue
		}
		ts := h.PTS
		if ts == container.NoTimestamp {
			ts = h.DTS
		}
		if ts == container.NoTimestamp {
			continue
		}
		if !d.isKeyframe(s, pkt.RandomAccess, pkt.Payload[h.HeaderLength:]) {
			continue
		}
		index[s.index] = append(index[s.index], container.IndexEntry{
			Timestamp: d.unwrap(ts),
			Pos:       pos,
			Keyframe:  true,
		})
	}

	for id := range index {
		entries := index[id]
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].Timestamp < entries[j].Timestamp })
	}

	d.log.WithField("streams", len(index)).Debug("Keyframe index built")
	return index, nil
}

// Close implements container.Demuxer.
func (d *Demuxer) Close() error {
	d.pending = nil
	if d.closer != nil {
		return d.closer.Close()
	}
	return nil
}

var (
	_ container.Demuxer = (*Demuxer)(nil)
	_ container.Indexer = (*Demuxer)(nil)
)
