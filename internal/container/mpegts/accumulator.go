package mpegts

// rawPES is one reassembled PES packet, header included.
type rawPES struct {
	data         []byte
	pos          int64
	randomAccess bool
}

// pesAccumulator reassembles the PES packets of a single PID. A PES ends at
// the next payload unit start, or as soon as its declared length is reached.
type pesAccumulator struct {
	buf          []byte
	started      bool
	lastCC       uint8
	pos          int64
	randomAccess bool
	expected     int
}

// add feeds one transport packet read at byte offset pos and returns the PES
// packets it completed.
func (a *pesAccumulator) add(pkt *Packet, pos int64) []rawPES {
	if pkt.TransportError {
		a.reset()
		return nil
	}
	if !pkt.PayloadExists || len(pkt.Payload) == 0 {
		return nil
	}

	var done []rawPES

	if pkt.PayloadStart {
		if a.started && len(a.buf) > 0 {
			done = append(done, a.take())
		}
		a.buf = append(make([]byte, 0, len(pkt.Payload)*4), pkt.Payload...)
		a.started = true
		a.pos = pos
		a.randomAccess = pkt.RandomAccess
		a.expected = 0
		if len(pkt.Payload) >= 6 && isPESPayload(pkt.Payload) {
			if n := int(pkt.Payload[4])<<8 | int(pkt.Payload[5]); n > 0 {
				a.expected = 6 + n
			}
		}
	} else {
		if !a.started {
			return nil
		}
		// A signaled discontinuity means the counter jump is expected.
		if !pkt.Discontinuity && pkt.ContinuityCounter != (a.lastCC+1)&0x0F {
			if pkt.ContinuityCounter == a.lastCC {
				return nil // duplicate packet
			}
			a.reset()
			return nil
		}
		a.buf = append(a.buf, pkt.Payload...)
	}
	a.lastCC = pkt.ContinuityCounter

	if a.expected > 0 && len(a.buf) >= a.expected {
		done = append(done, a.take())
	}
	return done
}

// take hands the buffered PES to the caller.
func (a *pesAccumulator) take() rawPES {
	out := rawPES{data: a.buf, pos: a.pos, randomAccess: a.randomAccess}
	a.buf = nil
	a.started = false
	a.expected = 0
	return out
}

// flush returns the trailing PES at end of input, if any.
func (a *pesAccumulator) flush() (rawPES, bool) {
	if !a.started || len(a.buf) == 0 {
		return rawPES{}, false
	}
	return a.take(), true
}

func (a *pesAccumulator) reset() {
	a.buf = nil
	a.started = false
	a.expected = 0
}
