package media

import "fmt"

// PacketFlags contains packet classification flags
type PacketFlags uint8

const (
	// FlagSyncPoint marks an access unit a consumer may start decoding from.
	FlagSyncPoint PacketFlags = 1 << 0
	// FlagAppendable marks a unit that may be concatenated to the previous one.
	FlagAppendable PacketFlags = 1 << 1
	// FlagDiscontinuity marks a unit that is not contiguous with the previous
	// unit delivered to the same sink.
	FlagDiscontinuity PacketFlags = 1 << 2
)

// Packet is one demultiplexed access unit on its way to a sink. Once handed
// to Sink.Deliver the sink owns it and the producer keeps no reference.
type Packet struct {
	StreamID    int
	Payload     []byte
	Start       Time
	Stop        Time
	Flags       PacketFlags
	EndOfStream bool
}

// HasFlag checks if a flag is set
func (p *Packet) HasFlag(flag PacketFlags) bool {
	return p.Flags&flag != 0
}

// SetFlag sets a flag
func (p *Packet) SetFlag(flag PacketFlags) {
	p.Flags |= flag
}

// ClearFlag clears a flag
func (p *Packet) ClearFlag(flag PacketFlags) {
	p.Flags &^= flag
}

func (p *Packet) SyncPoint() bool     { return p.HasFlag(FlagSyncPoint) }
func (p *Packet) Appendable() bool    { return p.HasFlag(FlagAppendable) }
func (p *Packet) Discontinuity() bool { return p.HasFlag(FlagDiscontinuity) }

// Len returns the payload size in bytes.
func (p *Packet) Len() int {
	return len(p.Payload)
}

// Validate checks the timing invariant every delivered packet must hold.
func (p *Packet) Validate() error {
	if !p.Start.Valid() || !p.Stop.Valid() {
		return fmt.Errorf("packet for stream %d has unresolved timing", p.StreamID)
	}
	if p.Start > p.Stop {
		return fmt.Errorf("packet for stream %d starts after it stops (%d > %d)", p.StreamID, p.Start, p.Stop)
	}
	return nil
}

// Segment describes one playback span between seeks.
type Segment struct {
	Start Time    `json:"start"`
	Stop  Time    `json:"stop"`
	Rate  float64 `json:"rate"`
}
