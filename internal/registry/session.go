package registry

import (
	"time"
)

// SessionState is the lifecycle state published for a demux session.
type SessionState string

const (
	StateLoading SessionState = "loading"
	StatePaused  SessionState = "paused"
	StateRunning SessionState = "running"
	StateStopped SessionState = "stopped"
	StateEnded   SessionState = "ended"
	StateClosed  SessionState = "closed"
)

// StreamRecord describes one elementary stream of a registered session.
type StreamRecord struct {
	Index    int    `json:"index"`
	Kind     string `json:"kind"`
	Codec    string `json:"codec"`
	Language string `json:"language,omitempty"`
	Routed   bool   `json:"routed"`
}

// Session is the registry record for one open demux session. Times are in
// 100ns presentation units.
type Session struct {
	ID            string         `json:"id"`
	Host          string         `json:"host"`
	Locator       string         `json:"locator"`
	Format        string         `json:"format"`
	State         SessionState   `json:"state"`
	Streams       []StreamRecord `json:"streams"`
	Duration      int64          `json:"duration"`
	CreatedAt     time.Time      `json:"created_at"`
	LastHeartbeat time.Time      `json:"last_heartbeat"`

	Status
}

// Status is the part of a session record refreshed while it plays.
type Status struct {
	Position         int64   `json:"position"`
	Stop             int64   `json:"stop"`
	Rate             float64 `json:"rate"`
	StarvingSinks    int     `json:"starving_sinks"`
	PacketsDelivered int64   `json:"packets_delivered"`
	BytesDelivered   int64   `json:"bytes_delivered"`
}

// Live reports whether the session is still open. An ended session can be
// restarted by a seek.
func (s *Session) Live() bool {
	return s.State != StateClosed
}

func (s *Session) clone() *Session {
	c := *s
	c.Streams = append([]StreamRecord(nil), s.Streams...)
	return &c
}
