package health

import (
	"context"
	"sync"
)

// StarvationReporter reports how many open sessions have starving sinks.
type StarvationReporter interface {
	StarvationReport() (starving, total int)
}

// SessionChecker turns sink starvation into a degraded status: the host is
// serving, but some consumers are not receiving data fast enough.
type SessionChecker struct {
	reporter StarvationReporter

	mu       sync.Mutex
	starving int
	total    int
}

// NewSessionChecker creates a checker over the session host.
func NewSessionChecker(reporter StarvationReporter) *SessionChecker {
	return &SessionChecker{reporter: reporter}
}

// Name returns the name of the checker.
func (s *SessionChecker) Name() string {
	return "sessions"
}

// Check reports degraded while any session is starving.
func (s *SessionChecker) Check(ctx context.Context) error {
	starving, total := s.reporter.StarvationReport()

	s.mu.Lock()
	s.starving, s.total = starving, total
	s.mu.Unlock()

	if starving > 0 {
		return Degraded("%d of %d sessions starving", starving, total)
	}
	return nil
}

// Details returns the counts seen by the last Check.
func (s *SessionChecker) Details() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]interface{}{
		"sessions": s.total,
		"starving": s.starving,
	}
}
