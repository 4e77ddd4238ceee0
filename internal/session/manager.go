// Package session hosts demux sessions: each one is a loaded splitter
// whose sinks are drained by goroutines standing in for downstream
// decoders.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/splitter/internal/container"
	"github.com/zsiec/splitter/internal/demux"
	"github.com/zsiec/splitter/internal/logger"
	"github.com/zsiec/splitter/internal/media"
	"github.com/zsiec/splitter/internal/metrics"
	"github.com/zsiec/splitter/internal/registry"
	"github.com/zsiec/splitter/internal/sink"
	"github.com/zsiec/splitter/internal/stream"
)

var (
	// ErrNotFound is returned for an unknown session ID.
	ErrNotFound = errors.New("session: not found")

	// ErrClosed is returned when operating on a closed session or manager.
	ErrClosed = errors.New("session: closed")

	// ErrTooManySessions is returned when MaxSessions are already open.
	ErrTooManySessions = errors.New("session: too many sessions")

	// ErrInvalidLocator is returned for an empty locator or one escaping
	// the media root.
	ErrInvalidLocator = errors.New("session: invalid locator")
)

// Config tunes the sessions a Manager opens.
type Config struct {
	MinPacketsInQueue  int
	SinkQueueSize      int
	RequireVideoAnchor bool
	MaxSessions        int
	MediaRoot          string
	Realtime           bool
	AutoPlay           bool
	StatusInterval     time.Duration
	HeartbeatInterval  time.Duration
	Host               string
}

func (c *Config) setDefaults() {
	if c.SinkQueueSize <= 0 {
		c.SinkQueueSize = sink.DefaultQueueSize
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = 16
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.Host == "" {
		c.Host, _ = os.Hostname()
	}
}

// Manager opens, tracks and closes sessions.
type Manager struct {
	cfg      Config
	opener   container.Opener
	registry registry.Registry
	log      logger.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	pending  int
	closing  bool
}

// NewManager creates a manager. A nil registry keeps records in memory.
func NewManager(cfg Config, opener container.Opener, reg registry.Registry, log logger.Logger) *Manager {
	cfg.setDefaults()
	if reg == nil {
		reg = registry.NewMemoryRegistry()
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Manager{
		cfg:      cfg,
		opener:   opener,
		registry: reg,
		log:      logger.Component(log, "session_manager"),
		sessions: make(map[string]*Session),
	}
}

// Resolve maps a client supplied locator to the path handed to the opener.
// With a media root the locator is cleaned as an absolute path first, so
// ".." elements stop at the root and the result never escapes it.
func (m *Manager) Resolve(locator string) (string, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidLocator)
	}
	if m.cfg.MediaRoot == "" {
		return locator, nil
	}
	return filepath.Join(m.cfg.MediaRoot, filepath.Clean("/"+locator)), nil
}

// Open loads locator into a new session, starts its drains and registers
// it. With AutoPlay the session starts running, otherwise it is paused.
func (m *Manager) Open(ctx context.Context, locator string) (s *Session, err error) {
	defer func() { metrics.RecordSessionOpen(err) }()

	path, err := m.Resolve(locator)
	if err != nil {
		return nil, err
	}
	if err := m.reserve(); err != nil {
		return nil, err
	}
	defer m.unreserve()

	id := uuid.New().String()
	log := logger.ForSession(m.log, id, path)

	s = &Session{
		id:        id,
		locator:   path,
		createdAt: time.Now(),
		registry:  m.registry,
		clock:     newPlayClock(m.cfg.Realtime),
		log:       log,
		done:      make(chan struct{}),
		counters:  make(map[media.Kind]*streamCounters),
	}
	s.splitter = demux.New(m.opener, sink.NewQueueSinkFactory(m.cfg.SinkQueueSize, log), demux.Config{
		MinPacketsInQueue:  m.cfg.MinPacketsInQueue,
		RequireVideoAnchor: m.cfg.RequireVideoAnchor,
		Renegotiator:       demux.RenegotiatorFunc(s.renegotiate),
	}, log)

	summaries, err := s.splitter.Load(ctx, path)
	if err != nil {
		log.WithError(err).Warn("Session load failed")
		return nil, err
	}
	if err := s.splitter.Pause(); err != nil {
		_ = s.splitter.Close()
		return nil, err
	}

	rec := &registry.Session{
		ID:        id,
		Host:      m.cfg.Host,
		Locator:   path,
		Format:    s.splitter.Format(),
		State:     registry.StatePaused,
		Streams:   streamRecords(summaries),
		Duration:  int64(s.splitter.GetDuration()),
		CreatedAt: s.createdAt,
		Status:    registry.Status{Rate: 1},
	}
	if err := m.registry.Register(ctx, rec); err != nil {
		_ = s.splitter.Close()
		return nil, fmt.Errorf("register session: %w", err)
	}

	s.start(m.cfg.StatusInterval, m.cfg.HeartbeatInterval)

	m.mu.Lock()
	m.sessions[id] = s
	count := len(m.sessions)
	m.mu.Unlock()
	metrics.SetActiveSessions(count)

	if m.cfg.AutoPlay {
		if err := s.Play(); err != nil {
			log.WithError(err).Warn("Session autoplay failed")
		}
	}

	log.WithFields(map[string]interface{}{
		"format":  rec.Format,
		"streams": len(summaries),
	}).Info("Session opened")
	return s, nil
}

func (m *Manager) reserve() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return ErrClosed
	}
	if len(m.sessions)+m.pending >= m.cfg.MaxSessions {
		return ErrTooManySessions
	}
	m.pending++
	return nil
}

func (m *Manager) unreserve() {
	m.mu.Lock()
	m.pending--
	m.mu.Unlock()
}

// renegotiate is called by the splitter after an audio sink changed
// stream. Session sinks are QueueSinks drained by goroutines, with no
// downstream decoder connection to rebuild, so it only logs the change.
func (s *Session) renegotiate(ctx context.Context, sk sink.Sink, d stream.Descriptor) error {
	s.log.WithFields(map[string]interface{}{
		"kind":   sk.Kind().String(),
		"stream": d.ID,
		"codec":  d.Codec.String(),
	}).Info("Sink renegotiated")
	return nil
}

// Get returns an open session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// List returns the open sessions, oldest first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].createdAt.Before(out[j].createdAt)
	})
	return out
}

// Records lists the sessions known to the registry, including those of
// other hosts when the registry is shared.
func (m *Manager) Records(ctx context.Context) ([]*registry.Session, error) {
	return m.registry.List(ctx)
}

// Close closes and forgets one session.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	metrics.SetActiveSessions(count)
	return s.close(ctx)
}

// StarvationReport returns how many open sessions had starving sinks at
// their last status tick, and the number of open sessions.
func (m *Manager) StarvationReport() (starving, total int) {
	sessions := m.List()
	starvingSinks := 0
	for _, s := range sessions {
		if s.Starving() {
			starving++
		}
		starvingSinks += s.splitter.StarvingCount()
	}
	metrics.SetStarvingSinks(starvingSinks)
	return starving, len(sessions)
}

// Shutdown closes every session concurrently and refuses new ones.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range sessions {
		s := s
		g.Go(func() error {
			return s.close(gctx)
		})
	}
	err := g.Wait()
	metrics.SetActiveSessions(0)
	m.log.WithField("sessions", len(sessions)).Info("Session manager shut down")
	return err
}

func streamRecords(summaries []demux.StreamSummary) []registry.StreamRecord {
	out := make([]registry.StreamRecord, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, registry.StreamRecord{
			Index:    s.Index,
			Kind:     s.Kind,
			Codec:    string(s.Codec.ID),
			Language: s.Language,
			Routed:   s.Enabled,
		})
	}
	return out
}
