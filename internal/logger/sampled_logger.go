package logger

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Demux worker log categories.
const (
	CategoryPacketDrop = "packet_drop"
	CategoryReadRetry  = "read_retry"
	CategoryTiming     = "timing"
)

// SamplerConfig bounds one category. Burst entries pass at once, after that
// one entry per Interval. Over budget, every Every-th entry still passes;
// zero drops them all.
type SamplerConfig struct {
	Interval time.Duration
	Burst    int
	Every    int64
}

// SamplerStats counts what a category saw.
type SamplerStats struct {
	Seen       int64 `json:"seen"`
	Logged     int64 `json:"logged"`
	Suppressed int64 `json:"suppressed"`
}

type sampler struct {
	limiter *rate.Limiter
	every   int64

	seen       atomic.Int64
	logged     atomic.Int64
	suppressed atomic.Int64
	overflow   atomic.Int64
	pending    atomic.Int64 // suppressed since the last logged entry
}

// allow reports whether an entry passes and, if so, how many were
// suppressed since the previous one.
func (s *sampler) allow(now time.Time) (bool, int64) {
	s.seen.Add(1)
	pass := s.limiter.AllowN(now, 1)
	if !pass && s.every > 0 {
		pass = s.overflow.Add(1)%s.every == 0
	}
	if !pass {
		s.suppressed.Add(1)
		s.pending.Add(1)
		return false, 0
	}
	s.logged.Add(1)
	return true, s.pending.Swap(0)
}

type samplerSet struct {
	mu  sync.RWMutex
	m   map[string]*sampler
	now func() time.Time
}

func (set *samplerSet) get(category string) *sampler {
	set.mu.RLock()
	defer set.mu.RUnlock()
	return set.m[category]
}

// SampledLogger is a Logger whose categorized entries are rate limited.
// Uncategorized calls go straight to the embedded Logger. Loggers derived
// with WithField and friends share the samplers.
type SampledLogger struct {
	Logger
	set *samplerSet
}

func NewSampledLogger(base Logger) *SampledLogger {
	return &SampledLogger{
		Logger: base,
		set:    &samplerSet{m: make(map[string]*sampler), now: time.Now},
	}
}

// WithSampler limits category according to cfg. Categories without a
// sampler are never limited.
func (s *SampledLogger) WithSampler(category string, cfg SamplerConfig) *SampledLogger {
	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	s.set.mu.Lock()
	s.set.m[category] = &sampler{limiter: rate.NewLimiter(limit, burst), every: cfg.Every}
	s.set.mu.Unlock()
	return s
}

func (s *SampledLogger) logCategory(level logrus.Level, category, msg string, fields map[string]interface{}) {
	out := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		out[k] = v
	}
	out["category"] = category

	if sm := s.set.get(category); sm != nil && level > logrus.ErrorLevel {
		ok, skipped := sm.allow(s.set.now())
		if !ok {
			return
		}
		if skipped > 0 {
			out["suppressed"] = skipped
		}
	}
	s.Logger.WithFields(out).Log(level, msg)
}

func (s *SampledLogger) DebugWithCategory(category, msg string, fields map[string]interface{}) {
	s.logCategory(logrus.DebugLevel, category, msg, fields)
}

func (s *SampledLogger) InfoWithCategory(category, msg string, fields map[string]interface{}) {
	s.logCategory(logrus.InfoLevel, category, msg, fields)
}

func (s *SampledLogger) WarnWithCategory(category, msg string, fields map[string]interface{}) {
	s.logCategory(logrus.WarnLevel, category, msg, fields)
}

// ErrorWithCategory is never sampled.
func (s *SampledLogger) ErrorWithCategory(category, msg string, fields map[string]interface{}) {
	s.logCategory(logrus.ErrorLevel, category, msg, fields)
}

// Stats returns counters for every configured category.
func (s *SampledLogger) Stats() map[string]SamplerStats {
	s.set.mu.RLock()
	defer s.set.mu.RUnlock()

	stats := make(map[string]SamplerStats, len(s.set.m))
	for name, sm := range s.set.m {
		stats[name] = SamplerStats{
			Seen:       sm.seen.Load(),
			Logged:     sm.logged.Load(),
			Suppressed: sm.suppressed.Load(),
		}
	}
	return stats
}

func (s *SampledLogger) WithFields(fields map[string]interface{}) Logger {
	return &SampledLogger{Logger: s.Logger.WithFields(fields), set: s.set}
}

func (s *SampledLogger) WithField(key string, value interface{}) Logger {
	return &SampledLogger{Logger: s.Logger.WithField(key, value), set: s.set}
}

func (s *SampledLogger) WithError(err error) Logger {
	return &SampledLogger{Logger: s.Logger.WithError(err), set: s.set}
}

// NewDemuxLogger returns the sampled logger used by the demux worker, whose
// per packet events can fire thousands of times a second.
func NewDemuxLogger(base Logger) *SampledLogger {
	return NewSampledLogger(base).
		WithSampler(CategoryPacketDrop, SamplerConfig{Interval: 100 * time.Millisecond, Burst: 5, Every: 20}).
		WithSampler(CategoryReadRetry, SamplerConfig{Interval: 500 * time.Millisecond, Burst: 1, Every: 100}).
		WithSampler(CategoryTiming, SamplerConfig{Interval: time.Second, Burst: 2})
}
