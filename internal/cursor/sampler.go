// Package cursor samples candidate pointer movement into a bounded
// buffer and periodically audits the newest position.
package cursor

import (
	"log/slog"
	"sync"
	"time"

	"AI_PROCTOR/go-backend/internal/audit"
	"AI_PROCTOR/go-backend/internal/clock"
	"AI_PROCTOR/go-backend/internal/models"

	"golang.org/x/time/rate"
)

type Config struct {
	Capacity int
	// FlushInterval is the minimum spacing between two audited samples.
	FlushInterval time.Duration
}

// Sampler is the only writer of the cursor buffer.
type Sampler struct {
	clock   clock.Clock
	emitter audit.Emitter
	userID  int
	blocked func() bool
	logger  *slog.Logger

	mu      sync.Mutex
	ring    *Ring[models.CursorSample]
	limiter *rate.Limiter
	every   time.Duration
	running bool

	// OnSample, if set, is called for every accepted sample.
	OnSample func()
}

// NewSampler builds a stopped sampler. blocked is checked on every
// sample; once it reports true the sampler stops itself.
func NewSampler(cfg Config, clk clock.Clock, emitter audit.Emitter, userID int, blocked func() bool, logger *slog.Logger) *Sampler {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	return &Sampler{
		clock:   clk,
		emitter: emitter,
		userID:  userID,
		blocked: blocked,
		logger:  logger.With("component", "cursor", "user_id", userID),
		ring:    NewRing[models.CursorSample](cfg.Capacity),
		every:   cfg.FlushInterval,
	}
}

func (s *Sampler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.blocked() {
		return
	}
	s.running = true
	s.limiter = rate.NewLimiter(rate.Every(s.every), 1)
	s.logger.Debug("cursor tracking started")
}

// Stop unsubscribes. Buffered samples are discarded.
func (s *Sampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Sampler) stopLocked() {
	if !s.running {
		return
	}
	s.running = false
	s.ring.Reset()
	s.logger.Debug("cursor tracking stopped")
}

func (s *Sampler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Record appends one pointer position. It reports whether the sample
// was accepted.
func (s *Sampler) Record(x, y float64) bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	if s.blocked() {
		s.stopLocked()
		s.mu.Unlock()
		return false
	}

	now := s.clock.Now()
	sample := models.CursorSample{X: x, Y: y, Timestamp: now}
	s.ring.Push(sample)
	flush := s.userID != 0 && s.limiter.AllowN(now, 1)
	s.mu.Unlock()

	if s.OnSample != nil {
		s.OnSample()
	}
	if flush {
		s.emitter.Event(s.userID, audit.EventCursorTracking, map[string]any{
			"position": map[string]any{
				"x":         sample.X,
				"y":         sample.Y,
				"timestamp": sample.Timestamp.UnixMilli(),
			},
		})
	}
	return true
}

// Recent returns up to n newest samples in arrival order.
func (s *Sampler) Recent(n int) []models.CursorSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.Tail(n)
}

func (s *Sampler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.Len()
}
