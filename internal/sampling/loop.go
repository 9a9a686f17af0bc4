// Package sampling drives gaze classification once per display tick
// while the camera is active.
package sampling

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"AI_PROCTOR/go-backend/internal/clock"
	"AI_PROCTOR/go-backend/internal/gaze"
	"AI_PROCTOR/go-backend/internal/models"
)

type FrameSource interface {
	IsActive() bool
	Frame() (models.VideoFrame, bool)
}

type Classifier interface {
	Classify(ctx context.Context, frame models.VideoFrame) (gaze.Result, error)
}

// Sink receives classification results in production order.
type Sink interface {
	Observe(state models.GazeState)
}

type SinkFunc func(models.GazeState)

func (f SinkFunc) Observe(s models.GazeState) { f(s) }

type Loop struct {
	clock      clock.Clock
	interval   time.Duration
	source     FrameSource
	classifier Classifier
	sink       Sink
	blocked    func() bool
	logger     *slog.Logger

	mu      sync.Mutex
	current *run
	done    chan struct{}
}

type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLoop builds a loop. blocked is consulted before every iteration;
// once it reports true the loop exits for good.
func NewLoop(clk clock.Clock, interval time.Duration, source FrameSource, classifier Classifier, sink Sink, blocked func() bool, logger *slog.Logger) *Loop {
	return &Loop{
		clock:      clk,
		interval:   interval,
		source:     source,
		classifier: classifier,
		sink:       sink,
		blocked:    blocked,
		logger:     logger.With("component", "sampling"),
	}
}

// Start launches the loop unless it is already running.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	r := &run{cancel: cancel, done: make(chan struct{})}
	prev := l.done
	l.current = r
	l.done = r.done
	go l.run(runCtx, r, prev)
}

// Stop cancels the next iteration. It does not wait, so it is safe to
// call from inside the sink.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current != nil {
		l.current.cancel()
		l.current = nil
	}
}

func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current != nil
}

// Done is closed when the most recently started run has exited. It is
// nil if the loop was never started.
func (l *Loop) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

func (l *Loop) run(ctx context.Context, r *run, prev <-chan struct{}) {
	defer close(r.done)
	defer l.finish(r)

	// A stopped run may still be inside Classify; never overlap with it.
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return
		}
	}

	ticker := l.clock.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Debug("gaze sampling started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}
		if !l.step(ctx) {
			return
		}
	}
}

// step runs one iteration and reports whether another may be scheduled.
func (l *Loop) step(ctx context.Context) bool {
	if ctx.Err() != nil || l.blocked() || !l.source.IsActive() {
		return false
	}

	frame, ok := l.source.Frame()
	if ok {
		res, err := l.classifier.Classify(ctx, frame)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			l.logger.Warn("error detecting face", "error", err)
		}
		if ctx.Err() != nil {
			return false
		}
		l.sink.Observe(res.State)
	}

	return ctx.Err() == nil && !l.blocked() && l.source.IsActive()
}

// finish clears the running state if r is still the current run, so a
// loop that exited on its own can be started again.
func (l *Loop) finish(r *run) {
	r.cancel()
	l.mu.Lock()
	if l.current == r {
		l.current = nil
	}
	l.mu.Unlock()
	l.logger.Debug("gaze sampling stopped")
}
