package gaze

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"AI_PROCTOR/go-backend/internal/clock"
	"AI_PROCTOR/go-backend/internal/models"

	"golang.org/x/sync/singleflight"
)

var (
	ErrNotInitialized = errors.New("face detector not initialized")
	ErrDisposed       = errors.New("face detector disposed")
)

// Detector is the face-landmark inference capability.
type Detector interface {
	EstimateFaces(ctx context.Context, frame models.VideoFrame) ([]Face, error)
	Close() error
}

// DetectorFactory creates a Detector. It is called at most once per
// Adapter.
type DetectorFactory func(ctx context.Context) (Detector, error)

type Result struct {
	State  models.GazeState
	Sample *models.GazeSample
}

// Adapter owns the process-wide detector. Only the adapter creates and
// disposes it; sessions share it through Classify.
type Adapter struct {
	factory DetectorFactory
	clock   clock.Clock
	logger  *slog.Logger
	group   singleflight.Group

	// ObserveLatency, if set, receives the duration of every inference call.
	ObserveLatency func(time.Duration)

	mu       sync.RWMutex
	detector Detector
	disposed bool
}

func NewAdapter(factory DetectorFactory, clk clock.Clock, logger *slog.Logger) *Adapter {
	return &Adapter{
		factory: factory,
		clock:   clk,
		logger:  logger.With("component", "gaze"),
	}
}

// Init creates the detector once. Concurrent callers share the same
// in-flight creation; a failed creation may be retried.
func (a *Adapter) Init(ctx context.Context) error {
	a.mu.RLock()
	ready, disposed := a.detector != nil, a.disposed
	a.mu.RUnlock()
	if disposed {
		return ErrDisposed
	}
	if ready {
		return nil
	}

	_, err, _ := a.group.Do("init", func() (interface{}, error) {
		a.mu.RLock()
		done := a.detector != nil
		a.mu.RUnlock()
		if done {
			return nil, nil
		}

		det, err := a.factory(ctx)
		if err != nil {
			return nil, fmt.Errorf("create face detector: %w", err)
		}

		a.mu.Lock()
		defer a.mu.Unlock()
		if a.disposed {
			_ = det.Close()
			return nil, ErrDisposed
		}
		a.detector = det
		a.logger.Info("face detection model loaded")
		return nil, nil
	})
	return err
}

func (a *Adapter) Ready() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.detector != nil && !a.disposed
}

// Classify runs inference on one frame. An inference failure yields the
// error state together with the error; it is not a policy violation.
func (a *Adapter) Classify(ctx context.Context, frame models.VideoFrame) (Result, error) {
	a.mu.RLock()
	det, disposed := a.detector, a.disposed
	a.mu.RUnlock()
	switch {
	case disposed:
		return Result{State: models.GazeError}, ErrDisposed
	case det == nil:
		return Result{State: models.GazeError}, ErrNotInitialized
	}

	start := a.clock.Now()
	faces, err := det.EstimateFaces(ctx, frame)
	if a.ObserveLatency != nil {
		a.ObserveLatency(a.clock.Now().Sub(start))
	}
	if err != nil {
		return Result{State: models.GazeError}, fmt.Errorf("estimate faces: %w", err)
	}

	state, sample := Classify(faces, a.clock.Now())
	return Result{State: state, Sample: sample}, nil
}

// Dispose releases the detector. The adapter cannot be initialised again.
func (a *Adapter) Dispose() error {
	a.mu.Lock()
	det := a.detector
	a.detector = nil
	already := a.disposed
	a.disposed = true
	a.mu.Unlock()

	if already || det == nil {
		return nil
	}
	if err := det.Close(); err != nil {
		return fmt.Errorf("dispose face detector: %w", err)
	}
	a.logger.Info("face detection model disposed")
	return nil
}
