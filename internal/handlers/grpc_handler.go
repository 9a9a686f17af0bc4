package handlers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"AI_PROCTOR/go-backend/internal/clock"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ProctorService is the name the backend reports under on the gRPC
// health service.
const ProctorService = "proctor.Proctoring"

// HealthReporter mirrors the inference service's health onto the
// backend's own gRPC health service. Without face landmarks no session
// can classify gaze, so the backend reports NOT_SERVING too.
type HealthReporter struct {
	server   *health.Server
	probe    func(ctx context.Context) bool
	clock    clock.Clock
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	serving bool
	known   bool
	checks  int

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewHealthReporter(server *health.Server, probe func(ctx context.Context) bool, clk clock.Clock, interval time.Duration, logger *slog.Logger) *HealthReporter {
	if clk == nil {
		clk = clock.Real()
	}
	return &HealthReporter{
		server:   server,
		probe:    probe,
		clock:    clk,
		interval: interval,
		logger:   logger.With("component", "grpc_health"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run probes once immediately and then every interval until Stop or ctx
// is done.
func (r *HealthReporter) Run(ctx context.Context) {
	defer close(r.done)

	r.check(ctx)
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			r.check(ctx)
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (r *HealthReporter) check(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	ok := r.probe != nil && r.probe(ctx)

	r.mu.Lock()
	changed := !r.known || r.serving != ok
	r.known = true
	r.serving = ok
	r.checks++
	r.mu.Unlock()

	if !changed {
		return
	}
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
		r.logger.Info("face mesh service is healthy")
	} else {
		r.logger.Warn("face mesh service is unavailable")
	}
	r.server.SetServingStatus(ProctorService, status)
	r.server.SetServingStatus("", status)
}

// Serving reports the last observed state.
func (r *HealthReporter) Serving() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.serving
}

// Checks returns how many probes have completed.
func (r *HealthReporter) Checks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.checks
}

// Done is closed when Run returns.
func (r *HealthReporter) Done() <-chan struct{} {
	return r.done
}

// Stop ends Run and reports NOT_SERVING for every service from then on.
func (r *HealthReporter) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
		r.server.Shutdown()
	})
}
