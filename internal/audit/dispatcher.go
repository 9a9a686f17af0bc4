package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var ErrDispatcherClosed = errors.New("audit dispatcher closed")

type job struct {
	event     *Event
	userID    int
	reason    string
	violation bool
}

// Dispatcher persists events on one background goroutine, preserving
// emission order. Emit calls never block: when the queue is full the
// event is dropped and logged.
type Dispatcher struct {
	sink    Auditor
	queue   chan job
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time

	// OnFailure, if set, is called for every failed or dropped emission.
	OnFailure func(error)

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func NewDispatcher(sink Auditor, queueSize int, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	d := &Dispatcher{
		sink:    sink,
		queue:   make(chan job, queueSize),
		timeout: timeout,
		logger:  logger.With("component", "audit"),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) Event(userID int, eventType EventType, data map[string]any) {
	d.enqueue(job{event: &Event{
		UserID:    userID,
		EventType: eventType,
		EventData: data,
		CreatedAt: d.now(),
	}})
}

func (d *Dispatcher) Violation(userID int, reason string) {
	d.enqueue(job{userID: userID, reason: reason, violation: true})
}

func (d *Dispatcher) enqueue(j job) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.fail(ErrDispatcherClosed, j)
		return
	}
	select {
	case d.queue <- j:
	default:
		d.fail(errors.New("audit queue full"), j)
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for j := range d.queue {
		d.deliver(j)
	}
}

func (d *Dispatcher) deliver(j job) {
	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	var err error
	if j.violation {
		err = d.sink.LogViolation(ctx, j.userID, j.reason)
	} else {
		err = d.sink.LogEvent(ctx, *j.event)
	}
	if err != nil {
		d.fail(err, j)
	}
}

func (d *Dispatcher) fail(err error, j job) {
	if j.violation {
		d.logger.Error("failed to log violation", "user_id", j.userID, "error", err)
	} else {
		d.logger.Error("failed to log event", "user_id", j.event.UserID, "event_type", string(j.event.EventType), "error", err)
	}
	if d.OnFailure != nil {
		d.OnFailure(err)
	}
}

// Close stops accepting events and waits for the queue to drain or ctx
// to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
