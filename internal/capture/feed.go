package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"AI_PROCTOR/go-backend/internal/models"
)

var (
	ErrStreamClosed   = errors.New("stream closed")
	ErrDeviceDetached = errors.New("device detached")
)

// Commander sends a capture command to the remote end that owns the
// physical camera.
type Commander func(msgType string, payload any) error

// FeedDevice is a Device whose camera lives on the other side of a
// transport. Open asks the remote end to start its camera and waits for
// Granted or Fail; frames are pushed in as they arrive.
type FeedDevice struct {
	send Commander

	mu       sync.Mutex
	pending  *feedStream
	current  *feedStream
	detached bool
}

func NewFeedDevice(send Commander) *FeedDevice {
	return &FeedDevice{send: send}
}

func (d *FeedDevice) Open(ctx context.Context, c Constraints) (Stream, error) {
	d.mu.Lock()
	if d.detached {
		d.mu.Unlock()
		return nil, &DeviceError{Name: "NotFoundError", Message: ErrDeviceDetached.Error()}
	}
	if d.current != nil || d.pending != nil {
		d.mu.Unlock()
		return nil, &DeviceError{Name: "NotReadableError", Message: "stream already open"}
	}
	s := newFeedStream(d)
	d.pending = s
	d.mu.Unlock()

	if err := d.send(models.MsgStartCapture, c); err != nil {
		d.drop(s)
		return nil, fmt.Errorf("send start capture: %w", err)
	}

	select {
	case <-s.granted:
		d.mu.Lock()
		if d.pending == s {
			d.pending = nil
			d.current = s
		}
		d.mu.Unlock()
		return s, nil
	case err := <-s.failed:
		d.drop(s)
		return nil, err
	case <-ctx.Done():
		d.drop(s)
		return nil, ctx.Err()
	}
}

func (d *FeedDevice) drop(s *feedStream) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == s {
		d.pending = nil
	}
	if d.current == s {
		d.current = nil
	}
}

// Granted reports that the remote end obtained its camera.
func (d *FeedDevice) Granted() {
	d.mu.Lock()
	s := d.pending
	d.mu.Unlock()
	if s != nil {
		s.grant()
	}
}

// Fail reports that the remote end could not obtain its camera.
func (d *FeedDevice) Fail(name, message string) {
	d.mu.Lock()
	s := d.pending
	d.mu.Unlock()
	if s == nil {
		return
	}
	select {
	case s.failed <- &DeviceError{Name: name, Message: message}:
	default:
	}
}

// PushFrame delivers a frame. A frame arriving before Granted counts as
// the grant.
func (d *FeedDevice) PushFrame(frame models.VideoFrame) {
	d.mu.Lock()
	s := d.current
	if s == nil {
		s = d.pending
	}
	d.mu.Unlock()
	if s == nil {
		return
	}
	s.grant()
	s.push(frame)
}

// Detach ends any open stream because the transport went away. Later
// Opens fail as device-not-found.
func (d *FeedDevice) Detach() {
	d.mu.Lock()
	d.detached = true
	pending, current := d.pending, d.current
	d.pending, d.current = nil, nil
	d.mu.Unlock()

	if pending != nil {
		select {
		case pending.failed <- &DeviceError{Name: "NotFoundError", Message: ErrDeviceDetached.Error()}:
		default:
		}
	}
	if current != nil {
		current.end()
	}
}

func (d *FeedDevice) release(s *feedStream) error {
	d.mu.Lock()
	owned := d.current == s || d.pending == s
	if d.current == s {
		d.current = nil
	}
	if d.pending == s {
		d.pending = nil
	}
	d.mu.Unlock()
	if !owned {
		return nil
	}
	return d.send(models.MsgStopCapture, nil)
}

type feedStream struct {
	dev *FeedDevice

	mu       sync.Mutex
	latest   models.VideoFrame
	hasFrame bool

	granted   chan struct{}
	grantOnce sync.Once
	ready     chan struct{}
	readyOnce sync.Once
	failed    chan error
	done      chan struct{}
	doneOnce  sync.Once
}

func newFeedStream(d *FeedDevice) *feedStream {
	return &feedStream{
		dev:     d,
		granted: make(chan struct{}),
		ready:   make(chan struct{}),
		failed:  make(chan error, 1),
		done:    make(chan struct{}),
	}
}

func (s *feedStream) grant() {
	s.grantOnce.Do(func() { close(s.granted) })
}

func (s *feedStream) push(frame models.VideoFrame) {
	s.mu.Lock()
	s.latest = frame
	s.hasFrame = true
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })
}

// Ready returns once the first frame has arrived.
func (s *feedStream) Ready(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-s.done:
		return ErrStreamClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *feedStream) Frame() (models.VideoFrame, bool) {
	select {
	case <-s.done:
		return models.VideoFrame{}, false
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.hasFrame
}

func (s *feedStream) Done() <-chan struct{} { return s.done }

func (s *feedStream) end() bool {
	ended := false
	s.doneOnce.Do(func() {
		close(s.done)
		ended = true
	})
	return ended
}

func (s *feedStream) Close() error {
	if !s.end() {
		return ErrStreamClosed
	}
	return s.dev.release(s)
}
