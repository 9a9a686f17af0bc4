package terminator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"AI_PROCTOR/go-backend/internal/audit"
	"AI_PROCTOR/go-backend/internal/clock"
	"AI_PROCTOR/go-backend/internal/logging"
	"AI_PROCTOR/go-backend/internal/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// journal records every collaborator call in order.
type journal struct {
	mu    sync.Mutex
	steps []string
}

func (j *journal) add(step string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.steps = append(j.steps, step)
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.steps...)
}

func (j *journal) Event(userID int, eventType audit.EventType, data map[string]any) {
	j.add(fmt.Sprintf("event:%d:%s:%v", userID, eventType, data["reason"]))
}

func (j *journal) Violation(userID int, reason string) {
	j.add(fmt.Sprintf("violation:%d:%s", userID, reason))
}

type identity struct {
	j       *journal
	id      int
	signErr error
}

func (i *identity) UserID() int { return i.id }

func (i *identity) SignOut(context.Context) error {
	i.j.add("sign_out")
	return i.signErr
}

func newTerminator(j *journal, clk clock.Clock, userID int, signErr error) *Terminator {
	return New(Config{Delay: 3 * time.Second, LoginPath: "/login"}, Deps{
		MarkBlocked: func() { j.add("mark_blocked") },
		StopCapture: func() { j.add("stop_capture") },
		Emitter:     j,
		Notifier: notify.Func(func(msg string, sev notify.Severity) {
			j.add(fmt.Sprintf("notify:%s:%s", sev, msg))
		}),
		Identity:   &identity{j: j, id: userID, signErr: signErr},
		Redirector: RedirectFunc(func(path string) { j.add("redirect:" + path) }),
	}, clk, logging.Discard())
}

func TestTerminateSequence(t *testing.T) {
	j := &journal{}
	clk := clock.NewFake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	term := newTerminator(j, clk, 12, nil)

	term.Terminate(ReasonEyeContact)

	immediate := []string{
		"mark_blocked",
		"stop_capture",
		"violation:12:Repeated eye contact violations (3 warnings)",
		"event:12:user_blocked:eye_contact_violations",
		"notify:error:You have been removed for repeatedly breaking interview monitoring rules.",
	}
	assert.Equal(t, immediate, j.all())

	clk.Advance(3*time.Second - time.Millisecond)
	assert.Equal(t, immediate, j.all(), "sign-out must not happen before the delay")
	select {
	case <-term.Done():
		t.Fatal("done before redirect")
	default:
	}

	clk.Advance(time.Millisecond)
	assert.Equal(t, append(immediate, "sign_out", "redirect:/login"), j.all())
	select {
	case <-term.Done():
	default:
		t.Fatal("done not closed after redirect")
	}
}

func TestTerminateRunsOnce(t *testing.T) {
	j := &journal{}
	clk := clock.NewFake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	term := newTerminator(j, clk, 12, nil)

	term.Terminate(ReasonEyeContact)
	term.Terminate(ReasonEyeContact)
	assert.True(t, term.Triggered())
	assert.Equal(t, 1, clk.Pending())

	clk.Advance(10 * time.Second)
	term.Terminate(ReasonEyeContact)

	count := 0
	for _, s := range j.all() {
		if s == "sign_out" {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Len(t, j.all(), 7)
}

func TestSignOutFailureStillRedirects(t *testing.T) {
	j := &journal{}
	clk := clock.NewFake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	term := newTerminator(j, clk, 12, errors.New("session store down"))

	term.Terminate(ReasonEyeContact)
	clk.Advance(3 * time.Second)

	steps := j.all()
	require.NotEmpty(t, steps)
	assert.Equal(t, "redirect:/login", steps[len(steps)-1])
}

func TestAnonymousSkipsAudit(t *testing.T) {
	j := &journal{}
	clk := clock.NewFake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	term := newTerminator(j, clk, 0, nil)

	term.Terminate(ReasonEyeContact)
	clk.Advance(3 * time.Second)

	for _, s := range j.all() {
		assert.NotContains(t, s, "violation:")
		assert.NotContains(t, s, "event:")
	}
	assert.Contains(t, j.all(), "redirect:/login")
}

func TestAuditFailuresDoNotBlockRedirect(t *testing.T) {
	failing := &failingAuditor{}
	d := audit.NewDispatcher(failing, 8, time.Second, logging.Discard())
	defer d.Close(context.Background())

	j := &journal{}
	clk := clock.NewFake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	term := New(Config{}, Deps{
		Emitter:    d,
		Notifier:   &notify.Recorder{},
		Identity:   &identity{j: j, id: 12},
		Redirector: RedirectFunc(func(path string) { j.add("redirect:" + path) }),
	}, clk, logging.Discard())

	term.Terminate(ReasonEyeContact)
	clk.Advance(DefaultDelay)

	assert.Equal(t, []string{"sign_out", "redirect:/login"}, j.all())
}

func TestCloseDuringDelaySignsOutWithoutRedirect(t *testing.T) {
	j := &journal{}
	clk := clock.NewFake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	term := newTerminator(j, clk, 12, nil)

	term.Terminate(ReasonEyeContact)
	clk.Advance(time.Second)
	term.Close()

	steps := j.all()
	require.NotEmpty(t, steps)
	assert.Equal(t, "sign_out", steps[len(steps)-1])
	assert.Equal(t, 0, clk.Pending())
	select {
	case <-term.Done():
	default:
		t.Fatal("done not closed by Close")
	}

	clk.Advance(time.Minute)
	term.Close()
	assert.Equal(t, steps, j.all(), "no second sign-out and no redirect")
	assert.NotContains(t, j.all(), "redirect:/login")
}

func TestCloseAfterRedirectDoesNotSignOutAgain(t *testing.T) {
	j := &journal{}
	clk := clock.NewFake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	term := newTerminator(j, clk, 12, nil)

	term.Terminate(ReasonEyeContact)
	clk.Advance(3 * time.Second)
	term.Close()

	count := 0
	for _, step := range j.all() {
		if step == "sign_out" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestCloseBeforeTerminateSkipsSignOut(t *testing.T) {
	j := &journal{}
	clk := clock.NewFake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	term := newTerminator(j, clk, 12, nil)

	term.Close()
	clk.Advance(time.Minute)
	assert.NotContains(t, j.all(), "sign_out")
}

func TestTerminateAfterCloseIsNoOp(t *testing.T) {
	j := &journal{}
	clk := clock.NewFake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	term := newTerminator(j, clk, 12, nil)

	term.Close()
	term.Terminate(ReasonEyeContact)
	assert.Empty(t, j.all())
}

type failingAuditor struct{}

func (failingAuditor) LogEvent(context.Context, audit.Event) error {
	return errors.New("connection refused")
}

func (failingAuditor) LogViolation(context.Context, int, string) error {
	return errors.New("connection refused")
}
