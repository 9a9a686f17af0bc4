package cursor

import (
	"sync/atomic"
	"testing"
	"time"

	"AI_PROCTOR/go-backend/internal/audit"
	"AI_PROCTOR/go-backend/internal/clock"
	"AI_PROCTOR/go-backend/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingEvictsOldest(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 3, r.Cap())
	assert.Equal(t, []int{3, 4, 5}, r.Tail(0))
	assert.Equal(t, []int{4, 5}, r.Tail(2))
	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, 5, last)

	r.Reset()
	_, ok = r.Last()
	assert.False(t, ok)
	assert.Empty(t, r.Tail(0))
	assert.Equal(t, 3, r.Cap())
	assert.Equal(t, 1, NewRing[int](0).Cap())
}

func newSampler(userID int) (*Sampler, *clock.Fake, *audit.Recorder, *atomic.Bool) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	rec := &audit.Recorder{}
	var blocked atomic.Bool
	s := NewSampler(Config{Capacity: 100, FlushInterval: 5 * time.Second}, clk, rec, userID, blocked.Load, logging.Discard())
	return s, clk, rec, &blocked
}

func TestSamplerBufferBounded(t *testing.T) {
	s, clk, _, _ := newSampler(1)
	s.Start()

	for i := 0; i < 250; i++ {
		require.True(t, s.Record(float64(i), float64(i*2)))
		clk.Advance(time.Millisecond)
	}

	assert.Equal(t, 100, s.Len())
	all := s.Recent(0)
	require.Len(t, all, 100)
	assert.Equal(t, 150.0, all[0].X)
	assert.Equal(t, 249.0, all[99].X)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i].Timestamp.After(all[i-1].Timestamp))
	}

	last := s.Recent(10)
	require.Len(t, last, 10)
	assert.Equal(t, 240.0, last[0].X)
}

func TestSamplerAuditThrottled(t *testing.T) {
	s, clk, rec, _ := newSampler(42)
	s.Start()

	// 1kHz pointer events for 12 seconds.
	for i := 0; i < 12000; i++ {
		s.Record(float64(i%800), 300)
		clk.Advance(time.Millisecond)
	}

	records := rec.Records()
	require.Len(t, records, 3)
	for _, r := range records {
		assert.Equal(t, audit.EventCursorTracking, r.EventType)
		assert.Equal(t, 42, r.UserID)
	}

	pos := records[1].EventData["position"].(map[string]any)
	assert.Equal(t, float64(5000%800), pos["x"])
	assert.Equal(t, 300.0, pos["y"])
}

func TestSamplerFlushCarriesNewestSample(t *testing.T) {
	s, clk, rec, _ := newSampler(42)
	s.Start()

	s.Record(1, 1)
	clk.Advance(4 * time.Second)
	s.Record(2, 2)
	clk.Advance(time.Second)
	s.Record(3, 3)

	records := rec.Records()
	require.Len(t, records, 2)
	pos := records[1].EventData["position"].(map[string]any)
	assert.Equal(t, 3.0, pos["x"])
	assert.Equal(t, clk.Now().UnixMilli(), pos["timestamp"])
}

func TestSamplerStopsWhenBlocked(t *testing.T) {
	s, _, rec, blocked := newSampler(42)
	s.Start()
	s.Record(1, 1)

	blocked.Store(true)
	assert.False(t, s.Record(2, 2))
	assert.False(t, s.Running())
	assert.Equal(t, 0, s.Len())
	assert.Len(t, rec.Records(), 1)

	s.Start()
	assert.False(t, s.Running(), "a blocked session cannot restart tracking")
}

func TestSamplerIgnoresWhenStopped(t *testing.T) {
	s, _, rec, _ := newSampler(42)
	assert.False(t, s.Record(1, 1))

	s.Start()
	s.Record(1, 1)
	s.Stop()
	s.Stop()
	assert.False(t, s.Record(2, 2))
	assert.Equal(t, 0, s.Len())
	assert.Len(t, rec.Records(), 1)
}

func TestSamplerAnonymousSkipsAudit(t *testing.T) {
	s, _, rec, _ := newSampler(0)
	s.Start()
	s.Record(5, 5)
	assert.Equal(t, 1, s.Len())
	assert.Empty(t, rec.Records())
}
