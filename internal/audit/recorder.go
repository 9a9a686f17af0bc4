package audit

import "sync"

// Record is one emission captured by a Recorder.
type Record struct {
	UserID    int
	EventType EventType
	EventData map[string]any
	Reason    string
	Violation bool
}

// Recorder is an Emitter that keeps every emission in memory, in order.
type Recorder struct {
	mu      sync.Mutex
	records []Record
}

func (r *Recorder) Event(userID int, eventType EventType, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, Record{UserID: userID, EventType: eventType, EventData: data})
}

func (r *Recorder) Violation(userID int, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, Record{UserID: userID, Reason: reason, Violation: true})
}

func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Count returns how many events of the given type were emitted.
func (r *Recorder) Count(eventType EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records {
		if !rec.Violation && rec.EventType == eventType {
			n++
		}
	}
	return n
}
