package history

import "sync"

// Call records one invocation on the mock recorder.
type Call struct {
	Method    string
	CallID    string
	UserID    string
	Number    string
	Direction string
	Status    string
	EventType string
	Speaker   string
	Content   string
}

// Mock is a Recorder that tracks calls for tests.
type Mock struct {
	mu    sync.Mutex
	calls []Call
}

// NewMock creates a call-tracking mock recorder.
func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) StartTracking(callID, userID, number, direction string) {
	m.record(Call{Method: "StartTracking", CallID: callID, UserID: userID, Number: number, Direction: direction})
}

func (m *Mock) UpdateStatus(callID, status string) {
	m.record(Call{Method: "UpdateStatus", CallID: callID, Status: status})
}

func (m *Mock) RecordEvent(callID, eventType, speaker, content string, metadata map[string]any) {
	m.record(Call{Method: "RecordEvent", CallID: callID, EventType: eventType, Speaker: speaker, Content: content})
}

func (m *Mock) EndTracking(callID string) {
	m.record(Call{Method: "EndTracking", CallID: callID})
}

// Calls returns a copy of all recorded invocations.
func (m *Mock) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears tracked calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

func (m *Mock) record(c Call) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
}
