package bridge

import (
	"encoding/json"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/RazvanDard/openai-realtime-twilio-demo/pkg/wslink"
)

// newTestLink wraps a fake connection in a write pump the way the leg
// handlers do.
func newTestLink(conn *fakeConn) *wslink.Link {
	return wslink.New(conn)
}

// fakeConn is an in-memory duplex websocket for driving the bridge's
// read loops in tests.
type fakeConn struct {
	mu     sync.Mutex
	frames chan []byte
	writes [][]byte
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 32)}
}

func (c *fakeConn) push(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	c.frames <- data
}

func (c *fakeConn) pushRaw(raw string) {
	c.frames <- []byte(raw)
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-c.frames
	if !ok {
		return 0, nil, io.EOF
	}
	return 1, data, nil
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	return nil
}

func (c *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.frames)
	}
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// written returns decoded JSON copies of everything written so far.
func (c *fakeConn) written() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.writes))
	for _, w := range c.writes {
		var m map[string]any
		if err := json.Unmarshal(w, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

type truncation struct {
	itemID string
	endMs  int64
}

type functionOutput struct {
	callID string
	output string
}

// fakeModel is a call-tracking ModelLink.
type fakeModel struct {
	mu sync.Mutex

	open   bool
	closed bool

	appended  []string
	truncated []truncation
	cleared   int
	notices   []string
	outputs   []functionOutput
	responses int
	updates   []map[string]any
	forwarded [][]byte
}

func newFakeModel(open bool) *fakeModel {
	return &fakeModel{open: open}
}

func (m *fakeModel) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open && !m.closed
}

func (m *fakeModel) AppendAudio(audioB64 string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appended = append(m.appended, audioB64)
	return nil
}

func (m *fakeModel) TruncateItem(itemID string, audioEndMs int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.truncated = append(m.truncated, truncation{itemID: itemID, endMs: audioEndMs})
	return nil
}

func (m *fakeModel) ClearInputBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared++
	return nil
}

func (m *fakeModel) CreateSystemNotice(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices = append(m.notices, text)
	return nil
}

func (m *fakeModel) CreateFunctionOutput(callID, output string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs = append(m.outputs, functionOutput{callID: callID, output: output})
	return nil
}

func (m *fakeModel) CreateResponse() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses++
	return nil
}

func (m *fakeModel) UpdateSession(overrides map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, overrides)
	return nil
}

func (m *fakeModel) Forward(raw []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(raw))
	copy(cp, raw)
	m.forwarded = append(m.forwarded, cp)
	return nil
}

func (m *fakeModel) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.open = false
}

func (m *fakeModel) appendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.appended)
}

// modelState is a lock-free copy of a fakeModel's recorded calls.
type modelState struct {
	open   bool
	closed bool

	appended  []string
	truncated []truncation
	cleared   int
	notices   []string
	outputs   []functionOutput
	responses int
	updates   []map[string]any
	forwarded [][]byte
}

func (m *fakeModel) snapshot() modelState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return modelState{
		open:      m.open,
		closed:    m.closed,
		appended:  append([]string(nil), m.appended...),
		truncated: append([]truncation(nil), m.truncated...),
		cleared:   m.cleared,
		notices:   append([]string(nil), m.notices...),
		outputs:   append([]functionOutput(nil), m.outputs...),
		responses: m.responses,
		updates:   append([]map[string]any(nil), m.updates...),
		forwarded: append([][]byte(nil), m.forwarded...),
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
