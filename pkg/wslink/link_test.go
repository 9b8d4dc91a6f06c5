package wslink

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (c *recordingConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.frames = append(c.frames, cp)
	return nil
}

func (c *recordingConn) SetWriteDeadline(t time.Time) error { return nil }

func (c *recordingConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *recordingConn) frameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func TestWriteJSONThroughPump(t *testing.T) {
	conn := &recordingConn{}
	l := New(conn)
	defer l.Close()

	if err := l.WriteJSON(map[string]string{"event": "media"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for conn.frameCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if conn.frameCount() != 1 {
		t.Fatalf("frames = %d, want 1", conn.frameCount())
	}

	conn.mu.Lock()
	got := string(conn.frames[0])
	conn.mu.Unlock()
	if got != `{"event":"media"}` {
		t.Errorf("frame = %s", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	conn := &recordingConn{}
	l := New(conn)

	l.Close()
	l.Close()

	if !l.Closed() {
		t.Error("Closed() = false after Close")
	}
	conn.mu.Lock()
	closed := conn.closed
	conn.mu.Unlock()
	if !closed {
		t.Error("underlying connection not closed")
	}

	if err := l.WriteText([]byte("late")); !errors.Is(err, ErrClosed) {
		t.Errorf("write after close = %v, want ErrClosed", err)
	}
}

func TestBackpressureRejectsInsteadOfBlocking(t *testing.T) {
	// A conn whose writes never complete, so the pump stalls and the
	// send buffer fills.
	blocked := make(chan struct{})
	conn := &stallingConn{release: blocked}
	l := New(conn)
	defer func() {
		close(blocked)
		l.Close()
	}()

	var backpressured bool
	for i := 0; i < sendBuffer+2; i++ {
		if err := l.WriteText([]byte("x")); errors.Is(err, ErrBackpressure) {
			backpressured = true
			break
		}
	}
	if !backpressured {
		t.Error("no backpressure error after overfilling the send buffer")
	}
}

type stallingConn struct {
	release chan struct{}
}

func (c *stallingConn) WriteMessage(messageType int, data []byte) error {
	<-c.release
	return nil
}

func (c *stallingConn) SetWriteDeadline(t time.Time) error { return nil }
func (c *stallingConn) Close() error                       { return nil }
