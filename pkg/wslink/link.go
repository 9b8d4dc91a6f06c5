// Package wslink wraps a websocket connection in a single writer
// goroutine so audio frames, control frames and pings coming from
// different goroutines never interleave on the wire.
package wslink

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is how long to wait for a write to complete
	writeWait = 10 * time.Second

	// pingPeriod is how often to ping the peer
	pingPeriod = 30 * time.Second

	// sendBuffer bounds queued outbound frames; a realtime peer that
	// falls this far behind is not worth waiting for
	sendBuffer = 256
)

// ErrClosed is returned for writes on a closed link.
var ErrClosed = errors.New("wslink: link closed")

// ErrBackpressure is returned when the peer cannot keep up.
var ErrBackpressure = errors.New("wslink: send buffer full")

// Conn is the subset of a websocket connection the link needs. Both the
// gofiber websocket flavors and gorilla connections satisfy it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Link serializes writes to one duplex websocket connection. Reads stay
// with the caller; only writing is funneled through the pump.
type Link struct {
	conn Conn
	send chan []byte
	done chan struct{}

	closeOnce sync.Once
}

// New wraps conn and starts its write pump.
func New(conn Conn) *Link {
	l := &Link{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	go l.writePump()
	return l
}

// WriteJSON encodes v and queues it for writing.
func (l *Link) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return l.WriteText(data)
}

// WriteText queues a text frame for writing. It never blocks: if the
// peer has fallen sendBuffer frames behind, the frame is rejected.
func (l *Link) WriteText(data []byte) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}

	select {
	case l.send <- data:
		return nil
	case <-l.done:
		return ErrClosed
	default:
		return ErrBackpressure
	}
}

// Close shuts down the pump and the underlying connection. Idempotent.
func (l *Link) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
		l.conn.Close()
	})
}

// Closed reports whether the link has been closed.
func (l *Link) Closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// writePump is the only goroutine that writes to the connection.
func (l *Link) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data := <-l.send:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				l.Close()
				return
			}

		case <-ticker.C:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				l.Close()
				return
			}

		case <-l.done:
			return
		}
	}
}
