// Package realtime provides a client for OpenAI's Realtime API used as
// the model leg of a phone call: low-latency speech-to-speech with
// barge-in truncation and tool use.
package realtime

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/RazvanDard/openai-realtime-twilio-demo/internal/log"
)

const (
	// DefaultURL is the realtime API endpoint.
	DefaultURL = "wss://api.openai.com/v1/realtime"
	// Model is the realtime model dialed by default.
	Model = "gpt-4o-realtime-preview-2024-12-17"
)

// Client manages the WebSocket connection to the Realtime API. A client
// handles exactly one model session; reconnecting means a new Client.
type Client struct {
	apiKey       string
	endpoint     string
	voice        string
	instructions string

	ws   *websocket.Conn
	wsMu sync.Mutex

	mu     sync.Mutex
	open   bool
	closed bool

	// overrides is layered over the default session config whenever the
	// session configuration is pushed. Carries a caller's saved config
	// across reconnects.
	overrides map[string]any

	// Callbacks. Set before Connect; invoked from the read goroutine.
	OnOpen                func()
	OnEvent               func(raw []byte)
	OnSpeechStarted       func()
	OnTranscriptCompleted func(itemID, transcript string)
	OnAudioDelta          func(itemID, delta string)
	OnOutputItemDone      func(item OutputItem)
	OnError               func(err error)
	OnClosed              func(err error)
}

// NewClient creates a realtime client. Overrides may be nil.
func NewClient(apiKey, voice, instructions string, overrides map[string]any) *Client {
	return &Client{
		apiKey:       apiKey,
		endpoint:     DefaultURL,
		voice:        voice,
		instructions: instructions,
		overrides:    overrides,
	}
}

// WithEndpoint overrides the API endpoint. Used in tests and for proxies.
func (c *Client) WithEndpoint(endpoint string) *Client {
	c.endpoint = endpoint
	return c
}

// Connect establishes the WebSocket connection and starts the read loop.
// The session is not open for application traffic until the server
// acknowledges creation; see IsOpen.
func (c *Client) Connect() error {
	url := fmt.Sprintf("%s?model=%s", c.endpoint, Model)

	header := make(map[string][]string)
	header["Authorization"] = []string{"Bearer " + c.apiKey}
	header["OpenAI-Beta"] = []string{"realtime=v1"}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	ws, _, err := dialer.Dial(url, header)
	if err != nil {
		return fmt.Errorf("dial realtime API: %w", err)
	}
	c.ws = ws

	c.ws.SetPingHandler(func(appData string) error {
		c.wsMu.Lock()
		defer c.wsMu.Unlock()
		return c.ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})
	c.ws.SetReadDeadline(time.Now().Add(120 * time.Second))

	go c.handleMessages()
	go c.keepAlive()

	return nil
}

// IsOpen reports whether the session has been created and configured,
// i.e. whether application messages may be sent.
func (c *Client) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open && !c.closed
}

// Close closes the connection. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.open = false
	c.mu.Unlock()

	c.wsMu.Lock()
	if c.ws != nil {
		c.ws.Close()
	}
	c.wsMu.Unlock()
}

// UpdateSession layers new overrides on top of the stored ones and, if
// the session is already open, pushes the merged configuration
// immediately. Layering keeps keys set at dial time, such as the tool
// definitions, intact across later partial updates.
func (c *Client) UpdateSession(overrides map[string]any) error {
	c.mu.Lock()
	c.overrides = MergeSessionConfig(c.overrides, overrides)
	open := c.open && !c.closed
	c.mu.Unlock()

	if !open {
		return nil
	}
	return c.sendSessionConfig()
}

// AppendAudio appends a base64 μ-law frame to the input audio buffer.
func (c *Client) AppendAudio(audioB64 string) error {
	return c.sendJSON(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": audioB64,
	})
}

// TruncateItem cuts an in-flight assistant item at the given playback
// offset so the conversation state matches what the caller actually heard.
func (c *Client) TruncateItem(itemID string, audioEndMs int64) error {
	return c.sendJSON(map[string]any{
		"type":          "conversation.item.truncate",
		"item_id":       itemID,
		"content_index": 0,
		"audio_end_ms":  audioEndMs,
	})
}

// ClearInputBuffer discards un-committed input audio on the server.
func (c *Client) ClearInputBuffer() error {
	return c.sendJSON(map[string]any{
		"type": "input_audio_buffer.clear",
	})
}

// CreateSystemNotice injects a system message into the conversation.
func (c *Client) CreateSystemNotice(text string) error {
	return c.sendJSON(map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": "system",
			"content": []map[string]any{
				{"type": "input_text", "text": text},
			},
		},
	})
}

// CreateFunctionOutput submits a tool result for the given call id.
func (c *Client) CreateFunctionOutput(callID, output string) error {
	return c.sendJSON(map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  output,
		},
	})
}

// CreateResponse asks the model to continue generating.
func (c *Client) CreateResponse() error {
	return c.sendJSON(map[string]any{
		"type": "response.create",
	})
}

// Forward sends a raw client event verbatim, used to relay
// observer-originated events onto the model leg.
func (c *Client) Forward(raw []byte) error {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	if c.ws == nil {
		return fmt.Errorf("not connected")
	}
	return c.ws.WriteMessage(websocket.TextMessage, raw)
}

// handleMessages processes incoming frames until the connection dies.
func (c *Client) handleMessages() {
	for {
		c.ws.SetReadDeadline(time.Now().Add(120 * time.Second))

		_, message, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			wasClosed := c.closed
			c.closed = true
			c.open = false
			c.mu.Unlock()
			if !wasClosed && c.OnClosed != nil {
				c.OnClosed(err)
			}
			return
		}

		if c.OnEvent != nil {
			c.OnEvent(message)
		}

		ev, err := parseServerEvent(message)
		if err != nil {
			// Malformed frame: drop it, keep the session alive.
			continue
		}

		switch ev.Type {
		case EventSessionCreated:
			if err := c.sendSessionConfig(); err != nil {
				log.Warn("push session config", "error", err)
			}
			c.mu.Lock()
			c.open = true
			c.mu.Unlock()
			if c.OnOpen != nil {
				c.OnOpen()
			}

		case EventSpeechStarted:
			if c.OnSpeechStarted != nil {
				c.OnSpeechStarted()
			}

		case EventTranscriptionCompleted:
			if ev.Transcript != "" && c.OnTranscriptCompleted != nil {
				c.OnTranscriptCompleted(ev.ItemID, ev.Transcript)
			}

		case EventAudioDelta:
			if ev.Delta != "" && c.OnAudioDelta != nil {
				c.OnAudioDelta(ev.ItemID, ev.Delta)
			}

		case EventOutputItemDone:
			if ev.Item != nil && c.OnOutputItemDone != nil {
				c.OnOutputItemDone(*ev.Item)
			}

		case EventError:
			if ev.Error != nil && c.OnError != nil {
				c.OnError(fmt.Errorf("realtime API error: %s", ev.Error.Message))
			}
		}
	}
}

// keepAlive sends periodic pings to keep the connection alive.
func (c *Client) keepAlive() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		c.wsMu.Lock()
		c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
		err := c.ws.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second))
		c.wsMu.Unlock()
		if err != nil {
			return
		}
	}
}

func (c *Client) sendSessionConfig() error {
	c.mu.Lock()
	overrides := c.overrides
	c.mu.Unlock()

	session := MergeSessionConfig(DefaultSessionConfig(c.voice, c.instructions), overrides)
	return c.sendJSON(map[string]any{
		"type":    "session.update",
		"session": session,
	})
}

func (c *Client) sendJSON(v any) error {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	if c.ws == nil {
		return fmt.Errorf("not connected")
	}
	return c.ws.WriteJSON(v)
}
