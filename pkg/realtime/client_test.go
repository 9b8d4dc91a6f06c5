package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeRealtimeServer stands in for the Realtime API endpoint.
type fakeRealtimeServer struct {
	t   *testing.T
	srv *httptest.Server

	mu   sync.Mutex
	conn *websocket.Conn

	ready    chan struct{}
	incoming chan map[string]any

	authHeader string
	betaHeader string
	modelParam string
}

func newFakeRealtimeServer(t *testing.T) *fakeRealtimeServer {
	t.Helper()
	s := &fakeRealtimeServer{
		t:        t,
		ready:    make(chan struct{}),
		incoming: make(chan map[string]any, 32),
	}
	upgrader := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.authHeader = r.Header.Get("Authorization")
		s.betaHeader = r.Header.Get("OpenAI-Beta")
		s.modelParam = r.URL.Query().Get("model")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		close(s.ready)

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m map[string]any
			if err := json.Unmarshal(data, &m); err != nil {
				continue
			}
			s.incoming <- m
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *fakeRealtimeServer) wsURL() string {
	return strings.Replace(s.srv.URL, "http", "ws", 1)
}

func (s *fakeRealtimeServer) send(v any) {
	s.t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		s.t.Fatalf("marshal server event: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.t.Fatalf("send server event: %v", err)
	}
}

func (s *fakeRealtimeServer) next() map[string]any {
	s.t.Helper()
	select {
	case m := <-s.incoming:
		return m
	case <-time.After(2 * time.Second):
		s.t.Fatal("timed out waiting for client frame")
		return nil
	}
}

func TestClientHandshake(t *testing.T) {
	s := newFakeRealtimeServer(t)

	c := NewClient("sk-test", "alloy", "be brief", map[string]any{"temperature": 0.6}).
		WithEndpoint(s.wsURL())
	opened := make(chan struct{})
	c.OnOpen = func() { close(opened) }

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()
	<-s.ready

	if s.authHeader != "Bearer sk-test" {
		t.Errorf("Authorization = %q", s.authHeader)
	}
	if s.betaHeader != "realtime=v1" {
		t.Errorf("OpenAI-Beta = %q", s.betaHeader)
	}
	if s.modelParam != Model {
		t.Errorf("model = %q, want %q", s.modelParam, Model)
	}

	if c.IsOpen() {
		t.Error("session open before the server acknowledged creation")
	}

	s.send(map[string]any{"type": EventSessionCreated})

	// The configuration push follows creation immediately.
	frame := s.next()
	if frame["type"] != "session.update" {
		t.Fatalf("first frame = %v, want session.update", frame["type"])
	}
	session, _ := frame["session"].(map[string]any)
	if session["voice"] != "alloy" {
		t.Errorf("voice = %v", session["voice"])
	}
	if session["input_audio_format"] != "g711_ulaw" {
		t.Errorf("input format = %v", session["input_audio_format"])
	}
	if session["temperature"] != 0.6 {
		t.Errorf("override not applied: %v", session["temperature"])
	}

	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("OnOpen never fired")
	}
	if !c.IsOpen() {
		t.Error("IsOpen = false after session.created")
	}
}

func TestClientSendsWireFrames(t *testing.T) {
	s := newFakeRealtimeServer(t)
	c := NewClient("sk-test", "alloy", "", nil).WithEndpoint(s.wsURL())
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()
	<-s.ready
	s.send(map[string]any{"type": EventSessionCreated})
	s.next() // session.update

	if err := c.AppendAudio("AAAA"); err != nil {
		t.Fatalf("AppendAudio: %v", err)
	}
	frame := s.next()
	if frame["type"] != "input_audio_buffer.append" || frame["audio"] != "AAAA" {
		t.Errorf("append frame = %v", frame)
	}

	if err := c.TruncateItem("item_1", 650); err != nil {
		t.Fatalf("TruncateItem: %v", err)
	}
	frame = s.next()
	if frame["type"] != "conversation.item.truncate" {
		t.Fatalf("truncate frame = %v", frame)
	}
	if frame["item_id"] != "item_1" || frame["audio_end_ms"] != float64(650) || frame["content_index"] != float64(0) {
		t.Errorf("truncate fields = %v", frame)
	}

	if err := c.ClearInputBuffer(); err != nil {
		t.Fatalf("ClearInputBuffer: %v", err)
	}
	if frame = s.next(); frame["type"] != "input_audio_buffer.clear" {
		t.Errorf("clear frame = %v", frame)
	}

	if err := c.CreateFunctionOutput("call_1", `{"ok":true}`); err != nil {
		t.Fatalf("CreateFunctionOutput: %v", err)
	}
	frame = s.next()
	item, _ := frame["item"].(map[string]any)
	if frame["type"] != "conversation.item.create" || item["call_id"] != "call_1" {
		t.Errorf("function output frame = %v", frame)
	}

	if err := c.CreateResponse(); err != nil {
		t.Fatalf("CreateResponse: %v", err)
	}
	if frame = s.next(); frame["type"] != "response.create" {
		t.Errorf("response frame = %v", frame)
	}

	if err := c.Forward([]byte(`{"type":"custom.event"}`)); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if frame = s.next(); frame["type"] != "custom.event" {
		t.Errorf("forwarded frame = %v", frame)
	}
}

func TestUpdateSessionKeepsDialTimeOverrides(t *testing.T) {
	s := newFakeRealtimeServer(t)

	c := NewClient("sk-test", "alloy", "", map[string]any{
		"tools":       []any{map[string]any{"type": "function", "name": "get_time"}},
		"tool_choice": "auto",
	}).WithEndpoint(s.wsURL())
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()
	<-s.ready
	s.send(map[string]any{"type": EventSessionCreated})

	frame := s.next()
	session, _ := frame["session"].(map[string]any)
	if session["tool_choice"] != "auto" {
		t.Fatalf("initial config missing tool_choice: %v", session)
	}

	// A partial update layers on top; the tool keys set at dial time
	// survive into the next config push.
	if err := c.UpdateSession(map[string]any{"voice": "echo"}); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	frame = s.next()
	if frame["type"] != "session.update" {
		t.Fatalf("frame = %v, want session.update", frame["type"])
	}
	session, _ = frame["session"].(map[string]any)
	if session["voice"] != "echo" {
		t.Errorf("voice = %v, want echo", session["voice"])
	}
	if session["tool_choice"] != "auto" {
		t.Errorf("tool_choice dropped by partial update: %v", session)
	}
	if tools, ok := session["tools"].([]any); !ok || len(tools) != 1 {
		t.Errorf("tools dropped by partial update: %v", session["tools"])
	}
}

func TestClientCallbacks(t *testing.T) {
	s := newFakeRealtimeServer(t)
	c := NewClient("sk-test", "alloy", "", nil).WithEndpoint(s.wsURL())

	speech := make(chan struct{}, 1)
	deltas := make(chan [2]string, 1)
	items := make(chan OutputItem, 1)
	transcripts := make(chan string, 1)
	errs := make(chan error, 1)

	c.OnSpeechStarted = func() { speech <- struct{}{} }
	c.OnAudioDelta = func(itemID, delta string) { deltas <- [2]string{itemID, delta} }
	c.OnOutputItemDone = func(item OutputItem) { items <- item }
	c.OnTranscriptCompleted = func(itemID, transcript string) { transcripts <- transcript }
	c.OnError = func(err error) { errs <- err }

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()
	<-s.ready
	s.send(map[string]any{"type": EventSessionCreated})
	s.next()

	s.send(map[string]any{"type": EventSpeechStarted})
	select {
	case <-speech:
	case <-time.After(2 * time.Second):
		t.Fatal("OnSpeechStarted never fired")
	}

	s.send(map[string]any{"type": EventAudioDelta, "item_id": "item_1", "delta": "b64"})
	select {
	case got := <-deltas:
		if got != [2]string{"item_1", "b64"} {
			t.Errorf("delta = %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnAudioDelta never fired")
	}

	s.send(map[string]any{
		"type": EventOutputItemDone,
		"item": map[string]any{
			"id":        "item_2",
			"type":      ItemTypeFunctionCall,
			"name":      "get_time",
			"call_id":   "call_1",
			"arguments": "{}",
		},
	})
	select {
	case item := <-items:
		if item.Type != ItemTypeFunctionCall || item.Name != "get_time" || item.CallID != "call_1" {
			t.Errorf("item = %+v", item)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnOutputItemDone never fired")
	}

	s.send(map[string]any{"type": EventTranscriptionCompleted, "item_id": "item_3", "transcript": "hello"})
	select {
	case tr := <-transcripts:
		if tr != "hello" {
			t.Errorf("transcript = %q", tr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnTranscriptCompleted never fired")
	}

	s.send(map[string]any{"type": EventError, "error": map[string]any{"message": "boom"}})
	select {
	case err := <-errs:
		if !strings.Contains(err.Error(), "boom") {
			t.Errorf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnError never fired")
	}
}

func TestClientClosedCallback(t *testing.T) {
	s := newFakeRealtimeServer(t)
	c := NewClient("sk-test", "alloy", "", nil).WithEndpoint(s.wsURL())

	closed := make(chan error, 1)
	c.OnClosed = func(err error) { closed <- err }

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	<-s.ready
	s.send(map[string]any{"type": EventSessionCreated})
	s.next()

	s.mu.Lock()
	s.conn.Close()
	s.mu.Unlock()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("OnClosed never fired")
	}
	if c.IsOpen() {
		t.Error("IsOpen = true after the peer closed")
	}
}

func TestOutputItemText(t *testing.T) {
	item := &OutputItem{Content: []ContentPart{
		{Type: "audio", Transcript: "hello "},
		{Type: "text", Text: "world"},
	}}
	if got := item.Text(); got != "hello world" {
		t.Errorf("Text = %q", got)
	}

	var nilItem *OutputItem
	if nilItem.Text() != "" {
		t.Error("nil item text not empty")
	}
}
