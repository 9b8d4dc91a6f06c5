// Package history defines the call-history collaborator consumed by the
// bridge. Recording is fire-and-forget: the bridge never waits on it and
// a failing recorder never touches the audio path.
package history

import "github.com/RazvanDard/openai-realtime-twilio-demo/internal/log"

// Call directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Recorder receives call lifecycle notifications. Implementations must
// tolerate being called from multiple goroutines and must not block for
// long; the bridge invokes every method in its own goroutine.
type Recorder interface {
	StartTracking(callID, userID, number, direction string)
	UpdateStatus(callID, status string)
	RecordEvent(callID, eventType, speaker, content string, metadata map[string]any)
	EndTracking(callID string)
}

// LogRecorder writes call history to the structured log. It is the
// default recorder when no persistent backend is wired in.
type LogRecorder struct{}

// NewLogRecorder creates a log-backed recorder.
func NewLogRecorder() *LogRecorder {
	return &LogRecorder{}
}

func (r *LogRecorder) StartTracking(callID, userID, number, direction string) {
	log.Info("call started", "call_sid", callID, "user", userID, "number", number, "direction", direction)
}

func (r *LogRecorder) UpdateStatus(callID, status string) {
	log.Info("call status", "call_sid", callID, "status", status)
}

func (r *LogRecorder) RecordEvent(callID, eventType, speaker, content string, metadata map[string]any) {
	log.Debug("call event", "call_sid", callID, "type", eventType, "speaker", speaker, "content", content)
}

func (r *LogRecorder) EndTracking(callID string) {
	log.Info("call ended", "call_sid", callID)
}
