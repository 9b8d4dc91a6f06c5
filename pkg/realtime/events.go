package realtime

import "encoding/json"

// Server event types the bridge reacts to. Everything else is still
// mirrored verbatim to the observer leg.
const (
	EventSessionCreated         = "session.created"
	EventSessionUpdated         = "session.updated"
	EventSpeechStarted          = "input_audio_buffer.speech_started"
	EventTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	EventAudioDelta             = "response.audio.delta"
	EventAudioTranscriptDelta   = "response.audio_transcript.delta"
	EventOutputItemDone         = "response.output_item.done"
	EventError                  = "error"
)

// Output item types carried by response.output_item.done.
const (
	ItemTypeMessage      = "message"
	ItemTypeFunctionCall = "function_call"
)

// serverEvent is the superset of fields the client pulls out of incoming
// frames. Fields not relevant to an event type are simply zero.
type serverEvent struct {
	Type       string      `json:"type"`
	ItemID     string      `json:"item_id"`
	Delta      string      `json:"delta"`
	Transcript string      `json:"transcript"`
	Item       *OutputItem `json:"item"`
	Error      *APIError   `json:"error"`
}

// OutputItem is a completed conversation item: either an assistant
// message or a function-call request.
type OutputItem struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	Role      string        `json:"role"`
	Name      string        `json:"name"`
	CallID    string        `json:"call_id"`
	Arguments string        `json:"arguments"`
	Content   []ContentPart `json:"content"`
}

// ContentPart is one chunk of item content.
type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	Transcript string `json:"transcript"`
}

// Text flattens an item's content parts into a single string, preferring
// transcripts for audio parts.
func (i *OutputItem) Text() string {
	if i == nil {
		return ""
	}
	var out string
	for _, part := range i.Content {
		if part.Transcript != "" {
			out += part.Transcript
		} else {
			out += part.Text
		}
	}
	return out
}

// APIError is the error payload of an "error" server event.
type APIError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func parseServerEvent(data []byte) (*serverEvent, error) {
	var ev serverEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}
