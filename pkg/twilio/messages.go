// Package twilio implements the pieces of the Twilio surface the bridge
// touches: Media Streams wire framing, TwiML for attaching a stream to a
// call, and the REST call used to place outbound calls.
package twilio

import (
	"encoding/json"
	"strconv"
)

// Media Streams event names.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
	EventClear     = "clear"
)

// Message is the envelope for every Media Streams frame, inbound and
// outbound. Only the field matching Event is populated.
type Message struct {
	Event          string        `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSid      string        `json:"streamSid,omitempty"`
	Start          *StartPayload `json:"start,omitempty"`
	Media          *MediaPayload `json:"media,omitempty"`
	Stop           *StopPayload  `json:"stop,omitempty"`
	Mark           *MarkPayload  `json:"mark,omitempty"`
}

// StartPayload carries call identity and stream metadata. It is the first
// useful frame on a new media stream connection.
type StartPayload struct {
	AccountSid       string            `json:"accountSid"`
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// MediaFormat describes the audio encoding of the stream.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// MediaPayload carries one audio frame. Timestamp is the stream's media
// clock in milliseconds, serialized by Twilio as a decimal string.
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// TimestampMs returns the media clock value in milliseconds, or 0 if the
// frame carries no parseable timestamp.
func (m *MediaPayload) TimestampMs() int64 {
	if m == nil || m.Timestamp == "" {
		return 0
	}
	ts, err := strconv.ParseInt(m.Timestamp, 10, 64)
	if err != nil {
		return 0
	}
	return ts
}

// StopPayload signals the end of the media stream.
type StopPayload struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

// MarkPayload is a playback-sync label echoed back by Twilio once the
// audio sent before it has been played to the caller.
type MarkPayload struct {
	Name string `json:"name"`
}

// Parse decodes a Media Streams frame. Unknown events decode into a
// Message with only Event set; callers ignore what they don't handle.
func Parse(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// NewMediaMessage builds an outbound audio frame for the given stream.
func NewMediaMessage(streamSid, payload string) Message {
	return Message{
		Event:     EventMedia,
		StreamSid: streamSid,
		Media:     &MediaPayload{Payload: payload},
	}
}

// NewMarkMessage builds a playback-sync mark for the given stream.
func NewMarkMessage(streamSid, name string) Message {
	return Message{
		Event:     EventMark,
		StreamSid: streamSid,
		Mark:      &MarkPayload{Name: name},
	}
}

// NewClearMessage tells Twilio to drop any audio it has buffered but not
// yet played on the stream.
func NewClearMessage(streamSid string) Message {
	return Message{
		Event:     EventClear,
		StreamSid: streamSid,
	}
}
