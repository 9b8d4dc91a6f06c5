// Package bridge implements the per-user realtime session bridge: it
// binds a Twilio media stream, a realtime model connection and an
// observing frontend into one conversational call, enforces the barge-in
// truncation protocol and dispatches model-requested tool calls.
package bridge

import (
	"sync"
	"time"

	"github.com/RazvanDard/openai-realtime-twilio-demo/pkg/wslink"
)

// CallType distinguishes who initiated the active call.
type CallType int

const (
	CallTypeUnset CallType = iota
	CallTypeInbound
	CallTypeOutbound
)

func (t CallType) String() string {
	switch t {
	case CallTypeInbound:
		return "inbound"
	case CallTypeOutbound:
		return "outbound"
	default:
		return "unset"
	}
}

// Outbound call statuses.
const (
	OutboundInitiating   = "initiating"
	OutboundRinging      = "ringing"
	OutboundConnected    = "connected"
	OutboundDisconnected = "disconnected"
)

// ModelLink is the model leg of a session. *realtime.Client satisfies it;
// tests substitute a fake.
type ModelLink interface {
	IsOpen() bool
	AppendAudio(audioB64 string) error
	TruncateItem(itemID string, audioEndMs int64) error
	ClearInputBuffer() error
	CreateSystemNotice(text string) error
	CreateFunctionOutput(callID, output string) error
	CreateResponse() error
	UpdateSession(overrides map[string]any) error
	Forward(raw []byte) error
	Close()
}

// Session is the per-user bridge state. One session exists per user id;
// all mutation happens under mu, from whichever leg's goroutine delivers
// a message.
type Session struct {
	mu sync.Mutex

	userID         string
	callType       CallType
	callSid        string
	outboundStatus string

	telephony *wslink.Link
	model     ModelLink
	observer  *wslink.Link

	streamSid   string
	savedConfig map[string]any

	// Playback timing for the barge-in protocol. latestMediaMs is the
	// telephony media clock and only moves forward; responseStartMs is
	// captured when a response first emits audio and cleared on
	// truncation or completion.
	lastAssistantItem string
	responseActive    bool
	responseStartMs   int64
	latestMediaMs     int64

	// truncatedItem remembers the last truncated assistant item so its
	// residual audio deltas are discarded instead of being played.
	truncatedItem string

	truncateTimer *time.Timer

	// Model-leg redial guard: one dial in flight, spaced by redialBackoff.
	modelRedialing bool
	lastModelDial  time.Time

	// historyOpen guards the end-of-call notification: exactly one per
	// terminated stream.
	historyOpen bool
}

// UserID returns the session's user identifier.
func (s *Session) UserID() string {
	return s.userID
}

// Snapshot is a read-only view of session state for status endpoints
// and tests.
type Snapshot struct {
	UserID            string
	CallType          CallType
	CallSid           string
	OutboundStatus    string
	StreamSid         string
	LastAssistantItem string
	ResponseActive    bool
	ResponseStartMs   int64
	LatestMediaMs     int64
	HasTelephony      bool
	HasModel          bool
	HasObserver       bool
}

// Snapshot returns a consistent copy of the session's state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		UserID:            s.userID,
		CallType:          s.callType,
		CallSid:           s.callSid,
		OutboundStatus:    s.outboundStatus,
		StreamSid:         s.streamSid,
		LastAssistantItem: s.lastAssistantItem,
		ResponseActive:    s.responseActive,
		ResponseStartMs:   s.responseStartMs,
		LatestMediaMs:     s.latestMediaMs,
		HasTelephony:      s.telephony != nil,
		HasModel:          s.model != nil,
		HasObserver:       s.observer != nil,
	}
}

// closeLinksLocked closes every live link. Caller holds mu.
func (s *Session) closeLinksLocked() {
	if s.truncateTimer != nil {
		s.truncateTimer.Stop()
		s.truncateTimer = nil
	}
	if s.telephony != nil {
		s.telephony.Close()
		s.telephony = nil
	}
	if s.model != nil {
		s.model.Close()
		s.model = nil
	}
	if s.observer != nil {
		s.observer.Close()
		s.observer = nil
	}
}
