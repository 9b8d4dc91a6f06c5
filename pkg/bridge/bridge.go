package bridge

import (
	"time"

	"github.com/google/uuid"

	"github.com/RazvanDard/openai-realtime-twilio-demo/internal/log"
	"github.com/RazvanDard/openai-realtime-twilio-demo/pkg/history"
	"github.com/RazvanDard/openai-realtime-twilio-demo/pkg/realtime"
	"github.com/RazvanDard/openai-realtime-twilio-demo/pkg/tools"
	"github.com/RazvanDard/openai-realtime-twilio-demo/pkg/twilio"
	"github.com/RazvanDard/openai-realtime-twilio-demo/pkg/wslink"
)

// bargeInGrace is how long the bridge waits after speech is detected
// before truncating the assistant, letting a very short utterance finish
// instead of being cut mid-word.
const bargeInGrace = 250 * time.Millisecond

// redialBackoff bounds how often media activity may retry a failed model
// dial; telephony delivers ~50 frames a second.
const redialBackoff = 2 * time.Second

// telephonyState tracks a media-stream connection from anonymous attach
// to termination.
type telephonyState int

const (
	stateAnonymous telephonyState = iota
	stateIdentified
	stateStreaming
	stateTerminated
)

// Conn is the duplex websocket a leg handler reads from. Writes go
// through a wslink pump, never directly.
type Conn interface {
	wslink.Conn
	ReadMessage() (messageType int, p []byte, err error)
}

// Options configures a Bridge.
type Options struct {
	OpenAIKey    string
	Voice        string
	Instructions string
	RealtimeHost string

	Tools    *tools.Registry
	Recorder history.Recorder

	// PendingTTL bounds outbound registrations; zero means the default.
	PendingTTL time.Duration
}

// Bridge composes the session registry, the call identity resolver, the
// audio relay and the function dispatcher. One Bridge serves all users.
type Bridge struct {
	sessions *Registry
	resolver *Resolver
	tools    *tools.Registry
	recorder history.Recorder

	voice        string
	instructions string

	// dialModel opens the model leg for a session. Overridden in tests.
	dialModel func(s *Session) (ModelLink, error)

	graceDelay time.Duration
}

// New creates a bridge.
func New(opts Options) *Bridge {
	reg := opts.Tools
	if reg == nil {
		reg = tools.NewRegistry()
	}
	rec := opts.Recorder
	if rec == nil {
		rec = history.NewLogRecorder()
	}

	b := &Bridge{
		sessions:     NewSessionRegistry(),
		resolver:     NewResolver(opts.PendingTTL),
		tools:        reg,
		recorder:     rec,
		voice:        opts.Voice,
		instructions: opts.Instructions,
		graceDelay:   bargeInGrace,
	}
	b.dialModel = func(s *Session) (ModelLink, error) {
		return b.dialRealtime(opts, s)
	}
	return b
}

// Sessions exposes the session registry.
func (b *Bridge) Sessions() *Registry {
	return b.sessions
}

// Resolver exposes the call identity resolver.
func (b *Bridge) Resolver() *Resolver {
	return b.resolver
}

// InitiateOutbound records a freshly placed outbound call: the session
// enters the initiating state and the call SID becomes resolvable before
// the media stream connects.
func (b *Bridge) InitiateOutbound(userID, callSid, number string) {
	b.resolver.RegisterPendingCall(userID, callSid)

	sess := b.sessions.GetOrCreate(userID)
	sess.mu.Lock()
	sess.callType = CallTypeOutbound
	sess.callSid = callSid
	sess.outboundStatus = OutboundInitiating
	sess.mu.Unlock()

	go b.recorder.StartTracking(callSid, userID, number, history.DirectionOutbound)
}

// UpdateCallStatus applies a provider status callback to the matching
// session, if the call SID is known. History gets the raw provider
// status; the session only ever holds the outbound status domain.
func (b *Bridge) UpdateCallStatus(callSid, status string) {
	go b.recorder.UpdateStatus(callSid, status)

	mapped := outboundStatusFor(status)
	if mapped == "" {
		return
	}
	userID, ok := b.resolver.Resolve(callSid)
	if !ok {
		return
	}
	sess, ok := b.sessions.Get(userID)
	if !ok {
		return
	}
	sess.mu.Lock()
	if sess.callType == CallTypeOutbound && sess.callSid == callSid {
		sess.outboundStatus = mapped
	}
	sess.mu.Unlock()
}

// outboundStatusFor maps a Twilio call status onto the outbound status
// values. Unrecognized statuses map to "" and are ignored.
func outboundStatusFor(status string) string {
	switch status {
	case "queued", "initiated":
		return OutboundInitiating
	case "ringing":
		return OutboundRinging
	case "in-progress", "answered":
		return OutboundConnected
	case "completed", "busy", "failed", "no-answer", "canceled":
		return OutboundDisconnected
	}
	return ""
}

// HandleTelephony owns one media-stream connection from attach to close.
// The connection is anonymous until a start frame arrives; a start frame
// that resolves to no identity is fatal for the connection only.
func (b *Bridge) HandleTelephony(conn Conn) {
	link := wslink.New(conn)

	// Correlates log lines for one transport across its anonymous phase,
	// before any user or call id exists.
	connID := uuid.NewString()
	log.Debug("media stream attached", "conn", connID)

	var (
		state = stateAnonymous
		sess  *Session
	)

	defer func() {
		b.endStream(sess, link)
		link.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		msg, err := twilio.Parse(data)
		if err != nil {
			// Malformed frame: drop, no session mutation.
			continue
		}

		switch state {
		case stateAnonymous:
			if msg.Event != twilio.EventStart || msg.Start == nil {
				continue
			}
			s, ok := b.identify(msg.Start, link)
			if !ok {
				log.Warn("unresolvable media stream, closing",
					"conn", connID, "call_sid", msg.Start.CallSid)
				return
			}
			sess = s
			state = stateIdentified
			if sid := startStreamSid(msg); sid != "" {
				b.beginStream(sess, sid)
				state = stateStreaming
			}

		case stateIdentified:
			// Bound to a session but no stream id yet; nothing but a
			// start frame carrying one is actionable.
			if msg.Event == twilio.EventStart {
				if sid := startStreamSid(msg); sid != "" {
					b.beginStream(sess, sid)
					state = stateStreaming
				}
			}

		case stateStreaming:
			switch msg.Event {
			case twilio.EventMedia:
				b.handleMedia(sess, msg.Media)
			case twilio.EventMark:
				// Playback-sync echo; nothing to do.
			case twilio.EventStop:
				b.endStream(sess, link)
				state = stateTerminated
			}

		case stateTerminated:
			// Drain until the peer closes the socket.
		}
	}
}

func startStreamSid(msg *twilio.Message) string {
	if msg.Start != nil && msg.Start.StreamSid != "" {
		return msg.Start.StreamSid
	}
	return msg.StreamSid
}

// identify binds an anonymous connection to a session. Resolution order:
// a pending outbound registration for the call SID wins; otherwise the
// start frame's custom parameters must carry a verified user id (set by
// our own TwiML); otherwise the connection is unresolvable.
func (b *Bridge) identify(start *twilio.StartPayload, link *wslink.Link) (*Session, bool) {
	userID, outbound := b.resolver.Resolve(start.CallSid)
	if !outbound {
		userID = start.CustomParameters["userId"]
	}
	if userID == "" {
		return nil, false
	}

	sess := b.sessions.GetOrCreate(userID)

	sess.mu.Lock()
	if sess.telephony != nil && sess.telephony != link {
		sess.telephony.Close()
	}
	sess.telephony = link
	sess.callSid = start.CallSid
	if outbound {
		sess.callType = CallTypeOutbound
		sess.outboundStatus = OutboundConnected
	} else {
		sess.callType = CallTypeInbound
	}
	sess.mu.Unlock()

	direction := history.DirectionInbound
	if outbound {
		direction = history.DirectionOutbound
		go b.recorder.UpdateStatus(start.CallSid, OutboundConnected)
	} else {
		caller := start.CustomParameters["from"]
		go b.recorder.StartTracking(start.CallSid, userID, caller, history.DirectionInbound)
	}

	log.Info("media stream identified",
		"user", userID, "call_sid", start.CallSid, "direction", direction)
	return sess, true
}

// beginStream resets per-call playback state and opens the model leg.
func (b *Bridge) beginStream(sess *Session, streamSid string) {
	sess.mu.Lock()
	sess.streamSid = streamSid
	sess.lastAssistantItem = ""
	sess.responseActive = false
	sess.responseStartMs = 0
	sess.latestMediaMs = 0
	sess.truncatedItem = ""
	sess.historyOpen = true
	sess.mu.Unlock()

	b.openModel(sess)
}

// openModel opens the model leg if the session has none. No-op when one
// is already attached.
func (b *Bridge) openModel(sess *Session) {
	sess.mu.Lock()
	if sess.model != nil {
		sess.mu.Unlock()
		return
	}
	sess.mu.Unlock()

	ml, err := b.dialModel(sess)
	if err != nil {
		log.Warn("open model link", "user", sess.userID, "error", err)
		return
	}

	sess.mu.Lock()
	if sess.model != nil {
		sess.mu.Unlock()
		ml.Close()
		return
	}
	sess.model = ml
	sess.mu.Unlock()
}

// handleMedia forwards a caller audio frame to the model leg and advances
// the media clock. Frames arriving while the model link is down are
// dropped: realtime audio cannot usefully be buffered and replayed late.
func (b *Bridge) handleMedia(sess *Session, media *twilio.MediaPayload) {
	if media == nil {
		return
	}

	sess.mu.Lock()
	if ts := media.TimestampMs(); ts > sess.latestMediaMs {
		sess.latestMediaMs = ts
	}
	model := sess.model
	sess.mu.Unlock()

	if model == nil {
		// A dropped model link recovers on media activity, not just on
		// the next stream start.
		b.redialModel(sess)
		return
	}
	if !model.IsOpen() {
		return
	}
	if err := model.AppendAudio(media.Payload); err != nil {
		log.Debug("append audio", "user", sess.userID, "error", err)
	}
}

// redialModel reopens the model leg for an active stream that lost it.
// At most one dial is in flight per session and retries are spaced by
// redialBackoff so a steady media flow cannot stampede the dialer.
func (b *Bridge) redialModel(sess *Session) {
	sess.mu.Lock()
	if sess.streamSid == "" || sess.model != nil || sess.modelRedialing ||
		time.Since(sess.lastModelDial) < redialBackoff {
		sess.mu.Unlock()
		return
	}
	sess.modelRedialing = true
	sess.lastModelDial = time.Now()
	sess.mu.Unlock()

	go func() {
		b.openModel(sess)
		sess.mu.Lock()
		sess.modelRedialing = false
		sess.mu.Unlock()
	}()
}

// endStream terminates the active call on the session: the model leg is
// closed, stream state is cleared and the history collaborator is told
// exactly once. The session itself survives for a future call; only the
// telephony link handed in is detached.
func (b *Bridge) endStream(sess *Session, link *wslink.Link) {
	if sess == nil {
		return
	}

	sess.mu.Lock()
	if sess.telephony == link {
		sess.telephony = nil
	} else if sess.telephony != nil {
		// A replacement transport owns the session now; the displaced
		// link has nothing left to tear down.
		sess.mu.Unlock()
		return
	}
	if !sess.historyOpen && sess.streamSid == "" {
		sess.mu.Unlock()
		return
	}

	callSid := sess.callSid
	model := sess.model
	outbound := sess.callType == CallTypeOutbound
	notify := sess.historyOpen

	if sess.truncateTimer != nil {
		sess.truncateTimer.Stop()
		sess.truncateTimer = nil
	}
	sess.model = nil
	sess.streamSid = ""
	sess.lastAssistantItem = ""
	sess.responseActive = false
	sess.responseStartMs = 0
	sess.latestMediaMs = 0
	sess.truncatedItem = ""
	sess.historyOpen = false
	if outbound {
		sess.outboundStatus = OutboundDisconnected
	}
	sess.mu.Unlock()

	if model != nil {
		model.Close()
	}
	if notify {
		go func() {
			if outbound {
				b.recorder.UpdateStatus(callSid, OutboundDisconnected)
			}
			b.recorder.EndTracking(callSid)
		}()
		log.Info("media stream ended", "user", sess.userID, "call_sid", callSid)
	}
}

// dialRealtime opens a realtime client wired to this session.
func (b *Bridge) dialRealtime(opts Options, sess *Session) (ModelLink, error) {
	sess.mu.Lock()
	saved := sess.savedConfig
	sess.mu.Unlock()

	overrides := map[string]any{}
	if defs := b.tools.Definitions(); len(defs) > 0 {
		overrides["tools"] = defs
		overrides["tool_choice"] = "auto"
	}
	overrides = realtime.MergeSessionConfig(overrides, saved)

	client := realtime.NewClient(opts.OpenAIKey, b.voice, b.instructions, overrides)
	if opts.RealtimeHost != "" {
		client = client.WithEndpoint(opts.RealtimeHost)
	}

	client.OnEvent = func(raw []byte) { b.mirrorToObserver(sess, raw) }
	client.OnSpeechStarted = func() { b.scheduleTruncation(sess) }
	client.OnAudioDelta = func(itemID, delta string) { b.relayModelAudio(sess, itemID, delta) }
	client.OnTranscriptCompleted = func(itemID, transcript string) {
		b.recordTranscript(sess, "user", transcript)
	}
	client.OnOutputItemDone = func(item realtime.OutputItem) { b.handleOutputItem(sess, item) }
	client.OnError = func(err error) {
		log.Warn("model event error", "user", sess.userID, "error", err)
	}
	client.OnClosed = func(err error) { b.clearModelLink(sess, err) }

	if err := client.Connect(); err != nil {
		return nil, err
	}
	return client, nil
}

// clearModelLink drops a dead model leg so the next stream start dials a
// fresh one. Nothing else on the session is touched.
func (b *Bridge) clearModelLink(sess *Session, cause error) {
	sess.mu.Lock()
	model := sess.model
	sess.model = nil
	sess.mu.Unlock()

	if model != nil {
		model.Close()
	}
	if cause != nil {
		log.Warn("model link closed", "user", sess.userID, "error", cause)
	}
}
