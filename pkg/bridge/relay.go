package bridge

import (
	"encoding/json"
	"time"

	"github.com/RazvanDard/openai-realtime-twilio-demo/internal/log"
	"github.com/RazvanDard/openai-realtime-twilio-demo/pkg/realtime"
	"github.com/RazvanDard/openai-realtime-twilio-demo/pkg/twilio"
	"github.com/RazvanDard/openai-realtime-twilio-demo/pkg/wslink"
)

// markLabel tags the playback-sync mark sent after every audio frame.
const markLabel = "responsePart"

// interruptedNotice is injected after a truncation so the model knows the
// caller did not hear the rest of its reply.
const interruptedNotice = "The caller interrupted you; only part of your last reply was heard. Respond to what they say next."

// relayModelAudio forwards one assistant audio fragment to the telephony
// leg, tagged with the stream id, and records playback timing for the
// barge-in protocol. Residual fragments of an already-truncated item are
// discarded.
func (b *Bridge) relayModelAudio(sess *Session, itemID, delta string) {
	sess.mu.Lock()
	if sess.streamSid == "" || sess.telephony == nil {
		sess.mu.Unlock()
		return
	}
	if itemID != "" && itemID == sess.truncatedItem {
		sess.mu.Unlock()
		return
	}
	if !sess.responseActive {
		sess.responseActive = true
		sess.responseStartMs = sess.latestMediaMs
	}
	sess.lastAssistantItem = itemID
	streamSid := sess.streamSid
	link := sess.telephony
	sess.mu.Unlock()

	if err := link.WriteJSON(twilio.NewMediaMessage(streamSid, delta)); err != nil {
		log.Debug("relay audio", "user", sess.userID, "error", err)
		return
	}
	// Mark frames come back from Twilio once playback reaches them,
	// keeping the media clock honest about what the caller has heard.
	if err := link.WriteJSON(twilio.NewMarkMessage(streamSid, markLabel)); err != nil {
		log.Debug("relay mark", "user", sess.userID, "error", err)
	}
}

// scheduleTruncation arms the barge-in timer. The delayed action reads
// session state at execution time, so the truncate offset always uses the
// freshest media clock. A timer already pending is left alone: the first
// firing clears the state the second would act on.
func (b *Bridge) scheduleTruncation(sess *Session) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.truncateTimer != nil {
		return
	}
	delay := b.graceDelay
	sess.truncateTimer = time.AfterFunc(delay, func() {
		b.executeTruncation(sess)
	})
}

// executeTruncation runs the barge-in protocol: truncate the in-flight
// assistant item at the elapsed playback offset, clear the model's input
// buffer, tell Twilio to drop buffered audio, and inject an interruption
// notice. A no-op when there is nothing to truncate or the stream is
// already gone.
func (b *Bridge) executeTruncation(sess *Session) {
	sess.mu.Lock()
	sess.truncateTimer = nil

	if sess.streamSid == "" || !sess.responseActive || sess.lastAssistantItem == "" {
		sess.mu.Unlock()
		return
	}

	item := sess.lastAssistantItem
	elapsed := sess.latestMediaMs - sess.responseStartMs
	model := sess.model
	link := sess.telephony
	streamSid := sess.streamSid

	sess.truncatedItem = item
	sess.lastAssistantItem = ""
	sess.responseActive = false
	sess.responseStartMs = 0
	sess.mu.Unlock()

	if model == nil {
		return
	}
	if err := model.TruncateItem(item, elapsed); err != nil {
		log.Warn("truncate item", "user", sess.userID, "error", err)
		return
	}
	model.ClearInputBuffer()
	model.CreateSystemNotice(interruptedNotice)
	if link != nil {
		link.WriteJSON(twilio.NewClearMessage(streamSid))
	}

	log.Debug("assistant truncated", "user", sess.userID, "item", item, "elapsed_ms", elapsed)
}

// handleOutputItem reacts to a completed conversation item: function
// calls are dispatched, assistant messages close out the active response
// and land in the call history.
func (b *Bridge) handleOutputItem(sess *Session, item realtime.OutputItem) {
	switch item.Type {
	case realtime.ItemTypeFunctionCall:
		b.dispatchFunction(sess, item)

	case realtime.ItemTypeMessage:
		sess.mu.Lock()
		if sess.lastAssistantItem == item.ID {
			sess.lastAssistantItem = ""
			sess.responseActive = false
			sess.responseStartMs = 0
		}
		sess.mu.Unlock()
		if item.Role == "assistant" {
			b.recordTranscript(sess, "assistant", item.Text())
		}
	}
}

// dispatchFunction executes a model-requested tool call and closes the
// loop exactly once: one function-output item, one follow-up generation
// request. Dispatch never fails the call path.
func (b *Bridge) dispatchFunction(sess *Session, item realtime.OutputItem) {
	result := b.tools.Dispatch(item.Name, item.Arguments)

	sess.mu.Lock()
	model := sess.model
	callSid := sess.callSid
	sess.mu.Unlock()

	if model == nil {
		log.Warn("function result with no model link", "user", sess.userID, "function", item.Name)
		return
	}
	if err := model.CreateFunctionOutput(item.CallID, result); err != nil {
		log.Warn("send function output", "user", sess.userID, "error", err)
		return
	}
	if err := model.CreateResponse(); err != nil {
		log.Warn("request continuation", "user", sess.userID, "error", err)
	}

	go b.recorder.RecordEvent(callSid, "function_call", "assistant", item.Name, map[string]any{
		"arguments": item.Arguments,
		"result":    result,
	})
}

// recordTranscript sends a transcript line to the history collaborator,
// fire-and-forget.
func (b *Bridge) recordTranscript(sess *Session, speaker, text string) {
	if text == "" {
		return
	}
	sess.mu.Lock()
	callSid := sess.callSid
	sess.mu.Unlock()

	go b.recorder.RecordEvent(callSid, "transcript", speaker, text, nil)
}

// mirrorToObserver relays a model event to the observer leg verbatim.
// Best effort: a missing or slow observer never blocks the conversation.
func (b *Bridge) mirrorToObserver(sess *Session, raw []byte) {
	sess.mu.Lock()
	observer := sess.observer
	sess.mu.Unlock()

	if observer == nil {
		return
	}
	if err := observer.WriteText(raw); err != nil {
		log.Debug("mirror to observer", "user", sess.userID, "error", err)
	}
}

// observerEvent is the envelope of frontend-originated frames.
type observerEvent struct {
	Type    string         `json:"type"`
	Session map[string]any `json:"session"`
}

// HandleObserver owns one frontend connection. Identity is established
// before the link reaches the bridge, so binding is immediate and
// replaces any prior observer for the user. The observer's lifecycle is
// independent of the call's.
func (b *Bridge) HandleObserver(conn Conn, userID string) {
	sess := b.sessions.GetOrCreate(userID)
	link := wslink.New(conn)

	sess.mu.Lock()
	if sess.observer != nil && sess.observer != link {
		sess.observer.Close()
	}
	sess.observer = link
	saved := sess.savedConfig
	sess.mu.Unlock()

	log.Info("observer attached", "user", userID)

	// Let a reconnecting frontend see the configuration it last pushed.
	if saved != nil {
		link.WriteJSON(map[string]any{"type": "session.saved_config", "session": saved})
	}

	defer func() {
		sess.mu.Lock()
		if sess.observer == link {
			sess.observer = nil
		}
		sess.mu.Unlock()
		link.Close()
		log.Info("observer detached", "user", userID)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var ev observerEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			// Malformed frame: drop.
			continue
		}

		if ev.Type == "session.update" {
			sess.mu.Lock()
			sess.savedConfig = ev.Session
			model := sess.model
			sess.mu.Unlock()
			if model != nil {
				if err := model.UpdateSession(ev.Session); err != nil {
					log.Warn("apply observer config", "user", userID, "error", err)
				}
			}
			continue
		}

		sess.mu.Lock()
		model := sess.model
		sess.mu.Unlock()
		if model != nil && model.IsOpen() {
			if err := model.Forward(data); err != nil {
				log.Debug("forward observer event", "user", userID, "error", err)
			}
		}
	}
}
