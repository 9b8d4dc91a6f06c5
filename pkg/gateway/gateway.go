// Package gateway exposes the telephony-facing surface: the Twilio
// voice webhooks and the media-stream WebSocket endpoint that feeds the
// bridge.
package gateway

import (
	"fmt"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/RazvanDard/openai-realtime-twilio-demo/pkg/bridge"
	"github.com/RazvanDard/openai-realtime-twilio-demo/pkg/twilio"
)

// Gateway terminates Twilio's side of the system.
type Gateway struct {
	bridge     *bridge.Bridge
	publicHost string

	// identifyCaller maps an inbound caller number to a user identifier
	// embedded in the stream's custom parameters. Returning "" leaves
	// the stream unidentifiable, which the bridge treats as fatal for
	// that connection.
	identifyCaller func(from string) string
}

// New creates a gateway. identify may be nil, in which case the caller's
// number itself is used as the user identity for inbound calls.
func New(b *bridge.Bridge, publicHost string, identify func(from string) string) *Gateway {
	if identify == nil {
		identify = func(from string) string { return from }
	}
	return &Gateway{
		bridge:         b,
		publicHost:     publicHost,
		identifyCaller: identify,
	}
}

// StreamURL returns the media-stream WebSocket URL Twilio should dial.
func (g *Gateway) StreamURL() string {
	return fmt.Sprintf("wss://%s/media-stream", g.publicHost)
}

// RegisterRoutes registers the telephony routes on a Fiber app.
func (g *Gateway) RegisterRoutes(app *fiber.App) {
	app.Post("/voice/inbound", g.handleInbound)
	app.Post("/voice/status", g.handleStatusCallback)

	app.Use("/media-stream", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/media-stream", websocket.New(g.handleMediaStream))
}

// handleInbound answers Twilio's inbound-call webhook with TwiML that
// attaches the call to the media-stream endpoint. The verified identity
// travels as custom parameters, echoed back inside the stream's start
// frame.
func (g *Gateway) handleInbound(c *fiber.Ctx) error {
	from := c.FormValue("From")

	params := map[string]string{}
	if userID := g.identifyCaller(from); userID != "" {
		params["userId"] = userID
		params["from"] = from
	}

	c.Set("Content-Type", "text/xml")
	return c.SendString(twilio.StreamTwiML(g.StreamURL(), params))
}

// handleStatusCallback applies Twilio call-status callbacks (ringing,
// completed, ...) to the matching session.
func (g *Gateway) handleStatusCallback(c *fiber.Ctx) error {
	callSid := c.FormValue("CallSid")
	status := c.FormValue("CallStatus")
	if callSid != "" && status != "" {
		g.bridge.UpdateCallStatus(callSid, status)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handleMediaStream hands an upgraded media-stream connection to the
// bridge, which owns it until close.
func (g *Gateway) handleMediaStream(c *websocket.Conn) {
	g.bridge.HandleTelephony(c)
}
