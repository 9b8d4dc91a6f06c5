// Package web provides the frontend-facing surface: the observer
// WebSocket and the REST endpoint for placing outbound calls.
package web

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/RazvanDard/openai-realtime-twilio-demo/internal/log"
	"github.com/RazvanDard/openai-realtime-twilio-demo/pkg/auth"
	"github.com/RazvanDard/openai-realtime-twilio-demo/pkg/bridge"
	"github.com/RazvanDard/openai-realtime-twilio-demo/pkg/twilio"
)

// Server is the HTTP/WebSocket server for frontend clients.
type Server struct {
	app  *fiber.App
	port string

	bridge    *bridge.Bridge
	verifier  auth.Verifier
	initiator twilio.CallInitiator

	publicHost string
	fromNumber string
}

// Options configures the server.
type Options struct {
	Port       string
	PublicHost string
	FromNumber string

	Bridge    *bridge.Bridge
	Verifier  auth.Verifier
	Initiator twilio.CallInitiator
}

// NewServer creates the server and registers its routes.
func NewServer(opts Options) *Server {
	s := &Server{
		port:       opts.Port,
		bridge:     opts.Bridge,
		verifier:   opts.Verifier,
		initiator:  opts.Initiator,
		publicHost: opts.PublicHost,
		fromNumber: opts.FromNumber,
	}

	app := fiber.New(fiber.Config{
		AppName:               "Voice Bridge",
		DisableStartupMessage: true,
	})

	// CORS for the dashboard during local development
	app.Use(cors.New())

	app.Get("/healthz", s.handleHealth)

	api := app.Group("/api")
	api.Post("/calls", s.handleCreateCall)

	// WebSocket upgrade middleware; observer identity is verified here,
	// before the connection ever reaches the bridge.
	app.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		userID, err := s.verifier.Verify(c.Query("token"))
		if err != nil {
			return fiber.ErrUnauthorized
		}
		c.Locals("userID", userID)
		return c.Next()
	})
	app.Get("/ws/observer", websocket.New(s.handleObserverWS))

	s.app = app
	return s
}

// App returns the underlying Fiber app so other route groups (the
// telephony gateway) can attach to the same listener.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start starts the server. Blocks until shutdown.
func (s *Server) Start() error {
	log.Info("listening", "port", s.port)
	return s.app.Listen(":" + s.port)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "ok",
		"sessions": s.bridge.Sessions().Len(),
	})
}

// CreateCallRequest is the body of POST /api/calls.
type CreateCallRequest struct {
	To string `json:"to"`
}

// handleCreateCall places an outbound call for the authenticated user.
// The returned call SID is registered as pending before Twilio ever
// connects the media stream, so the anonymous transport can be bound to
// this user later.
func (s *Server) handleCreateCall(c *fiber.Ctx) error {
	userID, err := s.verifier.Verify(bearerToken(c))
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
	}

	var req CreateCallRequest
	if err := c.BodyParser(&req); err != nil || req.To == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing destination number"})
	}

	streamURL := fmt.Sprintf("wss://%s/media-stream", s.publicHost)
	twiml := twilio.StreamTwiML(streamURL, nil)

	callSid, err := s.initiator.CreateCall(c.Context(), req.To, s.fromNumber, twiml)
	if err != nil {
		log.Error("place outbound call", "user", userID, "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "call initiation failed"})
	}

	s.bridge.InitiateOutbound(userID, callSid, req.To)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"callSid": callSid,
		"status":  bridge.OutboundInitiating,
	})
}

// handleObserverWS hands a verified observer connection to the bridge.
func (s *Server) handleObserverWS(c *websocket.Conn) {
	userID, _ := c.Locals("userID").(string)
	if userID == "" {
		c.Close()
		return
	}
	s.bridge.HandleObserver(c, userID)
}

// bearerToken extracts the token from the Authorization header, falling
// back to the token query parameter.
func bearerToken(c *fiber.Ctx) string {
	const prefix = "Bearer "
	header := c.Get("Authorization")
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return c.Query("token")
}
