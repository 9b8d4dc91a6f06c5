// Command bridge runs the realtime voice bridge: it answers Twilio
// webhooks, terminates media streams, and relays each caller's audio to
// a realtime model session with barge-in and tool support.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/RazvanDard/openai-realtime-twilio-demo/internal/config"
	"github.com/RazvanDard/openai-realtime-twilio-demo/internal/log"
	"github.com/RazvanDard/openai-realtime-twilio-demo/pkg/auth"
	"github.com/RazvanDard/openai-realtime-twilio-demo/pkg/bridge"
	"github.com/RazvanDard/openai-realtime-twilio-demo/pkg/gateway"
	"github.com/RazvanDard/openai-realtime-twilio-demo/pkg/history"
	"github.com/RazvanDard/openai-realtime-twilio-demo/pkg/tools"
	"github.com/RazvanDard/openai-realtime-twilio-demo/pkg/twilio"
	"github.com/RazvanDard/openai-realtime-twilio-demo/pkg/web"
)

// defaultInstructions is the assistant persona when none is configured.
const defaultInstructions = `You are a helpful and friendly phone assistant. Keep replies short and conversational; this is a live phone call. If you are interrupted, stop and listen.`

func main() {
	cfg := config.DefaultConfig()

	flag.StringVar(&cfg.Port, "port", cfg.Port, "HTTP listen port")
	flag.StringVar(&cfg.Voice, "voice", cfg.Voice, "assistant voice")
	flag.BoolVar(&cfg.Debug, "debug", false, "enable debug logging")
	flag.Parse()

	cfg.LoadEnvConfig()

	level := "info"
	if cfg.Debug {
		level = "debug"
	}
	log.Init(level)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	instructions := defaultInstructions
	if v := os.Getenv("ASSISTANT_INSTRUCTIONS"); v != "" {
		instructions = v
	}

	registry := tools.NewRegistry()
	registry.Register(tools.GetTimeTool())

	b := bridge.New(bridge.Options{
		OpenAIKey:    cfg.OpenAIKey,
		Voice:        cfg.Voice,
		Instructions: instructions,
		RealtimeHost: cfg.RealtimeHost,
		Tools:        registry,
		Recorder:     history.NewLogRecorder(),
	})

	srv := web.NewServer(web.Options{
		Port:       cfg.Port,
		PublicHost: cfg.PublicHost,
		FromNumber: cfg.TwilioFromNumber,
		Bridge:     b,
		Verifier:   auth.NewStaticVerifier(cfg.ObserverTokens),
		Initiator:  twilio.NewRestClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken),
	})
	gateway.New(b, cfg.PublicHost, nil).RegisterRoutes(srv.App())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		if err := srv.Shutdown(); err != nil {
			log.Error("shutdown", "error", err)
		}
	}()

	if err := srv.Start(); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
