// Package config holds runtime configuration for the voice bridge.
// Flag parsing is done in cmd/bridge/main.go; this struct is data only.
package config

import "os"

// Default configuration values.
const (
	DefaultPort         = "8080"
	DefaultVoice        = "alloy"
	DefaultRealtimeHost = "wss://api.openai.com/v1/realtime"
)

// Config holds all configuration for the bridge service.
type Config struct {
	// Debug enables verbose debug logging.
	Debug bool

	// Port is the HTTP/WebSocket listen port.
	Port string

	// PublicHost is the externally reachable host used when building
	// the media-stream URL in TwiML responses (e.g. "bridge.example.com").
	PublicHost string

	// Voice is the default assistant voice for new model sessions.
	Voice string

	// RealtimeHost is the realtime API endpoint to dial for the model leg.
	RealtimeHost string

	// API keys and credentials (typically from environment variables).
	OpenAIKey        string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	// ObserverTokens is the raw "token:user,token:user" list used to
	// build the static identity verifier.
	ObserverTokens string
}

// DefaultConfig returns sensible defaults for the bridge.
func DefaultConfig() Config {
	return Config{
		Port:         DefaultPort,
		Voice:        DefaultVoice,
		RealtimeHost: DefaultRealtimeHost,
	}
}

// LoadEnvConfig loads configuration values from environment variables.
// Call this after flag parsing to apply environment overrides.
func (c *Config) LoadEnvConfig() {
	c.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	c.TwilioAccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	c.TwilioAuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.TwilioFromNumber = os.Getenv("TWILIO_FROM_NUMBER")

	if host := os.Getenv("PUBLIC_HOST"); host != "" {
		c.PublicHost = host
	}
	if port := os.Getenv("PORT"); port != "" {
		c.Port = port
	}
	if tokens := os.Getenv("OBSERVER_TOKENS"); tokens != "" {
		c.ObserverTokens = tokens
	}
	if voice := os.Getenv("ASSISTANT_VOICE"); voice != "" {
		c.Voice = voice
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.OpenAIKey == "" {
		return &ConfigError{Field: "OpenAIKey", Message: "OPENAI_API_KEY environment variable is required"}
	}
	if c.PublicHost == "" {
		return &ConfigError{Field: "PublicHost", Message: "PUBLIC_HOST environment variable is required for TwiML stream URLs"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}
