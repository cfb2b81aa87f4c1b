package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voice bridge service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Public base URL for this service (e.g. https://xxx.ngrok-free.dev when behind ngrok).
	// Only used for logging the media-stream endpoint.
	PublicURL string `envconfig:"PUBLIC_URL" default:""`

	// Realtime AI endpoint
	RealtimeAPIKey       string   `envconfig:"REALTIME_API_KEY" required:"true"`
	RealtimeBaseURL      string   `envconfig:"REALTIME_BASE_URL" default:"https://api.openai.com"`
	RealtimeModel        string   `envconfig:"REALTIME_MODEL" default:"gpt-realtime"`
	RealtimeVoice        string   `envconfig:"REALTIME_VOICE" default:"alloy"`
	RealtimeInstructions string   `envconfig:"REALTIME_INSTRUCTIONS" default:"You are a helpful voice assistant answering a phone call. Be brief."`
	ICEServerURLs        []string `envconfig:"ICE_SERVER_URLS" default:"stun:stun.l.google.com:19302"`
	NegotiationTimeout   int      `envconfig:"NEGOTIATION_TIMEOUT" default:"10"`    // seconds
	SignalingHTTPTimeout int      `envconfig:"SIGNALING_HTTP_TIMEOUT" default:"10"` // seconds

	// Audio pipeline configuration
	TelephonySampleRate int `envconfig:"TELEPHONY_SAMPLE_RATE" default:"8000"` // Hz
	AISampleRate        int `envconfig:"AI_SAMPLE_RATE" default:"8000"`        // Hz, rate handed to the AI transport
	FrameDurationMs     int `envconfig:"FRAME_DURATION_MS" default:"20"`
	TelephonyFrameBytes int `envconfig:"TELEPHONY_FRAME_BYTES" default:"160"` // 0 derives from rate and duration
	MaxPendingFrames    int `envconfig:"MAX_PENDING_FRAMES" default:"50"`     // inbound backlog per session
	AIFrameQueueSize    int `envconfig:"AI_FRAME_QUEUE_SIZE" default:"100"`   // received AI frames awaiting the session

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values envconfig cannot express as tags
func (c *Config) Validate() error {
	if c.RealtimeAPIKey == "" {
		return fmt.Errorf("REALTIME_API_KEY is required")
	}
	if c.TelephonySampleRate <= 0 || c.AISampleRate <= 0 {
		return fmt.Errorf("sample rates must be positive (telephony=%d, ai=%d)", c.TelephonySampleRate, c.AISampleRate)
	}
	if c.FrameDurationMs <= 0 {
		return fmt.Errorf("FRAME_DURATION_MS must be positive, got %d", c.FrameDurationMs)
	}
	if c.TelephonyFrameBytes < 0 || c.TelephonyFrameBytes%2 != 0 {
		return fmt.Errorf("TELEPHONY_FRAME_BYTES must be a non-negative even number, got %d", c.TelephonyFrameBytes)
	}
	if c.MaxPendingFrames <= 0 {
		return fmt.Errorf("MAX_PENDING_FRAMES must be positive, got %d", c.MaxPendingFrames)
	}
	return nil
}

// NegotiationTimeoutDuration returns the AI-leg negotiation budget
func (c *Config) NegotiationTimeoutDuration() time.Duration {
	return time.Duration(c.NegotiationTimeout) * time.Second
}

// SignalingHTTPTimeoutDuration returns the per-request signaling HTTP timeout
func (c *Config) SignalingHTTPTimeoutDuration() time.Duration {
	return time.Duration(c.SignalingHTTPTimeout) * time.Second
}
