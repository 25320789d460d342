package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voice gateway service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Public base URL for this service (e.g. https://xxx.ngrok-free.dev when behind ngrok).
	// Loaded but not read by the server; the PBX connects to wss://<this-host>/streams/voice.
	VoiceGatewayURL string `envconfig:"VOICE_GATEWAY_URL" default:""`

	// Deepgram STT API configuration
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" required:"true"`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`  // Default fallback language

	// Sarvam TTS API configuration
	SarvamAPIKey       string `envconfig:"SARVAM_API_KEY" required:"true"`
	SarvamModel        string `envconfig:"SARVAM_MODEL" default:"bulbul:v2"`
	SarvamDefaultVoice string `envconfig:"SARVAM_DEFAULT_VOICE" default:"anushka"`

	// OpenAI LLM configuration
	OpenAIAPIKey   string  `envconfig:"OPENAI_API_KEY" required:"true"`
	OpenAIModel    string  `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	LLMMaxTokens   int     `envconfig:"LLM_MAX_TOKENS" default:"120"` // keep replies short enough to speak quickly
	LLMTemperature float64 `envconfig:"LLM_TEMPERATURE" default:"0.3"`
	LLMTimeoutMs   int     `envconfig:"LLM_TIMEOUT_MS" default:"4000"` // hard cap; timeout yields silence, not a stall

	// Audio processing configuration
	AudioBufferSize    int     `envconfig:"AUDIO_BUFFER_SIZE" default:"8192"`     // Loaded but not read; the pacer sizes its ring buffer per clip
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"` // RMS energy threshold for VAD
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"10"`      // Frames of silence to mark speech end

	// AudioPacer configuration
	PacerFrameDurationMs int `envconfig:"PACER_FRAME_DURATION_MS" default:"20"`
	PacerGraceWindowMs   int `envconfig:"PACER_GRACE_WINDOW_MS" default:"100"`

	// TurnController smart-interruption thresholds
	ShortSpeechThreshold       int `envconfig:"SHORT_SPEECH_THRESHOLD" default:"20"`
	MinAudioBytesForCompletion int `envconfig:"MIN_AUDIO_BYTES_FOR_COMPLETION" default:"50000"`
	InterimSpeechWaitMs        int `envconfig:"INTERIM_SPEECH_WAIT_MS" default:"500"`
	CompletionWaitMs           int `envconfig:"COMPLETION_WAIT_MS" default:"1000"`

	// History bound, in exchanges (one user + one assistant message each)
	HistoryMaxExchanges int `envconfig:"HISTORY_MAX_EXCHANGES" default:"10"`

	// Fallback agent persona, used when no account-specific persona resolves
	AgentDefaultSystemPrompt string `envconfig:"AGENT_DEFAULT_SYSTEM_PROMPT" default:"You are a helpful phone assistant. Keep replies short and conversational."`
	AgentDefaultFirstMessage string `envconfig:"AGENT_DEFAULT_FIRST_MESSAGE" default:"Hello, thanks for calling. How can I help you today?"`
	AgentDefaultLanguage     string `envconfig:"AGENT_DEFAULT_LANGUAGE" default:"en"`

	// CallLogger batching: flush every N entries or after a timeout, whichever first
	LogBatchSize      int `envconfig:"LOG_BATCH_SIZE" default:"5"`
	LogBatchTimeoutMs int `envconfig:"LOG_BATCH_TIMEOUT_MS" default:"3000"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"3"`         // attempts before a client marks itself degraded
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

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

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate enforces the three required API keys. Missing any one of them
// must fail startup.
func validate(cfg *Config) error {
	if cfg.DeepgramAPIKey == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY is required")
	}
	if cfg.SarvamAPIKey == "" {
		return fmt.Errorf("SARVAM_API_KEY is required")
	}
	if cfg.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	return nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
