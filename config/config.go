package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Transport modes for the voice client
const (
	TransportDirect = "direct"
	TransportRelay  = "relay"
)

// Relay upstreams
const (
	UpstreamOpenAI = "openai"
	UpstreamGemini = "gemini"
)

const (
	defaultRealtimeURL = "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview-2024-10-01"
	defaultRelayURL    = "ws://localhost:8000/ws/voice"
	defaultGeminiModel = "models/gemini-2.5-flash-native-audio-preview-12-2025"
)

// Config holds client and relay server configuration
type Config struct {
	Env string // "development" or "production"

	// Voice client
	Transport      string // "direct" or "relay"
	OpenAIAPIKey   string
	RealtimeURL    string
	RelayURL       string
	ConnectTimeout time.Duration
	SendInterval   time.Duration // minimum spacing between outbound audio sends
	Voice          VoiceSettings // session.update values for the direct transport

	// Relay server
	Port            int
	Upstream        string // "openai" or "gemini"
	GeminiAPIKey    string
	GeminiModel     string
	RelayVoice      VoiceSettings // defaults for sessions the relay opens upstream
	RedisURL        string
	RedisPassword   string
	MaxSessions     int
	SessionTimeout  time.Duration
	AllowedOrigins  []string
	KeepAlivePeriod time.Duration
	MaxBufferSize   int // maximum pending capture audio in bytes
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := &Config{
		Env:             "development",
		Transport:       TransportRelay,
		RealtimeURL:     defaultRealtimeURL,
		RelayURL:        defaultRelayURL,
		ConnectTimeout:  10 * time.Second,
		SendInterval:    50 * time.Millisecond,
		Voice:           DirectVoiceSettings(),
		Port:            8000,
		Upstream:        UpstreamOpenAI,
		GeminiModel:     defaultGeminiModel,
		RelayVoice:      RelayVoiceSettings(),
		RedisURL:        "localhost:6379",
		MaxSessions:     100,
		SessionTimeout:  30 * time.Minute,
		AllowedOrigins:  []string{"http://localhost:5173"},
		KeepAlivePeriod: 30 * time.Second,
		MaxBufferSize:   5 * 1024 * 1024, // 5MB default
	}

	config.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	config.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")

	if env := os.Getenv("ENV"); env != "" {
		config.Env = env
	}

	// Optional: VOICE_TRANSPORT ("direct" or "relay")
	if transport := os.Getenv("VOICE_TRANSPORT"); transport != "" {
		switch transport {
		case TransportDirect, TransportRelay:
			config.Transport = transport
		default:
			return nil, fmt.Errorf("invalid VOICE_TRANSPORT: must be 'direct' or 'relay'")
		}
	}

	if url := os.Getenv("OPENAI_REALTIME_URL"); url != "" {
		config.RealtimeURL = url
	}
	if url := os.Getenv("RELAY_URL"); url != "" {
		config.RelayURL = url
	}

	// Optional: CONNECT_TIMEOUT (in seconds)
	if err := durationEnv("CONNECT_TIMEOUT", time.Second, &config.ConnectTimeout); err != nil {
		return nil, err
	}

	// Optional: SEND_INTERVAL_MS
	if err := durationEnv("SEND_INTERVAL_MS", time.Millisecond, &config.SendInterval); err != nil {
		return nil, err
	}

	if err := applyVoiceEnv(&config.Voice); err != nil {
		return nil, err
	}
	if err := applyVoiceEnv(&config.RelayVoice); err != nil {
		return nil, err
	}

	// Optional: PORT
	if err := intEnv("PORT", &config.Port); err != nil {
		return nil, err
	}

	// Optional: RELAY_UPSTREAM ("openai" or "gemini")
	if upstream := os.Getenv("RELAY_UPSTREAM"); upstream != "" {
		switch upstream {
		case UpstreamOpenAI, UpstreamGemini:
			config.Upstream = upstream
		default:
			return nil, fmt.Errorf("invalid RELAY_UPSTREAM: must be 'openai' or 'gemini'")
		}
	}

	if model := os.Getenv("GEMINI_MODEL"); model != "" {
		config.GeminiModel = model
	}

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		config.RedisURL = redisURL
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		config.RedisPassword = redisPassword
	}

	if err := intEnv("MAX_SESSIONS", &config.MaxSessions); err != nil {
		return nil, err
	}

	// Optional: SESSION_TIMEOUT (in minutes)
	if err := durationEnv("SESSION_TIMEOUT", time.Minute, &config.SessionTimeout); err != nil {
		return nil, err
	}

	// Optional: ALLOWED_ORIGINS (comma-separated)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = splitList(origins)
	}

	// Optional: KEEPALIVE_PERIOD (in seconds)
	if err := durationEnv("KEEPALIVE_PERIOD", time.Second, &config.KeepAlivePeriod); err != nil {
		return nil, err
	}

	// Optional: MAX_BUFFER_SIZE (in bytes)
	if err := intEnv("MAX_BUFFER_SIZE", &config.MaxBufferSize); err != nil {
		return nil, err
	}

	return config, nil
}

// ValidateServer checks that the relay has a credential for its upstream
func (c *Config) ValidateServer() error {
	switch c.Upstream {
	case UpstreamOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY environment variable is required")
		}
	case UpstreamGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY environment variable is required")
		}
	default:
		return fmt.Errorf("unknown relay upstream %q", c.Upstream)
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("MAX_SESSIONS must be positive")
	}
	return c.RelayVoice.Validate()
}

func applyVoiceEnv(v *VoiceSettings) error {
	if voice := os.Getenv("VOICE_NAME"); voice != "" {
		v.Voice = voice
	}
	if err := floatEnv("VOICE_TEMPERATURE", &v.Temperature); err != nil {
		return err
	}
	if err := intEnv("VOICE_MAX_TOKENS", &v.MaxResponseOutputTokens); err != nil {
		return err
	}
	if err := floatEnv("VAD_THRESHOLD", &v.VADThreshold); err != nil {
		return err
	}
	if err := intEnv("VAD_PREFIX_PADDING_MS", &v.VADPrefixPaddingMs); err != nil {
		return err
	}
	return intEnv("VAD_SILENCE_DURATION_MS", &v.VADSilenceDurationMs)
}

func intEnv(key string, dst *int) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func floatEnv(key string, dst *float64) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = f
	return nil
}

func durationEnv(key string, unit time.Duration, dst *time.Duration) error {
	var n int
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	if err := intEnv(key, &n); err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("invalid %s: must not be negative", key)
	}
	*dst = time.Duration(n) * unit
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
