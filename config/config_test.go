package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("VOICE_TRANSPORT", "")
	t.Setenv("CONNECT_TIMEOUT", "")
	t.Setenv("SEND_INTERVAL_MS", "")
	t.Setenv("RELAY_URL", "")
	t.Setenv("PORT", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, TransportRelay, cfg.Transport)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 50*time.Millisecond, cfg.SendInterval)
	assert.Equal(t, "ws://localhost:8000/ws/voice", cfg.RelayURL)
	assert.Equal(t, 8000, cfg.Port)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("VOICE_TRANSPORT", "direct")
	t.Setenv("CONNECT_TIMEOUT", "3")
	t.Setenv("SEND_INTERVAL_MS", "20")
	t.Setenv("VOICE_TEMPERATURE", "0.6")
	t.Setenv("VAD_SILENCE_DURATION_MS", "900")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, http://b.test")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, TransportDirect, cfg.Transport)
	assert.Equal(t, 3*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 20*time.Millisecond, cfg.SendInterval)
	assert.InDelta(t, 0.6, cfg.Voice.Temperature, 1e-9)
	assert.InDelta(t, 0.6, cfg.RelayVoice.Temperature, 1e-9)
	assert.Equal(t, 900, cfg.Voice.VADSilenceDurationMs)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("VOICE_TRANSPORT", "carrier-pigeon")
	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("VOICE_TRANSPORT", "")
	t.Setenv("PORT", "eighty")
	_, err = LoadConfig()
	assert.ErrorContains(t, err, "invalid PORT")
}

func TestValidateServerRequiresUpstreamKey(t *testing.T) {
	cfg := &Config{Upstream: UpstreamGemini, MaxSessions: 1, RelayVoice: RelayVoiceSettings()}
	assert.ErrorContains(t, cfg.ValidateServer(), "GEMINI_API_KEY")

	cfg.GeminiAPIKey = "key"
	assert.NoError(t, cfg.ValidateServer())
}

func TestVoiceSettingsValidate(t *testing.T) {
	v := DirectVoiceSettings()
	require.NoError(t, v.Validate())

	v.Temperature = 2.5
	assert.Error(t, v.Validate())

	v = DirectVoiceSettings()
	v.MaxResponseOutputTokens = 0
	assert.Error(t, v.Validate())

	v = DirectVoiceSettings()
	v.VADThreshold = 1.1
	assert.Error(t, v.Validate())
}

func TestApplyPreset(t *testing.T) {
	got, p, err := ApplyPreset(RelayVoiceSettings(), "payment")
	require.NoError(t, err)
	assert.Equal(t, "Precise and focused for payment processing", p.Description)
	assert.InDelta(t, 0.5, got.Temperature, 1e-9)
	assert.Equal(t, 1500, got.VADSilenceDurationMs)
	assert.Equal(t, 1000, got.MaxResponseOutputTokens)

	_, _, err = ApplyPreset(RelayVoiceSettings(), "loud")
	assert.ErrorContains(t, err, "unknown preset")
	assert.Equal(t, []string{"conversation", "creative", "default", "payment"}, PresetNames())
}
