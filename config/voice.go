package config

import (
	"fmt"
	"sort"
)

// VoiceSettings are the tunables sent to the speech service in session.update
type VoiceSettings struct {
	Temperature             float64 `json:"temperature"`
	MaxResponseOutputTokens int     `json:"max_response_output_tokens"`
	Voice                   string  `json:"voice"`
	VADThreshold            float64 `json:"vad_threshold"`
	VADPrefixPaddingMs      int     `json:"vad_prefix_padding_ms"`
	VADSilenceDurationMs    int     `json:"vad_silence_duration_ms"`
}

// DirectVoiceSettings are the defaults used when the client talks to the vendor directly
func DirectVoiceSettings() VoiceSettings {
	return VoiceSettings{
		Temperature:             0.8,
		MaxResponseOutputTokens: 4096,
		Voice:                   "alloy",
		VADThreshold:            0.5,
		VADPrefixPaddingMs:      300,
		VADSilenceDurationMs:    500,
	}
}

// RelayVoiceSettings are the defaults the relay applies to new upstream sessions.
// The high VAD threshold keeps background noise from opening turns.
func RelayVoiceSettings() VoiceSettings {
	return VoiceSettings{
		Temperature:             0.8,
		MaxResponseOutputTokens: 1000,
		Voice:                   "alloy",
		VADThreshold:            0.95,
		VADPrefixPaddingMs:      300,
		VADSilenceDurationMs:    1200,
	}
}

// Validate enforces the ranges the speech service accepts
func (v VoiceSettings) Validate() error {
	if v.Temperature < 0 || v.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0.0 and 2.0, got %v", v.Temperature)
	}
	if v.MaxResponseOutputTokens < 1 || v.MaxResponseOutputTokens > 4096 {
		return fmt.Errorf("max_response_output_tokens must be between 1 and 4096, got %d", v.MaxResponseOutputTokens)
	}
	if v.Voice == "" {
		return fmt.Errorf("voice must not be empty")
	}
	if v.VADThreshold < 0 || v.VADThreshold > 1 {
		return fmt.Errorf("vad_threshold must be between 0.0 and 1.0, got %v", v.VADThreshold)
	}
	if v.VADPrefixPaddingMs < 0 || v.VADSilenceDurationMs < 0 {
		return fmt.Errorf("vad durations must not be negative")
	}
	return nil
}

// Preset overlays tuned for a kind of conversation
type Preset struct {
	Description          string  `json:"description"`
	Temperature          float64 `json:"temperature"`
	VADThreshold         float64 `json:"vad_threshold"`
	VADSilenceDurationMs int     `json:"vad_silence_duration_ms"`
}

var presets = map[string]Preset{
	"payment": {
		Description:          "Precise and focused for payment processing",
		Temperature:          0.5,
		VADThreshold:         0.5,
		VADSilenceDurationMs: 1500,
	},
	"conversation": {
		Description:          "Balanced for general conversation",
		Temperature:          0.7,
		VADThreshold:         0.4,
		VADSilenceDurationMs: 1800,
	},
	"creative": {
		Description:          "Creative and engaging",
		Temperature:          0.9,
		VADThreshold:         0.3,
		VADSilenceDurationMs: 2000,
	},
	"default": {
		Description:          "Default settings",
		Temperature:          0.8,
		VADThreshold:         0.3,
		VADSilenceDurationMs: 2000,
	},
}

// PresetNames lists the known presets in stable order
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyPreset returns base with the named preset overlaid
func ApplyPreset(base VoiceSettings, name string) (VoiceSettings, Preset, error) {
	p, ok := presets[name]
	if !ok {
		return base, Preset{}, fmt.Errorf("unknown preset %q (available: %v)", name, PresetNames())
	}
	base.Temperature = p.Temperature
	base.VADThreshold = p.VADThreshold
	base.VADSilenceDurationMs = p.VADSilenceDurationMs
	return base, p, nil
}
