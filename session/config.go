package session

import (
	"github.com/room4-2/billvoice/config"
	"github.com/room4-2/billvoice/messages"
	"github.com/room4-2/billvoice/tools"
)

const (
	audioFormat        = "pcm16"
	transcriptionModel = "whisper-1"
)

// NewSessionConfig is the session.update payload for the given voice
// settings. The tool list comes from the same registry the dispatcher
// validates against.
func NewSessionConfig(v config.VoiceSettings) messages.SessionConfig {
	return messages.SessionConfig{
		Modalities:              []string{"text", "audio"},
		Instructions:            Instructions,
		Voice:                   v.Voice,
		InputAudioFormat:        audioFormat,
		OutputAudioFormat:       audioFormat,
		InputAudioTranscription: &messages.TranscriptionConfig{Model: transcriptionModel},
		TurnDetection: &messages.TurnDetection{
			Type:              "server_vad",
			Threshold:         v.VADThreshold,
			PrefixPaddingMs:   v.VADPrefixPaddingMs,
			SilenceDurationMs: v.VADSilenceDurationMs,
		},
		Tools:                   tools.OpenAITools(),
		ToolChoice:              "auto",
		Temperature:             v.Temperature,
		MaxResponseOutputTokens: v.MaxResponseOutputTokens,
	}
}
