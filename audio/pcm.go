// Package audio holds the PCM16 capture and playback pipeline. Hardware
// backends live in audio/device; everything here runs without a sound card.
package audio

import (
	"encoding/base64"
	"time"
)

// Wire format: mono PCM16 little-endian at 24 kHz.
const (
	SampleRate     = 24000
	Channels       = 1
	BytesPerSample = 2
	bytesPerSecond = SampleRate * Channels * BytesPerSample
)

// MIMEType labels PCM payloads for services that want an explicit rate.
const MIMEType = "audio/pcm;rate=24000"

func EncodeBase64(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

func DecodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// Duration is the playback length of n bytes of wire audio.
func Duration(n int) time.Duration {
	return time.Duration(n) * time.Second / bytesPerSecond
}

// BytesFor is the whole-sample byte count covering d.
func BytesFor(d time.Duration) int {
	n := int(d * bytesPerSecond / time.Second)
	return n - n%(BytesPerSample*Channels)
}
