package playback

import "strings"

// PlaybackState is the authoritative transport state of a player. It is
// owned by the backend's decode goroutine and read by any goroutine through
// State(); every transition fires Events.OnStateChanged exactly once.
type PlaybackState int

const (
	StateIdle PlaybackState = iota
	StateOpening
	StateBuffering
	StatePlaying
	StatePaused
	StateStopped
	StateEndOfMedia
	StateError
)

func (s PlaybackState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateOpening:
		return "Opening"
	case StateBuffering:
		return "Buffering"
	case StatePlaying:
		return "Playing"
	case StatePaused:
		return "Paused"
	case StateStopped:
		return "Stopped"
	case StateEndOfMedia:
		return "EndOfMedia"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// MediaInfo describes the currently open stream. It is populated once a
// stream finishes opening, read-only afterwards, and replaced wholesale on
// the next Open.
type MediaInfo struct {
	Width      int     // Video width in pixels (0 for audio-only)
	Height     int     // Video height in pixels
	FrameRate  float64 // Container-reported frame rate
	Channels   int     // Audio channel count
	SampleRate int     // Audio sample rate in Hz
	DurationUs int64   // Total duration in microseconds (0 if unknown/live)
	VideoCodec string  // Codec identifier as reported by the backend
	AudioCodec string  // Codec identifier as reported by the backend
	Container  string  // Container/demuxer identifier
}

// HasVideo reports whether the stream carries a video track.
func (m MediaInfo) HasVideo() bool {
	return m.Width > 0 && m.Height > 0
}

// HasAudio reports whether the stream carries an audio track.
func (m MediaInfo) HasAudio() bool {
	return m.Channels > 0 && m.SampleRate > 0
}

// Header is one HTTP request header passed to Open. Order is preserved when
// headers are serialized for the transport, so callers can rely on it for
// proxies that care.
type Header struct {
	Key   string
	Value string
}

// formatHeaders serializes headers as CRLF-joined "Key: Value" pairs, the
// form HTTP-speaking backends accept as a single option string.
func formatHeaders(headers []Header) string {
	if len(headers) == 0 {
		return ""
	}
	var b strings.Builder
	for i, h := range headers {
		if i > 0 {
			b.WriteString("\r\n")
		}
		b.WriteString(h.Key)
		b.WriteString(": ")
		b.WriteString(h.Value)
	}
	return b.String()
}

// clampVolume bounds a volume value to [0, 1].
func clampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
