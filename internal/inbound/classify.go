// Package inbound maps raw channel frames to session events.
package inbound

import (
	"strings"

	"github.com/chadiek/voice-agent/internal/channel"
)

type Kind int

const (
	Unhandled Kind = iota
	AudioChunk
	TranscriptionEcho
	NoSpeech
	ThinkingStarted
	ReplyText
)

func (k Kind) String() string {
	switch k {
	case AudioChunk:
		return "agent-audio-chunk"
	case TranscriptionEcho:
		return "transcription-echo"
	case NoSpeech:
		return "no-speech"
	case ThinkingStarted:
		return "thinking-started"
	case ReplyText:
		return "agent-reply-text"
	}
	return "unhandled"
}

// Event is a classified inbound frame. Text carries the payload after the
// marker; Audio carries binary frames untouched.
type Event struct {
	Kind  Kind
	Text  string
	Audio []byte
}

// Markers the agent prefixes its text frames with.
const (
	MarkerTranscription = "🎤 You said:"
	MarkerNoSpeech      = "🤔 Sorry, I didn't catch that."
	MarkerThinking      = "🤖 Thinking..."
	MarkerReply         = "💬 AI:"
)

// Classify is stateless: the same frame always yields the same event.
func Classify(m channel.Message) Event {
	if m.Kind == channel.Binary {
		return Event{Kind: AudioChunk, Audio: m.Data}
	}
	s := string(m.Data)
	switch {
	case strings.HasPrefix(s, MarkerTranscription):
		return Event{Kind: TranscriptionEcho, Text: strings.TrimSpace(strings.TrimPrefix(s, MarkerTranscription))}
	case strings.HasPrefix(s, MarkerNoSpeech):
		return Event{Kind: NoSpeech}
	case strings.HasPrefix(s, MarkerThinking):
		return Event{Kind: ThinkingStarted}
	case strings.HasPrefix(s, MarkerReply):
		return Event{Kind: ReplyText, Text: strings.TrimSpace(strings.TrimPrefix(s, MarkerReply))}
	}
	return Event{Kind: Unhandled, Text: s}
}
