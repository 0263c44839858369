package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/chadiek/voice-agent/internal/audio"
	"github.com/chadiek/voice-agent/internal/session"
)

var statusLabels = map[session.Status]string{
	session.StatusIdle:        "Ready. Press Enter to talk, or type a message.",
	session.StatusConnecting:  "Connecting...",
	session.StatusCalibrating: "Getting the microphone ready...",
	session.StatusListening:   "Listening... press Enter to send.",
	session.StatusThinking:    "Thinking...",
	session.StatusSpeaking:    "Speaking... press Enter to interrupt.",
	session.StatusError:       "Error. Press Enter or /reconnect to retry.",
}

// view renders session events as plain terminal lines.
type view struct {
	mu      sync.Mutex
	out     io.Writer
	printed map[string]string
}

func newView(out io.Writer) *view {
	return &view{out: out, printed: make(map[string]string)}
}

func (v *view) Events() session.Events {
	return session.Events{
		OnStatus:     v.status,
		OnTranscript: v.transcript,
		OnNotice:     v.notice,
	}
}

func (v *view) status(_, to session.Status) {
	v.mu.Lock()
	defer v.mu.Unlock()
	label, ok := statusLabels[to]
	if !ok {
		label = string(to)
	}
	fmt.Fprintf(v.out, "· %s\n", label)
}

// transcript prints turns that are new or whose content changed.
func (v *view) transcript(turns []session.TurnMessage) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, t := range turns {
		if prev, seen := v.printed[t.ID]; seen && prev == t.Content {
			continue
		}
		v.printed[t.ID] = t.Content
		who := "You"
		if t.Author == session.AuthorAgent {
			who = "Agent"
		}
		fmt.Fprintf(v.out, "%s: %s\n", who, t.Content)
	}
}

func (v *view) notice(n session.Notice) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, "! %s\n", n.Message)
}

func (v *view) println(format string, args ...any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, format+"\n", args...)
}

// fanout delivers every session event to each of evs in order.
func fanout(evs ...session.Events) session.Events {
	return session.Events{
		OnStatus: func(from, to session.Status) {
			for _, e := range evs {
				if e.OnStatus != nil {
					e.OnStatus(from, to)
				}
			}
		},
		OnTranscript: func(turns []session.TurnMessage) {
			for _, e := range evs {
				if e.OnTranscript != nil {
					e.OnTranscript(turns)
				}
			}
		},
		OnNotice: func(n session.Notice) {
			for _, e := range evs {
				if e.OnNotice != nil {
					e.OnNotice(n)
				}
			}
		},
		OnRecording: func(turnID string, unit audio.CapturedUnit) {
			for _, e := range evs {
				if e.OnRecording != nil {
					e.OnRecording(turnID, unit)
				}
			}
		},
	}
}
