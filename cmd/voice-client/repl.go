package main

import (
	"context"
	"strings"

	"github.com/chadiek/voice-agent/internal/session"
)

type command int

const (
	cmdToggle command = iota
	cmdText
	cmdMute
	cmdReconnect
	cmdStatus
	cmdHelp
	cmdQuit
	cmdSignOut
	cmdUnknown
)

const helpText = `Enter            start talking, send the recording, or interrupt the agent
<message>        type a message
/mute            mute or unmute agent audio
/reconnect       reconnect to the agent
/status          show the session status
/signout         sign out and exit
/quit            exit`

// parseLine maps one line of terminal input to a command and its argument.
func parseLine(line string) (command, string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return cmdToggle, ""
	}
	if !strings.HasPrefix(line, "/") {
		return cmdText, line
	}
	name, arg, _ := strings.Cut(line, " ")
	switch strings.ToLower(name) {
	case "/text", "/say":
		return cmdText, strings.TrimSpace(arg)
	case "/mute", "/unmute":
		return cmdMute, strings.ToLower(name)
	case "/reconnect":
		return cmdReconnect, ""
	case "/status":
		return cmdStatus, ""
	case "/help", "/?":
		return cmdHelp, ""
	case "/quit", "/exit":
		return cmdQuit, ""
	case "/signout":
		return cmdSignOut, ""
	}
	return cmdUnknown, name
}

// controls is the part of the session the terminal drives.
type controls interface {
	ToggleTalking(ctx context.Context) error
	SubmitText(ctx context.Context, content string) error
	SetMuted(ctx context.Context, muted bool) error
	Reconnect(ctx context.Context) error
	Muted() bool
	Status() session.Status
}

// handleLine runs one line of input. done reports that the client should exit;
// signOut that the stored credential should be dropped first.
func handleLine(ctx context.Context, c controls, v *view, line string) (done, signOut bool) {
	cmd, arg := parseLine(line)
	var err error
	switch cmd {
	case cmdToggle:
		err = c.ToggleTalking(ctx)
	case cmdText:
		err = c.SubmitText(ctx, arg)
	case cmdMute:
		// /mute toggles, /unmute always unmutes
		muted := !c.Muted() && arg != "/unmute"
		if err = c.SetMuted(ctx, muted); err == nil {
			if muted {
				v.println("· Agent audio muted.")
			} else {
				v.println("· Agent audio on.")
			}
		}
	case cmdReconnect:
		err = c.Reconnect(ctx)
	case cmdStatus:
		v.println("· status: %s (muted=%t)", c.Status(), c.Muted())
	case cmdHelp:
		v.println("%s", helpText)
	case cmdQuit:
		return true, false
	case cmdSignOut:
		return true, true
	case cmdUnknown:
		v.println("! unknown command %s, try /help", arg)
	}
	if err != nil {
		v.println("! %v", err)
	}
	return false, false
}
