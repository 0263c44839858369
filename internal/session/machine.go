package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/chadiek/voice-agent/internal/audio"
	"github.com/chadiek/voice-agent/internal/channel"
	"github.com/chadiek/voice-agent/internal/inbound"
	"github.com/chadiek/voice-agent/internal/playback"
)

// Everything below runs on the session goroutine.

func (s *Session) setStatus(to Status) {
	from := s.status
	if from == to {
		return
	}
	s.status = to
	s.snapMu.Lock()
	s.snapStatus = to
	s.snapMu.Unlock()

	if to == StatusThinking {
		s.armResponseTimeout()
	} else if from == StatusThinking {
		s.disarmResponseTimeout()
	}

	log.Printf("[%s] status %s -> %s", s.id, from, to)
	s.cfg.Metrics.RecordTransition(string(from), string(to))
	if s.cfg.Events.OnStatus != nil {
		s.cfg.Events.OnStatus(from, to)
	}
}

func (s *Session) notice(err error) {
	n := Notice{Err: err, Message: err.Error(), At: time.Now()}
	log.Printf("[%s] notice: %v", s.id, err)
	s.cfg.Metrics.RecordError(errorKind(err))
	if s.cfg.Events.OnNotice != nil {
		s.cfg.Events.OnNotice(n)
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return "device_unavailable"
	case errors.Is(err, channel.ErrOpenFailed):
		return "open_failed"
	case errors.Is(err, channel.ErrDropped):
		return "dropped"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrResponseTimeout):
		return "response_timeout"
	}
	return "other"
}

func (s *Session) publishTranscript() {
	turns := make([]TurnMessage, len(s.turns))
	copy(turns, s.turns)
	s.snapMu.Lock()
	s.snapTurns = turns
	s.snapMu.Unlock()
	if s.cfg.Events.OnTranscript != nil {
		s.cfg.Events.OnTranscript(turns)
	}
}

func (s *Session) appendTurn(author Author, content string) string {
	t := TurnMessage{ID: uuid.NewString(), Author: author, Content: content, CreatedAt: time.Now()}
	s.turns = append(s.turns, t)
	s.publishTranscript()
	return t.ID
}

// finalizeTurn replaces a turn's content. Each turn may be finalized once.
func (s *Session) finalizeTurn(id, content string) bool {
	for i := range s.turns {
		if s.turns[i].ID != id {
			continue
		}
		if s.turns[i].finalized {
			return false
		}
		s.turns[i].Content = content
		s.turns[i].finalized = true
		s.publishTranscript()
		return true
	}
	return false
}

// fail moves to error, releasing everything tied to the conversation.
func (s *Session) fail(err error) {
	s.abortCapture()
	s.flushPlayback()
	s.releaseConn()
	s.setStatus(StatusError)
	s.notice(err)
}

// failCapture moves to error after a microphone failure. The channel stays up.
func (s *Session) failCapture(err error) {
	s.abortCapture()
	s.setStatus(StatusError)
	s.notice(err)
}

func (s *Session) flushPlayback() int {
	n := s.queue.Flush()
	if n > 0 {
		log.Printf("[%s] playback flushed %d unit(s)", s.id, n)
		s.cfg.Metrics.RecordPlayback("flushed", n)
	}
	return n
}

func (s *Session) channelOpen() bool { return s.conn != nil && s.conn.IsOpen() }

func (s *Session) releaseConn() {
	if s.conn == nil {
		return
	}
	s.connGen++
	s.captureOnOpen = false
	_ = s.conn.Close()
	s.conn = nil
}

func (s *Session) connect(thenCapture bool) error {
	token, ok := s.cfg.Identity.CurrentToken()
	if !ok {
		s.fail(ErrUnauthenticated)
		return ErrUnauthenticated
	}
	s.releaseConn()
	s.connGen++
	gen := s.connGen
	s.conn = s.cfg.Dial(token, channel.Events{
		OnOpen:    func() { s.mb.post(func() { s.onOpen(gen) }) },
		OnMessage: func(m channel.Message) { s.mb.post(func() { s.onMessage(gen, m) }) },
		OnClose:   func(err error) { s.mb.post(func() { s.onClose(gen, err) }) },
	})
	s.captureOnOpen = thenCapture
	s.setStatus(StatusConnecting)
	if err := s.conn.Open(s.ctx); err != nil {
		s.cfg.Metrics.RecordChannelOpen("failed")
		s.fail(err)
		return err
	}
	return nil
}

func (s *Session) onOpen(gen uint64) {
	if gen != s.connGen {
		return
	}
	s.cfg.Metrics.RecordChannelOpen("ok")
	if s.captureOnOpen {
		s.captureOnOpen = false
		s.beginCapture()
		return
	}
	if s.status == StatusConnecting {
		s.setStatus(StatusIdle)
	}
}

func (s *Session) onClose(gen uint64, err error) {
	if gen != s.connGen {
		return
	}
	if errors.Is(err, channel.ErrOpenFailed) {
		s.cfg.Metrics.RecordChannelOpen("failed")
	}
	s.fail(err)
}

func (s *Session) toggle() error {
	switch s.status {
	case StatusListening:
		return s.stopCapture()
	case StatusCalibrating:
		return audio.ErrAlreadyCapturing
	case StatusConnecting:
		if s.captureOnOpen {
			return audio.ErrAlreadyCapturing
		}
		s.captureOnOpen = true
		return nil
	}
	if !s.channelOpen() {
		return s.connect(true)
	}
	s.beginCapture()
	return nil
}

// beginCapture flushes agent audio before the microphone opens.
func (s *Session) beginCapture() {
	if s.status == StatusSpeaking || s.queue.Len() > 0 {
		log.Printf("[%s] barge-in", s.id)
		s.cfg.Metrics.RecordBargeIn()
	}
	s.flushPlayback()

	s.capGen++
	gen := s.capGen
	s.capState = captureStarting
	s.setStatus(StatusCalibrating)

	capturer, ctx := s.cfg.Capturer, s.ctx
	go func() {
		h, err := capturer.Begin(ctx)
		posted := s.mb.post(func() { s.onCaptureBegun(gen, h, err) })
		if !posted && err == nil {
			_, _ = capturer.End(h)
		}
	}()
}

func (s *Session) onCaptureBegun(gen uint64, h audio.CaptureHandle, err error) {
	if gen != s.capGen {
		if err == nil {
			_, _ = s.cfg.Capturer.End(h)
		}
		return
	}
	if err != nil {
		s.capState = captureNone
		s.failCapture(fmt.Errorf("start capture: %w", err))
		return
	}
	s.capHandle = h
	s.capState = captureActive
	s.setStatus(StatusListening)
}

// abortCapture releases the microphone without sending anything.
func (s *Session) abortCapture() {
	switch s.capState {
	case captureActive:
		if _, err := s.cfg.Capturer.End(s.capHandle); err != nil {
			log.Printf("[%s] discard capture: %v", s.id, err)
		}
	case captureStarting:
		// onCaptureBegun sees a stale generation and releases the device
	}
	s.capGen++
	s.capState = captureNone
}

func (s *Session) stopCapture() error {
	h := s.capHandle
	s.capGen++
	s.capState = captureNone
	unit, err := s.cfg.Capturer.End(h)
	if err != nil {
		err = fmt.Errorf("finish capture: %w", err)
		s.failCapture(err)
		return err
	}
	if !s.channelOpen() {
		s.fail(channel.ErrNotOpen)
		return channel.ErrNotOpen
	}
	if err := s.conn.Send(channel.Message{Kind: channel.Binary, Data: unit.Data}); err != nil {
		err = fmt.Errorf("send audio: %w", err)
		s.fail(err)
		return err
	}
	log.Printf("[%s] sent audio unit bytes=%d duration=%s", s.id, len(unit.Data), unit.Duration)
	s.cfg.Metrics.RecordAudio("outbound", len(unit.Data))
	s.placeholderID = s.appendTurn(AuthorUser, PlaceholderText)
	if hook := s.cfg.Events.OnRecording; hook != nil {
		hook(s.placeholderID, unit)
	}
	s.awaitingSince = time.Now()
	s.setStatus(StatusThinking)
	return nil
}

type userTextFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (s *Session) submitText(content string) error {
	switch s.status {
	case StatusThinking, StatusSpeaking, StatusConnecting, StatusCalibrating, StatusListening:
		return ErrInputDisabled
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyText
	}
	if !s.channelOpen() {
		return fmt.Errorf("submit text: %w", channel.ErrNotOpen)
	}
	payload, err := json.Marshal(userTextFrame{Type: "user_text", Text: content})
	if err != nil {
		return fmt.Errorf("encode text: %w", err)
	}
	if err := s.conn.Send(channel.Message{Kind: channel.Text, Data: payload}); err != nil {
		err = fmt.Errorf("send text: %w", err)
		s.fail(err)
		return err
	}
	s.placeholderID = ""
	s.appendTurn(AuthorUser, content)
	s.awaitingSince = time.Now()
	s.setStatus(StatusThinking)
	return nil
}

func (s *Session) setMuted(muted bool) {
	playing := s.queue.SetMuted(muted)
	s.snapMu.Lock()
	s.snapMuted = muted
	s.snapMu.Unlock()
	log.Printf("[%s] muted=%t", s.id, muted)
	switch {
	case playing && (s.status == StatusIdle || s.status == StatusThinking):
		s.setStatus(StatusSpeaking)
	case !playing && s.status == StatusSpeaking:
		s.setStatus(StatusIdle)
	}
}

func (s *Session) reconnect() error {
	s.abortCapture()
	s.flushPlayback()
	return s.connect(false)
}

func (s *Session) onMessage(gen uint64, m channel.Message) {
	if gen != s.connGen {
		return
	}
	ev := inbound.Classify(m)
	switch ev.Kind {
	case inbound.AudioChunk:
		s.onAgentAudio(ev.Audio)
	case inbound.TranscriptionEcho:
		if s.placeholderID != "" && s.finalizeTurn(s.placeholderID, ev.Text) {
			s.placeholderID = ""
		}
	case inbound.NoSpeech:
		s.placeholderID = ""
		s.observeLatency()
		s.appendTurn(AuthorAgent, ApologyText)
		if s.status == StatusThinking {
			s.setStatus(StatusIdle)
		}
	case inbound.ThinkingStarted:
		if s.status == StatusThinking {
			s.armResponseTimeout()
		}
	case inbound.ReplyText:
		s.observeLatency()
		s.appendTurn(AuthorAgent, ev.Text)
		if s.status == StatusThinking {
			s.setStatus(StatusIdle)
		}
	default:
		log.Printf("[%s] unhandled message: %q", s.id, truncate(ev.Text, 80))
	}
}

func (s *Session) onAgentAudio(data []byte) {
	s.cfg.Metrics.RecordAudio("inbound", len(data))
	switch s.status {
	case StatusIdle, StatusThinking, StatusSpeaking:
	default:
		log.Printf("[%s] agent audio discarded in %s", s.id, s.status)
		s.cfg.Metrics.RecordPlayback("discarded", 1)
		return
	}
	s.observeLatency()
	s.unitSeq++
	playing := s.queue.Enqueue(audio.AgentUnit{Seq: s.unitSeq, Data: data, ReceivedAt: time.Now()})
	switch {
	case playing:
		s.setStatus(StatusSpeaking)
	case s.status == StatusThinking:
		s.setStatus(StatusIdle)
	}
}

func (s *Session) onPlaybackFinished(h audio.Handle) {
	out := s.queue.Finished(h)
	if out == playback.Stale {
		return
	}
	s.cfg.Metrics.RecordPlayback("played", 1)
	if out != playback.Next && s.status == StatusSpeaking {
		s.setStatus(StatusIdle)
	}
}

func (s *Session) observeLatency() {
	if s.awaitingSince.IsZero() {
		return
	}
	s.cfg.Metrics.RecordTurnLatency(time.Since(s.awaitingSince))
	s.awaitingSince = time.Time{}
}

func (s *Session) armResponseTimeout() {
	if s.cfg.ResponseTimeout <= 0 {
		return
	}
	s.disarmResponseTimeout()
	gen := s.timeoutGen
	s.timeoutTimer = time.AfterFunc(s.cfg.ResponseTimeout, func() {
		s.mb.post(func() {
			if gen == s.timeoutGen && s.status == StatusThinking {
				s.fail(ErrResponseTimeout)
			}
		})
	})
}

func (s *Session) disarmResponseTimeout() {
	s.timeoutGen++
	if s.timeoutTimer != nil {
		s.timeoutTimer.Stop()
		s.timeoutTimer = nil
	}
}

func (s *Session) shutdown() {
	s.abortCapture()
	s.flushPlayback()
	s.releaseConn()
	s.disarmResponseTimeout()
	s.setStatus(StatusIdle)
	s.stopped = true
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
