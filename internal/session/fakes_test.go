package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chadiek/voice-agent/internal/audio"
	"github.com/chadiek/voice-agent/internal/channel"
)

// eventLog records adapter calls across fakes so tests can assert ordering.
type eventLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	l.entries = append(l.entries, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *eventLog) index(entry string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e == entry {
			return i
		}
	}
	return -1
}

type fakeIdentity struct {
	mu        sync.Mutex
	token     string
	signedOut bool
}

func (f *fakeIdentity) IsAuthenticated() bool { _, ok := f.CurrentToken(); return ok }

func (f *fakeIdentity) CurrentToken() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, f.token != ""
}

func (f *fakeIdentity) SignOut() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = ""
	f.signedOut = true
	return nil
}

type fakeConn struct {
	token    string
	ev       channel.Events
	autoOpen bool

	mu     sync.Mutex
	open   bool
	sent   []channel.Message
	closes int
}

func (c *fakeConn) Open(context.Context) error {
	if !c.autoOpen {
		return nil
	}
	c.mu.Lock()
	c.open = true
	c.mu.Unlock()
	c.ev.OnOpen()
	return nil
}

func (c *fakeConn) Send(m channel.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return channel.ErrNotOpen
	}
	c.sent = append(c.sent, m)
	return nil
}

func (c *fakeConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.open = false
	c.closes++
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Sent() []channel.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]channel.Message(nil), c.sent...)
}

func (c *fakeConn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *fakeConn) text(s string)   { c.ev.OnMessage(channel.Message{Kind: channel.Text, Data: []byte(s)}) }
func (c *fakeConn) binary(b []byte) { c.ev.OnMessage(channel.Message{Kind: channel.Binary, Data: b}) }
func (c *fakeConn) drop()           { c.fail(fmt.Errorf("%w: connection reset", channel.ErrDropped)) }
func (c *fakeConn) rejectOpen()     { c.fail(fmt.Errorf("%w: status 403", channel.ErrOpenFailed)) }

func (c *fakeConn) fail(err error) {
	c.mu.Lock()
	c.open = false
	c.mu.Unlock()
	c.ev.OnClose(err)
}

type fakeCapturer struct {
	log      *eventLog
	beginErr error
	gate     chan struct{}

	mu     sync.Mutex
	next   audio.CaptureHandle
	active bool
	begins int
	ends   int
}

func (c *fakeCapturer) Name() string { return "fake" }

func (c *fakeCapturer) Begin(ctx context.Context) (audio.CaptureHandle, error) {
	c.log.add("capture:begin")
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.begins++
	if c.beginErr != nil {
		return 0, c.beginErr
	}
	if c.active {
		return 0, audio.ErrAlreadyCapturing
	}
	c.active = true
	c.next++
	return c.next, nil
}

func (c *fakeCapturer) End(h audio.CaptureHandle) (audio.CapturedUnit, error) {
	c.log.add("capture:end")
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active || h != c.next {
		return audio.CapturedUnit{}, audio.ErrNotCapturing
	}
	c.active = false
	c.ends++
	return audio.CapturedUnit{Data: []byte(fmt.Sprintf("wav-%d", h)), ContentType: "audio/wav", Duration: time.Second}, nil
}

func (c *fakeCapturer) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

type fakePlayer struct {
	log *eventLog

	mu      sync.Mutex
	next    audio.Handle
	played  []string
	playing map[audio.Handle]func(audio.Handle)
	stopped []audio.Handle
}

func newFakePlayer(l *eventLog) *fakePlayer {
	return &fakePlayer{log: l, playing: make(map[audio.Handle]func(audio.Handle))}
}

func (p *fakePlayer) Name() string { return "fake" }

func (p *fakePlayer) Play(u audio.AgentUnit, finished func(audio.Handle)) (audio.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	p.played = append(p.played, string(u.Data))
	p.playing[p.next] = finished
	p.log.add("play:%d", p.next)
	return p.next, nil
}

func (p *fakePlayer) Stop(h audio.Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.playing, h)
	p.stopped = append(p.stopped, h)
	p.log.add("stop:%d", h)
}

func (p *fakePlayer) Close() error { return nil }

// finish ends the oldest playing unit naturally.
func (p *fakePlayer) finish(t *testing.T) {
	t.Helper()
	p.mu.Lock()
	var h audio.Handle
	for k := range p.playing {
		if h == 0 || k < h {
			h = k
		}
	}
	cb := p.playing[h]
	delete(p.playing, h)
	p.mu.Unlock()
	require.NotNil(t, cb, "nothing playing")
	cb(h)
}

func (p *fakePlayer) Played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.played...)
}

func (p *fakePlayer) Playing() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.playing)
}

type harness struct {
	s        *Session
	log      *eventLog
	identity *fakeIdentity
	capturer *fakeCapturer
	player   *fakePlayer

	mu       sync.Mutex
	conns    []*fakeConn
	statuses []string
	notices  []Notice
	autoOpen bool
}

func newHarness(t *testing.T, mutate ...func(*harness, *Config)) *harness {
	t.Helper()
	l := &eventLog{}
	h := &harness{
		log:      l,
		identity: &fakeIdentity{token: "tok"},
		capturer: &fakeCapturer{log: l},
		player:   newFakePlayer(l),
		autoOpen: true,
	}
	cfg := Config{
		Identity: h.identity,
		Capturer: h.capturer,
		Player:   h.player,
		Dial: func(token string, ev channel.Events) Conn {
			h.mu.Lock()
			defer h.mu.Unlock()
			c := &fakeConn{token: token, ev: ev, autoOpen: h.autoOpen}
			h.conns = append(h.conns, c)
			return c
		},
		Events: Events{
			OnStatus: func(from, to Status) {
				h.mu.Lock()
				h.statuses = append(h.statuses, string(from)+">"+string(to))
				h.mu.Unlock()
			},
			OnNotice: func(n Notice) {
				h.mu.Lock()
				h.notices = append(h.notices, n)
				h.mu.Unlock()
			},
		},
	}
	for _, m := range mutate {
		m(h, &cfg)
	}
	s, err := New(cfg)
	require.NoError(t, err)
	h.s = s
	t.Cleanup(s.Shutdown)
	s.Start()
	return h
}

func (h *harness) conn(t *testing.T) *fakeConn {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(t, h.conns)
	return h.conns[len(h.conns)-1]
}

func (h *harness) connCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *harness) Notices() []Notice {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Notice(nil), h.notices...)
}

func (h *harness) Statuses() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.statuses...)
}

func (h *harness) waitStatus(t *testing.T, want Status) {
	t.Helper()
	require.Eventually(t, func() bool { return h.s.Status() == want }, 2*time.Second, 2*time.Millisecond,
		"status never became %s (now %s)", want, h.s.Status())
}

// ready waits for the initial connection to open.
func (h *harness) ready(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, s := range h.Statuses() {
			if s == "connecting>idle" {
				return true
			}
		}
		return false
	}, 2*time.Second, 2*time.Millisecond, "session never connected")
	h.settle(t)
}

// settle waits until everything posted so far has been handled.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	require.NoError(t, h.s.call(context.Background(), func() error { return nil }))
}

// listen drives the session from idle to listening.
func (h *harness) listen(t *testing.T) {
	t.Helper()
	require.NoError(t, h.s.ToggleTalking(context.Background()))
	h.waitStatus(t, StatusListening)
}
