// Package channel is the bidirectional websocket link to the voice agent.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Kind distinguishes text frames from binary frames.
type Kind int

const (
	Text Kind = iota
	Binary
)

func (k Kind) String() string {
	if k == Binary {
		return "binary"
	}
	return "text"
}

// Message is one frame in either direction.
type Message struct {
	Kind Kind
	Data []byte
}

var (
	ErrOpenFailed     = errors.New("channel open failed")
	ErrDropped        = errors.New("channel dropped")
	ErrNotOpen        = errors.New("channel not open")
	ErrSendBufferFull = errors.New("channel send buffer full")
	ErrAlreadyOpened  = errors.New("channel already opened")
)

// Events are invoked from the channel's goroutines. OnClose fires at most
// once, for an open failure or a remote drop, never after a local Close.
type Events struct {
	OnOpen    func()
	OnMessage func(Message)
	OnClose   func(err error)
}

// Options configure a connection.
type Options struct {
	URL              string
	Token            string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// PingInterval of zero disables keepalive pings.
	PingInterval time.Duration
	SendBuffer   int
}

type state int

const (
	stateIdle state = iota
	stateOpening
	stateOpen
	stateClosed
)

// Channel is a single connection lifecycle. Reconnecting means building a new Channel.
type Channel struct {
	opts Options
	ev   Events
	id   string

	out  chan Message
	done chan struct{}

	mu     sync.Mutex
	st     state
	conn   *websocket.Conn
	cancel context.CancelFunc
}

func New(opts Options, ev Events) *Channel {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	return &Channel{
		opts: opts,
		ev:   ev,
		id:   uuid.NewString()[:8],
		out:  make(chan Message, opts.SendBuffer),
		done: make(chan struct{}),
	}
}

// ID is a short identifier used in log lines.
func (c *Channel) ID() string { return c.id }

// Open starts connecting in the background. The outcome is delivered via
// OnOpen or OnClose. Cancelling ctx or calling Close aborts the attempt.
func (c *Channel) Open(ctx context.Context) error {
	target, err := c.dialURL()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}
	c.mu.Lock()
	if c.st != stateIdle {
		c.mu.Unlock()
		return ErrAlreadyOpened
	}
	c.st = stateOpening
	dctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	go c.dial(dctx, target)
	return nil
}

func (c *Channel) dialURL() (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if c.opts.Token != "" {
		q := u.Query()
		q.Set("token", c.opts.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Channel) header() http.Header {
	h := http.Header{}
	if c.opts.Token != "" {
		h.Set("Authorization", "Bearer "+c.opts.Token)
	}
	return h
}

func (c *Channel) dial(ctx context.Context, target string) {
	d := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.opts.HandshakeTimeout,
	}
	conn, resp, err := d.DialContext(ctx, target, c.header())

	c.mu.Lock()
	if c.st == stateClosed {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		c.markClosedLocked()
		c.mu.Unlock()
		if resp != nil {
			err = fmt.Errorf("%v (status %d)", err, resp.StatusCode)
		}
		log.Printf("[%s] channel open failed: %v", c.id, err)
		c.report(fmt.Errorf("%w: %v", ErrOpenFailed, err))
		return
	}
	c.conn = conn
	c.st = stateOpen
	c.mu.Unlock()

	log.Printf("[%s] channel open", c.id)
	go c.writeLoop(conn)
	if c.ev.OnOpen != nil {
		c.ev.OnOpen()
	}
	go c.readLoop(conn)
}

// IsOpen reports whether frames can be sent.
func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st == stateOpen
}

// Send queues m for delivery in order. It never blocks.
func (c *Channel) Send(m Message) error {
	c.mu.Lock()
	st := c.st
	c.mu.Unlock()
	if st != stateOpen {
		return ErrNotOpen
	}
	select {
	case <-c.done:
		return ErrNotOpen
	default:
	}
	select {
	case c.out <- m:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close shuts the channel down. It is safe to call repeatedly and from any
// state; frames still queued are discarded.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.st == stateClosed {
		c.mu.Unlock()
		return nil
	}
	c.markClosedLocked()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
		log.Printf("[%s] channel closed", c.id)
	}
	return nil
}

func (c *Channel) markClosedLocked() {
	c.st = stateClosed
	if c.cancel != nil {
		c.cancel()
	}
	close(c.done)
}

// drop handles a failure observed by the read or write loop.
func (c *Channel) drop(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.st == stateClosed {
		c.mu.Unlock()
		return
	}
	c.markClosedLocked()
	c.mu.Unlock()
	_ = conn.Close()
	log.Printf("[%s] channel dropped: %v", c.id, err)
	c.report(fmt.Errorf("%w: %v", ErrDropped, err))
}

func (c *Channel) report(err error) {
	if c.ev.OnClose != nil {
		c.ev.OnClose(err)
	}
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			c.drop(conn, err)
			return
		}
		var kind Kind
		switch mt {
		case websocket.TextMessage:
			kind = Text
		case websocket.BinaryMessage:
			kind = Binary
		default:
			continue
		}
		if c.ev.OnMessage != nil {
			c.ev.OnMessage(Message{Kind: kind, Data: data})
		}
	}
}

func (c *Channel) writeLoop(conn *websocket.Conn) {
	var ping <-chan time.Time
	if c.opts.PingInterval > 0 {
		t := time.NewTicker(c.opts.PingInterval)
		defer t.Stop()
		ping = t.C
	}
	for {
		select {
		case <-c.done:
			return
		case m := <-c.out:
			mt := websocket.TextMessage
			if m.Kind == Binary {
				mt = websocket.BinaryMessage
			}
			_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := conn.WriteMessage(mt, m.Data); err != nil {
				c.drop(conn, err)
				return
			}
		case <-ping:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.drop(conn, err)
				return
			}
		}
	}
}
