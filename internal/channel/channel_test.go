package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

type recorder struct {
	opened chan struct{}
	msgs   chan Message
	closed chan error

	mu      sync.Mutex
	nClosed int
}

func newRecorder() *recorder {
	return &recorder{opened: make(chan struct{}, 1), msgs: make(chan Message, 16), closed: make(chan error, 4)}
}

func (r *recorder) events() Events {
	return Events{
		OnOpen:    func() { r.opened <- struct{}{} },
		OnMessage: func(m Message) { r.msgs <- m },
		OnClose: func(err error) {
			r.mu.Lock()
			r.nClosed++
			r.mu.Unlock()
			r.closed <- err
		},
	}
}

func wsURL(srv *httptest.Server) string { return "ws" + strings.TrimPrefix(srv.URL, "http") }

// echoServer echoes every frame back and records the auth it saw.
func echoServer(t *testing.T, auth chan<- [2]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth != nil {
			auth <- [2]string{r.Header.Get("Authorization"), r.URL.Query().Get("token")}
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
}

func waitOpen(t *testing.T, r *recorder) {
	t.Helper()
	select {
	case <-r.opened:
	case err := <-r.closed:
		t.Fatalf("open failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for open")
	}
}

func TestChannel_SendsBothFrameKindsInOrder(t *testing.T) {
	auth := make(chan [2]string, 1)
	srv := echoServer(t, auth)
	defer srv.Close()

	rec := newRecorder()
	c := New(Options{URL: wsURL(srv), Token: "tok"}, rec.events())
	require.NoError(t, c.Open(context.Background()))
	waitOpen(t, rec)
	assert.True(t, c.IsOpen())

	got := <-auth
	assert.Equal(t, "Bearer tok", got[0])
	assert.Equal(t, "tok", got[1])

	require.NoError(t, c.Send(Message{Kind: Binary, Data: []byte{1, 2, 3}}))
	require.NoError(t, c.Send(Message{Kind: Text, Data: []byte("hello")}))

	first := <-rec.msgs
	second := <-rec.msgs
	assert.Equal(t, Binary, first.Kind)
	assert.Equal(t, []byte{1, 2, 3}, first.Data)
	assert.Equal(t, Text, second.Kind)
	assert.Equal(t, "hello", string(second.Data))

	require.NoError(t, c.Close())
}

func TestChannel_LocalCloseIsSilentAndIdempotent(t *testing.T) {
	srv := echoServer(t, nil)
	defer srv.Close()

	rec := newRecorder()
	c := New(Options{URL: wsURL(srv)}, rec.events())
	require.NoError(t, c.Open(context.Background()))
	waitOpen(t, rec)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.False(t, c.IsOpen())
	assert.ErrorIs(t, c.Send(Message{Kind: Text, Data: []byte("x")}), ErrNotOpen)

	select {
	case err := <-rec.closed:
		t.Fatalf("local close must not report, got %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestChannel_RemoteCloseReportsDropped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte("bye"))
		_ = conn.Close()
	}))
	defer srv.Close()

	rec := newRecorder()
	c := New(Options{URL: wsURL(srv)}, rec.events())
	require.NoError(t, c.Open(context.Background()))
	waitOpen(t, rec)

	select {
	case err := <-rec.closed:
		assert.ErrorIs(t, err, ErrDropped)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for drop")
	}
	assert.False(t, c.IsOpen())
	require.NoError(t, c.Close())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 1, rec.nClosed)
}

func TestChannel_RejectedHandshakeReportsOpenFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	rec := newRecorder()
	c := New(Options{URL: wsURL(srv)}, rec.events())
	require.NoError(t, c.Open(context.Background()))

	select {
	case err := <-rec.closed:
		assert.ErrorIs(t, err, ErrOpenFailed)
		assert.Contains(t, err.Error(), "401")
	case <-rec.opened:
		t.Fatalf("should not open")
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out")
	}
}

func TestChannel_CloseDuringOpenAbortsSilently(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		conn, err := upgrader.Upgrade(w, r, nil)
		if err == nil {
			_ = conn.Close()
		}
	}))
	defer srv.Close()
	defer close(release)

	rec := newRecorder()
	c := New(Options{URL: wsURL(srv)}, rec.events())
	require.NoError(t, c.Open(context.Background()))
	require.NoError(t, c.Close())

	select {
	case <-rec.opened:
		t.Fatalf("closed channel must not open")
	case err := <-rec.closed:
		t.Fatalf("closed channel must not report, got %v", err)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestChannel_OpenTwiceFails(t *testing.T) {
	srv := echoServer(t, nil)
	defer srv.Close()

	c := New(Options{URL: wsURL(srv)}, Events{})
	require.NoError(t, c.Open(context.Background()))
	assert.ErrorIs(t, c.Open(context.Background()), ErrAlreadyOpened)
	_ = c.Close()
}

func TestChannel_DialURL(t *testing.T) {
	c := New(Options{URL: "http://localhost:8000/ws", Token: "a b"}, Events{})
	u, err := c.dialURL()
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8000/ws?token=a+b", u)

	c = New(Options{URL: "ftp://x"}, Events{})
	assert.ErrorIs(t, c.Open(context.Background()), ErrOpenFailed)
}

func TestChannel_SendBeforeOpen(t *testing.T) {
	c := New(Options{URL: "ws://127.0.0.1:1/ws"}, Events{})
	assert.ErrorIs(t, c.Send(Message{Kind: Text}), ErrNotOpen)
}
