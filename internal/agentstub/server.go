// Package agentstub is a development voice agent speaking the same
// websocket protocol as the production backend: marker-prefixed text
// frames and binary audio replies, behind an OAuth2-style token endpoint.
package agentstub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/chadiek/voice-agent/internal/audio"
	"github.com/chadiek/voice-agent/internal/inbound"
)

// MarkerNoAudio is sent when a reply could not be rendered as audio.
const MarkerNoAudio = "Could not generate audio response."

type Options struct {
	Responder   Responder
	Synthesizer Synthesizer
	// TokenTTL defaults to 30 minutes.
	TokenTTL time.Duration
	// Open accepts any non-empty credentials at /token.
	Open         bool
	ReplyTimeout time.Duration
}

type Server struct {
	Router *echo.Echo
	opts   Options
	now    func() time.Time

	mu       sync.Mutex
	accounts map[string]string
	tokens   map[string]grant
}

type grant struct {
	subject string
	expires time.Time
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type detail struct {
	Detail string `json:"detail"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func New(opts Options) *Server {
	if opts.Responder == nil {
		opts.Responder = EchoResponder{}
	}
	if opts.Synthesizer == nil {
		opts.Synthesizer = ToneSynthesizer{Format: audio.DefaultFormat()}
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 30 * time.Minute
	}
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = 20 * time.Second
	}
	s := &Server{
		opts:     opts,
		now:      time.Now,
		accounts: make(map[string]string),
		tokens:   make(map[string]grant),
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.POST("/signup", s.signup)
	e.POST("/token", s.token)
	e.GET("/ws", s.ws)
	s.Router = e
	return s
}

func (s *Server) signup(c echo.Context) error {
	var req signupRequest
	if err := c.Bind(&req); err != nil || req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, detail{Detail: "email and password required"})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[req.Email]; exists {
		return c.JSON(http.StatusBadRequest, detail{Detail: "user already exists"})
	}
	s.accounts[req.Email] = req.Password
	log.Printf("[stub] signup %s", req.Email)
	return c.JSON(http.StatusOK, map[string]string{"email": req.Email})
}

func (s *Server) token(c echo.Context) error {
	username := c.FormValue("username")
	password := c.FormValue("password")
	if !s.checkPassword(username, password) {
		c.Response().Header().Set("WWW-Authenticate", "Bearer")
		return c.JSON(http.StatusUnauthorized, detail{Detail: "Incorrect username or password"})
	}
	tok := s.Issue(username)
	return c.JSON(http.StatusOK, tokenResponse{AccessToken: tok, TokenType: "bearer", ExpiresIn: int(s.opts.TokenTTL.Seconds())})
}

func (s *Server) checkPassword(username, password string) bool {
	if username == "" || password == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if want, ok := s.accounts[username]; ok {
		return want == password
	}
	return s.opts.Open
}

// Issue grants a token for subject without a password check.
func (s *Server) Issue(subject string) string {
	tok := uuid.NewString()
	s.mu.Lock()
	s.tokens[tok] = grant{subject: subject, expires: s.now().Add(s.opts.TokenTTL)}
	s.mu.Unlock()
	return tok
}

func (s *Server) subject(tok string) (string, bool) {
	if tok == "" {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.tokens[tok]
	if !ok {
		return "", false
	}
	if !s.now().Before(g.expires) {
		delete(s.tokens, tok)
		return "", false
	}
	return g.subject, true
}

// requestToken reads the token from ?token= or a bearer Authorization header.
func requestToken(r *http.Request) string {
	if q := r.URL.Query().Get("token"); q != "" {
		return q
	}
	ah := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(ah), "bearer ") {
		return strings.TrimSpace(ah[len("Bearer "):])
	}
	return ""
}

func (s *Server) ws(c echo.Context) error {
	user, ok := s.subject(requestToken(c.Request()))
	if !ok {
		return c.JSON(http.StatusForbidden, detail{Detail: "Could not validate credentials"})
	}
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("[stub] ws upgrade error: %v", err)
		return nil
	}
	id := uuid.NewString()[:8]
	log.Printf("[%s] agent connection for %s", id, user)
	sess := &conversation{id: id, srv: s, conn: conn}
	sess.serve(c.Request().Context())
	log.Printf("[%s] client %s disconnected", id, user)
	return nil
}

// conversation is one websocket connection. The read loop is also the only writer.
type conversation struct {
	id      string
	srv     *Server
	conn    *websocket.Conn
	history []Exchange
}

func (v *conversation) serve(ctx context.Context) {
	defer func() { _ = v.conn.Close() }()
	for {
		mt, data, err := v.conn.ReadMessage()
		if err != nil {
			return
		}
		switch mt {
		case websocket.BinaryMessage:
			err = v.onAudio(ctx, data)
		case websocket.TextMessage:
			err = v.onText(ctx, data)
		}
		if err != nil {
			log.Printf("[%s] write error: %v", v.id, err)
			return
		}
	}
}

func (v *conversation) send(text string) error {
	return v.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

func (v *conversation) onAudio(ctx context.Context, data []byte) error {
	pcm, f, ok := audio.DecodeWAV(data)
	if !ok || !audio.DefaultDetector().HasSpeech(pcm, f) {
		return v.send(inbound.MarkerNoSpeech)
	}
	heard := fmt.Sprintf("(%.1fs of audio)", audio.PCMDuration(len(pcm), f).Seconds())
	if err := v.send(inbound.MarkerTranscription + " " + heard); err != nil {
		return err
	}
	return v.respond(ctx, heard)
}

func (v *conversation) onText(ctx context.Context, data []byte) error {
	var msg userText
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "user_text" {
		log.Printf("[%s] ignoring text frame: %q", v.id, truncate(string(data), 80))
		return nil
	}
	if strings.TrimSpace(msg.Text) == "" {
		return nil
	}
	return v.respond(ctx, msg.Text)
}

func (v *conversation) respond(ctx context.Context, text string) error {
	if err := v.send(inbound.MarkerThinking); err != nil {
		return err
	}
	rctx, cancel := context.WithTimeout(ctx, v.srv.opts.ReplyTimeout)
	defer cancel()
	reply, err := v.srv.opts.Responder.Reply(rctx, v.history, text)
	if err != nil {
		log.Printf("[%s] responder error: %v", v.id, err)
		if errors.Is(err, context.Canceled) {
			return err
		}
		reply = "I'm having trouble thinking right now."
	}
	v.history = append(v.history, Exchange{Role: "user", Content: text}, Exchange{Role: "assistant", Content: reply})
	if err := v.send(inbound.MarkerReply + " " + reply); err != nil {
		return err
	}
	wav, err := v.srv.opts.Synthesizer.Synthesize(reply)
	if err != nil || len(wav) == 0 {
		if err != nil {
			log.Printf("[%s] synth error: %v", v.id, err)
		}
		return v.send(MarkerNoAudio)
	}
	return v.conn.WriteMessage(websocket.BinaryMessage, wav)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
