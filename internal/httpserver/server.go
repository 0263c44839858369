package httpserver

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/chadiek/voice-agent/internal/audio"
	"github.com/chadiek/voice-agent/internal/channel"
	"github.com/chadiek/voice-agent/internal/metrics"
	"github.com/chadiek/voice-agent/internal/session"
)

// Controller is the session surface the control server drives.
type Controller interface {
	Status() session.Status
	Muted() bool
	Transcript() []session.TurnMessage
	ToggleTalking(ctx context.Context) error
	SubmitText(ctx context.Context, content string) error
	SetMuted(ctx context.Context, muted bool) error
	Reconnect(ctx context.Context) error
}

// Server bundles the HTTP router and its dependencies.
type Server struct {
	Router *echo.Echo
	ctrl   Controller
	hub    *Hub
}

type Options struct {
	// Token, when set, is required on every route but /healthz.
	Token   string
	Metrics *metrics.Metrics
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// local control surface
		return true
	},
}

type errorBody struct {
	Error string `json:"error"`
}

type statusBody struct {
	Status session.Status `json:"status"`
	Muted  bool           `json:"muted"`
}

type textRequest struct {
	Text string `json:"text"`
}

type muteRequest struct {
	Muted *bool `json:"muted"`
}

// New constructs the control server with routes.
func New(ctrl Controller, hub *Hub, opts Options) *Server {
	s := &Server{Router: newRouter(), ctrl: ctrl, hub: hub}
	e := s.Router
	e.Use(requireToken(opts.Token))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/status", s.status)
	e.GET("/transcript", func(c echo.Context) error { return c.JSON(http.StatusOK, ctrl.Transcript()) })
	e.POST("/talk", s.talk)
	e.POST("/text", s.text)
	e.POST("/mute", s.mute)
	e.POST("/reconnect", s.reconnect)
	e.GET("/events", s.events)
	if opts.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(opts.Metrics.Handler()))
	}
	return s
}

func (s *Server) status(c echo.Context) error {
	return c.JSON(http.StatusOK, statusBody{Status: s.ctrl.Status(), Muted: s.ctrl.Muted()})
}

func (s *Server) talk(c echo.Context) error {
	if err := s.ctrl.ToggleTalking(c.Request().Context()); err != nil {
		return writeError(c, err)
	}
	return s.status(c)
}

func (s *Server) text(c echo.Context) error {
	var req textRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid body"})
	}
	if err := s.ctrl.SubmitText(c.Request().Context(), req.Text); err != nil {
		return writeError(c, err)
	}
	return s.status(c)
}

func (s *Server) mute(c echo.Context) error {
	var req muteRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid body"})
	}
	muted := !s.ctrl.Muted()
	if req.Muted != nil {
		muted = *req.Muted
	}
	if err := s.ctrl.SetMuted(c.Request().Context(), muted); err != nil {
		return writeError(c, err)
	}
	return s.status(c)
}

func (s *Server) reconnect(c echo.Context) error {
	if err := s.ctrl.Reconnect(c.Request().Context()); err != nil {
		return writeError(c, err)
	}
	return s.status(c)
}

func writeError(c echo.Context, err error) error {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrEmptyText):
		code = http.StatusBadRequest
	case errors.Is(err, session.ErrInputDisabled), errors.Is(err, audio.ErrAlreadyCapturing):
		code = http.StatusConflict
	case errors.Is(err, session.ErrUnauthenticated):
		code = http.StatusUnauthorized
	case errors.Is(err, session.ErrClosed), errors.Is(err, channel.ErrNotOpen):
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, errorBody{Error: err.Error()})
}

// events streams status, transcript and notice events over a websocket.
// The current status and transcript are sent first.
func (s *Server) events(c echo.Context) error {
	conn, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("events: ws upgrade error: %v", err)
		return nil
	}
	defer func() { _ = conn.Close() }()

	sub := s.hub.subscribe()
	defer s.hub.unsubscribe(sub)

	initial := []Event{
		{Type: "status", Status: s.ctrl.Status(), At: time.Now()},
		{Type: "transcript", Transcript: s.ctrl.Transcript(), At: time.Now()},
	}
	for _, ev := range initial {
		if err := conn.WriteJSON(ev); err != nil {
			return nil
		}
	}

	// reader detects the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return nil
		case ev := <-sub:
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return nil
			}
		}
	}
}
