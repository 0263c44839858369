package httpserver

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// newRouter creates a configured Echo instance.
func newRouter() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	return e
}

// requireToken rejects requests that do not carry token. An empty token
// disables the check.
func requireToken(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if token == "" || c.Path() == "/healthz" || authOK(c.Request(), token) {
				return next(c)
			}
			return c.JSON(http.StatusUnauthorized, errorBody{Error: "unauthorized"})
		}
	}
}

// authOK accepts the token as ?token=, a bearer Authorization header or X-Auth-Token.
func authOK(r *http.Request, token string) bool {
	if r == nil || token == "" {
		return false
	}
	if q := r.URL.Query().Get("token"); q != "" && q == token {
		return true
	}
	ah := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(ah), "bearer ") {
		if strings.TrimSpace(ah[len("Bearer "):]) == token {
			return true
		}
	}
	if x := r.Header.Get("X-Auth-Token"); x != "" && x == token {
		return true
	}
	return false
}
