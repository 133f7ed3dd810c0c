package httpapi

import (
	"crypto/subtle"
	"net/http"
	hpprof "net/http/pprof"
	"runtime"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// PprofOptions mounts net/http/pprof under /debug/pprof.
type PprofOptions struct {
	// Token is required as "Authorization: Bearer <token>" or ?token=.
	// Empty allows anonymous access.
	Token string

	MutexProfileFraction int
	BlockProfileRate     int
}

func (s *Server) mountPprof(o PprofOptions) {
	if o.MutexProfileFraction > 0 {
		runtime.SetMutexProfileFraction(o.MutexProfileFraction)
	}
	if o.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(o.BlockProfileRate)
	}

	g := s.e.Group("/debug/pprof")
	if tok := strings.TrimSpace(o.Token); tok != "" {
		g.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			KeyLookup: "header:" + echo.HeaderAuthorization + ",query:token",
			Validator: func(key string, _ echo.Context) (bool, error) {
				return subtle.ConstantTimeCompare([]byte(key), []byte(tok)) == 1, nil
			},
		}))
	}
	g.GET("/cmdline", echo.WrapHandler(http.HandlerFunc(hpprof.Cmdline)))
	g.GET("/profile", echo.WrapHandler(http.HandlerFunc(hpprof.Profile)))
	g.GET("/symbol", echo.WrapHandler(http.HandlerFunc(hpprof.Symbol)))
	g.POST("/symbol", echo.WrapHandler(http.HandlerFunc(hpprof.Symbol)))
	g.GET("/trace", echo.WrapHandler(http.HandlerFunc(hpprof.Trace)))
	// Index serves the listing and every named profile (heap, goroutine, ...).
	g.GET("/*", echo.WrapHandler(http.HandlerFunc(hpprof.Index)))
}
