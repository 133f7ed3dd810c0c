// Package httpapi exposes the schedule and probe endpoints over JSON/HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"geoprobe/internal/eventbus"
	"geoprobe/internal/probe"
	"geoprobe/internal/runner"
	"geoprobe/internal/runtime/supervisor"
	"geoprobe/internal/storage"
	logx "geoprobe/pkg/logx"
)

const (
	DefaultHorizonDays   = 30
	MaxHorizonDays       = 366
	DefaultRecentHistory = 20
)

type Deps struct {
	Runner   *runner.Runner
	Trigger  *runner.Trigger
	Registry *probe.Registry
	Results  storage.ResultStore
	Bus      eventbus.Bus
	Log      logx.Logger

	// Evaluators reports whether an evaluator id is known; nil accepts any.
	Evaluators func(id string) bool
	// Logs returns the newest log entries; nil disables /api/logs.
	Logs func(n int) []logx.Entry
	// Health reports goroutine supervision state; nil reports only "ok".
	Health func() supervisor.Snapshot

	// Pprof enables /debug/pprof when non-nil.
	Pprof *PprofOptions

	HorizonDays   int
	RecentHistory int
	Now           func() time.Time
}

type Server struct {
	d   Deps
	e   *echo.Echo
	srv *http.Server
}

func New(d Deps) *Server {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.HorizonDays <= 0 {
		d.HorizonDays = DefaultHorizonDays
	}
	if d.RecentHistory <= 0 {
		d.RecentHistory = DefaultRecentHistory
	}
	s := &Server{d: d, e: echo.New()}
	s.e.HideBanner = true
	s.e.HidePort = true
	s.e.HTTPErrorHandler = s.errorHandler
	s.e.Use(middleware.Recover())
	s.e.Use(accessLogger(d.Log))
	s.routes()
	return s
}

func (s *Server) routes() {
	s.e.GET("/healthz", s.healthz)

	api := s.e.Group("/api")
	sch := api.Group("/schedule")
	sch.GET("/status", s.status)
	sch.PUT("/config", s.putConfig)
	sch.POST("/run-now", s.runNow)
	sch.POST("/start", s.start)
	sch.POST("/stop", s.stop)
	sch.GET("/calendar", s.calendar)
	sch.GET("/events", s.events)

	api.GET("/probes", s.listProbes)
	api.PATCH("/probes/:id", s.patchProbe)
	api.GET("/probes/:id/results", s.probeResults)

	api.GET("/logs", s.logs)

	if s.d.Pprof != nil {
		s.mountPprof(*s.d.Pprof)
	}
}

// Handler is the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.e }

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.e,
		ReadHeaderTimeout: readTimeout,
		ReadTimeout:       readTimeout,
		// events clears the write deadline for its own stream.
		WriteTimeout: writeTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.d.Log.Info("http listening", logx.String("addr", addr))
		errCh <- s.srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		err := s.srv.Shutdown(shutCtx)
		<-errCh
		s.d.Log.Info("http stopped")
		return err
	}
}

func accessLogger(log logx.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if strings.HasSuffix(v.URI, "/events") || v.URI == "/healthz" {
				return nil
			}
			fields := []logx.Field{
				logx.String("method", v.Method),
				logx.String("uri", v.URI),
				logx.Int("status", v.Status),
				logx.Duration("latency", v.Latency),
				logx.String("remote_ip", c.RealIP()),
			}
			if v.Error != nil {
				fields = append(fields, logx.Err(v.Error))
			}
			if v.Status >= http.StatusInternalServerError {
				log.Warn("request", fields...)
				return nil
			}
			log.Debug("request", fields...)
			return nil
		},
	})
}

type errorBody struct {
	Error  string       `json:"error"`
	Fields []fieldError `json:"fields,omitempty"`
}

type fieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func fail(c echo.Context, code int, msg string) error {
	return c.JSON(code, errorBody{Error: msg})
}

func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(code)
		}
	} else {
		s.d.Log.Error("handler error", logx.String("uri", c.Request().RequestURI), logx.Err(err))
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = fail(c, code, msg)
}
