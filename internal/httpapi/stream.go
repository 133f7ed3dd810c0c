package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	logx "geoprobe/pkg/logx"
)

const heartbeatEvery = 25 * time.Second

// events streams bus events as server-sent events until the client leaves.
func (s *Server) events(c echo.Context) error {
	if s.d.Bus == nil {
		return fail(c, http.StatusNotFound, "event stream disabled")
	}
	ch, unsubscribe := s.d.Bus.Subscribe(64)
	defer unsubscribe()

	w := c.Response()
	rc := http.NewResponseController(w.Writer)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	hb := time.NewTicker(heartbeatEvery)
	defer hb.Stop()
	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hb.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return nil
			}
			w.Flush()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			b, err := json.Marshal(ev)
			if err != nil {
				s.d.Log.Warn("event encode failed", logx.Err(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, b); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

func (s *Server) logs(c echo.Context) error {
	if s.d.Logs == nil {
		return fail(c, http.StatusNotFound, "recent log buffer disabled")
	}
	limit, err := limitParam(c, 100)
	if err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, s.d.Logs(limit))
}

type healthResponse struct {
	Status     string `json:"status"`
	Supervisor any    `json:"supervisor,omitempty"`
}

func (s *Server) healthz(c echo.Context) error {
	resp := healthResponse{Status: "ok"}
	if s.d.Health != nil {
		snap := s.d.Health()
		resp.Supervisor = snap
		if snap.FirstError != "" {
			resp.Status = "degraded"
		}
	}
	return c.JSON(http.StatusOK, resp)
}
