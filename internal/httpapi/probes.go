package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"geoprobe/internal/eventbus"
	"geoprobe/internal/probe"
	"geoprobe/internal/schedule"
)

func (s *Server) listProbes(c echo.Context) error {
	var f probe.Filter
	if raw := c.QueryParam("cadence"); raw != "" {
		cad, err := schedule.ParseCadence(raw)
		if err != nil {
			return fail(c, http.StatusBadRequest, err.Error())
		}
		f.Cadence = cad
	}
	if raw := c.QueryParam("active"); raw != "" {
		on, err := strconv.ParseBool(raw)
		if err != nil {
			return fail(c, http.StatusBadRequest, fmt.Sprintf("active: want true or false, got %q", raw))
		}
		f.ActiveOnly, f.InactiveOnly = on, !on
	}
	ps, err := s.d.Registry.List(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ps)
}

type probePatch struct {
	Cadence *string `json:"cadence,omitempty"`
	Active  *bool   `json:"active,omitempty"`
}

func (s *Server) patchProbe(c echo.Context) error {
	id := c.Param("id")
	var req probePatch
	if err := decodeStrict(c, &req); err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()

	var cad schedule.Cadence
	if req.Cadence != nil {
		var err error
		if cad, err = schedule.ParseCadence(*req.Cadence); err != nil {
			return fail(c, http.StatusBadRequest, err.Error())
		}
	}

	p, err := s.d.Registry.Get(ctx, id)
	if err == nil && req.Cadence != nil {
		p, err = s.d.Registry.SetCadence(ctx, id, cad)
	}
	if err == nil && req.Active != nil {
		p, err = s.d.Registry.SetActive(ctx, id, *req.Active)
	}
	if errors.Is(err, probe.ErrUnknownProbe) {
		return fail(c, http.StatusNotFound, err.Error())
	}
	if err != nil {
		return err
	}
	if s.d.Bus != nil {
		s.d.Bus.Publish(eventbus.Event{Type: eventbus.ProbeUpdated, Time: s.d.Now(), Data: p})
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) probeResults(c echo.Context) error {
	id := c.Param("id")
	limit, err := limitParam(c, 20)
	if err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if _, err := s.d.Registry.Get(ctx, id); err != nil {
		if errors.Is(err, probe.ErrUnknownProbe) {
			return fail(c, http.StatusNotFound, err.Error())
		}
		return err
	}
	if s.d.Results == nil {
		return c.JSON(http.StatusOK, []probe.Result{})
	}
	rs, err := s.d.Results.RecentResults(ctx, id, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rs)
}

func limitParam(c echo.Context, def int) (int, error) {
	raw := c.QueryParam("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > 1000 {
		return 0, fmt.Errorf("limit: want 1..1000, got %q", raw)
	}
	return n, nil
}
