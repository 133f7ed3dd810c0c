package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"geoprobe/internal/runner"
	"geoprobe/internal/schedule"
)

type statusResponse struct {
	Config        schedule.Config        `json:"config"`
	Runner        runner.State           `json:"runner"`
	NextScheduled schedule.NextScheduled `json:"nextScheduled"`
	Trigger       *runner.TriggerState   `json:"trigger,omitempty"`
	RecentHistory []schedule.Record      `json:"recentHistory"`
}

func (s *Server) location() *time.Location {
	if s.d.Trigger != nil {
		return s.d.Trigger.Location()
	}
	return time.Local
}

func (s *Server) status(c echo.Context) error {
	cfg := s.d.Runner.Config()
	resp := statusResponse{
		Config:        cfg,
		Runner:        s.d.Runner.State(),
		NextScheduled: schedule.NextAll(cfg, s.d.Now().In(s.location())),
		RecentHistory: s.d.Runner.History().Recent(s.d.RecentHistory),
	}
	if s.d.Trigger != nil {
		ts := s.d.Trigger.Snapshot()
		resp.Trigger = &ts
	}
	return c.JSON(http.StatusOK, resp)
}

func decodeStrict(c echo.Context, v any) error {
	dec := json.NewDecoder(c.Request().Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) putConfig(c echo.Context) error {
	var p schedule.Patch
	if err := decodeStrict(c, &p); err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	if p.DefaultEvaluator != nil && s.d.Evaluators != nil && !s.d.Evaluators(*p.DefaultEvaluator) {
		return c.JSON(http.StatusBadRequest, errorBody{
			Error:  "invalid config",
			Fields: []fieldError{{Field: "defaultEvaluator", Reason: fmt.Sprintf("unknown evaluator %q", *p.DefaultEvaluator)}},
		})
	}
	cfg, err := s.d.Runner.UpdateConfig(c.Request().Context(), p)
	if err != nil {
		if verrs := schedule.ValidationErrors(err); len(verrs) > 0 {
			body := errorBody{Error: "invalid config"}
			for _, v := range verrs {
				body.Fields = append(body.Fields, fieldError{Field: v.Field, Reason: v.Reason})
			}
			return c.JSON(http.StatusBadRequest, body)
		}
		return err
	}
	return c.JSON(http.StatusOK, cfg)
}

type runNowRequest struct {
	Cadence string `json:"cadence"`
}

func (s *Server) runNow(c echo.Context) error {
	var req runNowRequest
	if err := decodeStrict(c, &req); err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	cad, err := schedule.ParseCadence(req.Cadence)
	if err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	rec, err := s.d.Runner.TryRun(c.Request().Context(), cad, schedule.TriggerManual)
	switch {
	case errors.Is(err, runner.ErrAlreadyRunning):
		return fail(c, http.StatusConflict, "already running")
	case err != nil:
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) start(c echo.Context) error { return s.setEnabled(c, true) }
func (s *Server) stop(c echo.Context) error  { return s.setEnabled(c, false) }

func (s *Server) setEnabled(c echo.Context, on bool) error {
	cfg, err := s.d.Runner.SetEnabled(c.Request().Context(), on)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cfg)
}

type calendarResponse struct {
	From        time.Time                               `json:"from"`
	HorizonDays int                                     `json:"horizonDays"`
	Days        map[schedule.Date]schedule.CalendarDay `json:"days"`
}

// parseFrom accepts a calendar date (midnight in loc) or an RFC 3339 timestamp.
func parseFrom(raw string, loc *time.Location, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now.In(loc), nil
	}
	if d, err := schedule.ParseDate(raw); err == nil {
		return d.In(loc), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("from: want YYYY-MM-DD or RFC 3339, got %q", raw)
	}
	return t.In(loc), nil
}

func (s *Server) calendar(c echo.Context) error {
	loc := s.location()
	now := s.d.Now().In(loc)
	from, err := parseFrom(c.QueryParam("from"), loc, now)
	if err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	horizon := s.d.HorizonDays
	if raw := c.QueryParam("horizonDays"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > MaxHorizonDays {
			return fail(c, http.StatusBadRequest, fmt.Sprintf("horizonDays: want 1..%d", MaxHorizonDays))
		}
		horizon = n
	}
	days := schedule.ProjectAt(s.d.Runner.Config(), s.d.Runner.History().Snapshot(), from, horizon, now)
	return c.JSON(http.StatusOK, calendarResponse{From: from, HorizonDays: horizon, Days: days})
}
