package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"geoprobe/internal/probe"
	"geoprobe/internal/schedule"
	logx "geoprobe/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	historyKeep int
	resultKeep  int
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage.path is required when storage.driver=sqlite")
	}
	path := cfg.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; one connection also keeps ":memory:"
	// databases alive across calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, historyKeep: cfg.historyRetention(), resultKeep: cfg.resultRetention()}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return err
	}
	// Databases created before runs.err existed.
	return s.ensureColumn(ctx, "runs", "err", "TEXT")
}

func (s *sqliteStore) ensureColumn(ctx context.Context, table, column, decl string) error {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return err
	}
	found := false
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return err
		}
		if name == column {
			found = true
		}
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if found {
		return nil
	}
	s.log.Info("sqlite: adding column", logx.String("table", table), logx.String("column", column))
	_, err = s.db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- probes ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProbe(row rowScanner) (probe.Probe, error) {
	var (
		p        probe.Probe
		category sql.NullString
		cadence  string
		active   int
		lastRun  sql.NullInt64
	)
	if err := row.Scan(&p.ID, &p.Text, &category, &cadence, &active, &lastRun); err != nil {
		return probe.Probe{}, err
	}
	c, err := schedule.ParseCadence(cadence)
	if err != nil {
		return probe.Probe{}, fmt.Errorf("probe %s: %w", p.ID, err)
	}
	p.Category = category.String
	p.Cadence = c
	p.Active = active != 0
	if lastRun.Valid {
		t := fromMillis(lastRun.Int64)
		p.LastRunAt = &t
	}
	return p, nil
}

const probeColumns = `id, text, category, cadence, active, last_run_at`

func (s *sqliteStore) ListProbes(ctx context.Context) ([]probe.Probe, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+probeColumns+` FROM probes ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []probe.Probe
	for rows.Next() {
		p, err := scanProbe(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetProbe(ctx context.Context, id string) (probe.Probe, error) {
	p, err := scanProbe(s.db.QueryRowContext(ctx, `SELECT `+probeColumns+` FROM probes WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return probe.Probe{}, fmt.Errorf("%w: %s", probe.ErrUnknownProbe, id)
	}
	return p, err
}

func (s *sqliteStore) PutProbe(ctx context.Context, p probe.Probe) error {
	var lastRun any
	if p.LastRunAt != nil {
		lastRun = p.LastRunAt.UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO probes(id, text, category, cadence, active, last_run_at) VALUES(?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET text=excluded.text, category=excluded.category,
		   cadence=excluded.cadence, active=excluded.active, last_run_at=excluded.last_run_at`,
		p.ID, p.Text, nullStr(p.Category), p.Cadence.String(), boolInt(p.Active), lastRun,
	)
	return err
}

func (s *sqliteStore) MarkProbesRun(ctx context.Context, runs map[string]time.Time) error {
	if len(runs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx, `UPDATE probes SET last_run_at = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for id, at := range runs {
		if _, err := stmt.ExecContext(ctx, at.UnixMilli(), id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ---- runs ----

func (s *sqliteStore) AppendRun(ctx context.Context, r schedule.Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(id, cadence, run_trigger, started_at, completed_at, processed, succeeded, failed, err)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		r.ID, r.Cadence.String(), nullStr(string(r.Trigger)), r.StartedAt.UnixMilli(), r.CompletedAt.UnixMilli(),
		r.Processed, r.Succeeded, r.Failed, nullStr(r.Error),
	)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE id NOT IN (SELECT id FROM runs ORDER BY completed_at DESC LIMIT ?)`, s.historyKeep)
	if err != nil {
		s.log.Warn("run history cleanup failed", logx.Err(err))
	}
	return nil
}

func (s *sqliteStore) RecentRuns(ctx context.Context, limit int) ([]schedule.Record, error) {
	if limit <= 0 {
		limit = s.historyKeep
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, cadence, run_trigger, started_at, completed_at, processed, succeeded, failed, err
		 FROM runs ORDER BY completed_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []schedule.Record
	for rows.Next() {
		var (
			r                  schedule.Record
			cadence            string
			trigger, runErr    sql.NullString
			started, completed int64
		)
		if err := rows.Scan(&r.ID, &cadence, &trigger, &started, &completed, &r.Processed, &r.Succeeded, &r.Failed, &runErr); err != nil {
			return nil, err
		}
		if r.Cadence, err = schedule.ParseCadence(cadence); err != nil {
			return nil, fmt.Errorf("run %s: %w", r.ID, err)
		}
		r.Trigger = schedule.Trigger(trigger.String)
		r.Error = runErr.String
		r.StartedAt = fromMillis(started)
		r.CompletedAt = fromMillis(completed)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---- results ----

func (s *sqliteStore) AppendResults(ctx context.Context, rs []probe.Result) error {
	if len(rs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO results(id, run_id, probe_id, evaluator, cited, cited_brands, competitors, response, full_response, err, tested_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rs {
		brands, err := jsonOrNil(r.CitedBrands)
		if err != nil {
			return err
		}
		comps, err := jsonOrNil(r.Competitors)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.RunID, r.ProbeID, r.Evaluator, boolInt(r.Cited), brands, comps,
			nullStr(r.Response), nullStr(r.FullResponse), nullStr(r.Error), r.TestedAt.UnixMilli(),
		); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM results WHERE id NOT IN (SELECT id FROM results ORDER BY tested_at DESC LIMIT ?)`, s.resultKeep); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) RecentResults(ctx context.Context, probeID string, limit int) ([]probe.Result, error) {
	if limit <= 0 {
		limit = s.resultKeep
	}
	q := `SELECT id, run_id, probe_id, evaluator, cited, cited_brands, competitors, response, full_response, err, tested_at FROM results`
	args := []any{}
	if probeID != "" {
		q += ` WHERE probe_id = ?`
		args = append(args, probeID)
	}
	q += ` ORDER BY tested_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []probe.Result
	for rows.Next() {
		var (
			r                   probe.Result
			cited               int
			brands, comps       sql.NullString
			resp, full, errText sql.NullString
			tested              int64
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.ProbeID, &r.Evaluator, &cited, &brands, &comps, &resp, &full, &errText, &tested); err != nil {
			return nil, err
		}
		r.Cited = cited != 0
		if brands.Valid {
			if err := json.Unmarshal([]byte(brands.String), &r.CitedBrands); err != nil {
				return nil, fmt.Errorf("result %s: cited_brands: %w", r.ID, err)
			}
		}
		if comps.Valid {
			if err := json.Unmarshal([]byte(comps.String), &r.Competitors); err != nil {
				return nil, fmt.Errorf("result %s: competitors: %w", r.ID, err)
			}
		}
		r.Response, r.FullResponse, r.Error = resp.String, full.String, errText.String
		r.TestedAt = fromMillis(tested)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---- cadence config ----

func (s *sqliteStore) LoadCadenceConfig(ctx context.Context) (schedule.Config, bool, error) {
	var (
		c                      schedule.Config
		enabled, weeklyDay     int
		daily, weekly, monthly string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT enabled, daily_time, weekly_day, weekly_time, monthly_day, monthly_time, default_evaluator, concurrent_queries
		 FROM cadence_config WHERE id = 1`,
	).Scan(&enabled, &daily, &weeklyDay, &weekly, &c.MonthlyDay, &monthly, &c.DefaultEvaluator, &c.ConcurrentQueries)
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.Config{}, false, nil
	}
	if err != nil {
		return schedule.Config{}, false, err
	}
	c.Enabled = enabled != 0
	c.WeeklyDay = time.Weekday(weeklyDay)
	for _, f := range []struct {
		raw string
		dst *schedule.LocalTime
	}{{daily, &c.DailyTime}, {weekly, &c.WeeklyTime}, {monthly, &c.MonthlyTime}} {
		if *f.dst, err = schedule.ParseLocalTime(f.raw); err != nil {
			return schedule.Config{}, false, fmt.Errorf("stored cadence config: %w", err)
		}
	}
	return c, true, nil
}

func (s *sqliteStore) SaveCadenceConfig(ctx context.Context, c schedule.Config) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cadence_config(id, enabled, daily_time, weekly_day, weekly_time, monthly_day, monthly_time, default_evaluator, concurrent_queries, updated_at)
		 VALUES(1,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET enabled=excluded.enabled, daily_time=excluded.daily_time,
		   weekly_day=excluded.weekly_day, weekly_time=excluded.weekly_time, monthly_day=excluded.monthly_day,
		   monthly_time=excluded.monthly_time, default_evaluator=excluded.default_evaluator,
		   concurrent_queries=excluded.concurrent_queries, updated_at=excluded.updated_at`,
		boolInt(c.Enabled), c.DailyTime.String(), int(c.WeeklyDay), c.WeeklyTime.String(), c.MonthlyDay,
		c.MonthlyTime.String(), c.DefaultEvaluator, c.ConcurrentQueries, time.Now().UnixMilli(),
	)
	return err
}

// ---- helpers ----

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func jsonOrNil[T any](v []T) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
