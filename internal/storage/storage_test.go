package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geoprobe/internal/probe"
	"geoprobe/internal/schedule"
	logx "geoprobe/pkg/logx"
)

func drivers(t *testing.T) map[string]func(t *testing.T, cfg Config) Store {
	t.Helper()
	out := map[string]func(t *testing.T, cfg Config) Store{
		"memory": func(t *testing.T, cfg Config) Store {
			cfg.Driver = "memory"
			return mustOpen(t, cfg)
		},
		"file": func(t *testing.T, cfg Config) Store {
			cfg.Driver = "file"
			cfg.Path = filepath.Join(t.TempDir(), "geoprobe.json")
			return mustOpen(t, cfg)
		},
		"sqlite": func(t *testing.T, cfg Config) Store {
			cfg.Driver = "sqlite"
			cfg.Path = filepath.Join(t.TempDir(), "geoprobe.db")
			return mustOpen(t, cfg)
		},
	}
	if url := os.Getenv("GEOPROBE_TEST_REDIS_URL"); url != "" {
		out["redis"] = func(t *testing.T, cfg Config) Store {
			cfg.Driver = "redis"
			cfg.URL = url
			cfg.KeyPrefix = fmt.Sprintf("geoprobe-test-%d", time.Now().UnixNano())
			st := mustOpen(t, cfg)
			t.Cleanup(func() {
				rs := st.(*redisStore)
				_ = rs.client.Del(context.Background(), rs.keyProbes, rs.keyRuns, rs.keyResults, rs.keyConfig).Err()
			})
			return st
		}
	}
	return out
}

func mustOpen(t *testing.T, cfg Config) Store {
	t.Helper()
	st, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStoreContract(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("probes", func(t *testing.T) { testProbes(t, open(t, Config{})) })
			t.Run("runs", func(t *testing.T) { testRuns(t, open(t, Config{HistoryRetention: 3})) })
			t.Run("results", func(t *testing.T) { testResults(t, open(t, Config{ResultRetention: 4})) })
			t.Run("config", func(t *testing.T) { testCadenceConfig(t, open(t, Config{})) })
		})
	}
}

func testProbes(t *testing.T, st Store) {
	ctx := context.Background()

	_, err := st.GetProbe(ctx, "missing")
	require.ErrorIs(t, err, probe.ErrUnknownProbe)

	require.NoError(t, st.PutProbe(ctx, probe.Probe{ID: "a", Text: "best crm?", Cadence: schedule.Daily, Active: true}))
	require.NoError(t, st.PutProbe(ctx, probe.Probe{ID: "b", Text: "best erp?", Category: "erp", Cadence: schedule.Weekly}))

	got, err := st.GetProbe(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "erp", got.Category)
	assert.Equal(t, schedule.Weekly, got.Cadence)
	assert.False(t, got.Active)
	assert.Nil(t, got.LastRunAt)

	at := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.MarkProbesRun(ctx, map[string]time.Time{"a": at, "ghost": at}))

	got, err = st.GetProbe(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got.LastRunAt)
	assert.True(t, got.LastRunAt.Equal(at))

	// Overwrite keeps the id unique.
	got.Active = false
	require.NoError(t, st.PutProbe(ctx, got))
	all, err := st.ListProbes(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func testRuns(t *testing.T, st Store) {
	ctx := context.Background()
	base := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	for i := range 5 {
		r := schedule.Record{
			ID:          fmt.Sprintf("run-%d", i),
			Cadence:     schedule.Daily,
			Trigger:     schedule.TriggerTimer,
			StartedAt:   base.Add(time.Duration(i) * time.Hour),
			CompletedAt: base.Add(time.Duration(i)*time.Hour + time.Minute),
			Processed:   2,
			Succeeded:   1,
			Failed:      1,
		}
		if i == 4 {
			r = schedule.Record{ID: r.ID, Cadence: r.Cadence, Trigger: r.Trigger, StartedAt: r.StartedAt, CompletedAt: r.CompletedAt, Error: "load probes: disk gone"}
		}
		require.NoError(t, st.AppendRun(ctx, r))
	}

	got, err := st.RecentRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "run-4", got[0].ID)
	assert.Equal(t, "run-2", got[2].ID)
	assert.Equal(t, schedule.TriggerTimer, got[0].Trigger)
	assert.Equal(t, "load probes: disk gone", got[0].Error)
	assert.True(t, got[0].Degraded())
	assert.Empty(t, got[1].Error)
	assert.Equal(t, 1, got[1].Failed)
	assert.True(t, got[0].CompletedAt.Equal(base.Add(4*time.Hour+time.Minute)))

	got, err = st.RecentRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "run-4", got[0].ID)
}

func testResults(t *testing.T, st Store) {
	ctx := context.Background()
	base := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	var batch []probe.Result
	for i := range 6 {
		id := "a"
		if i%2 == 1 {
			id = "b"
		}
		batch = append(batch, probe.Result{
			ID:          fmt.Sprintf("res-%d", i),
			RunID:       "run-1",
			ProbeID:     id,
			Evaluator:   "gpt",
			Cited:       i == 4,
			CitedBrands: []probe.BrandCitation{{BrandID: "acme", Name: "Acme", Rank: 2}},
			Competitors: []string{"Globex"},
			Response:    "1. Globex\n2. Acme",
			TestedAt:    base.Add(time.Duration(i) * time.Second),
		})
	}
	require.NoError(t, st.AppendResults(ctx, batch))
	require.NoError(t, st.AppendResults(ctx, nil))

	all, err := st.RecentResults(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "res-5", all[0].ID)

	onlyA, err := st.RecentResults(ctx, "a", 10)
	require.NoError(t, err)
	require.Len(t, onlyA, 2)
	assert.Equal(t, "res-4", onlyA[0].ID)
	assert.True(t, onlyA[0].Cited)
	require.Len(t, onlyA[0].CitedBrands, 1)
	assert.Equal(t, 2, onlyA[0].CitedBrands[0].Rank)
	assert.Equal(t, []string{"Globex"}, onlyA[0].Competitors)
}

func testCadenceConfig(t *testing.T, st Store) {
	ctx := context.Background()
	_, ok, err := st.LoadCadenceConfig(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	cfg := schedule.DefaultConfig()
	cfg.WeeklyDay = time.Friday
	cfg.MonthlyDay = 28
	cfg.DailyTime = schedule.MustLocalTime("07:30")
	cfg.ConcurrentQueries = 3
	require.NoError(t, st.SaveCadenceConfig(ctx, cfg))

	cfg.Enabled = false
	require.NoError(t, st.SaveCadenceConfig(ctx, cfg))

	got, ok, err := st.LoadCadenceConfig(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cfg, got)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "postgres"}, logx.Nop())
	require.Error(t, err)
}

func TestMemoryClosed(t *testing.T) {
	m := NewMemory(Config{})
	require.NoError(t, m.Close())
	_, err := m.ListProbes(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFileStoreReopen(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Driver: "file", Path: filepath.Join(t.TempDir(), "state.json"), HistoryRetention: 2}

	st, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.PutProbe(ctx, probe.Probe{ID: "a", Text: "q", Cadence: schedule.Monthly, Active: true}))
	require.NoError(t, st.SaveCadenceConfig(ctx, schedule.DefaultConfig()))
	for i := range 7 {
		at := time.Date(2024, 2, 1+i, 9, 0, 0, 0, time.UTC)
		require.NoError(t, st.AppendRun(ctx, schedule.Record{ID: fmt.Sprintf("r%d", i), Cadence: schedule.Daily, StartedAt: at, CompletedAt: at}))
	}
	require.NoError(t, st.Close())

	st, err = Open(cfg, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	p, err := st.GetProbe(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, schedule.Monthly, p.Cadence)

	_, ok, err := st.LoadCadenceConfig(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	runs, err := st.RecentRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r6", runs[0].ID)
	assert.Equal(t, "r5", runs[1].ID)
}

func TestFileJournalSkipsCorruptLines(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := Config{Driver: "file", Path: filepath.Join(dir, "state.json")}

	st, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.AppendRun(ctx, schedule.Record{ID: "ok", Cadence: schedule.Weekly, StartedAt: at, CompletedAt: at}))
	require.NoError(t, st.Close())

	f, err := os.OpenFile(filepath.Join(dir, "state.runs.jsonl"), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	st, err = Open(cfg, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	runs, err := st.RecentRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "ok", runs[0].ID)
}

func TestNewestFirstAndTrim(t *testing.T) {
	in := []int{1, 2, 3, 4}
	assert.Equal(t, []int{4, 3}, newestFirst(in, 2))
	assert.Equal(t, []int{4, 3, 2, 1}, newestFirst(in, 0))
	assert.Equal(t, []int{3, 4}, trimOldest(in, 2))
	assert.Equal(t, []int{1, 2, 3, 4}, trimOldest(in, 10))
}

func TestSQLiteAddsRunErrorColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE runs (
		id TEXT PRIMARY KEY, cadence TEXT NOT NULL, run_trigger TEXT,
		started_at INTEGER NOT NULL, completed_at INTEGER NOT NULL,
		processed INTEGER NOT NULL, succeeded INTEGER NOT NULL, failed INTEGER NOT NULL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO runs VALUES ('old', 'daily', 'timer', 1000, 2000, 1, 1, 0)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	st := mustOpen(t, Config{Driver: "sqlite", Path: path})
	ctx := context.Background()
	at := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.AppendRun(ctx, schedule.Record{
		ID: "new", Cadence: schedule.Weekly, StartedAt: at, CompletedAt: at, Error: "load probes: boom",
	}))

	got, err := st.RecentRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].ID)
	assert.Equal(t, "load probes: boom", got[0].Error)
	assert.Equal(t, "old", got[1].ID)
	assert.Empty(t, got[1].Error)
}
