package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geoprobe/internal/config"
	"geoprobe/internal/evaluator"
	"geoprobe/internal/schedule"
)

const testYAML = `
logging:
  level: error
  console: false
http:
  addr: 127.0.0.1:0
scheduler:
  timezone: UTC
  tick: 1m
schedule:
  daily_time: "07:30"
  default_evaluator: gpt
  concurrent_queries: 2
storage:
  driver: memory
evaluators:
  gpt:
    provider: openai
    api_key_env: GEOPROBE_TEST_NO_SUCH_KEY
brands:
  - name: Acme
    competitors: [Globex]
probes:
  - id: p1
    text: best crm
    cadence: daily
  - id: p2
    text: best erp
    cadence: daily
  - id: p3
    text: crm trends
    cadence: monthly
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "geoprobe.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func testOptions() Options {
	return Options{
		Getenv: func(string) string { return "" },
		Completers: map[string]evaluator.Completer{
			"gpt": evaluator.CompleterFunc(func(_ context.Context, prompt string) (string, error) {
				return "1. Acme\n2. Globex", nil
			}),
		},
	}
}

func TestNewAppSeedsAndRuns(t *testing.T) {
	a, err := NewApp(writeConfig(t, testYAML), testOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	cfg := a.Runner().Config()
	assert.Equal(t, schedule.LocalTime{Hour: 7, Minute: 30}, cfg.DailyTime)
	assert.Equal(t, 2, cfg.ConcurrentQueries)
	assert.Equal(t, "UTC", a.Trigger().Location().String())

	rec, err := a.RunOnce(context.Background(), schedule.Daily)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Processed)
	assert.Equal(t, 2, rec.Succeeded)
	assert.Equal(t, schedule.TriggerManual, rec.Trigger)
	assert.Equal(t, 1, a.Runner().History().Len())

	runs, err := a.store.RecentRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, rec.ID, runs[0].ID)
}

func TestNewAppUnconfiguredEvaluatorFailsProbes(t *testing.T) {
	opts := testOptions()
	opts.Completers = nil
	a, err := NewApp(writeConfig(t, testYAML), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	rec, err := a.RunOnce(context.Background(), schedule.Monthly)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Processed)
	assert.Equal(t, 1, rec.Failed)
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	bad := strings.Replace(testYAML, "timezone: UTC", "timezone: Mars/Olympus", 1)
	_, err := NewApp(writeConfig(t, bad), testOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler.timezone")
}

func TestStoredCadenceConfigWins(t *testing.T) {
	dir := t.TempDir()
	body := strings.Replace(testYAML, "driver: memory", "driver: file\n  path: "+filepath.Join(dir, "data"), 1)
	path := writeConfig(t, body)

	a, err := NewApp(path, testOptions())
	require.NoError(t, err)
	_, err = a.Runner().UpdateConfig(context.Background(), schedule.Patch{MonthlyDay: ptr(15)})
	require.NoError(t, err)
	require.NoError(t, a.Close())

	a, err = NewApp(path, testOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	assert.Equal(t, 15, a.Runner().Config().MonthlyDay)
	assert.Equal(t, schedule.LocalTime{Hour: 7, Minute: 30}, a.Runner().Config().DailyTime)
}

func TestStartStop(t *testing.T) {
	a, err := NewApp(writeConfig(t, testYAML), testOptions())
	require.NoError(t, err)

	require.NoError(t, a.Start(context.Background()))
	require.Eventually(t, func() bool { return a.Trigger().Snapshot().Started }, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(a.health().Goroutines) > 0 }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx, StopAppStop))
	assert.NoError(t, a.Err())
	select {
	case <-a.Done():
	default:
		t.Fatal("supervisor context still live after Stop")
	}
}

func TestApplyConfigReloadsLiveSections(t *testing.T) {
	a, err := NewApp(writeConfig(t, testYAML), testOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	oldCfg := a.cfgm.Get()
	next := *oldCfg
	next.Scheduler.Timezone = "Asia/Seoul"
	next.Probes = append(append([]config.ProbeSeed(nil), oldCfg.Probes...),
		config.ProbeSeed{ID: "p4", Text: "crm pricing", Cadence: "weekly"})

	a.applyConfig(oldCfg, &next)

	assert.Equal(t, "Asia/Seoul", a.Trigger().Location().String())
	_, err = a.registry.Get(context.Background(), "p4")
	assert.NoError(t, err)
}

func ptr[T any](v T) *T { return &v }
