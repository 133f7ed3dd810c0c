package storage

import (
	"context"
	"errors"
	"time"

	"geoprobe/internal/probe"
	"geoprobe/internal/schedule"
)

var ErrClosed = errors.New("storage closed")

const (
	DefaultHistoryRetention = 100
	DefaultResultRetention  = 500
)

// Config configures storage.
//
// Driver values: "memory" (also "" and "none"), "file", "sqlite", "redis".
type Config struct {
	Driver      string
	Path        string        // file prefix or sqlite database path
	URL         string        // redis://...
	KeyPrefix   string        // redis only; default "geoprobe"
	BusyTimeout time.Duration // sqlite only; 0 means default

	// Retention caps how many run records and results are kept.
	HistoryRetention int
	ResultRetention  int
}

func (c Config) historyRetention() int {
	if c.HistoryRetention <= 0 {
		return DefaultHistoryRetention
	}
	return c.HistoryRetention
}

func (c Config) resultRetention() int {
	if c.ResultRetention <= 0 {
		return DefaultResultRetention
	}
	return c.ResultRetention
}

// HistoryStore is the durable log of completed runs.
type HistoryStore interface {
	AppendRun(ctx context.Context, r schedule.Record) error
	// RecentRuns returns up to limit records, newest first.
	RecentRuns(ctx context.Context, limit int) ([]schedule.Record, error)
}

// ResultStore keeps per-probe evaluation results.
type ResultStore interface {
	AppendResults(ctx context.Context, rs []probe.Result) error
	// RecentResults returns up to limit results, newest first. An empty
	// probeID matches every probe.
	RecentResults(ctx context.Context, probeID string, limit int) ([]probe.Result, error)
}

// ConfigStore keeps the single cadence configuration.
type ConfigStore interface {
	// LoadCadenceConfig reports ok=false when nothing has been saved yet.
	LoadCadenceConfig(ctx context.Context) (cfg schedule.Config, ok bool, err error)
	SaveCadenceConfig(ctx context.Context, cfg schedule.Config) error
}

// Store is everything geoprobe persists.
type Store interface {
	probe.Store
	HistoryStore
	ResultStore
	ConfigStore
	Close() error
}
