package storage

import (
	"fmt"
	"strings"

	logx "geoprobe/pkg/logx"
)

// Open initializes the configured store. An empty driver selects memory.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "none", "memory":
		return NewMemory(cfg), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "redis":
		return openRedis(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}

// newestFirst returns the last n items of an oldest-first slice, reversed.
func newestFirst[T any](items []T, n int) []T {
	if n <= 0 || n > len(items) {
		n = len(items)
	}
	out := make([]T, 0, n)
	for i := len(items) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, items[i])
	}
	return out
}

// trimOldest keeps at most keep items from the end of items.
func trimOldest[T any](items []T, keep int) []T {
	if over := len(items) - keep; over > 0 {
		return append(items[:0:0], items[over:]...)
	}
	return items
}
