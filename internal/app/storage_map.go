package app

import (
	"strings"

	"geoprobe/internal/config"
	"geoprobe/internal/storage"
)

func mapStorageConfig(cfg *Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		driver = "memory"
	}
	out := storage.Config{
		Driver:           driver,
		Path:             strings.TrimSpace(sc.Path),
		URL:              strings.TrimSpace(sc.URL),
		KeyPrefix:        strings.TrimSpace(sc.KeyPrefix),
		HistoryRetention: sc.HistoryRetention,
		ResultRetention:  sc.ResultRetention,
	}
	if driver == "sqlite" || driver == "sqlite3" {
		busy, err := config.ResolveDuration("storage.busy_timeout", sc.BusyTimeout)
		if err != nil {
			return storage.Config{}, err
		}
		out.BusyTimeout = busy
	}
	return out, nil
}
