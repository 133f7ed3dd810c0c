package config

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	HTTP      HTTPConfig      `json:"http"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// Schedule seeds the cadence configuration when the store has none.
	// After the first start the stored value wins; edit it over the API.
	Schedule *ScheduleSeed `json:"schedule,omitempty"`

	Storage    *StorageConfig             `json:"storage,omitempty"`
	Registry   RegistryConfig             `json:"registry"`
	Evaluators map[string]EvaluatorConfig `json:"evaluators"`
	Brands     []BrandConfig              `json:"brands,omitempty"`

	// Probes are inserted into the store when missing; existing probes are left alone.
	Probes []ProbeSeed `json:"probes,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	JSON    bool          `json:"json,omitempty"`
	File    LoggingFile   `json:"file"`
	Recent  LoggingRecent `json:"recent"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingRecent keeps the last warnings in memory for GET /api/logs.
type LoggingRecent struct {
	Enabled    bool   `json:"enabled"`
	Size       int    `json:"size,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// HTTPConfig controls the API server. Changes require a restart.
type HTTPConfig struct {
	Addr         string      `json:"addr"`                    // default: "127.0.0.1:8080"
	ReadTimeout  string      `json:"read_timeout,omitempty"`  // default: "10s"
	WriteTimeout string      `json:"write_timeout,omitempty"` // default: "0s" (run-now is synchronous)
	Pprof        PprofConfig `json:"pprof"`
}

// PprofConfig mounts /debug/pprof on the API server.
//
// A non-loopback addr requires token unless allow_insecure is set.
type PprofConfig struct {
	Enabled              bool   `json:"enabled"`
	Token                string `json:"token,omitempty"`
	AllowInsecure        bool   `json:"allow_insecure,omitempty"`
	MutexProfileFraction int    `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int    `json:"block_profile_rate,omitempty"`
}

// SchedulerConfig controls the timer loop and run execution.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - timezone: local
//   - tick: "1m"
//   - probe_timeout: "0s" (disabled)
//   - history_window: 100
//   - calendar_horizon_days: 30
type SchedulerConfig struct {
	Timezone            string `json:"timezone,omitempty"`
	Tick                string `json:"tick,omitempty"`
	ProbeTimeout        string `json:"probe_timeout,omitempty"`
	HistoryWindow       int    `json:"history_window,omitempty"`
	CalendarHorizonDays int    `json:"calendar_horizon_days,omitempty"`
}

// ScheduleSeed mirrors schedule.Config in its wire form.
type ScheduleSeed struct {
	Enabled           *bool  `json:"enabled,omitempty"`
	DailyTime         string `json:"daily_time,omitempty"`
	WeeklyDay         *int   `json:"weekly_day,omitempty"`
	WeeklyTime        string `json:"weekly_time,omitempty"`
	MonthlyDay        int    `json:"monthly_day,omitempty"`
	MonthlyTime       string `json:"monthly_time,omitempty"`
	DefaultEvaluator  string `json:"default_evaluator,omitempty"`
	ConcurrentQueries int    `json:"concurrent_queries,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./geoprobe.db" }
//	"storage": { "driver": "redis", "url": "redis://localhost:6379/0" }
type StorageConfig struct {
	Driver           string `json:"driver"`
	Path             string `json:"path,omitempty"`
	URL              string `json:"url,omitempty"`          // redis
	KeyPrefix        string `json:"key_prefix,omitempty"`   // redis, default "geoprobe"
	BusyTimeout      string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	HistoryRetention int    `json:"history_retention,omitempty"`
	ResultRetention  int    `json:"result_retention,omitempty"`
}

// RegistryConfig controls the probe snapshot cache.
type RegistryConfig struct {
	TTL string `json:"ttl,omitempty"` // default: "5m"
}

// EvaluatorConfig describes one evaluator backend, keyed by its id
// (the value of defaultEvaluator).
//
// Provider is one of "openai", "gemini", "anthropic". The API key is taken
// from api_key, or from the environment variable named by api_key_env.
type EvaluatorConfig struct {
	Provider   string  `json:"provider"`
	APIKey     string  `json:"api_key,omitempty"`
	APIKeyEnv  string  `json:"api_key_env,omitempty"`
	Model      string  `json:"model,omitempty"`
	BaseURL    string  `json:"base_url,omitempty"`
	MaxTokens  int     `json:"max_tokens,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Timeout    string  `json:"timeout,omitempty"`
}

type BrandConfig struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Competitors []string `json:"competitors,omitempty"`
}

type ProbeSeed struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Category string `json:"category,omitempty"`
	Cadence  string `json:"cadence"`
	Active   *bool  `json:"active,omitempty"`
}
