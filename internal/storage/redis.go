package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"geoprobe/internal/probe"
	"geoprobe/internal/schedule"
	logx "geoprobe/pkg/logx"
)

// redisStore keeps probes in a hash (field = probe id) and runs/results in
// capped lists, newest at the head.
//
// Keys:
//   - <prefix>:probes   hash of probe JSON
//   - <prefix>:runs     list of run JSON
//   - <prefix>:results  list of result JSON
//   - <prefix>:config   cadence config JSON
type redisStore struct {
	client *redis.Client
	log    logx.Logger

	keyProbes, keyRuns, keyResults, keyConfig string

	historyKeep int
	resultKeep  int
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("storage.url is required when storage.driver=redis")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedisStore(client, cfg, log), nil
}

func newRedisStore(client *redis.Client, cfg Config, log logx.Logger) *redisStore {
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = "geoprobe"
	}
	return &redisStore{
		client:      client,
		log:         log,
		keyProbes:   prefix + ":probes",
		keyRuns:     prefix + ":runs",
		keyResults:  prefix + ":results",
		keyConfig:   prefix + ":config",
		historyKeep: cfg.historyRetention(),
		resultKeep:  cfg.resultRetention(),
	}
}

func (s *redisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *redisStore) ListProbes(ctx context.Context) ([]probe.Probe, error) {
	m, err := s.client.HGetAll(ctx, s.keyProbes).Result()
	if err != nil {
		return nil, err
	}
	out := make([]probe.Probe, 0, len(m))
	for id, raw := range m {
		var p probe.Probe
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			s.log.Warn("skipping unreadable probe", logx.String("probe", id), logx.Err(err))
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *redisStore) GetProbe(ctx context.Context, id string) (probe.Probe, error) {
	raw, err := s.client.HGet(ctx, s.keyProbes, id).Bytes()
	if errors.Is(err, redis.Nil) {
		return probe.Probe{}, fmt.Errorf("%w: %s", probe.ErrUnknownProbe, id)
	}
	if err != nil {
		return probe.Probe{}, err
	}
	var p probe.Probe
	if err := json.Unmarshal(raw, &p); err != nil {
		return probe.Probe{}, fmt.Errorf("probe %s: %w", id, err)
	}
	return p, nil
}

func (s *redisStore) PutProbe(ctx context.Context, p probe.Probe) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.keyProbes, p.ID, b).Err()
}

func (s *redisStore) MarkProbesRun(ctx context.Context, runs map[string]time.Time) error {
	if len(runs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(runs))
	for id := range runs {
		ids = append(ids, id)
	}
	vals, err := s.client.HMGet(ctx, s.keyProbes, ids...).Result()
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var p probe.Probe
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			continue
		}
		at := runs[ids[i]]
		p.LastRunAt = &at
		b, err := json.Marshal(p)
		if err != nil {
			return err
		}
		pipe.HSet(ctx, s.keyProbes, p.ID, b)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *redisStore) AppendRun(ctx context.Context, r schedule.Record) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.keyRuns, b)
	pipe.LTrim(ctx, s.keyRuns, 0, int64(s.historyKeep-1))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *redisStore) RecentRuns(ctx context.Context, limit int) ([]schedule.Record, error) {
	if limit <= 0 {
		limit = s.historyKeep
	}
	raws, err := s.client.LRange(ctx, s.keyRuns, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]schedule.Record, 0, len(raws))
	for _, raw := range raws {
		var r schedule.Record
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			s.log.Warn("skipping unreadable run record", logx.Err(err))
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *redisStore) AppendResults(ctx context.Context, rs []probe.Result) error {
	if len(rs) == 0 {
		return nil
	}
	vals := make([]any, 0, len(rs))
	for _, r := range rs {
		b, err := json.Marshal(r)
		if err != nil {
			return err
		}
		vals = append(vals, b)
	}
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.keyResults, vals...)
	pipe.LTrim(ctx, s.keyResults, 0, int64(s.resultKeep-1))
	_, err := pipe.Exec(ctx)
	return err
}

func (s *redisStore) RecentResults(ctx context.Context, probeID string, limit int) ([]probe.Result, error) {
	raws, err := s.client.LRange(ctx, s.keyResults, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	all := make([]probe.Result, 0, len(raws))
	for _, raw := range raws {
		var r probe.Result
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			continue
		}
		all = append(all, r)
	}
	return filterResults(all, probeID, limit), nil
}

func (s *redisStore) LoadCadenceConfig(ctx context.Context) (schedule.Config, bool, error) {
	raw, err := s.client.Get(ctx, s.keyConfig).Bytes()
	if errors.Is(err, redis.Nil) {
		return schedule.Config{}, false, nil
	}
	if err != nil {
		return schedule.Config{}, false, err
	}
	var c schedule.Config
	if err := json.Unmarshal(raw, &c); err != nil {
		return schedule.Config{}, false, fmt.Errorf("stored cadence config: %w", err)
	}
	return c, true, nil
}

func (s *redisStore) SaveCadenceConfig(ctx context.Context, c schedule.Config) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.keyConfig, b, 0).Err()
}
