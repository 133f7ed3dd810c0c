package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"geoprobe/internal/probe"
	"geoprobe/internal/schedule"
	logx "geoprobe/pkg/logx"
)

// fileStore is a dependency-free persistence backend. Reads are served from
// the embedded Memory; every write hits disk first.
//
// Files:
//   - <prefix>.probes.json    (snapshot, rewritten on change)
//   - <prefix>.config.json    (snapshot, rewritten on change)
//   - <prefix>.runs.jsonl     (append-only journal)
//   - <prefix>.results.jsonl  (append-only journal)
//
// A journal is compacted to the retention limit once it holds twice as
// many lines.
type fileStore struct {
	*Memory
	log logx.Logger

	mu         sync.Mutex // serializes file writes
	probesPath string
	configPath string
	runs       *journal
	results    *journal
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		Memory:     NewMemory(cfg),
		log:        log,
		probesPath: prefix + ".probes.json",
		configPath: prefix + ".config.json",
	}

	var probes []probe.Probe
	if err := readJSON(s.probesPath, &probes); err != nil {
		return nil, fmt.Errorf("load probes: %w", err)
	}
	for _, p := range probes {
		s.Memory.probes[p.ID] = p
	}
	var sc *schedule.Config
	if err := readJSON(s.configPath, &sc); err != nil {
		return nil, fmt.Errorf("load cadence config: %w", err)
	}
	s.Memory.cfg = sc

	runs, runItems, err := openJournal[schedule.Record](prefix+".runs.jsonl", s.Memory.historyKeep, log)
	if err != nil {
		return nil, err
	}
	results, resultItems, err := openJournal[probe.Result](prefix+".results.jsonl", s.Memory.resultKeep, log)
	if err != nil {
		_ = runs.close()
		return nil, err
	}
	s.runs, s.results = runs, results
	s.Memory.runs = runItems
	s.Memory.results = resultItems
	return s, nil
}

func (s *fileStore) PutProbe(ctx context.Context, p probe.Probe) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Memory.PutProbe(ctx, p); err != nil {
		return err
	}
	return s.saveProbesLocked(ctx)
}

func (s *fileStore) MarkProbesRun(ctx context.Context, runs map[string]time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Memory.MarkProbesRun(ctx, runs); err != nil {
		return err
	}
	return s.saveProbesLocked(ctx)
}

func (s *fileStore) saveProbesLocked(ctx context.Context) error {
	list, err := s.Memory.ListProbes(ctx)
	if err != nil {
		return err
	}
	return writeJSONAtomic(s.probesPath, list)
}

func (s *fileStore) SaveCadenceConfig(ctx context.Context, cfg schedule.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeJSONAtomic(s.configPath, cfg); err != nil {
		return err
	}
	return s.Memory.SaveCadenceConfig(ctx, cfg)
}

func (s *fileStore) AppendRun(ctx context.Context, r schedule.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs == nil {
		return ErrClosed
	}
	if err := s.runs.append(r); err != nil {
		return err
	}
	if err := s.Memory.AppendRun(ctx, r); err != nil {
		return err
	}
	if s.runs.needsCompaction() {
		s.Memory.mu.RLock()
		items := append([]schedule.Record(nil), s.Memory.runs...)
		s.Memory.mu.RUnlock()
		if err := rewriteJournal(s.runs, items); err != nil {
			s.log.Warn("run journal compaction failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) AppendResults(ctx context.Context, rs []probe.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.results == nil {
		return ErrClosed
	}
	for _, r := range rs {
		if err := s.results.append(r); err != nil {
			return err
		}
	}
	if err := s.Memory.AppendResults(ctx, rs); err != nil {
		return err
	}
	if s.results.needsCompaction() {
		s.Memory.mu.RLock()
		items := append([]probe.Result(nil), s.Memory.results...)
		s.Memory.mu.RUnlock()
		if err := rewriteJournal(s.results, items); err != nil {
			s.log.Warn("result journal compaction failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.Memory.Close()
	var errs []error
	if s.runs != nil {
		errs = append(errs, s.runs.close())
		s.runs = nil
	}
	if s.results != nil {
		errs = append(errs, s.results.close())
		s.results = nil
	}
	return errors.Join(errs...)
}

// ---- journal ----

type journal struct {
	path  string
	f     *os.File
	lines int
	keep  int
}

// openJournal replays path and returns the last keep items, oldest first.
// Lines that fail to decode are skipped.
func openJournal[T any](path string, keep int, log logx.Logger) (*journal, []T, error) {
	var items []T
	skipped := 0
	if f, err := os.Open(path); err == nil {
		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for sc.Scan() {
			var v T
			if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
				skipped++
				continue
			}
			items = append(items, v)
		}
		err := sc.Err()
		_ = f.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("replay %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, nil, err
	}
	if skipped > 0 {
		log.Warn("skipped unreadable journal lines", logx.String("path", path), logx.Int("count", skipped))
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, err
	}
	j := &journal{path: path, f: f, lines: len(items) + skipped, keep: keep}
	return j, trimOldest(items, keep), nil
}

func (j *journal) append(v any) error {
	if j.f == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(j.f).Encode(v); err != nil {
		return err
	}
	j.lines++
	return nil
}

func (j *journal) needsCompaction() bool { return j.lines > 2*j.keep }

func (j *journal) close() error {
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}

// rewriteJournal replaces the journal content with items via tmp + rename.
func rewriteJournal[T any](j *journal, items []T) error {
	tmp := j.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, it := range items {
		if err := enc.Encode(it); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := j.f.Close(); err != nil {
		return err
	}
	j.f = nil
	if err := os.Rename(tmp, j.path); err != nil {
		return err
	}
	nf, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	j.f = nf
	j.lines = len(items)
	return nil
}

// ---- snapshots ----

// readJSON decodes path into v. A missing file leaves v untouched.
func readJSON(path string, v any) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSONAtomic(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
