// Package evaluator sends probe text to AI engines and reports which tracked
// brands the answer cites.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "geoprobe/pkg/logx"
)

var (
	ErrUnknownEvaluator = errors.New("unknown evaluator")
	ErrNotConfigured    = errors.New("evaluator not configured")
)

// Spec describes one configured evaluator backend.
type Spec struct {
	Provider   string
	APIKey     string
	Model      string
	BaseURL    string
	MaxTokens  int
	RatePerSec float64 // 0 disables limiting
	Timeout    time.Duration
}

// DefaultSpecs mirrors the engines available out of the box.
func DefaultSpecs(getenv func(string) string) map[string]Spec {
	return map[string]Spec{
		"gpt":    {Provider: ProviderOpenAI, APIKey: getenv("OPENAI_API_KEY")},
		"gemini": {Provider: ProviderGemini, APIKey: getenv("GEMINI_API_KEY")},
	}
}

type backend struct {
	completer Completer
	limiter   *rate.Limiter
	timeout   time.Duration
}

// Service routes evaluations to backends by evaluator id. Backends and
// brands can be swapped at runtime.
type Service struct {
	log logx.Logger

	mu       sync.RWMutex
	backends map[string]*backend
	brands   []Brand
}

func New(log logx.Logger) *Service {
	return &Service{log: log, backends: map[string]*backend{}}
}

// Register installs c under id, replacing any previous backend.
func (s *Service) Register(id string, c Completer, spec Spec) {
	s.mu.Lock()
	s.backends[id] = newBackend(c, spec)
	s.mu.Unlock()
}

func newBackend(c Completer, spec Spec) *backend {
	b := &backend{completer: c, timeout: spec.Timeout}
	if spec.RatePerSec > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(spec.RatePerSec), max(1, int(spec.RatePerSec)))
	}
	return b
}

// Apply rebuilds every backend from specs. Ids missing from specs are removed.
func (s *Service) Apply(specs map[string]Spec) error {
	next := make(map[string]*backend, len(specs))
	var errs []error
	for id, spec := range specs {
		c, err := NewCompleter(spec)
		if err != nil {
			errs = append(errs, fmt.Errorf("evaluators.%s: %w", id, err))
			continue
		}
		next[id] = newBackend(c, spec)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.mu.Lock()
	s.backends = next
	s.mu.Unlock()
	s.log.Info("evaluators applied", logx.Any("ids", slices.Sorted(maps.Keys(next))))
	return nil
}

func (s *Service) SetBrands(brands []Brand) {
	cp := slices.Clone(brands)
	s.mu.Lock()
	s.brands = cp
	s.mu.Unlock()
}

// Has reports whether id names a registered backend.
func (s *Service) Has(id string) bool {
	s.mu.RLock()
	_, ok := s.backends[id]
	s.mu.RUnlock()
	return ok
}

// IDs returns the registered evaluator ids in order.
func (s *Service) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.backends))
}

// Evaluate asks evaluator id about text and analyzes the answer against the
// current brand list.
func (s *Service) Evaluate(ctx context.Context, text, id string) (Answer, error) {
	s.mu.RLock()
	b, ok := s.backends[id]
	brands := s.brands
	s.mu.RUnlock()
	if !ok {
		return Answer{}, fmt.Errorf("%w: %s", ErrUnknownEvaluator, id)
	}

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return Answer{}, err
		}
	}
	resp, err := b.completer.Complete(ctx, text)
	if err != nil {
		return Answer{}, fmt.Errorf("%s: %w", id, err)
	}
	return Analyze(resp, brands), nil
}
