// Package probe holds monitored queries and the registry that decides which
// of them take part in a cadence's run.
package probe

import (
	"context"
	"errors"
	"time"

	"geoprobe/internal/schedule"
)

// ErrUnknownProbe is returned for ids the store does not know.
var ErrUnknownProbe = errors.New("unknown probe")

// Probe is a monitored query re-run on its cadence.
type Probe struct {
	ID        string           `json:"id"`
	Text      string           `json:"text"`
	Category  string           `json:"category,omitempty"`
	Cadence   schedule.Cadence `json:"cadence"`
	Active    bool             `json:"active"`
	LastRunAt *time.Time       `json:"lastRunAt,omitempty"`
}

// Store is the source of truth for probes.
type Store interface {
	ListProbes(ctx context.Context) ([]Probe, error)
	// GetProbe returns ErrUnknownProbe (possibly wrapped) when id is missing.
	GetProbe(ctx context.Context, id string) (Probe, error)
	PutProbe(ctx context.Context, p Probe) error
	// MarkProbesRun sets lastRunAt per probe id; unknown ids are ignored.
	MarkProbesRun(ctx context.Context, runs map[string]time.Time) error
}

// BrandCitation is one brand found in an evaluator answer. Rank is the
// 1-based position in a numbered list, or 0 when the brand was mentioned
// outside a list.
type BrandCitation struct {
	BrandID string `json:"brandId"`
	Name    string `json:"name"`
	Rank    int    `json:"rank,omitempty"`
}

// Result is the outcome of evaluating one probe during a run.
type Result struct {
	ID           string          `json:"id"`
	RunID        string          `json:"runId"`
	ProbeID      string          `json:"probeId"`
	Evaluator    string          `json:"evaluator"`
	Cited        bool            `json:"cited"`
	CitedBrands  []BrandCitation `json:"citedBrands,omitempty"`
	Competitors  []string        `json:"competitors,omitempty"`
	Response     string          `json:"response,omitempty"`
	FullResponse string          `json:"fullResponse,omitempty"`
	Error        string          `json:"error,omitempty"`
	TestedAt     time.Time       `json:"testedAt"`
}

// ResponsePreviewLen is the length of Result.Response.
const ResponsePreviewLen = 500

// Preview cuts s to ResponsePreviewLen bytes without splitting a rune.
func Preview(s string) string {
	if len(s) <= ResponsePreviewLen {
		return s
	}
	cut := ResponsePreviewLen
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

func clone(p Probe) Probe {
	if p.LastRunAt != nil {
		t := *p.LastRunAt
		p.LastRunAt = &t
	}
	return p
}
