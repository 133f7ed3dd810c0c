package evaluator

import (
	"regexp"
	"strconv"
	"strings"

	"geoprobe/internal/probe"
)

// Brand is a tracked brand and the competitors reported alongside it.
type Brand struct {
	ID          string
	Name        string
	Competitors []string
}

// Answer is the citation analysis of one evaluator response.
type Answer struct {
	CitedBrands []probe.BrandCitation
	// Rank is the best list position among cited brands; 0 when none was ranked.
	Rank        int
	Competitors []string
	RawResponse string
}

// Cited reports whether any tracked brand appeared in the response.
func (a Answer) Cited() bool { return len(a.CitedBrands) > 0 }

var listMarker = regexp.MustCompile(`^\s*(\d+)[.)\]]`)

// Analyze finds brand and competitor mentions in response. Matching is a
// case-insensitive substring test; a brand's rank is the list number on the
// first line that mentions it.
func Analyze(response string, brands []Brand) Answer {
	a := Answer{RawResponse: response}
	lower := strings.ToLower(response)
	lines := strings.Split(response, "\n")
	seen := map[string]bool{}

	for _, b := range brands {
		name := strings.ToLower(strings.TrimSpace(b.Name))
		if name != "" && strings.Contains(lower, name) {
			c := probe.BrandCitation{BrandID: b.ID, Name: b.Name, Rank: rankOf(lines, name)}
			a.CitedBrands = append(a.CitedBrands, c)
			if c.Rank > 0 && (a.Rank == 0 || c.Rank < a.Rank) {
				a.Rank = c.Rank
			}
		}
		for _, comp := range b.Competitors {
			key := strings.ToLower(strings.TrimSpace(comp))
			if key == "" || seen[key] || !strings.Contains(lower, key) {
				continue
			}
			seen[key] = true
			a.Competitors = append(a.Competitors, comp)
		}
	}
	return a
}

func rankOf(lines []string, lowerName string) int {
	for _, line := range lines {
		if !strings.Contains(strings.ToLower(line), lowerName) {
			continue
		}
		m := listMarker.FindStringSubmatch(line)
		if m == nil {
			return 0
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}
