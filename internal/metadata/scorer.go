package metadata

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/hbollon/go-edlib"
)

const (
	artistWeight = 0.4
	titleWeight  = 0.6

	// Strings at least this similar by edit distance score as containment,
	// which absorbs single typos in longer names.
	nearEqualSimilarity = 0.9
	nearEqualMinLength  = 5
)

// Scorer computes the confidence that a catalog record matches a Query.
// Each adapter configures the tiers its catalog has been tuned for.
type Scorer struct {
	// Contains is the component score when one normalized string contains
	// the other (or they are near-equal).
	Contains float64
	// Baseline is the component score for any other non-empty pair.
	Baseline float64
	// Title normalizes titles before comparison. Defaults to NormalizeTitle.
	Title func(string) string
}

// DefaultScorer uses the tiers shared by most catalogs.
var DefaultScorer = Scorer{Contains: 0.8, Baseline: 0.5}

// Score returns artistScore*0.4 + titleScore*0.6 + boost, clamped to [0,1].
func (s Scorer) Score(q Query, artist, title string, boost float64) float64 {
	titleNorm := s.Title
	if titleNorm == nil {
		titleNorm = NormalizeTitle
	}

	artistScore := s.component(NormalizeTitle(q.Artist), NormalizeTitle(artist))
	titleScore := s.component(titleNorm(q.Title), titleNorm(title))

	return clamp(artistScore*artistWeight + titleScore*titleWeight + math.Max(boost, 0))
}

// component scores two already-normalized strings. An empty candidate
// value scores zero.
func (s Scorer) component(query, candidate string) float64 {
	if candidate == "" || query == "" {
		return 0
	}
	if query == candidate {
		return 1.0
	}
	if strings.Contains(candidate, query) || strings.Contains(query, candidate) {
		return s.Contains
	}
	if nearEqual(query, candidate) {
		return s.Contains
	}
	return s.Baseline
}

func nearEqual(a, b string) bool {
	if utf8.RuneCountInString(a) < nearEqualMinLength || utf8.RuneCountInString(b) < nearEqualMinLength {
		return false
	}
	sim, err := edlib.StringsSimilarity(a, b, edlib.Levenshtein)
	if err != nil {
		return false
	}
	return float64(sim) >= nearEqualSimilarity
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
