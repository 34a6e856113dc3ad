// Package analyzer evaluates video titles and descriptions against the risk
// lexicon. Analysis is a pure function: no I/O, no clock, no state beyond the
// corpus handed in at construction.
package analyzer

import (
	"math"
	"strings"
	"unicode"

	"github.com/nestwatch/nestwatch/internal/lexicon"
	"github.com/nestwatch/nestwatch/internal/models"
	"github.com/nestwatch/nestwatch/internal/utils"
)

const (
	// ExcerptLimit caps the stored flagged_text excerpt.
	ExcerptLimit = 200

	confidenceScale = 0.3
	highThreshold   = 0.7
	mediumThreshold = 0.4
)

// Verdict is the structured result of analyzing one (title, description) pair.
type Verdict struct {
	HasRisk         bool                             `json:"has_risk"`
	Categories      []models.RiskCategory            `json:"risk_categories"`
	Keywords        map[models.RiskCategory][]string `json:"categorized_keywords"`
	OverallSeverity models.Severity                  `json:"overall_severity"`
	Confidence      float64                          `json:"confidence_score"`
	TotalMatches    int                              `json:"total_keywords_matched"`
}

// Analyzer matches text against a fixed lexicon.
type Analyzer struct {
	lex *lexicon.Lexicon
}

// New creates an analyzer over the given corpus.
func New(lex *lexicon.Lexicon) *Analyzer {
	return &Analyzer{lex: lex}
}

// Analyze evaluates a title and description. The title is weighted double by
// repeating it in the analysis text. Each keyword counts at most once no
// matter how often it occurs.
func (a *Analyzer) Analyze(title, description string) Verdict {
	text := strings.ToLower(title + " " + title + " " + description)
	tokens := tokenSet(text)

	verdict := Verdict{
		Keywords:        make(map[models.RiskCategory][]string),
		OverallSeverity: models.SeverityLow,
	}

	totalWeight := 0
	for _, kw := range a.lex.Keywords() {
		var matched bool
		if strings.ContainsRune(kw, ' ') {
			matched = strings.Contains(text, kw)
		} else {
			matched = tokens[kw]
		}
		if !matched {
			continue
		}

		category, ok := a.lex.Category(kw)
		if !ok {
			continue
		}
		verdict.Keywords[category] = append(verdict.Keywords[category], kw)
		verdict.TotalMatches++
		totalWeight += a.lex.Weight(kw)
	}

	for _, category := range models.RiskCategories() {
		if len(verdict.Keywords[category]) > 0 {
			verdict.Categories = append(verdict.Categories, category)
		}
	}

	verdict.HasRisk = verdict.TotalMatches > 0
	verdict.Confidence = confidence(totalWeight)
	switch {
	case verdict.Confidence >= highThreshold:
		verdict.OverallSeverity = models.SeverityHigh
	case verdict.Confidence >= mediumThreshold:
		verdict.OverallSeverity = models.SeverityMedium
	default:
		verdict.OverallSeverity = models.SeverityLow
	}

	return verdict
}

// confidence maps total keyword weight to a bounded score:
// min(1.0, 0.3 * log2(1 + weight)).
func confidence(totalWeight int) float64 {
	if totalWeight <= 0 {
		return 0
	}
	return math.Min(1.0, confidenceScale*math.Log2(1+float64(totalWeight)))
}

// tokenSet splits lowercased text on non-word runs. Single-word keywords only
// match whole tokens, so "hat" never fires inside "chat".
func tokenSet(text string) map[string]bool {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

// Excerpt builds the stored flagged_text: the title and description joined,
// capped at ExcerptLimit bytes on a rune boundary.
func Excerpt(title, description string) string {
	joined := strings.TrimSpace(title + " " + description)
	return utils.Truncate(joined, ExcerptLimit)
}
