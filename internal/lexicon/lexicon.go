// Package lexicon holds the static risk keyword corpus. The corpus is embedded
// at build time and loaded once; there is no runtime mutation or reload.
package lexicon

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/nestwatch/nestwatch/internal/models"
)

//go:embed lexicon.yaml
var corpusYAML []byte

// Severity weights applied per matched keyword.
const (
	WeightHigh    = 3
	WeightMedium  = 2
	WeightDefault = 1
)

type corpusFile struct {
	Categories     map[string][]string `yaml:"categories"`
	HighSeverity   []string            `yaml:"high_severity"`
	MediumSeverity []string            `yaml:"medium_severity"`
}

// Lexicon is the immutable keyword corpus with category and weight lookups.
type Lexicon struct {
	byKeyword   map[string]models.RiskCategory
	weights     map[string]int
	ordered     []string // all keywords, category order then corpus order
	perCategory map[models.RiskCategory][]string
}

var (
	defaultOnce sync.Once
	defaultLex  *Lexicon
	defaultErr  error
)

// Default returns the embedded corpus, parsed once per process.
func Default() (*Lexicon, error) {
	defaultOnce.Do(func() {
		defaultLex, defaultErr = Parse(corpusYAML)
	})
	return defaultLex, defaultErr
}

// MustDefault returns the embedded corpus or panics. The embedded file is
// validated by tests, so a failure here means a broken build.
func MustDefault() *Lexicon {
	lex, err := Default()
	if err != nil {
		panic(fmt.Sprintf("lexicon: embedded corpus invalid: %v", err))
	}
	return lex
}

// Parse loads and validates a corpus from YAML.
func Parse(data []byte) (*Lexicon, error) {
	var file corpusFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse corpus: %w", err)
	}
	if len(file.Categories) == 0 {
		return nil, fmt.Errorf("corpus has no categories")
	}

	lex := &Lexicon{
		byKeyword:   make(map[string]models.RiskCategory),
		weights:     make(map[string]int),
		perCategory: make(map[models.RiskCategory][]string),
	}

	// Iterate categories in canonical order so keyword order is stable
	// across processes regardless of YAML map iteration.
	for _, category := range models.RiskCategories() {
		keywords, ok := file.Categories[string(category)]
		if !ok {
			return nil, fmt.Errorf("corpus missing category %s", category)
		}
		for _, kw := range keywords {
			if err := validateKeyword(kw); err != nil {
				return nil, fmt.Errorf("category %s: %w", category, err)
			}
			if prev, dup := lex.byKeyword[kw]; dup {
				return nil, fmt.Errorf("keyword %q in both %s and %s", kw, prev, category)
			}
			lex.byKeyword[kw] = category
			lex.weights[kw] = WeightDefault
			lex.ordered = append(lex.ordered, kw)
			lex.perCategory[category] = append(lex.perCategory[category], kw)
		}
	}
	for name := range file.Categories {
		if _, err := models.ParseRiskCategory(name); err != nil {
			return nil, fmt.Errorf("corpus: %w", err)
		}
	}

	for _, kw := range file.HighSeverity {
		if _, ok := lex.byKeyword[kw]; !ok {
			return nil, fmt.Errorf("high_severity keyword %q not in any category", kw)
		}
		lex.weights[kw] = WeightHigh
	}
	for _, kw := range file.MediumSeverity {
		if _, ok := lex.byKeyword[kw]; !ok {
			return nil, fmt.Errorf("medium_severity keyword %q not in any category", kw)
		}
		if lex.weights[kw] == WeightHigh {
			return nil, fmt.Errorf("keyword %q in both severity sets", kw)
		}
		lex.weights[kw] = WeightMedium
	}

	return lex, nil
}

func validateKeyword(kw string) error {
	if kw == "" {
		return fmt.Errorf("empty keyword")
	}
	if kw != strings.TrimSpace(kw) {
		return fmt.Errorf("keyword %q has surrounding whitespace", kw)
	}
	for _, r := range kw {
		if r > 127 {
			return fmt.Errorf("keyword %q is not ASCII", kw)
		}
		if r >= 'A' && r <= 'Z' {
			return fmt.Errorf("keyword %q is not lowercase", kw)
		}
	}
	return nil
}

// Category returns the risk category a keyword belongs to.
func (l *Lexicon) Category(keyword string) (models.RiskCategory, bool) {
	c, ok := l.byKeyword[keyword]
	return c, ok
}

// Weight returns the severity weight for a keyword (1 when unknown).
func (l *Lexicon) Weight(keyword string) int {
	if w, ok := l.weights[keyword]; ok {
		return w
	}
	return WeightDefault
}

// Keywords returns every keyword in stable match order.
func (l *Lexicon) Keywords() []string {
	return l.ordered
}

// CategoryKeywords returns the keywords of one category in corpus order.
func (l *Lexicon) CategoryKeywords(category models.RiskCategory) []string {
	return l.perCategory[category]
}

// Size returns the total keyword count.
func (l *Lexicon) Size() int {
	return len(l.ordered)
}
