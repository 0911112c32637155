// Package extract classifies procedural event types and extracts legal
// terms from canonical publication text. Extraction is deterministic:
// identical input always yields identical output, with no external calls.
package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jurisia/intake/internal/pipeline"
)

// anchorDatePattern finds an explicit term start ("a contar da publicação
// em 03/04/2024", "a contar da intimação em ..."). Only the anchored form
// overrides the capture date; a bare date elsewhere in the text does not.
var anchorDatePattern = regexp.MustCompile(`a contar d[aeo][\p{L}]*\s+[^,.;]*?(\d{2}/\d{2}/\d{4})`)

// Extractor evaluates an ordered rule list against canonical text.
type Extractor struct {
	rules []Rule
}

// New builds an Extractor over the given rules. Nil falls back to the
// curated default set.
func New(rules []Rule) *Extractor {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Extractor{rules: rules}
}

// Extract classifies the text and derives the term. capturedAt anchors the
// term start when the text names no explicit start date. Matched is false
// when no rule applies; callers compare Confidence against their threshold.
func (e *Extractor) Extract(canonicalText string, capturedAt time.Time) (pipeline.ExtractionResult, error) {
	text := strings.ToLower(canonicalText)
	for _, rule := range e.rules {
		m := rule.Pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		days := rule.TermDays
		if rule.FromText {
			parsed, err := strconv.Atoi(m[1])
			if err != nil {
				return pipeline.ExtractionResult{}, fmt.Errorf("rule %s: parse term days %q: %w", rule.Name, m[1], err)
			}
			days = parsed
		}
		return pipeline.ExtractionResult{
			EventType:  rule.EventType,
			TermDays:   days,
			TermStart:  termStart(text, capturedAt),
			Confidence: rule.Confidence,
			Matched:    true,
		}, nil
	}
	return pipeline.ExtractionResult{}, nil
}

func termStart(text string, capturedAt time.Time) time.Time {
	if m := anchorDatePattern.FindStringSubmatch(text); m != nil {
		if d, err := time.Parse("02/01/2006", m[1]); err == nil {
			return d
		}
	}
	return capturedAt.Truncate(24 * time.Hour)
}
