package scoring

import (
	"log/slog"
	"regexp"
	"strconv"
	"sync"
)

// ScoreExtractor pulls a single numeric score for a section out of a rubric report.
type ScoreExtractor interface {
	ExtractScore(report, sectionLabel string) (int, bool)
}

// PatternExtractor finds the first occurrence of the section label followed,
// anywhere later in the text, by a digit run directly before "分".
//
// Matching is purely textual. A report that phrases scores differently
// (e.g. "85 points" or "85/100") yields no match; callers see a missing
// dimension rather than a guess. When a label appears more than once the
// first occurrence wins.
type PatternExtractor struct {
	mu       sync.Mutex
	patterns map[string]*regexp.Regexp
}

func NewPatternExtractor() *PatternExtractor {
	return &PatternExtractor{patterns: make(map[string]*regexp.Regexp)}
}

func (e *PatternExtractor) ExtractScore(report, sectionLabel string) (int, bool) {
	if sectionLabel == "" {
		return 0, false
	}

	match := e.pattern(sectionLabel).FindStringSubmatch(report)
	if match == nil {
		return 0, false
	}

	score, err := strconv.Atoi(match[1])
	if err != nil {
		slog.Warn("scoring: unparseable score, dimension left empty", "section", sectionLabel, "digits", match[1], "error", err)
		return 0, false
	}
	return score, true
}

func (e *PatternExtractor) pattern(label string) *regexp.Regexp {
	e.mu.Lock()
	defer e.mu.Unlock()

	if re, ok := e.patterns[label]; ok {
		return re
	}
	re := regexp.MustCompile(regexp.QuoteMeta(label) + `(?s:.*?)(\d+)分`)
	e.patterns[label] = re
	return re
}
