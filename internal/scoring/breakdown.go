// Package scoring turns free-form rubric reports into weighted scores.
package scoring

import (
	"log/slog"
	"math"
)

// Dimension is one weighted section of the rubric.
type Dimension struct {
	Key    string
	Label  string
	Weight float64
}

var (
	Accuracy   = Dimension{Key: "accuracy", Label: "准确性评估", Weight: 0.40}
	Expression = Dimension{Key: "expression", Label: "语言表达", Weight: 0.30}
	Skills     = Dimension{Key: "skills", Label: "口译技巧", Weight: 0.30}
)

// Dimensions lists the rubric sections in report order.
var Dimensions = []Dimension{Accuracy, Expression, Skills}

// Breakdown holds per-dimension scores. A nil dimension was not found in the
// report; it contributes 0 to Total but stays nil so callers can tell a
// missing score from a zero.
type Breakdown struct {
	Accuracy   *int    `json:"accuracy"`
	Expression *int    `json:"expression"`
	Skills     *int    `json:"skills"`
	Total      float64 `json:"total"`
}

// Missing returns the keys of dimensions absent from the report.
func (b Breakdown) Missing() []string {
	var missing []string
	if b.Accuracy == nil {
		missing = append(missing, Accuracy.Key)
	}
	if b.Expression == nil {
		missing = append(missing, Expression.Key)
	}
	if b.Skills == nil {
		missing = append(missing, Skills.Key)
	}
	return missing
}

type Scorer struct {
	extractor ScoreExtractor
}

func NewScorer(extractor ScoreExtractor) *Scorer {
	if extractor == nil {
		extractor = NewPatternExtractor()
	}
	return &Scorer{extractor: extractor}
}

func (s *Scorer) ExtractScore(report, sectionLabel string) (int, bool) {
	return s.extractor.ExtractScore(report, sectionLabel)
}

func (s *Scorer) ComputeBreakdown(report string) Breakdown {
	b := Breakdown{
		Accuracy:   s.extract(report, Accuracy),
		Expression: s.extract(report, Expression),
		Skills:     s.extract(report, Skills),
	}
	b.Total = WeightedTotal(b.Accuracy, b.Expression, b.Skills)

	if missing := b.Missing(); len(missing) > 0 {
		slog.Debug("scoring: dimensions missing from report, counted as 0", "missing", missing, "total", b.Total)
	}
	return b
}

func (s *Scorer) extract(report string, d Dimension) *int {
	score, ok := s.extractor.ExtractScore(report, d.Label)
	if !ok {
		return nil
	}
	return &score
}

// WeightedTotal applies the rubric weights, treating nil as 0, and rounds to
// one decimal place.
func WeightedTotal(accuracy, expression, skills *int) float64 {
	sum := valueOrZero(accuracy)*Accuracy.Weight +
		valueOrZero(expression)*Expression.Weight +
		valueOrZero(skills)*Skills.Weight
	return Round1(sum)
}

// Round1 rounds half away from zero to one decimal place.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func valueOrZero(v *int) float64 {
	if v == nil {
		return 0
	}
	return float64(*v)
}
