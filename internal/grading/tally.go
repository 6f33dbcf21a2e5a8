package grading

import (
	"math"

	"github.com/pavelanni/examgrade/internal/model"
)

// Graded is one question of an attempt after grading.
type Graded struct {
	Item    Item
	Answer  string
	Outcome Outcome
}

// Tally aggregates graded answers into auto-graded and manual buckets.
type Tally struct {
	AutoScore   float64
	AutoMax     float64
	ManualMax   float64
	AutoCount   int
	ManualCount int
}

// Add returns the tally with g folded in.
func (t Tally) Add(g Graded) Tally {
	points := g.Item.Question.Points
	if !g.Outcome.AutoGraded {
		t.ManualMax += points
		t.ManualCount++
		return t
	}
	t.AutoMax += points
	t.AutoCount++
	if g.Outcome.PointsAwarded != nil {
		t.AutoScore += *g.Outcome.PointsAwarded
	}
	return t
}

// Fold tallies a list of graded answers.
func Fold(graded []Graded) Tally {
	var t Tally
	for _, g := range graded {
		t = t.Add(g)
	}
	return t
}

// Status is completed when nothing waits for a grader.
func (t Tally) Status() model.AttemptStatus {
	if t.ManualCount == 0 {
		return model.StatusCompleted
	}
	return model.StatusAutoGraded
}

// Percentage returns score/max*100 rounded to two decimals, or 0 when max is 0.
// The rounded value is for reporting only; see Passed.
func Percentage(score, max float64) float64 {
	return math.Round(ratio(score, max)*100) / 100
}

// Passed reports whether score/max*100 reaches the passing threshold. The
// comparison uses the unrounded ratio, so 59.996% does not pass at 60%.
func Passed(score, max, threshold float64) bool {
	return ratio(score, max) >= threshold
}

func ratio(score, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return score / max * 100
}

// PassingThreshold returns the examination's passing percentage. An absolute
// passing score is used as a percentage-equivalent when no percentage is set,
// and fallback applies when neither is present.
func PassingThreshold(e model.Examination, fallback float64) float64 {
	switch {
	case e.PassingPercentage != nil:
		return *e.PassingPercentage
	case e.PassingScore != nil:
		return *e.PassingScore
	default:
		return fallback
	}
}
