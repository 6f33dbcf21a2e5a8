package grading

import (
	"testing"

	"github.com/pavelanni/examgrade/internal/model"
)

func TestFoldScoreArithmetic(t *testing.T) {
	q40 := item(model.QuestionSingleChoice, 40, `"a"`)
	q60 := item(model.QuestionSingleChoice, 60, `"b"`)

	graded := []Graded{
		{Item: q40, Answer: "a", Outcome: Grade(q40, "a")},
		{Item: q60, Answer: "c", Outcome: Grade(q60, "c")},
	}
	tally := Fold(graded)

	if tally.AutoScore != 40 || tally.AutoMax != 100 {
		t.Errorf("auto = %v/%v, want 40/100", tally.AutoScore, tally.AutoMax)
	}
	if tally.AutoCount != 2 || tally.ManualCount != 0 {
		t.Errorf("counts = %d/%d, want 2/0", tally.AutoCount, tally.ManualCount)
	}
	if tally.Status() != model.StatusCompleted {
		t.Errorf("status = %q, want completed", tally.Status())
	}

	pct := Percentage(tally.AutoScore, 100)
	if pct != 40.0 {
		t.Errorf("percentage = %v, want 40", pct)
	}
	if Passed(tally.AutoScore, 100, 50) {
		t.Error("expected not passed at threshold 50")
	}
}

func TestFoldManualPending(t *testing.T) {
	auto := item(model.QuestionTrueFalse, 30, `true`)
	essay := item(model.QuestionSubjective, 70, ``)

	tally := Fold([]Graded{
		{Item: auto, Answer: "false", Outcome: Grade(auto, "false")},
		{Item: essay, Answer: "", Outcome: Grade(essay, "")},
	})

	if tally.AutoScore != 0 || tally.AutoMax != 30 {
		t.Errorf("auto = %v/%v, want 0/30", tally.AutoScore, tally.AutoMax)
	}
	if tally.ManualMax != 70 || tally.ManualCount != 1 {
		t.Errorf("manual = %v (%d), want 70 (1)", tally.ManualMax, tally.ManualCount)
	}
	if tally.Status() != model.StatusAutoGraded {
		t.Errorf("status = %q, want auto_graded", tally.Status())
	}
}

func TestPercentage(t *testing.T) {
	tests := []struct {
		score, max, want float64
	}{
		{0, 0, 0},
		{10, 0, 0},
		{50, 100, 50},
		{1, 3, 33.33},
		{2, 3, 66.67},
		{120, 100, 120},
	}
	for _, tt := range tests {
		if got := Percentage(tt.score, tt.max); got != tt.want {
			t.Errorf("Percentage(%v, %v) = %v, want %v", tt.score, tt.max, got, tt.want)
		}
	}
}

func TestPassingThreshold(t *testing.T) {
	pct, abs := 60.0, 45.0
	tests := []struct {
		name string
		exam model.Examination
		want float64
	}{
		{"percentage wins", model.Examination{PassingPercentage: &pct, PassingScore: &abs}, 60},
		{"absolute as fallback", model.Examination{PassingScore: &abs}, 45},
		{"default", model.Examination{}, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PassingThreshold(tt.exam, 50); got != tt.want {
				t.Errorf("PassingThreshold() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPassedUsesUnroundedRatio(t *testing.T) {
	tests := []struct {
		name                  string
		score, max, threshold float64
		want                  bool
	}{
		{"equal to threshold", 50, 100, 50, true},
		{"just below threshold", 14999, 25000, 60, false},
		{"exact boundary", 15000, 25000, 60, true},
		{"zero max, zero threshold", 0, 0, 0, true},
		{"zero max", 0, 0, 50, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Passed(tt.score, tt.max, tt.threshold); got != tt.want {
				t.Errorf("Passed(%v, %v, %v) = %v, want %v", tt.score, tt.max, tt.threshold, got, tt.want)
			}
		})
	}
	// The reported percentage still rounds up to the threshold.
	if got := Percentage(14999, 25000); got != 60 {
		t.Errorf("Percentage(14999, 25000) = %v, want 60", got)
	}
}
