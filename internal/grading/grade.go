package grading

import (
	"slices"

	"github.com/pavelanni/examgrade/internal/model"
)

// NoteUndeterminableKey is recorded on answers routed to manual grading
// because the question's correct answer yields no tokens.
const NoteUndeterminableKey = "undeterminable_correct_answer"

// Item is a question with its correct answer decoded once.
type Item struct {
	Question model.ExaminationQuestion
	Key      Key
}

// Prepare decodes the question's correct answer.
func Prepare(q model.ExaminationQuestion) Item {
	return Item{Question: q, Key: DecodeKey(q.CorrectAnswer, q.Options)}
}

// PrepareAll decodes every question, preserving order.
func PrepareAll(questions []model.ExaminationQuestion) []Item {
	items := make([]Item, len(questions))
	for i, q := range questions {
		items[i] = Prepare(q)
	}
	return items
}

// Outcome is the grading result of one answer. IsCorrect and PointsAwarded are
// nil when the answer needs a human grader.
type Outcome struct {
	AutoGraded    bool
	IsCorrect     *bool
	PointsAwarded *float64
	Note          string
}

// IsAutoGradable reports whether a question type is compared automatically.
func IsAutoGradable(t model.QuestionType) bool {
	switch t {
	case model.QuestionSingleChoice, model.QuestionTrueFalse, model.QuestionMultipleChoice:
		return true
	}
	return false
}

// IsMultiSelect reports whether the item needs an exact set match.
func (it Item) IsMultiSelect() bool {
	return it.Question.Type == model.QuestionMultipleChoice && len(it.Key.Tokens) > 1
}

// RequiresManual reports whether answers to this item go to a human grader.
func (it Item) RequiresManual() bool {
	return !IsAutoGradable(it.Question.Type) || !it.Key.Determinable()
}

// Grade scores one raw student answer against the item.
func Grade(it Item, answer string) Outcome {
	if !IsAutoGradable(it.Question.Type) {
		return Outcome{}
	}
	if !it.Key.Determinable() {
		return Outcome{Note: NoteUndeterminableKey}
	}

	student := StudentTokens(answer)
	var correct bool
	if it.IsMultiSelect() {
		correct = sameSet(student, it.Key.Tokens)
	} else {
		correct = firstMatches(student, it.Key.Tokens)
	}

	points := 0.0
	if correct {
		points = it.Question.Points
	}
	return Outcome{AutoGraded: true, IsCorrect: &correct, PointsAwarded: &points}
}

// firstMatches compares only the first student token with the first correct
// token; further student tokens are ignored.
func firstMatches(student, correct []string) bool {
	if len(student) == 0 || len(correct) == 0 {
		return false
	}
	return student[0] == correct[0]
}

// sameSet compares the sorted token lists. Repeated student tokens are kept,
// so "a,a,b" does not match {a, b}.
func sameSet(student, correct []string) bool {
	return slices.Equal(sorted(student), sorted(correct))
}

func sorted(tokens []string) []string {
	out := slices.Clone(tokens)
	slices.Sort(out)
	return out
}
