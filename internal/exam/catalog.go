package exam

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/pavelanni/examgrade/internal/grading"
	"github.com/pavelanni/examgrade/internal/model"
	"github.com/pavelanni/examgrade/internal/store"
)

var knownTypes = map[model.QuestionType]bool{
	model.QuestionSingleChoice:   true,
	model.QuestionMultipleChoice: true,
	model.QuestionTrueFalse:      true,
	model.QuestionSubjective:     true,
	model.QuestionShortAnswer:    true,
}

// SaveExamination validates and stores an examination with its questions.
// Correct answers are stored as authored. Auto-gradable questions whose
// correct answer cannot be determined are accepted and logged; they will be
// graded manually. Once the examination has attempts its questions and total
// points cannot change and such a save fails with ErrExaminationLocked.
func (s *Service) SaveExamination(ctx context.Context, e model.Examination) error {
	if err := s.checkExamination(e); err != nil {
		return err
	}
	return s.storeExamination(ctx, e)
}

// SaveExaminationAs is SaveExamination on behalf of an editor, who must grade
// the examination's subject. Moving an examination to another subject also
// requires grading its current subject.
func (s *Service) SaveExaminationAs(ctx context.Context, editorID string, e model.Examination) error {
	if err := s.checkExamination(e); err != nil {
		return err
	}
	if err := s.authorizeGrader(ctx, e.SubjectID, editorID); err != nil {
		return err
	}
	existing, err := s.repo.GetExamination(ctx, e.ID)
	if err != nil {
		return persistence("load examination", err)
	}
	if existing != nil && existing.SubjectID != e.SubjectID {
		if err := s.authorizeGrader(ctx, existing.SubjectID, editorID); err != nil {
			return err
		}
	}
	return s.storeExamination(ctx, e)
}

func (s *Service) checkExamination(e model.Examination) error {
	if err := s.validate.Struct(e); err != nil {
		return validationError(err)
	}
	seen := make(map[string]bool, len(e.Questions))
	for i, q := range e.Questions {
		field := "questions[" + strconv.Itoa(i) + "]"
		if seen[q.ID] {
			return &ValidationError{Field: field + ".id", Message: "duplicate question id " + q.ID}
		}
		seen[q.ID] = true
		if !knownTypes[q.Type] {
			slog.Warn("unknown question type, answers will be graded manually",
				"examination_id", e.ID, "question_id", q.ID, "type", q.Type)
		}
		it := grading.Prepare(q)
		if grading.IsAutoGradable(q.Type) && !it.Key.Determinable() {
			slog.Warn("auto-gradable question has no determinable correct answer",
				"examination_id", e.ID, "question_id", q.ID)
		}
	}
	return nil
}

func (s *Service) storeExamination(ctx context.Context, e model.Examination) error {
	if err := s.repo.UpsertExamination(ctx, e); err != nil {
		if errors.Is(err, store.ErrExaminationLocked) {
			slog.Warn("refused to change questions of attempted examination", "examination_id", e.ID)
			return ErrExaminationLocked
		}
		return persistence("save examination", err)
	}
	slog.Info("saved examination", "examination_id", e.ID, "questions", len(e.Questions))
	return nil
}

// GetExamination returns an examination with its questions. Correct answers
// and option correctness flags are stripped unless reveal is set.
func (s *Service) GetExamination(ctx context.Context, id string, reveal bool) (*model.Examination, error) {
	exam, err := s.repo.GetExamination(ctx, id)
	if err != nil {
		return nil, persistence("load examination", err)
	}
	if exam == nil || (!reveal && !exam.IsActive) {
		return nil, ErrExaminationNotFound
	}
	questions, err := s.repo.ListQuestions(ctx, id)
	if err != nil {
		return nil, persistence("load questions", err)
	}
	if !reveal {
		for i := range questions {
			questions[i].CorrectAnswer = nil
			for j := range questions[i].Options {
				questions[i].Options[j].IsCorrect = false
			}
		}
	}
	exam.Questions = questions
	return exam, nil
}

// ExaminationFor returns an examination as viewer may see it. Correct answers
// are revealed only to users who grade the examination's subject.
func (s *Service) ExaminationFor(ctx context.Context, id string, viewer *model.User) (*model.Examination, error) {
	reveal, err := s.gradesExamination(ctx, id, viewer)
	if err != nil {
		return nil, err
	}
	return s.GetExamination(ctx, id, reveal)
}
