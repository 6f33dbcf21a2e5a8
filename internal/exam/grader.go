package exam

import (
	"context"
	"errors"
	"log/slog"

	"github.com/pavelanni/examgrade/internal/model"
)

// authorizeGrader allows admins everywhere and staff on their assigned subjects.
func (s *Service) authorizeGrader(ctx context.Context, subjectID, graderID string) error {
	u, err := s.repo.GetUserByID(ctx, graderID)
	if err != nil {
		return persistence("load grader", err)
	}
	if u == nil || !u.Active {
		return ErrNotGrader
	}
	switch u.Role {
	case model.UserRoleAdmin:
		return nil
	case model.UserRoleStaff:
		ok, err := s.repo.IsSubjectStaff(ctx, subjectID, u.ID)
		if err != nil {
			return persistence("check subject staff", err)
		}
		if ok {
			return nil
		}
	}
	slog.Warn("grading denied", "user_id", graderID, "subject_id", subjectID)
	return ErrNotGrader
}

// gradesExamination reports whether viewer grades the subject of an
// examination. Students and staff of other subjects get false.
func (s *Service) gradesExamination(ctx context.Context, examinationID string, viewer *model.User) (bool, error) {
	if !viewer.IsStaff() {
		return false, nil
	}
	exam, err := s.repo.GetExamination(ctx, examinationID)
	if err != nil {
		return false, persistence("load examination", err)
	}
	if exam == nil {
		return false, ErrExaminationNotFound
	}
	err = s.authorizeGrader(ctx, exam.SubjectID, viewer.ID)
	if errors.Is(err, ErrForbidden) {
		return false, nil
	}
	return err == nil, err
}

// attemptForGrader loads an attempt and its examination, checking that the
// grader may act on the examination's subject.
func (s *Service) attemptForGrader(ctx context.Context, attemptID, graderID string) (*model.ExaminationAttempt, *model.Examination, error) {
	attempt, err := s.repo.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, nil, persistence("load attempt", err)
	}
	if attempt == nil {
		return nil, nil, ErrAttemptNotFound
	}
	exam, err := s.repo.GetExamination(ctx, attempt.ExaminationID)
	if err != nil {
		return nil, nil, persistence("load examination", err)
	}
	if exam == nil {
		return nil, nil, ErrExaminationNotFound
	}
	if err := s.authorizeGrader(ctx, exam.SubjectID, graderID); err != nil {
		return nil, nil, err
	}
	return attempt, exam, nil
}

// PendingAnswers lists the manual answers of an attempt. Graded rows are
// included when includeGraded is set, so graders can revise them.
func (s *Service) PendingAnswers(ctx context.Context, attemptID, graderID string, includeGraded bool) ([]model.PendingAnswer, error) {
	if _, _, err := s.attemptForGrader(ctx, attemptID, graderID); err != nil {
		return nil, err
	}
	pending, err := s.repo.PendingAnswers(ctx, attemptID, includeGraded)
	if err != nil {
		return nil, persistence("load pending answers", err)
	}
	if pending == nil {
		pending = []model.PendingAnswer{}
	}
	return pending, nil
}

// ListAttempts lists an examination's attempts for a grader's dashboard.
func (s *Service) ListAttempts(ctx context.Context, graderID string, f model.AttemptFilter) ([]model.ExaminationAttempt, error) {
	exam, err := s.repo.GetExamination(ctx, f.ExaminationID)
	if err != nil {
		return nil, persistence("load examination", err)
	}
	if exam == nil {
		return nil, ErrExaminationNotFound
	}
	if err := s.authorizeGrader(ctx, exam.SubjectID, graderID); err != nil {
		return nil, err
	}
	attempts, err := s.repo.ListAttempts(ctx, f)
	if err != nil {
		return nil, persistence("list attempts", err)
	}
	if attempts == nil {
		attempts = []model.ExaminationAttempt{}
	}
	return attempts, nil
}

// ErrSuggestionsDisabled is returned when no suggester is configured.
var ErrSuggestionsDisabled = errors.New("score suggestions are not configured")

// SuggestScores asks the configured suggester for advisory scores on the
// ungraded manual answers of an attempt. Nothing is stored. A failure on one
// answer is logged and the answer is skipped.
func (s *Service) SuggestScores(ctx context.Context, attemptID, graderID string) ([]model.ScoreSuggestion, error) {
	if s.suggester == nil {
		return nil, ErrSuggestionsDisabled
	}
	pending, err := s.PendingAnswers(ctx, attemptID, graderID, false)
	if err != nil {
		return nil, err
	}
	out := make([]model.ScoreSuggestion, 0, len(pending))
	for _, p := range pending {
		sg, err := s.suggester.SuggestScore(ctx, p.Question, p.Answer.AnswerText)
		if err != nil {
			slog.Warn("score suggestion failed", "attempt_id", attemptID, "question_id", p.Question.ID, "error", err)
			continue
		}
		sg.QuestionID = p.Question.ID
		sg.MaxPoints = p.Question.Points
		sg.Score = min(max(sg.Score, 0), p.Question.Points)
		out = append(out, *sg)
	}
	return out, nil
}
