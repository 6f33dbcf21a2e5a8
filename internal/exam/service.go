package exam

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/examgrade/internal/grading"
	"github.com/pavelanni/examgrade/internal/model"
	"github.com/pavelanni/examgrade/internal/store"
)

// Repository is the persistence the service needs. *store.Store implements it.
type Repository interface {
	GetExamination(ctx context.Context, id string) (*model.Examination, error)
	UpsertExamination(ctx context.Context, e model.Examination) error
	ListQuestions(ctx context.Context, examinationID string) ([]model.ExaminationQuestion, error)
	FindAttempt(ctx context.Context, examinationID, userID string) (*model.ExaminationAttempt, error)
	GetAttempt(ctx context.Context, id string) (*model.ExaminationAttempt, error)
	ListAttempts(ctx context.Context, f model.AttemptFilter) ([]model.ExaminationAttempt, error)
	ListAnswers(ctx context.Context, attemptID string) ([]model.AttemptAnswer, error)
	PendingAnswers(ctx context.Context, attemptID string, includeGraded bool) ([]model.PendingAnswer, error)
	CreateAttempt(ctx context.Context, a *model.ExaminationAttempt, answers []model.AttemptAnswer) error
	ApplyGrades(ctx context.Context, u store.GradeUpdate) (*model.ExaminationAttempt, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	IsSubjectStaff(ctx context.Context, subjectID, userID string) (bool, error)
}

// Suggester proposes scores for subjective answers.
type Suggester interface {
	SuggestScore(ctx context.Context, q model.ExaminationQuestion, answer string) (*model.ScoreSuggestion, error)
}

// Config holds service-level grading settings.
type Config struct {
	// DefaultPassingPercentage applies when an examination has no threshold.
	DefaultPassingPercentage float64
}

// Service submits, grades and projects examination attempts.
type Service struct {
	repo      Repository
	suggester Suggester
	validate  *validator.Validate
	cfg       Config
	now       func() time.Time
}

// NewService creates a service. suggester may be nil.
func NewService(repo Repository, suggester Suggester, cfg Config) *Service {
	return &Service{
		repo:      repo,
		suggester: suggester,
		validate:  newValidator(),
		cfg:       cfg,
		now:       time.Now,
	}
}

// SubmitAttempt grades a student's answers and stores the attempt.
// Every question of the examination gets an answer row; questions without a
// submitted answer are graded against the empty answer. Answers for unknown
// questions are dropped and, for repeated question ids, the last one wins.
func (s *Service) SubmitAttempt(ctx context.Context, req model.SubmitAttemptRequest) (*model.SubmitAttemptResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}

	exam, err := s.repo.GetExamination(ctx, req.ExaminationID)
	if err != nil {
		return nil, persistence("load examination", err)
	}
	if exam == nil || !exam.IsActive {
		return nil, ErrExaminationNotFound
	}

	prior, err := s.repo.FindAttempt(ctx, req.ExaminationID, req.UserID)
	if err != nil {
		return nil, persistence("check prior attempt", err)
	}
	if prior != nil {
		return nil, ErrAlreadyAttempted
	}

	questions, err := s.repo.ListQuestions(ctx, exam.ID)
	if err != nil {
		return nil, persistence("load questions", err)
	}

	submitted := latestAnswers(req.Answers, questions)
	graded := make([]grading.Graded, 0, len(questions))
	for _, it := range grading.PrepareAll(questions) {
		answer := submitted[it.Question.ID]
		outcome := grading.Grade(it, answer)
		if outcome.Note == grading.NoteUndeterminableKey {
			slog.Warn("correct answer cannot be determined, routing to manual grading",
				"examination_id", exam.ID, "question_id", it.Question.ID, "type", it.Question.Type)
		}
		graded = append(graded, grading.Graded{Item: it, Answer: answer, Outcome: outcome})
	}
	tally := grading.Fold(graded)

	submittedAt := s.now().UTC()
	percentage := grading.Percentage(tally.AutoScore, exam.TotalPoints)
	attempt := &model.ExaminationAttempt{
		ExaminationID:        exam.ID,
		UserID:               req.UserID,
		AutoGradedScore:      tally.AutoScore,
		AutoGradedMaxScore:   tally.AutoMax,
		ManualGradedMaxScore: tally.ManualMax,
		TotalScore:           tally.AutoScore,
		MaxScore:             exam.TotalPoints,
		Percentage:           percentage,
		IsPassed:             grading.Passed(tally.AutoScore, exam.TotalPoints, grading.PassingThreshold(*exam, s.cfg.DefaultPassingPercentage)),
		Status:               tally.Status(),
		TimeSpentSeconds:     req.TimeSpentSeconds,
		StartedAt:            submittedAt.Add(-time.Duration(req.TimeSpentSeconds) * time.Second),
		SubmittedAt:          submittedAt,
	}
	if attempt.Status == model.StatusCompleted {
		attempt.GradedAt = &submittedAt
	}
	if attempt.AnswersSnapshot, err = snapshot(graded); err != nil {
		return nil, persistence("encode answers snapshot", err)
	}

	if err := s.repo.CreateAttempt(ctx, attempt, answerRows(graded)); err != nil {
		if errors.Is(err, store.ErrDuplicateAttempt) {
			return nil, ErrAlreadyAttempted
		}
		slog.Error("failed to store attempt", "examination_id", exam.ID, "user_id", req.UserID, "error", err)
		return nil, persistence("store attempt", err)
	}

	slog.Info("attempt submitted",
		"attempt_id", attempt.ID,
		"examination_id", exam.ID,
		"user_id", req.UserID,
		"total_score", attempt.TotalScore,
		"status", attempt.Status,
	)
	return &model.SubmitAttemptResult{
		AttemptID:                  attempt.ID,
		TotalScore:                 attempt.TotalScore,
		MaxScore:                   attempt.MaxScore,
		Percentage:                 attempt.Percentage,
		IsPassed:                   attempt.IsPassed,
		Status:                     attempt.Status,
		AutoGradedQuestionCount:    tally.AutoCount,
		ManualGradingRequiredCount: tally.ManualCount,
	}, nil
}

// SubmitAttemptAs is SubmitAttempt on behalf of actor. Submitting for another
// user requires grading the examination's subject.
func (s *Service) SubmitAttemptAs(ctx context.Context, actor *model.User, req model.SubmitAttemptRequest) (*model.SubmitAttemptResult, error) {
	if actor == nil {
		return nil, ErrForbidden
	}
	if req.UserID != actor.ID {
		ok, err := s.gradesExamination(ctx, req.ExaminationID, actor)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNotGrader
		}
	}
	return s.SubmitAttempt(ctx, req)
}

// ApplyManualGrades merges a grader's scores into an attempt's manual answer
// rows and recomputes the attempt totals from all rows.
func (s *Service) ApplyManualGrades(ctx context.Context, req model.ApplyGradesRequest) (*model.GradeResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}

	_, exam, err := s.attemptForGrader(ctx, req.AttemptID, req.GraderID)
	if err != nil {
		return nil, err
	}

	questions, err := s.repo.ListQuestions(ctx, exam.ID)
	if err != nil {
		return nil, persistence("load questions", err)
	}
	points := make(map[string]float64, len(questions))
	for _, q := range questions {
		points[q.ID] = q.Points
	}
	for i, g := range req.Grades {
		field := "grades[" + strconv.Itoa(i) + "]"
		limit, ok := points[g.QuestionID]
		if !ok {
			return nil, &ValidationError{
				Field:   field + ".questionId",
				Message: "question " + g.QuestionID + " is not part of examination " + exam.ID,
			}
		}
		if g.Score > limit {
			return nil, &ValidationError{
				Field:   field + ".score",
				Message: "exceeds question points " + strconv.FormatFloat(limit, 'f', -1, 64),
			}
		}
	}

	gradedAt := s.now().UTC()
	threshold := grading.PassingThreshold(*exam, s.cfg.DefaultPassingPercentage)
	updated, err := s.repo.ApplyGrades(ctx, store.GradeUpdate{
		AttemptID: req.AttemptID,
		GraderID:  req.GraderID,
		Grades:    req.Grades,
		GradedAt:  gradedAt,
		Recompute: func(a *model.ExaminationAttempt, answers []model.AttemptAnswer) error {
			recompute(a, answers, threshold)
			a.Status = model.StatusCompleted
			a.GradedAt = &gradedAt
			return nil
		},
	})
	if err != nil {
		slog.Error("failed to apply grades", "attempt_id", req.AttemptID, "error", err)
		return nil, persistence("apply grades", err)
	}
	if updated == nil {
		return nil, ErrAttemptNotFound
	}

	slog.Info("manual grades applied",
		"attempt_id", updated.ID,
		"grader_id", req.GraderID,
		"grades", len(req.Grades),
		"total_score", updated.TotalScore,
	)
	return &model.GradeResult{
		AttemptID:  updated.ID,
		TotalScore: updated.TotalScore,
		MaxScore:   updated.MaxScore,
		Percentage: updated.Percentage,
		IsPassed:   updated.IsPassed,
		Status:     updated.Status,
	}, nil
}

// recompute derives an attempt's scores from scratch over all answer rows.
func recompute(a *model.ExaminationAttempt, answers []model.AttemptAnswer, threshold float64) {
	var auto, manual float64
	for _, ans := range answers {
		if ans.PointsAwarded == nil {
			continue
		}
		if ans.RequiresManual {
			manual += *ans.PointsAwarded
		} else {
			auto += *ans.PointsAwarded
		}
	}
	a.AutoGradedScore = auto
	a.ManualGradedScore = manual
	a.TotalScore = auto + manual
	a.Percentage = grading.Percentage(a.TotalScore, a.MaxScore)
	a.IsPassed = grading.Passed(a.TotalScore, a.MaxScore, threshold)
}

// GetResultsForReview returns the result of a user's attempt, or nil if there
// is none. Staff see every answer with its correct answer. Students get an
// empty answer list when the examination neither shows results nor allows
// review, and correct answers only when review is allowed.
func (s *Service) GetResultsForReview(ctx context.Context, examinationID, userID string, staff bool) (*model.ReviewResult, error) {
	exam, err := s.repo.GetExamination(ctx, examinationID)
	if err != nil {
		return nil, persistence("load examination", err)
	}
	if exam == nil {
		return nil, ErrExaminationNotFound
	}
	attempt, err := s.repo.FindAttempt(ctx, examinationID, userID)
	if err != nil {
		return nil, persistence("load attempt", err)
	}
	if attempt == nil {
		return nil, nil
	}

	result := &model.ReviewResult{
		AttemptID:         attempt.ID,
		ExaminationID:     attempt.ExaminationID,
		UserID:            attempt.UserID,
		Status:            attempt.Status,
		TotalScore:        attempt.TotalScore,
		MaxScore:          attempt.MaxScore,
		Percentage:        attempt.Percentage,
		IsPassed:          attempt.IsPassed,
		AutoGradedScore:   attempt.AutoGradedScore,
		ManualGradedScore: attempt.ManualGradedScore,
		TimeSpentSeconds:  attempt.TimeSpentSeconds,
		SubmittedAt:       attempt.SubmittedAt,
		Answers:           []model.ReviewAnswer{},
	}
	if !staff && !exam.ShowResults && !exam.AllowReview {
		return result, nil
	}

	questions, err := s.repo.ListQuestions(ctx, examinationID)
	if err != nil {
		return nil, persistence("load questions", err)
	}
	answers, err := s.repo.ListAnswers(ctx, attempt.ID)
	if err != nil {
		return nil, persistence("load answers", err)
	}
	byQuestion := make(map[string]model.AttemptAnswer, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a
	}

	revealKey := staff || exam.AllowReview
	for _, q := range questions {
		ans, ok := byQuestion[q.ID]
		if !ok {
			continue
		}
		ra := model.ReviewAnswer{
			QuestionID:    q.ID,
			QuestionText:  q.Text,
			QuestionType:  q.Type,
			StudentAnswer: ans.AnswerText,
			IsCorrect:     ans.IsCorrect,
			PointsAwarded: ans.PointsAwarded,
			MaxPoints:     q.Points,
			Feedback:      ans.Feedback,
		}
		if revealKey {
			display := grading.DisplayCorrectAnswer(q.CorrectAnswer, q.Options)
			ra.CorrectAnswer = &display
		}
		result.Answers = append(result.Answers, ra)
	}
	return result, nil
}

// ReviewResults returns a student's result as viewer may see it. Viewers who
// grade the examination's subject get the unredacted view of any student.
// Everyone else may only see their own redacted result.
func (s *Service) ReviewResults(ctx context.Context, examinationID, studentID string, viewer *model.User) (*model.ReviewResult, error) {
	if viewer == nil {
		return nil, ErrForbidden
	}
	staff, err := s.gradesExamination(ctx, examinationID, viewer)
	if err != nil {
		return nil, err
	}
	if !staff && studentID != viewer.ID {
		return nil, ErrNotGrader
	}
	return s.GetResultsForReview(ctx, examinationID, studentID, staff)
}

// latestAnswers indexes submitted answers by question, keeping only
// questions of the examination.
func latestAnswers(answers []model.SubmittedAnswer, questions []model.ExaminationQuestion) map[string]string {
	known := make(map[string]struct{}, len(questions))
	for _, q := range questions {
		known[q.ID] = struct{}{}
	}
	out := make(map[string]string, len(answers))
	for _, a := range answers {
		if _, ok := known[a.QuestionID]; !ok {
			slog.Debug("dropping answer for unknown question", "question_id", a.QuestionID)
			continue
		}
		out[a.QuestionID] = a.Answer
	}
	return out
}

func answerRows(graded []grading.Graded) []model.AttemptAnswer {
	rows := make([]model.AttemptAnswer, 0, len(graded))
	for _, g := range graded {
		rows = append(rows, model.AttemptAnswer{
			QuestionID:     g.Item.Question.ID,
			AnswerText:     g.Answer,
			RequiresManual: !g.Outcome.AutoGraded,
			IsCorrect:      g.Outcome.IsCorrect,
			PointsAwarded:  g.Outcome.PointsAwarded,
			GradingNote:    g.Outcome.Note,
		})
	}
	return rows
}

func snapshot(graded []grading.Graded) (json.RawMessage, error) {
	entries := make([]model.SubmittedAnswer, 0, len(graded))
	for _, g := range graded {
		entries = append(entries, model.SubmittedAnswer{QuestionID: g.Item.Question.ID, Answer: g.Answer})
	}
	return json.Marshal(entries)
}
