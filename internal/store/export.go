package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pavelanni/examgrade/internal/model"
)

// ExportExamination builds export-ready results for every attempt of an
// examination. It returns nil if the examination does not exist.
func (s *Store) ExportExamination(ctx context.Context, examinationID string) (*model.ExaminationExport, error) {
	exam, err := s.GetExamination(ctx, examinationID)
	if err != nil {
		return nil, fmt.Errorf("get examination: %w", err)
	}
	if exam == nil {
		return nil, nil
	}
	questions, err := s.ListQuestions(ctx, examinationID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	attempts, err := s.ListAttempts(ctx, model.AttemptFilter{ExaminationID: examinationID})
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}

	export := &model.ExaminationExport{
		ExaminationID: exam.ID,
		Title:         exam.Title,
		SubjectID:     exam.SubjectID,
		TotalPoints:   exam.TotalPoints,
		ExportedAt:    time.Now().UTC(),
		Results:       []model.StudentResult{},
	}

	for _, a := range attempts {
		answers, err := s.ListAnswers(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("list answers of %s: %w", a.ID, err)
		}
		byQuestion := make(map[string]model.AttemptAnswer, len(answers))
		for _, ans := range answers {
			byQuestion[ans.QuestionID] = ans
		}

		user, err := s.GetUserByID(ctx, a.UserID)
		if err != nil {
			return nil, fmt.Errorf("get user %s: %w", a.UserID, err)
		}
		var username, displayName string
		if user != nil {
			username = user.Username
			displayName = user.DisplayName
		}

		qrs := make([]model.QuestionResult, 0, len(questions))
		for _, q := range questions {
			qr := model.QuestionResult{
				QuestionID: q.ID,
				Text:       q.Text,
				Type:       q.Type,
				MaxPoints:  q.Points,
			}
			if ans, ok := byQuestion[q.ID]; ok {
				qr.Answer = ans.AnswerText
				qr.IsCorrect = ans.IsCorrect
				qr.PointsAwarded = ans.PointsAwarded
				qr.Feedback = ans.Feedback
			}
			qrs = append(qrs, qr)
		}

		export.Results = append(export.Results, model.StudentResult{
			AttemptID:         a.ID,
			UserID:            a.UserID,
			Username:          username,
			DisplayName:       displayName,
			Status:            a.Status,
			TotalScore:        a.TotalScore,
			MaxScore:          a.MaxScore,
			Percentage:        a.Percentage,
			IsPassed:          a.IsPassed,
			AutoGradedScore:   a.AutoGradedScore,
			ManualGradedScore: a.ManualGradedScore,
			TimeSpentSeconds:  a.TimeSpentSeconds,
			SubmittedAt:       a.SubmittedAt,
			Questions:         qrs,
		})
	}

	return export, nil
}

// AllQuestions returns every stored question across examinations, for
// content audits.
func (s *Store) AllQuestions(ctx context.Context) ([]model.ExaminationQuestion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, examination_id, type, text, points, order_index, correct_answer, options_json
		 FROM examination_questions ORDER BY examination_id, order_index, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.ExaminationQuestion
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}
