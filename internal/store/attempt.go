package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/examgrade/internal/model"
)

const attemptColumns = `id, examination_id, user_id, auto_graded_score, auto_graded_max_score,
	manual_graded_score, manual_graded_max_score, total_score, max_score, percentage, is_passed,
	status, time_spent_seconds, started_at, submitted_at, graded_at, answers_json`

const answerColumns = `id, attempt_id, question_id, answer_text, requires_manual, is_correct,
	points_awarded, graded_by, graded_at, feedback, grading_note`

// CreateAttempt stores an attempt with all its answers in one transaction.
// Empty ids are generated. A second attempt for the same examination and
// user fails with ErrDuplicateAttempt and leaves nothing behind.
func (s *Store) CreateAttempt(ctx context.Context, a *model.ExaminationAttempt, answers []model.AttemptAnswer) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	snapshot := string(a.AnswersSnapshot)
	if snapshot == "" {
		snapshot = "[]"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO examination_attempts (`+attemptColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		a.ID, a.ExaminationID, a.UserID, a.AutoGradedScore, a.AutoGradedMaxScore,
		a.ManualGradedScore, a.ManualGradedMaxScore, a.TotalScore, a.MaxScore, a.Percentage, a.IsPassed,
		a.Status, a.TimeSpentSeconds, a.StartedAt, a.SubmittedAt, a.GradedAt, snapshot,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateAttempt
		}
		return fmt.Errorf("insert attempt: %w", err)
	}

	for i := range answers {
		ans := &answers[i]
		if ans.ID == "" {
			ans.ID = uuid.NewString()
		}
		ans.AttemptID = a.ID
		_, err := tx.ExecContext(ctx,
			`INSERT INTO attempt_answers (`+answerColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			ans.ID, ans.AttemptID, ans.QuestionID, ans.AnswerText, ans.RequiresManual, ans.IsCorrect,
			ans.PointsAwarded, ans.GradedBy, ans.GradedAt, ans.Feedback, ans.GradingNote,
		)
		if err != nil {
			return fmt.Errorf("insert answer for question %s: %w", ans.QuestionID, err)
		}
	}

	return tx.Commit()
}

// GetAttempt returns an attempt by ID, or nil if not found.
func (s *Store) GetAttempt(ctx context.Context, id string) (*model.ExaminationAttempt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM examination_attempts WHERE id = $1`, id)
	return attemptOrNil(scanAttempt(row))
}

// FindAttempt returns the attempt of a user for an examination, or nil.
func (s *Store) FindAttempt(ctx context.Context, examinationID, userID string) (*model.ExaminationAttempt, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM examination_attempts WHERE examination_id = $1 AND user_id = $2`,
		examinationID, userID)
	return attemptOrNil(scanAttempt(row))
}

// ListAttempts returns attempts matching the filter, newest first.
// Empty filter fields mean no filtering on that field.
func (s *Store) ListAttempts(ctx context.Context, f model.AttemptFilter) ([]model.ExaminationAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM examination_attempts WHERE 1=1`
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		query += fmt.Sprintf(" AND %s = $%d", cond, len(args))
	}
	if f.ExaminationID != "" {
		add("examination_id", f.ExaminationID)
	}
	if f.UserID != "" {
		add("user_id", f.UserID)
	}
	if f.Status != "" {
		add("status", f.Status)
	}
	query += ` ORDER BY submitted_at DESC, id`
	if f.Limit > 0 {
		args = append(args, f.Limit, f.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var attempts []model.ExaminationAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// ListAnswers returns the answers of an attempt.
func (s *Store) ListAnswers(ctx context.Context, attemptID string) ([]model.AttemptAnswer, error) {
	return listAnswers(ctx, s.db, attemptID)
}

// PendingAnswers returns the manual answers of an attempt joined with their
// questions. Already graded rows are included when includeGraded is set.
func (s *Store) PendingAnswers(ctx context.Context, attemptID string, includeGraded bool) ([]model.PendingAnswer, error) {
	cond := " AND a.requires_manual = $2"
	args := []any{attemptID, true}
	if !includeGraded {
		cond += " AND a.points_awarded IS NULL"
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.id, a.attempt_id, a.question_id, a.answer_text, a.requires_manual, a.is_correct,
			a.points_awarded, a.graded_by, a.graded_at, a.feedback, a.grading_note,
			q.id, q.examination_id, q.type, q.text, q.points, q.order_index, q.correct_answer, q.options_json
		 FROM attempt_answers a
		 JOIN examination_attempts t ON t.id = a.attempt_id
		 JOIN examination_questions q ON q.id = a.question_id AND q.examination_id = t.examination_id
		 WHERE a.attempt_id = $1`+cond+`
		 ORDER BY q.order_index, q.id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var pending []model.PendingAnswer
	for rows.Next() {
		var p model.PendingAnswer
		var qs questionScan
		err := rows.Scan(append(answerDest(&p.Answer), qs.dest(&p.Question)...)...)
		if err != nil {
			return nil, err
		}
		if err := qs.finish(&p.Question); err != nil {
			return nil, err
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

// GradeUpdate is a batch of manual grades merged into one attempt.
type GradeUpdate struct {
	AttemptID string
	GraderID  string
	Grades    []model.ManualGrade
	GradedAt  time.Time
	// Recompute receives the locked attempt and all of its answers after the
	// grades are written and sets the attempt's derived totals.
	Recompute func(a *model.ExaminationAttempt, answers []model.AttemptAnswer) error
}

// ApplyGrades writes manual grades to the manual rows of an attempt and
// stores the recomputed totals, all in one transaction. Grades for
// questions without a manual row are ignored. It returns the updated
// attempt, or nil if the attempt does not exist.
func (s *Store) ApplyGrades(ctx context.Context, u GradeUpdate) (*model.ExaminationAttempt, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM examination_attempts WHERE id = $1`+s.forUpdate(), u.AttemptID)
	a, err := attemptOrNil(scanAttempt(row))
	if err != nil || a == nil {
		return nil, err
	}

	for _, g := range u.Grades {
		_, err := tx.ExecContext(ctx,
			`UPDATE attempt_answers
			 SET points_awarded = $1, feedback = $2, graded_by = $3, graded_at = $4
			 WHERE attempt_id = $5 AND question_id = $6 AND requires_manual = $7`,
			g.Score, g.Feedback, u.GraderID, u.GradedAt, u.AttemptID, g.QuestionID, true,
		)
		if err != nil {
			return nil, fmt.Errorf("update answer for question %s: %w", g.QuestionID, err)
		}
	}

	answers, err := listAnswers(ctx, tx, u.AttemptID)
	if err != nil {
		return nil, err
	}
	if u.Recompute != nil {
		if err := u.Recompute(a, answers); err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE examination_attempts
		 SET auto_graded_score = $1, manual_graded_score = $2, total_score = $3, max_score = $4,
			percentage = $5, is_passed = $6, status = $7, graded_at = $8
		 WHERE id = $9`,
		a.AutoGradedScore, a.ManualGradedScore, a.TotalScore, a.MaxScore,
		a.Percentage, a.IsPassed, a.Status, a.GradedAt, a.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update attempt totals: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return a, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listAnswers(ctx context.Context, q querier, attemptID string) ([]model.AttemptAnswer, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+answerColumns+` FROM attempt_answers WHERE attempt_id = $1 ORDER BY id`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var answers []model.AttemptAnswer
	for rows.Next() {
		var ans model.AttemptAnswer
		if err := rows.Scan(answerDest(&ans)...); err != nil {
			return nil, err
		}
		answers = append(answers, ans)
	}
	return answers, rows.Err()
}

func answerDest(a *model.AttemptAnswer) []any {
	return []any{&a.ID, &a.AttemptID, &a.QuestionID, &a.AnswerText, &a.RequiresManual, &a.IsCorrect,
		&a.PointsAwarded, &a.GradedBy, &a.GradedAt, &a.Feedback, &a.GradingNote}
}

// questionScan holds the nullable columns of a joined question row.
type questionScan struct {
	correct sql.NullString
	opts    string
}

func (qs *questionScan) dest(q *model.ExaminationQuestion) []any {
	return []any{&q.ID, &q.ExaminationID, &q.Type, &q.Text, &q.Points, &q.OrderIndex, &qs.correct, &qs.opts}
}

func (qs *questionScan) finish(q *model.ExaminationQuestion) error {
	return scanQuestionValues(q, qs.correct, qs.opts)
}

func scanAttempt(sc scanner) (model.ExaminationAttempt, error) {
	var a model.ExaminationAttempt
	var snapshot string
	err := sc.Scan(&a.ID, &a.ExaminationID, &a.UserID, &a.AutoGradedScore, &a.AutoGradedMaxScore,
		&a.ManualGradedScore, &a.ManualGradedMaxScore, &a.TotalScore, &a.MaxScore, &a.Percentage, &a.IsPassed,
		&a.Status, &a.TimeSpentSeconds, &a.StartedAt, &a.SubmittedAt, &a.GradedAt, &snapshot)
	if err != nil {
		return a, err
	}
	if s := strings.TrimSpace(snapshot); s != "" {
		a.AnswersSnapshot = []byte(s)
	}
	return a, nil
}

func attemptOrNil(a model.ExaminationAttempt, err error) (*model.ExaminationAttempt, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
