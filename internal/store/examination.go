package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/examgrade/internal/model"
)

// UpsertExamination stores an examination and replaces its question set.
// Once an examination has attempts its questions and total points are
// fixed. A save that changes them fails with ErrExaminationLocked; a save
// that keeps them updates only the examination's settings.
func (s *Store) UpsertExamination(ctx context.Context, e model.Examination) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	locked, err := s.checkLocked(ctx, tx, e)
	if err != nil {
		return err
	}

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO examinations (id, subject_id, title, total_points, passing_percentage, passing_score,
			duration_minutes, show_results, allow_review, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT(id) DO UPDATE SET
			subject_id = excluded.subject_id,
			title = excluded.title,
			total_points = excluded.total_points,
			passing_percentage = excluded.passing_percentage,
			passing_score = excluded.passing_score,
			duration_minutes = excluded.duration_minutes,
			show_results = excluded.show_results,
			allow_review = excluded.allow_review,
			is_active = excluded.is_active`,
		e.ID, e.SubjectID, e.Title, e.TotalPoints, e.PassingPercentage, e.PassingScore,
		e.DurationMinutes, e.ShowResults, e.AllowReview, e.IsActive, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert examination %s: %w", e.ID, err)
	}
	if locked {
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM examination_questions WHERE examination_id = $1`, e.ID); err != nil {
		return fmt.Errorf("clear questions of %s: %w", e.ID, err)
	}
	for i, q := range e.Questions {
		opts, err := json.Marshal(q.Options)
		if err != nil {
			return fmt.Errorf("encode options of %s: %w", q.ID, err)
		}
		if q.Options == nil {
			opts = []byte("[]")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO examination_questions (id, examination_id, type, text, points, order_index, correct_answer, options_json)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			q.ID, e.ID, q.Type, q.Text, q.Points, questionOrder(q, i), nullableJSON(q.CorrectAnswer), string(opts),
		)
		if err != nil {
			return fmt.Errorf("insert question %s: %w", q.ID, err)
		}
	}
	return tx.Commit()
}

// GetExamination returns an examination without questions, or nil if not found.
func (s *Store) GetExamination(ctx context.Context, id string) (*model.Examination, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, subject_id, title, total_points, passing_percentage, passing_score,
			duration_minutes, show_results, allow_review, is_active, created_at
		 FROM examinations WHERE id = $1`, id)
	e, err := scanExamination(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListExaminations returns all examinations ordered by creation time.
func (s *Store) ListExaminations(ctx context.Context) ([]model.Examination, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, subject_id, title, total_points, passing_percentage, passing_score,
			duration_minutes, show_results, allow_review, is_active, created_at
		 FROM examinations ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var exams []model.Examination
	for rows.Next() {
		e, err := scanExamination(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// checkLocked reports whether e already has attempts. It fails with
// ErrExaminationLocked when e would change the graded question set.
func (s *Store) checkLocked(ctx context.Context, tx *sql.Tx, e model.Examination) (bool, error) {
	var total float64
	err := tx.QueryRowContext(ctx,
		`SELECT total_points FROM examinations WHERE id = $1`+s.forUpdate(), e.ID).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load examination %s: %w", e.ID, err)
	}
	var attempts int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM examination_attempts WHERE examination_id = $1`, e.ID).Scan(&attempts)
	if err != nil {
		return false, fmt.Errorf("count attempts of %s: %w", e.ID, err)
	}
	if attempts == 0 {
		return false, nil
	}
	current, err := listQuestions(ctx, tx, e.ID)
	if err != nil {
		return false, err
	}
	if total != e.TotalPoints || !sameQuestions(current, e.Questions) {
		return false, ErrExaminationLocked
	}
	return true, nil
}

// sameQuestions reports whether storing next would leave current unchanged.
func sameQuestions(current, next []model.ExaminationQuestion) bool {
	if len(current) != len(next) {
		return false
	}
	byID := make(map[string]model.ExaminationQuestion, len(current))
	for _, q := range current {
		byID[q.ID] = q
	}
	for i, q := range next {
		c, ok := byID[q.ID]
		if !ok || c.Type != q.Type || c.Text != q.Text || c.Points != q.Points || c.OrderIndex != questionOrder(q, i) {
			return false
		}
		if compactJSON(c.CorrectAnswer) != compactJSON(q.CorrectAnswer) || optionsJSON(c.Options) != optionsJSON(q.Options) {
			return false
		}
	}
	return true
}

// questionOrder numbers questions without an explicit order by position.
func questionOrder(q model.ExaminationQuestion, i int) int {
	if q.OrderIndex == 0 {
		return i + 1
	}
	return q.OrderIndex
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func optionsJSON(opts []model.Option) string {
	if len(opts) == 0 {
		return "[]"
	}
	b, err := json.Marshal(opts)
	if err != nil {
		return ""
	}
	return string(b)
}

// ListQuestions returns an examination's questions in display order.
func (s *Store) ListQuestions(ctx context.Context, examinationID string) ([]model.ExaminationQuestion, error) {
	return listQuestions(ctx, s.db, examinationID)
}

func listQuestions(ctx context.Context, db querier, examinationID string) ([]model.ExaminationQuestion, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, examination_id, type, text, points, order_index, correct_answer, options_json
		 FROM examination_questions WHERE examination_id = $1 ORDER BY order_index, id`, examinationID)
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

// ExaminationCount returns the number of stored examinations.
func (s *Store) ExaminationCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM examinations`).Scan(&count)
	return count, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExamination(sc scanner) (model.Examination, error) {
	var e model.Examination
	var pct, score sql.NullFloat64
	err := sc.Scan(&e.ID, &e.SubjectID, &e.Title, &e.TotalPoints, &pct, &score,
		&e.DurationMinutes, &e.ShowResults, &e.AllowReview, &e.IsActive, &e.CreatedAt)
	if err != nil {
		return e, err
	}
	if pct.Valid {
		e.PassingPercentage = &pct.Float64
	}
	if score.Valid {
		e.PassingScore = &score.Float64
	}
	return e, nil
}

func scanQuestion(sc scanner) (model.ExaminationQuestion, error) {
	var q model.ExaminationQuestion
	var correct sql.NullString
	var opts string
	if err := sc.Scan(&q.ID, &q.ExaminationID, &q.Type, &q.Text, &q.Points, &q.OrderIndex, &correct, &opts); err != nil {
		return q, err
	}
	return q, scanQuestionValues(&q, correct, opts)
}

func scanQuestionValues(q *model.ExaminationQuestion, correct sql.NullString, opts string) error {
	if correct.Valid {
		q.CorrectAnswer = json.RawMessage(correct.String)
	}
	if opts != "" {
		if err := json.Unmarshal([]byte(opts), &q.Options); err != nil {
			return fmt.Errorf("decode options of %s: %w", q.ID, err)
		}
	}
	return nil
}

// nullableJSON keeps an absent correct answer as SQL NULL so it stays
// distinguishable from an authored empty string.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
