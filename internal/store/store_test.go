package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pavelanni/examgrade/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr[T any](v T) *T { return &v }

func insertTestExamination(t *testing.T, s *Store, id string) model.Examination {
	t.Helper()
	e := model.Examination{
		ID:                id,
		SubjectID:         "physics",
		Title:             "Midterm " + id,
		TotalPoints:       15,
		PassingPercentage: ptr(60.0),
		ShowResults:       true,
		AllowReview:       true,
		IsActive:          true,
		Questions: []model.ExaminationQuestion{
			{ID: id + "-q1", Type: model.QuestionSingleChoice, Text: "Capital of France?", Points: 2,
				CorrectAnswer: json.RawMessage(`"Paris"`)},
			{ID: id + "-q2", Type: model.QuestionMultipleChoice, Text: "Noble gases?", Points: 3,
				Options: []model.Option{{ID: "a", Text: "Helium", IsCorrect: true}, {ID: "b", Text: "Oxygen"}, {ID: "c", Text: "Neon", IsCorrect: true}}},
			{ID: id + "-q3", Type: model.QuestionSubjective, Text: "Explain inertia.", Points: 10},
		},
	}
	if err := s.UpsertExamination(context.Background(), e); err != nil {
		t.Fatalf("insertTestExamination: %v", err)
	}
	return e
}

func testAttempt(examID, userID string) (*model.ExaminationAttempt, []model.AttemptAnswer) {
	now := time.Now().UTC().Truncate(time.Second)
	a := &model.ExaminationAttempt{
		ExaminationID:        examID,
		UserID:               userID,
		AutoGradedScore:      2,
		AutoGradedMaxScore:   5,
		ManualGradedMaxScore: 10,
		TotalScore:           2,
		MaxScore:             15,
		Percentage:           13.33,
		Status:               model.StatusAutoGraded,
		TimeSpentSeconds:     600,
		StartedAt:            now.Add(-10 * time.Minute),
		SubmittedAt:          now,
	}
	answers := []model.AttemptAnswer{
		{QuestionID: examID + "-q1", AnswerText: "paris", IsCorrect: ptr(true), PointsAwarded: ptr(2.0)},
		{QuestionID: examID + "-q2", AnswerText: "helium", IsCorrect: ptr(false), PointsAwarded: ptr(0.0)},
		{QuestionID: examID + "-q3", AnswerText: "Objects keep moving.", RequiresManual: true},
	}
	return a, answers
}

func TestParseDriver(t *testing.T) {
	tests := []struct {
		in      string
		want    Driver
		wantErr bool
	}{
		{"", DriverSQLite, false},
		{"sqlite", DriverSQLite, false},
		{"SQLite3", DriverSQLite, false},
		{"postgres", DriverPostgres, false},
		{"pgx", DriverPostgres, false},
		{"mysql", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDriver(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDriver(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDriver(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExaminationCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	count, err := s.ExaminationCount(ctx)
	if err != nil {
		t.Fatalf("ExaminationCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 examinations, got %d", count)
	}

	insertTestExamination(t, s, "e1")

	got, err := s.GetExamination(ctx, "e1")
	if err != nil {
		t.Fatalf("GetExamination: %v", err)
	}
	if got == nil {
		t.Fatal("expected examination, got nil")
	}
	if got.Title != "Midterm e1" || got.SubjectID != "physics" {
		t.Errorf("unexpected examination %+v", got)
	}
	if got.PassingPercentage == nil || *got.PassingPercentage != 60 {
		t.Errorf("expected passing percentage 60, got %v", got.PassingPercentage)
	}
	if got.PassingScore != nil {
		t.Errorf("expected nil passing score, got %v", *got.PassingScore)
	}
	if !got.IsActive || !got.ShowResults || !got.AllowReview {
		t.Errorf("flags not persisted: %+v", got)
	}

	// Not found.
	missing, err := s.GetExamination(ctx, "nope")
	if err != nil {
		t.Fatalf("GetExamination missing: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing examination")
	}

	qs, err := s.ListQuestions(ctx, "e1")
	if err != nil {
		t.Fatalf("ListQuestions: %v", err)
	}
	if len(qs) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(qs))
	}
	for i, q := range qs {
		if q.OrderIndex != i+1 {
			t.Errorf("question %s order = %d, want %d", q.ID, q.OrderIndex, i+1)
		}
	}
	if string(qs[0].CorrectAnswer) != `"Paris"` {
		t.Errorf("correct answer not stored verbatim: %s", qs[0].CorrectAnswer)
	}
	if qs[1].CorrectAnswer != nil {
		t.Errorf("absent correct answer should stay absent, got %s", qs[1].CorrectAnswer)
	}
	if len(qs[1].Options) != 3 || !qs[1].Options[2].IsCorrect {
		t.Errorf("options not round-tripped: %+v", qs[1].Options)
	}

	// Upsert replaces the question set.
	e := insertTestExamination(t, s, "e1")
	e.Title = "Final"
	e.Questions = e.Questions[:1]
	if err := s.UpsertExamination(ctx, e); err != nil {
		t.Fatalf("UpsertExamination: %v", err)
	}
	got, _ = s.GetExamination(ctx, "e1")
	if got.Title != "Final" {
		t.Errorf("expected updated title, got %q", got.Title)
	}
	qs, _ = s.ListQuestions(ctx, "e1")
	if len(qs) != 1 {
		t.Errorf("expected 1 question after upsert, got %d", len(qs))
	}

	exams, err := s.ListExaminations(ctx)
	if err != nil {
		t.Fatalf("ListExaminations: %v", err)
	}
	if len(exams) != 1 {
		t.Errorf("expected 1 examination, got %d", len(exams))
	}
}

func TestQuestionIDsPerExamination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"e1", "e2"} {
		e := model.Examination{
			ID: id, SubjectID: "physics", Title: id, TotalPoints: 1,
			Questions: []model.ExaminationQuestion{
				{ID: "q1", Type: model.QuestionTrueFalse, Text: "Shared id in " + id, Points: 1, CorrectAnswer: json.RawMessage(`true`)},
			},
		}
		if err := s.UpsertExamination(ctx, e); err != nil {
			t.Fatalf("UpsertExamination(%s): %v", id, err)
		}
	}

	for _, id := range []string{"e1", "e2"} {
		qs, err := s.ListQuestions(ctx, id)
		if err != nil {
			t.Fatalf("ListQuestions(%s): %v", id, err)
		}
		if len(qs) != 1 || qs[0].Text != "Shared id in "+id {
			t.Errorf("questions of %s = %+v", id, qs)
		}
	}
	all, err := s.AllQuestions(ctx)
	if err != nil {
		t.Fatalf("AllQuestions: %v", err)
	}
	if len(all) != 2 || all[0].ExaminationID != "e1" || all[1].ExaminationID != "e2" {
		t.Errorf("AllQuestions = %+v", all)
	}
}

func TestUpsertExaminationLockedByAttempts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e := insertTestExamination(t, s, "e1")
	a, answers := testAttempt("e1", "u1")
	if err := s.CreateAttempt(ctx, a, answers); err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}

	dropped := e
	dropped.Questions = e.Questions[:1]
	if err := s.UpsertExamination(ctx, dropped); !errors.Is(err, ErrExaminationLocked) {
		t.Errorf("dropping a question: err = %v, want ErrExaminationLocked", err)
	}

	repriced := e
	repriced.Questions = append([]model.ExaminationQuestion{}, e.Questions...)
	repriced.Questions[2].Points = 20
	if err := s.UpsertExamination(ctx, repriced); !errors.Is(err, ErrExaminationLocked) {
		t.Errorf("changing points: err = %v, want ErrExaminationLocked", err)
	}

	// Same questions, reformatted key and new settings.
	same := e
	same.Title = "Renamed"
	same.Questions = append([]model.ExaminationQuestion{}, e.Questions...)
	same.Questions[0].CorrectAnswer = json.RawMessage(` "Paris" `)
	if err := s.UpsertExamination(ctx, same); err != nil {
		t.Fatalf("UpsertExamination with unchanged questions: %v", err)
	}
	got, _ := s.GetExamination(ctx, "e1")
	if got.Title != "Renamed" {
		t.Errorf("title = %q, want Renamed", got.Title)
	}
	qs, _ := s.ListQuestions(ctx, "e1")
	if len(qs) != 3 {
		t.Errorf("expected 3 questions, got %d", len(qs))
	}
	stored, err := s.ListAnswers(ctx, a.ID)
	if err != nil || len(stored) != 3 {
		t.Errorf("ListAnswers = %d rows, %v; want 3", len(stored), err)
	}
}

func TestCreateAttempt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertTestExamination(t, s, "e1")

	a, answers := testAttempt("e1", "u1")
	if err := s.CreateAttempt(ctx, a, answers); err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}
	if a.ID == "" {
		t.Fatal("expected generated attempt ID")
	}

	got, err := s.GetAttempt(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if got == nil {
		t.Fatal("expected attempt, got nil")
	}
	if got.Status != model.StatusAutoGraded || got.MaxScore != 15 || got.ManualGradedMaxScore != 10 {
		t.Errorf("unexpected attempt %+v", got)
	}
	if got.GradedAt != nil {
		t.Errorf("expected nil graded_at")
	}
	if !got.StartedAt.Equal(a.StartedAt) {
		t.Errorf("started_at = %v, want %v", got.StartedAt, a.StartedAt)
	}

	found, err := s.FindAttempt(ctx, "e1", "u1")
	if err != nil {
		t.Fatalf("FindAttempt: %v", err)
	}
	if found == nil || found.ID != a.ID {
		t.Errorf("FindAttempt returned %+v", found)
	}
	none, err := s.FindAttempt(ctx, "e1", "u2")
	if err != nil || none != nil {
		t.Errorf("expected no attempt for u2, got %+v, %v", none, err)
	}

	stored, err := s.ListAnswers(ctx, a.ID)
	if err != nil {
		t.Fatalf("ListAnswers: %v", err)
	}
	if len(stored) != 3 {
		t.Fatalf("expected 3 answers, got %d", len(stored))
	}
	for _, ans := range stored {
		switch ans.QuestionID {
		case "e1-q1":
			if ans.IsCorrect == nil || !*ans.IsCorrect || ans.PointsAwarded == nil || *ans.PointsAwarded != 2 {
				t.Errorf("q1 grading not stored: %+v", ans)
			}
		case "e1-q3":
			if !ans.RequiresManual || ans.IsCorrect != nil || ans.PointsAwarded != nil {
				t.Errorf("q3 should be ungraded manual row: %+v", ans)
			}
		}
	}
}

func TestCreateAttemptDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertTestExamination(t, s, "e1")

	a, answers := testAttempt("e1", "u1")
	if err := s.CreateAttempt(ctx, a, answers); err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}

	b, answers := testAttempt("e1", "u1")
	err := s.CreateAttempt(ctx, b, answers)
	if !errors.Is(err, ErrDuplicateAttempt) {
		t.Fatalf("expected ErrDuplicateAttempt, got %v", err)
	}

	list, err := s.ListAttempts(ctx, model.AttemptFilter{ExaminationID: "e1"})
	if err != nil {
		t.Fatalf("ListAttempts: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 attempt, got %d", len(list))
	}
}

func TestCreateAttemptRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertTestExamination(t, s, "e1")

	a, answers := testAttempt("e1", "u1")
	// Same question twice violates UNIQUE(attempt_id, question_id).
	answers = append(answers, model.AttemptAnswer{QuestionID: "e1-q1", AnswerText: "again"})
	if err := s.CreateAttempt(ctx, a, answers); err == nil {
		t.Fatal("expected error for duplicate answer row")
	}

	got, err := s.FindAttempt(ctx, "e1", "u1")
	if err != nil {
		t.Fatalf("FindAttempt: %v", err)
	}
	if got != nil {
		t.Errorf("attempt should not exist after failed transaction")
	}
	stored, err := s.ListAnswers(ctx, a.ID)
	if err != nil {
		t.Fatalf("ListAnswers: %v", err)
	}
	if len(stored) != 0 {
		t.Errorf("expected no orphan answers, got %d", len(stored))
	}
}

func TestApplyGrades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertTestExamination(t, s, "e1")

	a, answers := testAttempt("e1", "u1")
	if err := s.CreateAttempt(ctx, a, answers); err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}

	pending, err := s.PendingAnswers(ctx, a.ID, false)
	if err != nil {
		t.Fatalf("PendingAnswers: %v", err)
	}
	if len(pending) != 1 || pending[0].Question.ID != "e1-q3" || pending[0].Question.Points != 10 {
		t.Fatalf("unexpected pending answers %+v", pending)
	}

	var seen []model.AttemptAnswer
	gradedAt := time.Now().UTC().Truncate(time.Second)
	updated, err := s.ApplyGrades(ctx, GradeUpdate{
		AttemptID: a.ID,
		GraderID:  "grader",
		GradedAt:  gradedAt,
		Grades: []model.ManualGrade{
			{QuestionID: "e1-q3", Score: 7, Feedback: "good"},
			// Auto-graded rows are never touched.
			{QuestionID: "e1-q1", Score: 0},
		},
		Recompute: func(at *model.ExaminationAttempt, rows []model.AttemptAnswer) error {
			seen = rows
			at.ManualGradedScore = 7
			at.TotalScore = at.AutoGradedScore + 7
			at.Status = model.StatusCompleted
			at.GradedAt = &gradedAt
			return nil
		},
	})
	if err != nil {
		t.Fatalf("ApplyGrades: %v", err)
	}
	if updated == nil || updated.TotalScore != 9 || updated.Status != model.StatusCompleted {
		t.Fatalf("unexpected updated attempt %+v", updated)
	}
	if len(seen) != 3 {
		t.Errorf("recompute saw %d answers, want 3", len(seen))
	}

	stored, _ := s.ListAnswers(ctx, a.ID)
	for _, ans := range stored {
		switch ans.QuestionID {
		case "e1-q1":
			if ans.PointsAwarded == nil || *ans.PointsAwarded != 2 {
				t.Errorf("auto-graded row was modified: %+v", ans)
			}
		case "e1-q3":
			if ans.PointsAwarded == nil || *ans.PointsAwarded != 7 {
				t.Errorf("manual row not graded: %+v", ans)
			}
			if ans.GradedBy == nil || *ans.GradedBy != "grader" || ans.Feedback != "good" {
				t.Errorf("grader fields not stored: %+v", ans)
			}
		}
	}

	got, _ := s.GetAttempt(ctx, a.ID)
	if got.Status != model.StatusCompleted || got.TotalScore != 9 || got.GradedAt == nil {
		t.Errorf("attempt totals not stored: %+v", got)
	}

	pending, _ = s.PendingAnswers(ctx, a.ID, false)
	if len(pending) != 0 {
		t.Errorf("expected no pending answers, got %d", len(pending))
	}
	pending, _ = s.PendingAnswers(ctx, a.ID, true)
	if len(pending) != 1 {
		t.Errorf("expected 1 manual answer including graded, got %d", len(pending))
	}

	missing, err := s.ApplyGrades(ctx, GradeUpdate{AttemptID: "nope"})
	if err != nil || missing != nil {
		t.Errorf("expected nil for missing attempt, got %+v, %v", missing, err)
	}
}

func TestListAttemptsFiltered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertTestExamination(t, s, "e1")
	insertTestExamination(t, s, "e2")

	for _, p := range []struct {
		exam, user string
		status     model.AttemptStatus
	}{
		{"e1", "u1", model.StatusAutoGraded},
		{"e1", "u2", model.StatusCompleted},
		{"e2", "u1", model.StatusCompleted},
	} {
		a, answers := testAttempt(p.exam, p.user)
		a.Status = p.status
		if err := s.CreateAttempt(ctx, a, answers); err != nil {
			t.Fatalf("CreateAttempt: %v", err)
		}
	}

	tests := []struct {
		name      string
		filter    model.AttemptFilter
		wantCount int
	}{
		{"no filter", model.AttemptFilter{}, 3},
		{"by examination", model.AttemptFilter{ExaminationID: "e1"}, 2},
		{"by user", model.AttemptFilter{UserID: "u1"}, 2},
		{"by status", model.AttemptFilter{Status: model.StatusAutoGraded}, 1},
		{"by examination and status", model.AttemptFilter{ExaminationID: "e1", Status: model.StatusCompleted}, 1},
		{"limit", model.AttemptFilter{Limit: 2}, 2},
		{"offset past end", model.AttemptFilter{Limit: 10, Offset: 5}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := s.ListAttempts(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListAttempts: %v", err)
			}
			if len(list) != tt.wantCount {
				t.Errorf("expected %d attempts, got %d", tt.wantCount, len(list))
			}
		})
	}
}

func TestUsersAndSubjectStaff(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateUser(ctx, model.User{
		Username: "instructor", DisplayName: "Ivan Petrov", PasswordHash: "x", Role: model.UserRoleStaff, Active: true,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := s.CreateUser(ctx, model.User{Username: "instructor", PasswordHash: "y"}); !errors.Is(err, ErrDuplicateUsername) {
		t.Errorf("expected ErrDuplicateUsername, got %v", err)
	}

	u, err := s.GetUserByUsername(ctx, "instructor")
	if err != nil || u == nil {
		t.Fatalf("GetUserByUsername: %v, %v", u, err)
	}
	if u.ID != id || u.Role != model.UserRoleStaff || !u.Active {
		t.Errorf("unexpected user %+v", u)
	}
	if u, _ := s.GetUserByID(ctx, "nope"); u != nil {
		t.Errorf("expected nil for missing user")
	}

	if err := s.SetUserActive(ctx, id, false); err != nil {
		t.Fatalf("SetUserActive: %v", err)
	}
	u, _ = s.GetUserByID(ctx, id)
	if u.Active {
		t.Error("expected inactive user")
	}

	ok, err := s.IsSubjectStaff(ctx, "physics", id)
	if err != nil || ok {
		t.Fatalf("expected not assigned, got %v, %v", ok, err)
	}
	for range 2 {
		if err := s.AssignSubjectStaff(ctx, "physics", id); err != nil {
			t.Fatalf("AssignSubjectStaff: %v", err)
		}
	}
	ok, _ = s.IsSubjectStaff(ctx, "physics", id)
	if !ok {
		t.Error("expected staff assignment")
	}
	ok, _ = s.IsSubjectStaff(ctx, "chemistry", id)
	if ok {
		t.Error("assignment must be per subject")
	}

	count, _ := s.UserCount(ctx)
	if count != 1 {
		t.Errorf("expected 1 user, got %d", count)
	}
	users, err := s.ListUsers(ctx)
	if err != nil || len(users) != 1 {
		t.Errorf("ListUsers = %d, %v", len(users), err)
	}
}

func TestImportedFileHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	h, err := s.GetImportedFileHash(ctx, "exams.json")
	if err != nil || h != "" {
		t.Fatalf("expected empty hash, got %q, %v", h, err)
	}
	if err := s.SetImportedFileHash(ctx, "exams.json", "abc"); err != nil {
		t.Fatalf("SetImportedFileHash: %v", err)
	}
	if err := s.SetImportedFileHash(ctx, "exams.json", "def"); err != nil {
		t.Fatalf("SetImportedFileHash overwrite: %v", err)
	}
	h, _ = s.GetImportedFileHash(ctx, "exams.json")
	if h != "def" {
		t.Errorf("hash = %q, want def", h)
	}
}

func TestExportExamination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertTestExamination(t, s, "e1")

	uid, err := s.CreateUser(ctx, model.User{Username: "alice", DisplayName: "Alice", PasswordHash: "x", Role: model.UserRoleStudent, Active: true})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	a, answers := testAttempt("e1", uid)
	if err := s.CreateAttempt(ctx, a, answers); err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}

	exp, err := s.ExportExamination(ctx, "e1")
	if err != nil {
		t.Fatalf("ExportExamination: %v", err)
	}
	if exp == nil || len(exp.Results) != 1 {
		t.Fatalf("expected 1 result, got %+v", exp)
	}
	r := exp.Results[0]
	if r.Username != "alice" || r.DisplayName != "Alice" {
		t.Errorf("user not resolved: %+v", r)
	}
	if len(r.Questions) != 3 || r.Questions[0].QuestionID != "e1-q1" || r.Questions[0].Answer != "paris" {
		t.Errorf("unexpected questions %+v", r.Questions)
	}

	none, err := s.ExportExamination(ctx, "missing")
	if err != nil || none != nil {
		t.Errorf("expected nil export for missing examination, got %+v, %v", none, err)
	}

	all, err := s.AllQuestions(ctx)
	if err != nil || len(all) != 3 {
		t.Errorf("AllQuestions = %d, %v", len(all), err)
	}
}
