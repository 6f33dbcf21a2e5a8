package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pavelanni/examgrade/internal/exam"
	"github.com/pavelanni/examgrade/internal/model"
	"github.com/pavelanni/examgrade/internal/store"
)

const sampleExam = `{
  "id": "phys-1",
  "subjectId": "physics",
  "title": "Mechanics",
  "totalPoints": 10,
  "isActive": true,
  "questions": [
    {"id": "q1", "type": "true_false", "text": "Mass is conserved.", "points": 10, "correctAnswer": true}
  ]
}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestImportExaminations(t *testing.T) {
	db, err := store.New(store.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	defer db.Close()
	ctx := context.Background()
	svc := exam.NewService(db, nil, exam.Config{})
	path := writeFile(t, t.TempDir(), "phys.json", sampleExam)

	if err := importExaminations(ctx, db, svc, []string{path}); err != nil {
		t.Fatalf("first import: %v", err)
	}
	e, err := db.GetExamination(ctx, "phys-1")
	if err != nil || e == nil {
		t.Fatalf("GetExamination = %v, %v", e, err)
	}
	if e.Title != "Mechanics" {
		t.Errorf("Title = %q", e.Title)
	}

	// Unchanged file is skipped.
	if err := importExaminations(ctx, db, svc, []string{path}); err != nil {
		t.Fatalf("second import: %v", err)
	}

	// Changed file is skipped too.
	writeFile(t, filepath.Dir(path), "phys.json", `{"id": "phys-1", "subjectId": "physics", "title": "Renamed"}`)
	if err := importExaminations(ctx, db, svc, []string{path}); err != nil {
		t.Fatalf("changed import: %v", err)
	}
	e, _ = db.GetExamination(ctx, "phys-1")
	if e.Title != "Mechanics" {
		t.Errorf("changed file was applied: Title = %q", e.Title)
	}
}

func TestImportExaminationsArrayAndErrors(t *testing.T) {
	db, err := store.New(store.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	defer db.Close()
	ctx := context.Background()
	svc := exam.NewService(db, nil, exam.Config{})
	dir := t.TempDir()

	arr := writeFile(t, dir, "many.json", `[`+sampleExam+`, {"id": "chem-1", "subjectId": "chemistry", "title": "Atoms"}]`)
	if err := importExaminations(ctx, db, svc, []string{arr}); err != nil {
		t.Fatalf("import array: %v", err)
	}
	n, err := db.ExaminationCount(ctx)
	if err != nil || n != 2 {
		t.Errorf("ExaminationCount = %d, %v; want 2", n, err)
	}

	invalid := writeFile(t, dir, "invalid.json", `{"id": "x", "subjectId": "s"}`)
	if err := importExaminations(ctx, db, svc, []string{invalid}); err == nil {
		t.Error("expected validation error for examination without title")
	}
	hash, _ := db.GetImportedFileHash(ctx, invalid)
	if hash != "" {
		t.Error("failed import must not be recorded")
	}

	broken := writeFile(t, dir, "broken.json", `{`)
	if err := importExaminations(ctx, db, svc, []string{broken}); err == nil {
		t.Error("expected parse error")
	}

	if err := importExaminations(ctx, db, svc, []string{filepath.Join(dir, "missing.json")}); err == nil {
		t.Error("expected read error")
	}
}

func TestImportExaminationsSkipsAttempted(t *testing.T) {
	db, err := store.New(store.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	defer db.Close()
	ctx := context.Background()
	svc := exam.NewService(db, nil, exam.Config{})
	dir := t.TempDir()

	if err := importExaminations(ctx, db, svc, []string{writeFile(t, dir, "phys.json", sampleExam)}); err != nil {
		t.Fatalf("import: %v", err)
	}
	if _, err := svc.SubmitAttempt(ctx, model.SubmitAttemptRequest{ExaminationID: "phys-1", UserID: "u1"}); err != nil {
		t.Fatalf("SubmitAttempt: %v", err)
	}

	revised := writeFile(t, dir, "phys-v2.json", `{"id": "phys-1", "subjectId": "physics", "title": "Mechanics", "totalPoints": 20,
		"questions": [{"id": "q2", "type": "subjective", "text": "Explain.", "points": 20}]}`)
	if err := importExaminations(ctx, db, svc, []string{revised}); err != nil {
		t.Fatalf("import revised: %v", err)
	}
	qs, err := db.ListQuestions(ctx, "phys-1")
	if err != nil || len(qs) != 1 || qs[0].ID != "q1" {
		t.Errorf("questions changed after attempt: %+v, %v", qs, err)
	}
	if hash, _ := db.GetImportedFileHash(ctx, revised); hash != "" {
		t.Error("skipped file must not be recorded")
	}
}
