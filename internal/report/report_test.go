package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/pavelanni/examgrade/internal/model"
)

func ptr[T any](v T) *T { return &v }

func sampleExport() *model.ExaminationExport {
	return &model.ExaminationExport{
		ExaminationID: "phys-1",
		Title:         "Mechanics",
		SubjectID:     "physics",
		TotalPoints:   100,
		ExportedAt:    time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC),
		Results: []model.StudentResult{{
			AttemptID:       "a1",
			Username:        "alice",
			DisplayName:     "Alice",
			Status:          model.StatusAutoGraded,
			TotalScore:      30,
			MaxScore:        100,
			Percentage:      30,
			AutoGradedScore: 30,
			SubmittedAt:     time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
			Questions: []model.QuestionResult{
				{QuestionID: "q1", Text: "Unit of force?", Type: model.QuestionSingleChoice, MaxPoints: 30,
					Answer: "newton", IsCorrect: ptr(true), PointsAwarded: ptr(30.0)},
				{QuestionID: "q2", Text: "First law?", Type: model.QuestionSubjective, MaxPoints: 70, Answer: "inertia"},
			},
		}},
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("xlsx")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)

	_, err = ParseFormat("csv")
	assert.Error(t, err)
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, sampleExport()))

	var got model.ExaminationExport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "phys-1", got.ExaminationID)
	require.Len(t, got.Results, 1)
	assert.Nil(t, got.Results[0].Questions[1].PointsAwarded)
	assert.Contains(t, buf.String(), `"points_awarded": null`)
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatXLSX, sampleExport()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	results, err := f.GetRows(resultsSheet)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Attempt", results[0][0])
	assert.Equal(t, []string{"a1", "alice", "Alice", "auto_graded"}, results[1][:4])
	assert.Equal(t, "2026-05-04T10:00:00Z", results[1][11])

	answers, err := f.GetRows(answersSheet)
	require.NoError(t, err)
	require.Len(t, answers, 3)
	assert.Equal(t, "q1", answers[1][2])
	assert.Equal(t, "TRUE", answers[1][6])
	assert.Equal(t, "q2", answers[2][2])
	assert.Equal(t, "", answers[2][7])
}

func TestAudit(t *testing.T) {
	questions := []model.ExaminationQuestion{
		{ID: "ok", ExaminationID: "e1", Type: model.QuestionSingleChoice, Text: "fine", CorrectAnswer: json.RawMessage(`"a"`)},
		{ID: "empty", ExaminationID: "e1", Type: model.QuestionMultipleChoice, Text: "empty key", Points: 2, CorrectAnswer: json.RawMessage(`[]`)},
		{ID: "none", ExaminationID: "e2", Type: model.QuestionTrueFalse, Text: "no key"},
		{ID: "essay", ExaminationID: "e2", Type: model.QuestionSubjective, Text: "essay"},
		{ID: "opts", ExaminationID: "e2", Type: model.QuestionSingleChoice, Text: "options",
			Options: []model.Option{{Text: "x", IsCorrect: true}}},
	}

	findings := Audit(questions)
	require.Len(t, findings, 2)
	assert.Equal(t, "empty", findings[0].QuestionID)
	assert.Equal(t, "none", findings[1].QuestionID)

	var buf bytes.Buffer
	require.NoError(t, RenderAudit(&buf, findings))
	out := buf.String()
	assert.Contains(t, out, "empty key")
	assert.Contains(t, out, "2 question(s) will always require manual grading.")

	buf.Reset()
	require.NoError(t, RenderAudit(&buf, nil))
	assert.True(t, strings.HasPrefix(buf.String(), "All auto-gradable"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "абв…", truncate("абвгде", 4))
}
