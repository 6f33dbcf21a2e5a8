package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/pavelanni/examgrade/internal/model"
)

const (
	resultsSheet = "Results"
	answersSheet = "Answers"
)

var (
	resultsHeader = []any{"Attempt", "Username", "Name", "Status", "Auto score", "Manual score", "Total", "Max", "Percentage", "Passed", "Time spent (s)", "Submitted at"}
	answersHeader = []any{"Attempt", "Username", "Question", "Type", "Text", "Answer", "Correct", "Points", "Max points", "Feedback"}
)

// WriteXLSX writes the export as a workbook with one summary row per
// attempt on the Results sheet and one row per answer on the Answers sheet.
func WriteXLSX(w io.Writer, e *model.ExaminationExport) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", resultsSheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(answersSheet); err != nil {
		return err
	}
	if err := setRow(f, resultsSheet, 1, resultsHeader); err != nil {
		return err
	}
	if err := setRow(f, answersSheet, 1, answersHeader); err != nil {
		return err
	}

	answerRow := 2
	for i, r := range e.Results {
		err := setRow(f, resultsSheet, i+2, []any{
			r.AttemptID, r.Username, r.DisplayName, string(r.Status),
			r.AutoGradedScore, r.ManualGradedScore, r.TotalScore, r.MaxScore,
			r.Percentage, r.IsPassed, r.TimeSpentSeconds, r.SubmittedAt.UTC().Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		for _, q := range r.Questions {
			err := setRow(f, answersSheet, answerRow, []any{
				r.AttemptID, r.Username, q.QuestionID, string(q.Type), q.Text, q.Answer,
				optional(q.IsCorrect), optional(q.PointsAwarded), q.MaxPoints, q.Feedback,
			})
			if err != nil {
				return err
			}
			answerRow++
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

// optional leaves ungraded cells empty.
func optional[T any](p *T) any {
	if p == nil {
		return ""
	}
	return *p
}
