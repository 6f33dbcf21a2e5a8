package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/pavelanni/examgrade/internal/grading"
	"github.com/pavelanni/examgrade/internal/model"
)

// Finding is an auto-gradable question whose correct answer cannot be
// determined. Its answers will always be routed to manual grading.
type Finding struct {
	ExaminationID string
	QuestionID    string
	Type          model.QuestionType
	Points        float64
	Text          string
}

// Audit runs the answer normalizer over questions and returns the ones whose
// correct answer yields no tokens.
func Audit(questions []model.ExaminationQuestion) []Finding {
	var out []Finding
	for _, it := range grading.PrepareAll(questions) {
		if !grading.IsAutoGradable(it.Question.Type) || it.Key.Determinable() {
			continue
		}
		out = append(out, Finding{
			ExaminationID: it.Question.ExaminationID,
			QuestionID:    it.Question.ID,
			Type:          it.Question.Type,
			Points:        it.Question.Points,
			Text:          it.Question.Text,
		})
	}
	return out
}

// RenderAudit prints findings as a table followed by a count.
func RenderAudit(w io.Writer, findings []Finding) error {
	if len(findings) == 0 {
		_, err := fmt.Fprintln(w, "All auto-gradable questions have a determinable correct answer.")
		return err
	}

	table := tablewriter.NewTable(w, tablewriter.WithConfig(tablewriter.Config{
		Row: tw.CellConfig{
			Alignment: tw.CellAlignment{
				PerColumn: []tw.Align{tw.AlignLeft, tw.AlignLeft, tw.AlignLeft, tw.AlignRight, tw.AlignLeft},
			},
		},
	}))
	table.Header("Examination", "Question", "Type", "Points", "Text")
	for _, f := range findings {
		if err := table.Append(f.ExaminationID, f.QuestionID, string(f.Type),
			strconv.FormatFloat(f.Points, 'f', -1, 64), truncate(f.Text, 60)); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d question(s) will always require manual grading.\n", len(findings))
	return err
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
