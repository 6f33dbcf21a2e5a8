package grading

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/pavelanni/examgrade/internal/model"
)

// DisplayCorrectAnswer renders a stored correct answer for people to read.
// Strings pass through, booleans become True/False, arrays are joined with
// ", ", anything else is stringified. Without a correct answer the texts of
// the options flagged correct are shown. The result is never graded against.
func DisplayCorrectAnswer(raw json.RawMessage, options []model.Option) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return displayOptions(options)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "True"
		}
		return "False"
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = stringify(e)
		}
		return strings.Join(parts, ", ")
	default:
		return stringify(t)
	}
}

func displayOptions(options []model.Option) string {
	var parts []string
	for _, o := range options {
		if !o.IsCorrect {
			continue
		}
		label := o.Text
		if strings.TrimSpace(label) == "" {
			label = o.Value
		}
		parts = append(parts, label)
	}
	return strings.Join(parts, ", ")
}
