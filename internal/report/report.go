// Package report renders examination results and content audits for the CLI.
package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pavelanni/examgrade/internal/model"
)

// Format is an export file format.
type Format string

const (
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, FormatXLSX:
		return Format(s), nil
	}
	return "", fmt.Errorf("unknown export format %q (want json or xlsx)", s)
}

// Write renders an export in the given format.
func Write(w io.Writer, f Format, e *model.ExaminationExport) error {
	switch f {
	case FormatXLSX:
		return WriteXLSX(w, e)
	default:
		return WriteJSON(w, e)
	}
}

// WriteJSON writes the export as indented JSON.
func WriteJSON(w io.Writer, e *model.ExaminationExport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(e)
}
