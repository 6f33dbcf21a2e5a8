package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/pavelanni/examgrade/internal/exam"
	"github.com/pavelanni/examgrade/internal/model"
	"github.com/pavelanni/examgrade/internal/store"
)

// importExaminations loads examination files. A file whose hash matches the
// last import is skipped. A file that changed since its last import is
// skipped with a warning; existing attempts were graded against its old
// questions. The same holds for an examination that already has attempts
// when it arrives in a new file.
func importExaminations(ctx context.Context, db *store.Store, svc *exam.Service, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(ctx, path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}
		if storedHash == hash {
			slog.Info("examination file unchanged, skipping", "path", path)
			continue
		}
		if storedHash != "" {
			slog.Warn("examination file changed since last import, skipping to keep existing attempts consistent",
				"path", path)
			continue
		}

		exams, err := parseExaminations(data)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		locked := 0
		for _, e := range exams {
			err := svc.SaveExamination(ctx, e)
			if errors.Is(err, exam.ErrExaminationLocked) {
				slog.Warn("examination already has attempts, skipping", "path", path, "examination_id", e.ID)
				locked++
				continue
			}
			if err != nil {
				return fmt.Errorf("import examination %q from %s: %w", e.ID, path, err)
			}
		}
		if locked > 0 {
			continue
		}

		if err := db.SetImportedFileHash(ctx, path, hash); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.Info("imported examinations", "path", path, "count", len(exams))
	}
	return nil
}

// parseExaminations accepts a single examination object or an array of them.
func parseExaminations(data []byte) ([]model.Examination, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var exams []model.Examination
		if err := json.Unmarshal(data, &exams); err != nil {
			return nil, err
		}
		return exams, nil
	}
	var e model.Examination
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return []model.Examination{e}, nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
