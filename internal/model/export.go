package model

import "time"

// ExaminationExport is the top-level JSON structure for result export.
type ExaminationExport struct {
	ExaminationID string          `json:"examination_id"`
	Title         string          `json:"title"`
	SubjectID     string          `json:"subject_id"`
	TotalPoints   float64         `json:"total_points"`
	ExportedAt    time.Time       `json:"exported_at"`
	Results       []StudentResult `json:"results"`
}

// StudentResult holds one student's attempt for export.
type StudentResult struct {
	AttemptID         string           `json:"attempt_id"`
	UserID            string           `json:"user_id"`
	Username          string           `json:"username"`
	DisplayName       string           `json:"display_name"`
	Status            AttemptStatus    `json:"status"`
	TotalScore        float64          `json:"total_score"`
	MaxScore          float64          `json:"max_score"`
	Percentage        float64          `json:"percentage"`
	IsPassed          bool             `json:"is_passed"`
	AutoGradedScore   float64          `json:"auto_graded_score"`
	ManualGradedScore float64          `json:"manual_graded_score"`
	TimeSpentSeconds  int              `json:"time_spent_seconds"`
	SubmittedAt       time.Time        `json:"submitted_at"`
	Questions         []QuestionResult `json:"questions"`
}

// QuestionResult holds per-question data for export.
type QuestionResult struct {
	QuestionID    string       `json:"question_id"`
	Text          string       `json:"text"`
	Type          QuestionType `json:"type"`
	MaxPoints     float64      `json:"max_points"`
	Answer        string       `json:"answer"`
	IsCorrect     *bool        `json:"is_correct"`
	PointsAwarded *float64     `json:"points_awarded"`
	Feedback      string       `json:"feedback,omitempty"`
}
