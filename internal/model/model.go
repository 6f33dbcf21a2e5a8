package model

import (
	"context"
	"encoding/json"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent submits attempts and reads their own results.
	UserRoleStudent UserRole = "student"
	// UserRoleStaff grades attempts for the subjects they are assigned to.
	UserRoleStaff UserRole = "staff"
	// UserRoleAdmin can do everything.
	UserRoleAdmin UserRole = "admin"
)

// User represents a system user.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"displayName"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"createdAt"`
}

// IsStaff reports whether the user may see unredacted results.
func (u *User) IsStaff() bool {
	return u != nil && (u.Role == UserRoleStaff || u.Role == UserRoleAdmin)
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// QuestionType tags how a question is answered and graded.
type QuestionType string

const (
	QuestionSingleChoice   QuestionType = "single_choice"
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionTrueFalse      QuestionType = "true_false"
	QuestionSubjective     QuestionType = "subjective"
	QuestionShortAnswer    QuestionType = "short_answer"
)

// AttemptStatus represents where an attempt is in its grading lifecycle.
type AttemptStatus string

const (
	// StatusAutoGraded means objective questions are scored and at least one
	// subjective answer is still waiting for a grader.
	StatusAutoGraded AttemptStatus = "auto_graded"
	// StatusCompleted means the score is final.
	StatusCompleted AttemptStatus = "completed"
)

// Option is one selectable choice of a question.
type Option struct {
	ID        string `json:"id,omitempty"`
	Text      string `json:"text,omitempty"`
	Value     string `json:"value,omitempty"`
	IsCorrect bool   `json:"isCorrect,omitempty"`
}

// Examination is an authored exam for a subject.
type Examination struct {
	ID                string                `json:"id" validate:"required"`
	SubjectID         string                `json:"subjectId" validate:"required"`
	Title             string                `json:"title" validate:"required"`
	TotalPoints       float64               `json:"totalPoints" validate:"gte=0"`
	PassingPercentage *float64              `json:"passingPercentage,omitempty" validate:"omitempty,gte=0,lte=100"`
	PassingScore      *float64              `json:"passingScore,omitempty" validate:"omitempty,gte=0"`
	DurationMinutes   int                   `json:"durationMinutes" validate:"gte=0"`
	ShowResults       bool                  `json:"showResults"`
	AllowReview       bool                  `json:"allowReview"`
	IsActive          bool                  `json:"isActive"`
	CreatedAt         time.Time             `json:"createdAt"`
	Questions         []ExaminationQuestion `json:"questions,omitempty" validate:"dive"`
}

// ExaminationQuestion is a question of an examination. CorrectAnswer keeps the
// authored representation verbatim (string, array, boolean or absent).
type ExaminationQuestion struct {
	ID            string          `json:"id" validate:"required"`
	ExaminationID string          `json:"examinationId,omitempty"`
	Type          QuestionType    `json:"type" validate:"required"`
	Text          string          `json:"text" validate:"required"`
	Points        float64         `json:"points" validate:"gte=0"`
	OrderIndex    int             `json:"orderIndex" validate:"gte=0"`
	CorrectAnswer json.RawMessage `json:"correctAnswer,omitempty"`
	Options       []Option        `json:"options,omitempty"`
}

// ExaminationAttempt is one student's single submission for one examination.
type ExaminationAttempt struct {
	ID                   string          `json:"id"`
	ExaminationID        string          `json:"examinationId"`
	UserID               string          `json:"userId"`
	AutoGradedScore      float64         `json:"autoGradedScore"`
	AutoGradedMaxScore   float64         `json:"autoGradedMaxScore"`
	ManualGradedScore    float64         `json:"manualGradedScore"`
	ManualGradedMaxScore float64         `json:"manualGradedMaxScore"`
	TotalScore           float64         `json:"totalScore"`
	MaxScore             float64         `json:"maxScore"`
	Percentage           float64         `json:"percentage"`
	IsPassed             bool            `json:"isPassed"`
	Status               AttemptStatus   `json:"status"`
	TimeSpentSeconds     int             `json:"timeSpentSeconds"`
	StartedAt            time.Time       `json:"startedAt"`
	SubmittedAt          time.Time       `json:"submittedAt"`
	GradedAt             *time.Time      `json:"gradedAt,omitempty"`
	AnswersSnapshot      json.RawMessage `json:"answersSnapshot,omitempty"`
}

// AttemptAnswer is the per-question record of an attempt. Only the grading
// fields change after creation, and only on rows that require manual grading.
type AttemptAnswer struct {
	ID             string     `json:"id"`
	AttemptID      string     `json:"attemptId"`
	QuestionID     string     `json:"questionId"`
	AnswerText     string     `json:"answerText"`
	RequiresManual bool       `json:"requiresManual"`
	IsCorrect      *bool      `json:"isCorrect"`
	PointsAwarded  *float64   `json:"pointsAwarded"`
	GradedBy       *string    `json:"gradedBy,omitempty"`
	GradedAt       *time.Time `json:"gradedAt,omitempty"`
	Feedback       string     `json:"feedback,omitempty"`
	GradingNote    string     `json:"gradingNote,omitempty"`
}

// SubmittedAnswer is a student's raw answer for one question.
type SubmittedAnswer struct {
	QuestionID string `json:"questionId" validate:"required"`
	Answer     string `json:"answer"`
}

// SubmitAttemptRequest is the input of a submission.
type SubmitAttemptRequest struct {
	ExaminationID    string            `json:"examinationId" validate:"required"`
	UserID           string            `json:"userId" validate:"required"`
	Answers          []SubmittedAnswer `json:"answers" validate:"dive"`
	TimeSpentSeconds int               `json:"timeSpentSeconds" validate:"gte=0"`
}

// SubmitAttemptResult is returned after a submission is persisted.
type SubmitAttemptResult struct {
	AttemptID                  string        `json:"attemptId"`
	TotalScore                 float64       `json:"totalScore"`
	MaxScore                   float64       `json:"maxScore"`
	Percentage                 float64       `json:"percentage"`
	IsPassed                   bool          `json:"isPassed"`
	Status                     AttemptStatus `json:"status"`
	AutoGradedQuestionCount    int           `json:"autoGradedQuestionCount"`
	ManualGradingRequiredCount int           `json:"manualGradingRequiredCount"`
}

// ManualGrade is a grader's score for one subjective answer.
type ManualGrade struct {
	QuestionID string  `json:"questionId" validate:"required"`
	Score      float64 `json:"score" validate:"gte=0"`
	Feedback   string  `json:"feedback,omitempty"`
}

// ApplyGradesRequest is the input of a manual grading merge.
type ApplyGradesRequest struct {
	AttemptID string        `json:"attemptId" validate:"required"`
	GraderID  string        `json:"graderId" validate:"required"`
	Grades    []ManualGrade `json:"grades" validate:"required,min=1,dive"`
}

// GradeResult is returned after manual grades are merged.
type GradeResult struct {
	AttemptID  string        `json:"attemptId"`
	TotalScore float64       `json:"totalScore"`
	MaxScore   float64       `json:"maxScore"`
	Percentage float64       `json:"percentage"`
	IsPassed   bool          `json:"isPassed"`
	Status     AttemptStatus `json:"status"`
}

// ReviewAnswer is one display-ready answer of a result. CorrectAnswer is nil
// when the examination does not allow review.
type ReviewAnswer struct {
	QuestionID    string       `json:"questionId"`
	QuestionText  string       `json:"questionText"`
	QuestionType  QuestionType `json:"questionType"`
	StudentAnswer string       `json:"studentAnswer"`
	CorrectAnswer *string      `json:"correctAnswer,omitempty"`
	IsCorrect     *bool        `json:"isCorrect"`
	PointsAwarded *float64     `json:"pointsAwarded"`
	MaxPoints     float64      `json:"maxPoints"`
	Feedback      string       `json:"feedback,omitempty"`
}

// ReviewResult is the projected result of one attempt.
type ReviewResult struct {
	AttemptID         string         `json:"attemptId"`
	ExaminationID     string         `json:"examinationId"`
	UserID            string         `json:"userId"`
	Status            AttemptStatus  `json:"status"`
	TotalScore        float64        `json:"totalScore"`
	MaxScore          float64        `json:"maxScore"`
	Percentage        float64        `json:"percentage"`
	IsPassed          bool           `json:"isPassed"`
	AutoGradedScore   float64        `json:"autoGradedScore"`
	ManualGradedScore float64        `json:"manualGradedScore"`
	TimeSpentSeconds  int            `json:"timeSpentSeconds"`
	SubmittedAt       time.Time      `json:"submittedAt"`
	Answers           []ReviewAnswer `json:"answers"`
}

// PendingAnswer is a subjective answer waiting for (or open to) manual grading.
type PendingAnswer struct {
	Answer   AttemptAnswer       `json:"answer"`
	Question ExaminationQuestion `json:"question"`
}

// ScoreSuggestion is an advisory score for a subjective answer. It is shown
// to graders only and never stored.
type ScoreSuggestion struct {
	QuestionID string  `json:"questionId"`
	Score      float64 `json:"score"`
	MaxPoints  float64 `json:"maxPoints"`
	Feedback   string  `json:"feedback"`
}

// AttemptFilter narrows attempt listings for dashboards.
type AttemptFilter struct {
	ExaminationID string
	UserID        string
	Status        AttemptStatus
	Limit         int
	Offset        int
}
