package exam

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflict")
	ErrForbidden = errors.New("forbidden")

	ErrExaminationNotFound = fmt.Errorf("examination %w", ErrNotFound)
	ErrAttemptNotFound     = fmt.Errorf("attempt %w", ErrNotFound)
	ErrAlreadyAttempted    = fmt.Errorf("examination already attempted: %w", ErrConflict)
	ErrNotGrader           = fmt.Errorf("not a grader for this subject: %w", ErrForbidden)
	ErrExaminationLocked   = fmt.Errorf("examination has attempts, its questions are fixed: %w", ErrConflict)
)

// ValidationError reports malformed input. Field uses the JSON name.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return "validation: " + e.Field + ": " + e.Message
}

// PersistenceError wraps an infrastructure failure. Its message stays generic;
// the cause is available through Unwrap for logging.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return "storage failure during " + e.Op
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistence(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationError converts the first validator failure into a ValidationError.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	fe := verrs[0]
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	msg := fe.Tag()
	if fe.Param() != "" {
		msg += "=" + fe.Param()
	}
	return &ValidationError{Field: field, Message: "failed " + msg}
}
