package segment

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the segment engine.
var (
	ErrSegmentNotFound = errors.New("segment not found")

	// ErrInvalidRules wraps every InvalidRulesError so callers can branch
	// with errors.Is without inspecting the error list.
	ErrInvalidRules = errors.New("invalid segment rules")

	// ErrInvalidOperatorArity is returned when a between condition does not
	// carry exactly two ordered values.
	ErrInvalidOperatorArity = errors.New("operator requires exactly two ordered values")

	// ErrEvaluationTimeout is returned when the contact store exceeds the
	// configured query ceiling. Not retried here; the caller decides.
	ErrEvaluationTimeout = errors.New("segment evaluation timed out")

	// ErrLimitExceeded is returned for a zero or negative caller-supplied
	// limit. Limits above the system cap are clamped, not rejected.
	ErrLimitExceeded = errors.New("requested limit must be positive")

	// ErrStoreUnavailable surfaces contact-store failures unchanged.
	ErrStoreUnavailable = errors.New("contact store unavailable")
)

// InvalidRulesError carries the complete validator error list so a UI can
// highlight every problem at once.
type InvalidRulesError struct {
	Errors []ValidationError
}

func (e *InvalidRulesError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = string(ve.Code) + ": " + ve.Message
	}
	return fmt.Sprintf("invalid segment rules: %s", strings.Join(msgs, "; "))
}

// Unwrap lets errors.Is(err, ErrInvalidRules) match.
func (e *InvalidRulesError) Unwrap() error { return ErrInvalidRules }
