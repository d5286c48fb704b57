package ingest

import "fmt"

// Error categories surfaced to callers. Every user-visible failure carries
// one so clients can branch without parsing messages.
const (
	CategoryValidation  = "validation"
	CategoryExtraction  = "extraction"
	CategoryReview      = "review_required"
	CategoryMapping     = "mapping"
	CategoryPersistence = "persistence"
)

// ValidationError rejects malformed input before any external call.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ExtractionError wraps a failure of the extraction collaborator. Nothing is
// persisted when one occurs.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string { return "extraction failed: " + e.Err.Error() }
func (e *ExtractionError) Unwrap() error { return e.Err }

// ReviewError reports a reading flagged for manual review. The flagged value
// and explanation are preserved so a human can decide; the stored pending
// row's ID is included when the flag was persisted.
type ReviewError struct {
	ReadingID string
	Value     float64
	Reason    string
}

func (e *ReviewError) Error() string {
	return fmt.Sprintf("reading %v flagged for review: %s", e.Value, e.Reason)
}

// MappingError reports an unresolvable meter identifier along with every
// normalized candidate tried, enabling a manual-unit override.
type MappingError struct {
	Candidates []string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("no meter mapping matched candidates %v", e.Candidates)
}

// PersistenceError wraps a storage failure with enough context to retry the
// request. Writes are not retried automatically.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *PersistenceError) Unwrap() error { return e.Err }
