package converter

import (
	"errors"
	"fmt"
)

// ErrEmptyInput is returned for blank messages before any stage runs.
var ErrEmptyInput = errors.New("message HL7 vide")

// ErrMissingDependency marks a segment whose required resource is absent.
// It is logged as a warning and the segment is skipped.
var ErrMissingDependency = errors.New("missing dependency")

// SegmentError aborts the whole conversion.
type SegmentError struct {
	Tag  string
	Line int
	Err  error
}

func (e *SegmentError) Error() string {
	return fmt.Sprintf("segment %s (line %d): %v", e.Tag, e.Line, e.Err)
}

func (e *SegmentError) Unwrap() error {
	return e.Err
}

// FieldError is recovered inside an extractor; the attribute is omitted.
type FieldError struct {
	Segment string
	Field   string
	Err     error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s-%s: %v", e.Segment, e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// StageError wraps a failure raised by a pipeline stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func missing(resourceType, needed string) error {
	return fmt.Errorf("%w: %s requires %s", ErrMissingDependency, resourceType, needed)
}
