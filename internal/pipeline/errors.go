package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownStage is returned when a stage type tag has no registered builder.
	ErrUnknownStage = errors.New("unknown pipeline stage")

	// ErrNotCollected is returned when a pipeline finishes without a Collect stage.
	ErrNotCollected = errors.New("pipeline did not collect any output")
)

// StageError wraps a failure of one stage of a compiled pipeline.
type StageError struct {
	Stage string
	Index int
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline stage %d (%s): %v", e.Index, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
