package calls

import "errors"

var (
	ErrNotFound          = errors.New("calls: not found")
	ErrInvalidTransition = errors.New("calls: invalid job status transition")
	ErrDuplicateLog      = errors.New("calls: call log already recorded for job")
)
