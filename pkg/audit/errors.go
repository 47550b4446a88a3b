package audit

import "errors"

var (
	// ErrNotResolved is returned when a record is sent before any diff or action was established
	ErrNotResolved = errors.New("the model state differences have not been resolved")

	// ErrModelNotSet is returned when a record is sent without a model and model ID
	ErrModelNotSet = errors.New("the model has not been set")

	// ErrMissingParameter is returned when a query requires a parameter the caller omitted
	ErrMissingParameter = errors.New("missing required parameter")

	// ErrSourceNotFound is returned when the referenced folder, file or remote resource does not exist
	ErrSourceNotFound = errors.New("audit source not found")

	// ErrDecodeFailure is returned when a stored payload cannot be parsed back into a record
	ErrDecodeFailure = errors.New("failed to decode audit payload")

	// ErrNotFound is returned when no record matches the requested identity
	ErrNotFound = errors.New("audit record not found")
)
