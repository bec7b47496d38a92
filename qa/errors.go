package qa

import "errors"

var (
	// ErrInvalidRequest indicates caller input violates a precondition,
	// such as a blank question. Not retried.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnprocessableDocument indicates uploaded content could not be
	// turned into at least one retrievable chunk. The document is left in
	// the terminal failed state.
	ErrUnprocessableDocument = errors.New("unprocessable document")
)
