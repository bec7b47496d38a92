package store

import "errors"

var (
	// ErrNotFound indicates the referenced document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrNoChunks indicates an attempt to mark a document processed with an
	// empty chunk set. A document with zero retrievable chunks cannot answer
	// questions and must not reach the processed state.
	ErrNoChunks = errors.New("no chunks to store")
)
