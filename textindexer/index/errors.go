package index

import "errors"

var (
	// ErrMissingMatrix is returned when a build is attempted without a
	// term-weight matrix.
	ErrMissingMatrix = errors.New("missing term-weight matrix")

	// ErrMissingVocabulary is returned when a build is attempted without a
	// vocabulary.
	ErrMissingVocabulary = errors.New("missing vocabulary")

	// ErrShapeMismatch is returned when the matrix, the vocabulary, the doc
	// id mapping and the metadata table do not line up.
	ErrShapeMismatch = errors.New("matrix shape mismatch")
)
