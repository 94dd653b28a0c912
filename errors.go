package regraph

import "errors"

var (
	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("regraph: invalid configuration")

	// ErrInvalidURL is returned when a resource URL cannot be canonicalized.
	ErrInvalidURL = errors.New("regraph: invalid resource url")

	// ErrStoreUnavailable is returned by New when the graph store cannot
	// be opened or migrated.
	ErrStoreUnavailable = errors.New("regraph: store unavailable")

	// ErrEmbeddingFailed is returned by RepairEmbeddings when some chunks
	// still could not be embedded after retries.
	ErrEmbeddingFailed = errors.New("regraph: embedding generation failed")
)
