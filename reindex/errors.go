package reindex

import "errors"

var (
	// ErrStoreRequired is returned when a metadata store is not provided.
	ErrStoreRequired = errors.New("metadata store required")

	// ErrIndexRequired is returned when a vector index is not provided.
	ErrIndexRequired = errors.New("vector index required")

	// ErrSchedulerRequired is returned when a job scheduler is not provided.
	ErrSchedulerRequired = errors.New("scheduler required")
)
