package data

import "errors"

// Shared sentinel errors for job queue strategies.
var (
	// ErrStrategyNotInitialized is returned by the SQL strategy when used before Init.
	ErrStrategyNotInitialized = errors.New("job queue strategy not initialized")
	// ErrInMemoryOnWorker is returned when the in-memory strategy is initialised in a worker process,
	// where it could never see jobs enqueued by another process.
	ErrInMemoryOnWorker = errors.New("in-memory job queue strategy cannot be used in a worker process")
	// ErrDatabaseRequired is returned when the SQL strategy is initialised without a database handle.
	ErrDatabaseRequired = errors.New("database connection is required")
)
