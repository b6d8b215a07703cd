package pool

import "errors"

// ErrCapacity is returned by Assign when the pool already holds maxTotal
// containers (warm ones included) or the agent already holds maxPerAgent
// assigned containers; the check runs before a warm container is handed
// out (spec.md §4.5 step 3).
var ErrCapacity = errors.New("pool: capacity exhausted")

// ErrCreationFailed wraps a runtime creation failure, kept distinct from
// ErrCapacity per spec.md §4.5's failure semantics.
var ErrCreationFailed = errors.New("pool: container creation failed")

// ErrNotAssigned is returned by Release when the session has no mapped
// container.
var ErrNotAssigned = errors.New("pool: session has no assigned container")

// ErrShuttingDown is returned by Assign once Shutdown has been called.
var ErrShuttingDown = errors.New("pool: manager is shutting down")
