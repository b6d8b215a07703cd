package runner

import (
	"sync"

	"github.com/grantharris33/clawdbot/internal/cage/broker"
	"github.com/grantharris33/clawdbot/internal/cage/pool"
)

var (
	singletonOnce sync.Once
	singleton     *Runner
)

// Default lazily constructs the process-wide Runner the first time it is
// called, then returns the same instance on every subsequent call. Callers
// that need an independent instance (tests, multi-tenant hosts) should use
// New directly instead.
func Default(mgr *pool.Manager, brk *broker.Client) *Runner {
	singletonOnce.Do(func() {
		singleton = New(mgr, brk)
	})
	return singleton
}

// ResetDefault clears the process-wide singleton so the next Default call
// constructs a fresh Runner. Intended for tests only.
func ResetDefault() {
	singletonOnce = sync.Once{}
	singleton = nil
}
