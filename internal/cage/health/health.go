// Package health composes the runtime/broker/pool liveness signals into a
// single report (spec.md §4.6).
package health

import (
	"context"
	"time"

	"github.com/grantharris33/clawdbot/internal/cage/broker"
	"github.com/grantharris33/clawdbot/internal/cage/pool"
	"github.com/grantharris33/clawdbot/internal/cage/runtime"
)

// PoolSnapshot is the {total, active, warm} view surfaced in a report.
type PoolSnapshot = pool.Snapshot

// Report is the composite result of a Check.
type Report struct {
	Healthy        bool          `json:"healthy"`
	RuntimeOK      bool          `json:"runtime_ok"`
	BrokerOK       bool          `json:"broker_ok"`
	BrokerLatency  time.Duration `json:"broker_latency_ns"`
	PoolRunning    bool          `json:"pool_running"`
	Pool           PoolSnapshot  `json:"pool"`
}

// Monitor composes the three liveness checks spec.md §4.6 requires.
type Monitor struct {
	rt  runtime.Runtime
	brk *broker.Client
	mgr *pool.Manager
}

// New constructs a Monitor over the given subsystems.
func New(rt runtime.Runtime, brk *broker.Client, mgr *pool.Manager) *Monitor {
	return &Monitor{rt: rt, brk: brk, mgr: mgr}
}

// Check runs all three checks and composes them into a single report.
func (m *Monitor) Check(ctx context.Context) Report {
	var report Report
	if m.rt != nil {
		report.RuntimeOK = m.rt.Available(ctx)
	}

	if m.brk != nil {
		if latency, err := m.brk.Ping(ctx); err == nil {
			report.BrokerOK = true
			report.BrokerLatency = latency
		}
	}

	if m.mgr != nil {
		report.PoolRunning = m.mgr.Running()
		report.Pool = m.mgr.Snapshot()
	}

	report.Healthy = report.RuntimeOK && report.BrokerOK && report.PoolRunning
	return report
}

// ContainerHealthy reports whether a container record passes spec.md §4.6's
// per-container check: status idle or running, heartbeat age under
// 3×healthInterval. Absence of a state record (reflected by the zero-value
// exists flag) is always unhealthy.
func ContainerHealthy(status string, lastHeartbeat time.Time, healthInterval time.Duration, exists bool) bool {
	if !exists {
		return false
	}
	if status != "idle" && status != "running" {
		return false
	}
	return time.Since(lastHeartbeat) < 3*healthInterval
}
