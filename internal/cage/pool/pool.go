// Package pool implements the central container scheduler (spec.md §4.5):
// assignment, warm-pool maintenance, cap enforcement, the reaper, and
// reconciliation against the runtime's actual containers.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/grantharris33/clawdbot/internal/cage/broker"
	"github.com/grantharris33/clawdbot/internal/cage/registry"
	"github.com/grantharris33/clawdbot/internal/cage/runtime"
)

// Snapshot is the manager's {total, active, warm} view used by the health
// monitor (spec.md §4.6).
type Snapshot struct {
	Total  int
	Active int
	Warm   int
}

// Manager is the central scheduler. The zero value is not usable; construct
// with New.
type Manager struct {
	cfg Config
	rt  runtime.Runtime
	reg *registry.Registry
	brk *broker.Client

	mu       sync.Mutex
	session  map[string]string // session key -> container name
	warm     map[string]bool   // container name -> member of warm set
	running  bool
	shutdown bool

	healthTicker *time.Ticker
	maintTicker  *time.Ticker
	tickerDone   chan struct{}
}

// New constructs a Manager. Call Start before using it.
func New(cfg Config, rt runtime.Runtime, reg *registry.Registry, brk *broker.Client) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		cfg:     cfg,
		rt:      rt,
		reg:     reg,
		brk:     brk,
		session: make(map[string]string),
		warm:    make(map[string]bool),
	}, nil
}

// Start verifies runtime availability, reconciles the registry against the
// runtime's actual containers, rebuilds in-memory maps, schedules the
// background ticks, and tops up the warm pool (spec.md §4.5).
func (m *Manager) Start(ctx context.Context) error {
	if !m.rt.Available(ctx) {
		return fmt.Errorf("pool: runtime unavailable at startup")
	}

	handles, err := m.rt.List(ctx, nil)
	if err != nil {
		return fmt.Errorf("pool: list runtime containers: %w", err)
	}
	existing := make(map[string]bool, len(handles))
	for _, h := range handles {
		existing[h.ContainerName] = true
	}
	if _, err := m.reg.Reconcile(existing); err != nil {
		return fmt.Errorf("pool: reconcile registry: %w", err)
	}

	var drifted []string
	m.mu.Lock()
	for _, rec := range m.reg.List() {
		if rec.ConfigFingerprint != m.cfg.ConfigFingerprint {
			drifted = append(drifted, rec.ContainerName)
			continue
		}
		if rec.Unassigned() && rec.Status == registry.StatusIdle {
			m.warm[rec.ContainerName] = true
		} else if rec.SessionKey != "" {
			m.session[rec.SessionKey] = rec.ContainerName
		}
	}
	m.running = true
	m.mu.Unlock()

	// A container stamped with a stale configuration fingerprint is never
	// reused; destroy it now instead of folding it into the warm pool or
	// session map (spec.md §3).
	for _, name := range drifted {
		if err := m.destroy(ctx, name); err != nil {
			slog.Warn("pool: destroying config-drifted container at startup failed", "container", name, "err", err)
		}
	}

	m.healthTicker = time.NewTicker(m.cfg.HealthInterval)
	m.maintTicker = time.NewTicker(m.cfg.maintenanceInterval())
	m.tickerDone = make(chan struct{})
	go m.tickLoop(ctx)

	m.topUpWarmPool(ctx)
	return nil
}

func (m *Manager) tickLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.tickerDone:
			return
		case <-m.healthTicker.C:
			m.healthTick(ctx)
		case <-m.maintTicker.C:
			m.maintenanceTick(ctx)
		}
	}
}

// Stop cancels the background ticks but preserves every container.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	if m.healthTicker != nil {
		m.healthTicker.Stop()
	}
	if m.maintTicker != nil {
		m.maintTicker.Stop()
	}
	if m.tickerDone != nil {
		close(m.tickerDone)
	}
}

// Shutdown cancels the background ticks and destroys every container this
// manager tracks, best-effort (spec.md §4.5).
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	m.shutdown = true
	names := make([]string, 0, len(m.warm)+len(m.session))
	for name := range m.warm {
		names = append(names, name)
	}
	for _, name := range m.session {
		names = append(names, name)
	}
	m.mu.Unlock()

	m.Stop()

	for _, name := range names {
		if err := m.destroy(ctx, name); err != nil {
			slog.Warn("pool: shutdown destroy failed", "container", name, "err", err)
		}
	}
}

// Snapshot returns the manager's current {total, active, warm} counts.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Total:  len(m.warm) + len(m.session),
		Active: len(m.session),
		Warm:   len(m.warm),
	}
}

// Running reports whether the background ticks are active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// AssignRequest describes a container assignment request (spec.md §4.5).
type AssignRequest struct {
	Session string
	AgentID string
	// WorkspacePath is the host-side directory bind-mounted into the
	// container; the in-container mount point is fixed by configuration.
	WorkspacePath string
	AgentConfig   string
}

// Assign resolves a container for session, following spec.md §4.5's
// five-step algorithm. Runtime and registry I/O happens outside the lock;
// the caller-visible invariants are re-verified on the way back in.
func (m *Manager) Assign(ctx context.Context, req AssignRequest) (registry.ContainerRecord, error) {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return registry.ContainerRecord{}, ErrShuttingDown
	}

	// Step 1: in-memory session map hit.
	if name, ok := m.session[req.Session]; ok {
		m.mu.Unlock()
		state, err := m.rt.InspectState(ctx, name)
		if err == nil && state.Running {
			rec, err := m.reg.GetByName(name)
			if err == nil {
				return rec, nil
			}
		}
		m.mu.Lock()
		delete(m.session, req.Session)
	}

	// Step 2: registry hit not yet reflected in memory.
	if rec, err := m.reg.GetBySession(req.Session); err == nil {
		m.mu.Unlock()
		state, err := m.rt.InspectState(ctx, rec.ContainerName)
		if err == nil && state.Running {
			m.mu.Lock()
			m.session[req.Session] = rec.ContainerName
			m.mu.Unlock()
			return rec, nil
		}
		m.mu.Lock()
	}

	// Step 3: cap enforcement, before any creation.
	total := len(m.warm) + len(m.session)
	if total >= m.cfg.MaxTotal {
		m.mu.Unlock()
		return registry.ContainerRecord{}, ErrCapacity
	}
	if req.AgentID != "" {
		perAgent := 0
		for _, rec := range m.reg.ListByAgent(req.AgentID) {
			if !rec.Unassigned() {
				perAgent++
			}
		}
		if perAgent >= m.cfg.MaxPerAgent {
			m.mu.Unlock()
			return registry.ContainerRecord{}, ErrCapacity
		}
	}

	// Step 4: assign the first warm container, if any.
	var warmName string
	for name := range m.warm {
		warmName = name
		break
	}
	if warmName != "" {
		delete(m.warm, warmName)
		m.session[req.Session] = warmName
		m.mu.Unlock()

		if err := m.reg.AssignToSession(warmName, req.Session, req.AgentID); err != nil {
			m.mu.Lock()
			delete(m.session, req.Session)
			m.warm[warmName] = true
			m.mu.Unlock()
			return registry.ContainerRecord{}, fmt.Errorf("pool: assign registry write: %w", err)
		}
		go m.topUpWarmPool(context.Background())

		rec, err := m.reg.GetByName(warmName)
		if err != nil {
			return registry.ContainerRecord{}, err
		}
		return rec, nil
	}
	m.mu.Unlock()

	// Step 5: create a new container.
	return m.createAndAssign(ctx, req)
}

func (m *Manager) createAndAssign(ctx context.Context, req AssignRequest) (registry.ContainerRecord, error) {
	spec := m.containerSpec(req.Session, req.AgentID, req.WorkspacePath, req.AgentConfig)

	handle, err := m.rt.Create(ctx, spec)
	if err != nil {
		return registry.ContainerRecord{}, fmt.Errorf("%w: %v", ErrCreationFailed, err)
	}
	if err := m.rt.Start(ctx, handle.ContainerName); err != nil {
		_ = m.rt.Remove(ctx, handle.ContainerName, true)
		return registry.ContainerRecord{}, fmt.Errorf("%w: %v", ErrCreationFailed, err)
	}

	now := time.Now()
	rec := registry.ContainerRecord{
		ContainerID:       handle.ContainerID,
		ContainerName:     handle.ContainerName,
		SessionKey:        req.Session,
		AgentID:           req.AgentID,
		Status:            registry.StatusIdle,
		CreatedAt:         now,
		LastHeartbeat:      now,
		ConfigFingerprint: m.cfg.ConfigFingerprint,
	}
	if err := m.reg.Upsert(rec); err != nil {
		_ = m.rt.Remove(ctx, handle.ContainerName, true)
		return registry.ContainerRecord{}, fmt.Errorf("pool: registry write failed after create: %w", err)
	}

	m.mu.Lock()
	m.session[req.Session] = handle.ContainerName
	m.mu.Unlock()

	return rec, nil
}

// containerSpec builds the creation parameters for one container.
// workspaceHostPath is the host-side directory to bind-mount; the
// in-container mount point is always the configured fixed path, never the
// caller's value (spec.md §3: "host workspace → fixed in-container path").
func (m *Manager) containerSpec(session, agentID, workspaceHostPath, agentConfig string) runtime.ContainerSpec {
	if workspaceHostPath == "" {
		workspaceHostPath = m.cfg.DefaultWorkspacePath
	}
	return runtime.ContainerSpec{
		SessionKey:        session,
		AgentID:           agentID,
		Image:             m.cfg.Image,
		ConfigFingerprint: m.cfg.ConfigFingerprint,
		MemoryBytes:       m.cfg.MemoryBytes,
		NanoCPUs:          m.cfg.NanoCPUs,
		PidsLimit:         m.cfg.PidsLimit,
		NetworkName:       m.cfg.NetworkName,
		CapDrop:           m.cfg.CapDrop,
		SecurityOpt:       m.cfg.SecurityOpt,
		WorkspaceHostPath: workspaceHostPath,
		WorkspacePath:     m.cfg.DefaultWorkspacePath,
		ExtraBinds:        m.cfg.ExtraBinds,
		Env:               m.cfg.Env,
		AgentConfigJSON:   agentConfig,
		BrokerURL:         m.cfg.BrokerURL,
		BrokerKeyPrefix:   m.cfg.BrokerKeyPrefix,
	}
}

// Release unmaps session from its container, returning it to the warm pool
// if returnToPool is requested, the floor isn't already met, and the
// container's configuration fingerprint still matches the live
// configuration; otherwise it is destroyed (spec.md §3, §4.5).
func (m *Manager) Release(ctx context.Context, session string, returnToPool bool) error {
	m.mu.Lock()
	name, ok := m.session[session]
	if !ok {
		m.mu.Unlock()
		return ErrNotAssigned
	}
	delete(m.session, session)
	belowFloor := returnToPool && len(m.warm) < m.cfg.MinWarm
	m.mu.Unlock()

	if belowFloor {
		rec, err := m.reg.GetByName(name)
		if err == nil && rec.ConfigFingerprint == m.cfg.ConfigFingerprint {
			if err := m.reg.Unassign(name); err != nil {
				m.mu.Lock()
				m.session[session] = name
				m.mu.Unlock()
				return fmt.Errorf("pool: unassign registry write: %w", err)
			}
			m.mu.Lock()
			m.warm[name] = true
			m.mu.Unlock()
			return nil
		}
	}

	return m.destroy(ctx, name)
}

// destroy stops, removes, and cleans up every trace of a container. Always
// best-effort past the runtime stop/remove calls, matching spec.md §3's
// "Destruction always includes" list.
func (m *Manager) destroy(ctx context.Context, name string) error {
	rec, recErr := m.reg.GetByName(name)

	err := m.rt.Stop(ctx, name, 10*time.Second)
	if rmErr := m.rt.Remove(ctx, name, true); rmErr != nil {
		err = errors.Join(err, rmErr)
	}
	if rmErr := m.reg.RemoveByName(name); rmErr != nil {
		err = errors.Join(err, rmErr)
	}
	if m.brk != nil && recErr == nil && rec.SessionKey != "" {
		_ = m.brk.ClearSession(ctx, rec.SessionKey)
	}

	m.mu.Lock()
	delete(m.warm, name)
	for session, containerName := range m.session {
		if containerName == name {
			delete(m.session, session)
		}
	}
	m.mu.Unlock()

	return err
}

// topUpWarmPool creates containers until the warm floor is met, clamped by
// the total cap (spec.md §4.5's "Warm-pool top-up").
func (m *Manager) topUpWarmPool(ctx context.Context) {
	m.mu.Lock()
	need := m.cfg.MinWarm - len(m.warm)
	if room := m.cfg.MaxTotal - (len(m.warm) + len(m.session)); room < need {
		need = room
	}
	m.mu.Unlock()

	for i := 0; i < need; i++ {
		key := syntheticWarmSessionKey()
		spec := m.containerSpec(key, "", m.cfg.DefaultWorkspacePath, "")

		handle, err := m.rt.Create(ctx, spec)
		if err != nil {
			slog.Warn("pool: warm top-up create failed", "err", err)
			continue
		}
		if err := m.rt.Start(ctx, handle.ContainerName); err != nil {
			slog.Warn("pool: warm top-up start failed", "err", err)
			_ = m.rt.Remove(ctx, handle.ContainerName, true)
			continue
		}

		now := time.Now()
		rec := registry.ContainerRecord{
			ContainerID:       handle.ContainerID,
			ContainerName:     handle.ContainerName,
			Status:            registry.StatusIdle,
			CreatedAt:         now,
			LastHeartbeat:      now,
			ConfigFingerprint: m.cfg.ConfigFingerprint,
		}
		if err := m.reg.Upsert(rec); err != nil {
			slog.Warn("pool: warm top-up registry write failed", "err", err)
			_ = m.rt.Remove(ctx, handle.ContainerName, true)
			continue
		}

		m.mu.Lock()
		m.warm[handle.ContainerName] = true
		m.mu.Unlock()
	}
}

func syntheticWarmSessionKey() string {
	return fmt.Sprintf("warm-%d-%s", time.Now().UnixMilli(), uuid.NewString()[:6])
}

// healthTick destroys or fails containers whose heartbeat has gone stale
// (spec.md §4.5's "Health tick").
func (m *Manager) healthTick(ctx context.Context) {
	threshold := 6 * m.cfg.HealthInterval
	for _, rec := range m.reg.ListStale(threshold) {
		state, err := m.rt.InspectState(ctx, rec.ContainerName)
		if err != nil || !state.Exists || !state.Running {
			if err := m.destroy(ctx, rec.ContainerName); err != nil {
				slog.Warn("pool: health tick destroy failed", "container", rec.ContainerName, "err", err)
			}
			continue
		}

		if rec.SessionKey != "" {
			if err := m.reg.Unassign(rec.ContainerName); err != nil {
				slog.Warn("pool: health tick sever session failed", "container", rec.ContainerName, "err", err)
			}
			m.mu.Lock()
			delete(m.session, rec.SessionKey)
			m.mu.Unlock()
		}
		if err := m.reg.SetStatus(rec.ContainerName, registry.StatusFailed); err != nil {
			slog.Warn("pool: health tick mark-failed failed", "container", rec.ContainerName, "err", err)
		}
	}
}

// maintenanceTick trims the idle pool down to the warm floor and destroys
// over-age containers, then re-tops-up the warm pool (spec.md §4.5).
func (m *Manager) maintenanceTick(ctx context.Context) {
	idle := m.reg.ListIdleExceeding(m.cfg.IdleTimeout)
	sort.Slice(idle, func(i, j int) bool { return idle[i].LastHeartbeat.Before(idle[j].LastHeartbeat) })

	m.mu.Lock()
	keep := m.cfg.MinWarm - len(m.warm)
	m.mu.Unlock()
	if keep < 0 {
		keep = 0
	}

	toDestroy := idle
	if keep < len(idle) {
		toDestroy = idle[keep:]
	} else {
		toDestroy = nil
	}
	for _, rec := range toDestroy {
		if err := m.destroy(ctx, rec.ContainerName); err != nil {
			slog.Warn("pool: maintenance idle-trim destroy failed", "container", rec.ContainerName, "err", err)
		}
	}

	for _, rec := range m.reg.ListOlderThan(m.cfg.MaxAge) {
		if err := m.destroy(ctx, rec.ContainerName); err != nil {
			slog.Warn("pool: maintenance age-trim destroy failed", "container", rec.ContainerName, "err", err)
		}
	}

	m.topUpWarmPool(ctx)
}
