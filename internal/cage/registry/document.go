package registry

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrNotFound is returned by lookups when no record exists for the given key.
var ErrNotFound = errors.New("registry: container not found")

// Upsert inserts or overwrites the record keyed by its container name.
func (r *Registry) Upsert(rec ContainerRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, existed := r.doc.Containers[rec.ContainerName]
	r.doc.Containers[rec.ContainerName] = rec
	if err := r.persistLocked([]Event{{
		ContainerName: rec.ContainerName,
		SessionKey:    rec.SessionKey,
		Kind:          "upserted",
	}}); err != nil {
		restoreLocked(r.doc.Containers, rec.ContainerName, prev, existed)
		return err
	}
	return nil
}

// RemoveByName deletes the record for name. It is a no-op if absent.
func (r *Registry) RemoveByName(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.doc.Containers[name]
	if !ok {
		return nil
	}
	delete(r.doc.Containers, name)
	if err := r.persistLocked([]Event{{ContainerName: name, Kind: "removed"}}); err != nil {
		r.doc.Containers[name] = prev
		return err
	}
	return nil
}

// restoreLocked undoes a speculative Containers write once persistLocked
// has failed. Callers must hold mu.
func restoreLocked(containers map[string]ContainerRecord, name string, prev ContainerRecord, existed bool) {
	if existed {
		containers[name] = prev
		return
	}
	delete(containers, name)
}

// GetByName returns the record for name, or ErrNotFound.
func (r *Registry) GetByName(name string) (ContainerRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.doc.Containers[name]
	if !ok {
		return ContainerRecord{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return rec, nil
}

// GetBySession returns the container mapped to session, whatever its
// status, or ErrNotFound. Invariant: at most one container maps to a given session.
func (r *Registry) GetBySession(session string) (ContainerRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.doc.Containers {
		if rec.SessionKey == session {
			return rec, nil
		}
	}
	return ContainerRecord{}, fmt.Errorf("%w: session %s", ErrNotFound, session)
}

// List returns every known record, in no particular order.
func (r *Registry) List() []ContainerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(func(ContainerRecord) bool { return true })
}

// ListByAgent returns every record assigned to the given agent id.
func (r *Registry) ListByAgent(agentID string) []ContainerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(func(rec ContainerRecord) bool { return rec.AgentID == agentID })
}

// ListWarm returns unassigned, idle containers — the warm pool.
func (r *Registry) ListWarm() []ContainerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(func(rec ContainerRecord) bool {
		return rec.Unassigned() && rec.Status == StatusIdle
	})
}

// ListIdleExceeding returns idle containers whose last heartbeat is older
// than d.
func (r *Registry) ListIdleExceeding(d time.Duration) []ContainerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-d)
	return r.snapshotLocked(func(rec ContainerRecord) bool {
		return rec.Status == StatusIdle && rec.LastHeartbeat.Before(cutoff)
	})
}

// ListOlderThan returns containers created more than age ago.
func (r *Registry) ListOlderThan(age time.Duration) []ContainerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-age)
	return r.snapshotLocked(func(rec ContainerRecord) bool {
		return rec.CreatedAt.Before(cutoff)
	})
}

// ListStale returns idle or running containers whose heartbeat is older
// than threshold (spec.md §3's "stale" definition).
func (r *Registry) ListStale(threshold time.Duration) []ContainerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-threshold)
	return r.snapshotLocked(func(rec ContainerRecord) bool {
		if rec.Status != StatusIdle && rec.Status != StatusRunning {
			return false
		}
		return rec.LastHeartbeat.Before(cutoff)
	})
}

func (r *Registry) snapshotLocked(keep func(ContainerRecord) bool) []ContainerRecord {
	out := make([]ContainerRecord, 0, len(r.doc.Containers))
	for _, rec := range r.doc.Containers {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContainerName < out[j].ContainerName })
	return out
}

// AssignToSession marks name as serving session under agent, moving it out
// of the warm pool.
func (r *Registry) AssignToSession(name, session, agent string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.doc.Containers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	rec := prev
	rec.SessionKey = session
	rec.AgentID = agent
	r.doc.Containers[name] = rec
	if err := r.persistLocked([]Event{{ContainerName: name, SessionKey: session, Kind: "assigned"}}); err != nil {
		r.doc.Containers[name] = prev
		return err
	}
	return nil
}

// Unassign clears a container's session mapping, resumable-session id, and
// turn count, and marks it idle — restoring it to warm-pool eligibility.
func (r *Registry) Unassign(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.doc.Containers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	rec := prev
	rec.SessionKey = ""
	rec.AgentSessionID = ""
	rec.TurnCount = 0
	rec.Status = StatusIdle
	rec.LastHeartbeat = time.Now()
	r.doc.Containers[name] = rec
	if err := r.persistLocked([]Event{{ContainerName: name, SessionKey: prev.SessionKey, Kind: "unassigned"}}); err != nil {
		r.doc.Containers[name] = prev
		return err
	}
	return nil
}

// TouchHeartbeat refreshes a container's heartbeat timestamp and optionally
// its resumable-session id and turn count.
func (r *Registry) TouchHeartbeat(name string, agentSessionID *string, turnCount *int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.doc.Containers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	rec := prev
	rec.LastHeartbeat = time.Now()
	if agentSessionID != nil {
		rec.AgentSessionID = *agentSessionID
	}
	if turnCount != nil {
		rec.TurnCount = *turnCount
	}
	r.doc.Containers[name] = rec
	if err := r.persistLocked(nil); err != nil {
		r.doc.Containers[name] = prev
		return err
	}
	return nil
}

// SetStatus updates a container's status and bumps its heartbeat.
func (r *Registry) SetStatus(name string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.doc.Containers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	rec := prev
	rec.Status = status
	rec.LastHeartbeat = time.Now()
	r.doc.Containers[name] = rec
	if err := r.persistLocked([]Event{{ContainerName: name, SessionKey: rec.SessionKey, Kind: "status:" + string(status)}}); err != nil {
		r.doc.Containers[name] = prev
		return err
	}
	return nil
}

// Reconcile removes every record whose name is not present in
// existingNamesFromRuntime, returning the removed names.
func (r *Registry) Reconcile(existingNamesFromRuntime map[string]bool) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for name := range r.doc.Containers {
		if !existingNamesFromRuntime[name] {
			removed = append(removed, name)
		}
	}
	if len(removed) == 0 {
		return nil, nil
	}

	events := make([]Event, 0, len(removed))
	saved := make(map[string]ContainerRecord, len(removed))
	for _, name := range removed {
		events = append(events, Event{ContainerName: name, Kind: "reconciled"})
		saved[name] = r.doc.Containers[name]
		delete(r.doc.Containers, name)
	}
	if err := r.persistLocked(events); err != nil {
		for name, rec := range saved {
			r.doc.Containers[name] = rec
		}
		return nil, err
	}
	sort.Strings(removed)
	return removed, nil
}
