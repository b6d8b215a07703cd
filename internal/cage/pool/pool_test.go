package pool_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/grantharris33/clawdbot/internal/cage/pool"
	"github.com/grantharris33/clawdbot/internal/cage/registry"
)

func testConfig() pool.Config {
	return pool.Config{
		MinWarm:               1,
		MaxTotal:              2,
		MaxPerAgent:           1,
		Image:                 "cage/agent:test",
		PidsLimit:             32,
		IdleTimeout:           5 * time.Second,
		MaxAge:                time.Hour,
		HealthInterval:        time.Second,
		StartupTimeout:        5 * time.Second,
		MaintenanceEvery:      time.Hour, // keeps the tick out of these tests; internal_test.go calls maintenanceTick directly
		DefaultWorkspacePath:  "/workspace",
		ConfigFingerprint:     "fp-1",
	}
}

func newTestManager(t *testing.T, cfg pool.Config) (*pool.Manager, *fakeRuntime, *registry.Registry) {
	t.Helper()
	reg, err := registry.Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	rt := newFakeRuntime()
	mgr, err := pool.New(cfg, rt, reg, nil)
	require.NoError(t, err)
	require.NoError(t, mgr.Start(context.Background()))
	t.Cleanup(mgr.Stop)

	return mgr, rt, reg
}

func TestAssign_WarmHitReplenishesPool(t *testing.T) {
	mgr, _, reg := newTestManager(t, testConfig())
	ctx := context.Background()

	require.Eventually(t, func() bool { return mgr.Snapshot().Warm == 1 }, time.Second, 10*time.Millisecond)

	rec, err := mgr.Assign(ctx, pool.AssignRequest{Session: "s1", AgentID: "a1", WorkspacePath: "/ws"})
	require.NoError(t, err)
	require.Equal(t, "s1", rec.SessionKey)

	snap := mgr.Snapshot()
	require.Equal(t, 1, snap.Active)

	require.Eventually(t, func() bool { return mgr.Snapshot().Warm == 1 }, time.Second, 10*time.Millisecond)
	require.Equal(t, 2, len(reg.List()))
}

func TestAssign_SecondCallReturnsSameContainer(t *testing.T) {
	mgr, _, _ := newTestManager(t, testConfig())
	ctx := context.Background()

	first, err := mgr.Assign(ctx, pool.AssignRequest{Session: "s1", AgentID: "a1"})
	require.NoError(t, err)

	second, err := mgr.Assign(ctx, pool.AssignRequest{Session: "s1", AgentID: "a1"})
	require.NoError(t, err)
	require.Equal(t, first.ContainerName, second.ContainerName)
}

func TestAssign_CapExhaustionFailsWithoutPartialCreate(t *testing.T) {
	cfg := testConfig()
	cfg.MinWarm = 0
	cfg.MaxTotal = 1
	mgr, _, reg := newTestManager(t, cfg)
	ctx := context.Background()

	_, err := mgr.Assign(ctx, pool.AssignRequest{Session: "s1", AgentID: "a1"})
	require.NoError(t, err)

	_, err = mgr.Assign(ctx, pool.AssignRequest{Session: "s2", AgentID: "a2"})
	require.ErrorIs(t, err, pool.ErrCapacity)
	require.Len(t, reg.List(), 1)
}

func TestAssign_MaxPerAgentExhaustion(t *testing.T) {
	cfg := testConfig()
	cfg.MinWarm = 0
	cfg.MaxTotal = 2
	cfg.MaxPerAgent = 1
	mgr, _, _ := newTestManager(t, cfg)
	ctx := context.Background()

	_, err := mgr.Assign(ctx, pool.AssignRequest{Session: "s1", AgentID: "shared"})
	require.NoError(t, err)

	_, err = mgr.Assign(ctx, pool.AssignRequest{Session: "s2", AgentID: "shared"})
	require.ErrorIs(t, err, pool.ErrCapacity)
}

func TestRelease_ReturnToPoolWhenBelowFloor(t *testing.T) {
	cfg := testConfig()
	cfg.MinWarm = 1
	cfg.MaxTotal = 3
	mgr, _, reg := newTestManager(t, cfg)
	ctx := context.Background()

	require.Eventually(t, func() bool { return mgr.Snapshot().Warm == 1 }, time.Second, 10*time.Millisecond)

	rec, err := mgr.Assign(ctx, pool.AssignRequest{Session: "s1"})
	require.NoError(t, err)

	require.NoError(t, mgr.Release(ctx, "s1", true))

	got, err := reg.GetByName(rec.ContainerName)
	require.NoError(t, err)
	require.True(t, got.Unassigned())
	require.Equal(t, registry.StatusIdle, got.Status)
	require.Equal(t, 0, got.TurnCount)
}

func TestRelease_DestroysWhenNotReturningToPool(t *testing.T) {
	cfg := testConfig()
	cfg.MinWarm = 0
	mgr, _, reg := newTestManager(t, cfg)
	ctx := context.Background()

	rec, err := mgr.Assign(ctx, pool.AssignRequest{Session: "s1"})
	require.NoError(t, err)

	require.NoError(t, mgr.Release(ctx, "s1", false))

	_, err = reg.GetByName(rec.ContainerName)
	require.ErrorIs(t, err, registry.ErrNotFound)
}

func TestRelease_UnknownSessionErrors(t *testing.T) {
	mgr, _, _ := newTestManager(t, testConfig())
	err := mgr.Release(context.Background(), "never-assigned", true)
	require.ErrorIs(t, err, pool.ErrNotAssigned)
}
