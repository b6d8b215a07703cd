package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/grantharris33/clawdbot/internal/cage/runtime"
)

// internalFakeRuntime mirrors the pool_test package's fakeRuntime but lives
// in package pool so white-box tests can reach unexported Manager fields
// (mgr.rt, mgr.mu, mgr.warm) alongside it.
type internalFakeRuntime struct {
	mu         sync.Mutex
	containers map[string]bool // name -> running
}

func newInternalFakeRuntime() *internalFakeRuntime {
	return &internalFakeRuntime{containers: make(map[string]bool)}
}

// registerRunning injects a container as present and running without going
// through Create/Start, for tests that manipulate the registry directly.
func (f *internalFakeRuntime) registerRunning(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[name] = true
}

func (f *internalFakeRuntime) ImageExists(ctx context.Context, image string) (bool, error) { return true, nil }
func (f *internalFakeRuntime) PullImage(ctx context.Context, image string) error           { return nil }
func (f *internalFakeRuntime) EnsureImage(ctx context.Context, image string) error         { return nil }

func (f *internalFakeRuntime) Create(ctx context.Context, spec runtime.ContainerSpec) (runtime.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := runtime.ContainerNameFor(spec.SessionKey)
	f.containers[name] = false
	return runtime.Handle{ContainerID: "cid-" + name, ContainerName: name}, nil
}

func (f *internalFakeRuntime) Start(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[name]; !ok {
		return fmt.Errorf("internalFakeRuntime: no such container %s", name)
	}
	f.containers[name] = true
	return nil
}

func (f *internalFakeRuntime) Stop(ctx context.Context, name string, grace time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[name]; ok {
		f.containers[name] = false
	}
	return nil
}

func (f *internalFakeRuntime) Remove(ctx context.Context, name string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, name)
	return nil
}

func (f *internalFakeRuntime) InspectState(ctx context.Context, name string) (runtime.RuntimeState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	running, ok := f.containers[name]
	if !ok {
		return runtime.RuntimeState{Exists: false}, nil
	}
	return runtime.RuntimeState{Exists: true, Running: running}, nil
}

func (f *internalFakeRuntime) InspectLabels(ctx context.Context, name string) (map[string]string, error) {
	return nil, nil
}

func (f *internalFakeRuntime) List(ctx context.Context, labelFilter map[string]string) ([]runtime.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	handles := make([]runtime.Handle, 0, len(f.containers))
	for name := range f.containers {
		handles = append(handles, runtime.Handle{ContainerName: name})
	}
	return handles, nil
}

func (f *internalFakeRuntime) ExecInContainer(ctx context.Context, name string, argv []string, timeout time.Duration) (runtime.ExecResult, error) {
	return runtime.ExecResult{}, nil
}

func (f *internalFakeRuntime) Logs(ctx context.Context, name string, opts runtime.LogsOptions) (string, error) {
	return "", nil
}

func (f *internalFakeRuntime) Available(ctx context.Context) bool { return true }
