package pool_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/grantharris33/clawdbot/internal/cage/runtime"
)

// fakeRuntime is an in-memory stand-in for runtime.Runtime, letting pool
// tests drive container lifecycle without a Docker daemon.
type fakeRuntime struct {
	mu         sync.Mutex
	containers map[string]*fakeContainer
	available  bool
	failCreate bool
}

type fakeContainer struct {
	handle  runtime.Handle
	running bool
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{containers: make(map[string]*fakeContainer), available: true}
}

func (f *fakeRuntime) ImageExists(ctx context.Context, image string) (bool, error) { return true, nil }
func (f *fakeRuntime) PullImage(ctx context.Context, image string) error           { return nil }
func (f *fakeRuntime) EnsureImage(ctx context.Context, image string) error         { return nil }

func (f *fakeRuntime) Create(ctx context.Context, spec runtime.ContainerSpec) (runtime.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		return runtime.Handle{}, fmt.Errorf("fakeRuntime: create forced failure")
	}
	name := runtime.ContainerNameFor(spec.SessionKey)
	h := runtime.Handle{ContainerID: "cid-" + name, ContainerName: name}
	f.containers[name] = &fakeContainer{handle: h}
	return h, nil
}

func (f *fakeRuntime) Start(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		return fmt.Errorf("fakeRuntime: no such container %s", name)
	}
	c.running = true
	return nil
}

func (f *fakeRuntime) Stop(ctx context.Context, name string, grace time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[name]; ok {
		c.running = false
	}
	return nil
}

func (f *fakeRuntime) Remove(ctx context.Context, name string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, name)
	return nil
}

func (f *fakeRuntime) InspectState(ctx context.Context, name string) (runtime.RuntimeState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		return runtime.RuntimeState{Exists: false}, nil
	}
	return runtime.RuntimeState{Exists: true, Running: c.running}, nil
}

func (f *fakeRuntime) InspectLabels(ctx context.Context, name string) (map[string]string, error) {
	return nil, nil
}

func (f *fakeRuntime) List(ctx context.Context, labelFilter map[string]string) ([]runtime.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	handles := make([]runtime.Handle, 0, len(f.containers))
	for _, c := range f.containers {
		handles = append(handles, c.handle)
	}
	return handles, nil
}

func (f *fakeRuntime) ExecInContainer(ctx context.Context, name string, argv []string, timeout time.Duration) (runtime.ExecResult, error) {
	return runtime.ExecResult{}, nil
}

func (f *fakeRuntime) Logs(ctx context.Context, name string, opts runtime.LogsOptions) (string, error) {
	return "", nil
}

func (f *fakeRuntime) Available(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available
}

// killOutOfBand simulates the wrapper process dying without the pool
// manager's involvement: the container stops running but stays registered
// as running in the registry until the health tick notices.
func (f *fakeRuntime) killOutOfBand(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[name]; ok {
		c.running = false
	}
}

func (f *fakeRuntime) removeOutOfBand(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, name)
}
