package runtime

import (
	"context"
	"time"
)

// Runtime abstracts the container orchestration backend. The pool manager
// never talks to Docker directly; it only calls this interface, so a fake
// implementation can stand in for tests (spec.md §4.3).
type Runtime interface {
	ImageExists(ctx context.Context, image string) (bool, error)
	PullImage(ctx context.Context, image string) error
	EnsureImage(ctx context.Context, image string) error

	Create(ctx context.Context, spec ContainerSpec) (Handle, error)
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string, grace time.Duration) error
	Remove(ctx context.Context, name string, force bool) error

	InspectState(ctx context.Context, name string) (RuntimeState, error)
	InspectLabels(ctx context.Context, name string) (map[string]string, error)
	List(ctx context.Context, labelFilter map[string]string) ([]Handle, error)

	ExecInContainer(ctx context.Context, name string, argv []string, timeout time.Duration) (ExecResult, error)
	Logs(ctx context.Context, name string, opts LogsOptions) (string, error)

	Available(ctx context.Context) bool
}
