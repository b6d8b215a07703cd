// Package docker implements internal/cage/runtime.Runtime against the
// Docker Engine API.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	units "github.com/docker/go-units"

	"github.com/grantharris33/clawdbot/internal/cage/runtime"
)

// Adapter implements runtime.Runtime using the Docker Engine API.
type Adapter struct {
	client  *dockerclient.Client
	network string
}

// New creates an adapter using the given default Docker network.
func New(defaultNetwork string) (*Adapter, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	if defaultNetwork == "" {
		defaultNetwork = "cage"
	}
	return &Adapter{client: cli, network: defaultNetwork}, nil
}

// EnsureNetwork creates the adapter's default Docker network if missing.
func (a *Adapter) EnsureNetwork(ctx context.Context) error {
	nets, err := a.client.NetworkList(ctx, network.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", a.network)),
	})
	if err != nil {
		return fmt.Errorf("list networks: %w", err)
	}
	for _, n := range nets {
		if n.Name == a.network {
			return nil
		}
	}
	_, err = a.client.NetworkCreate(ctx, a.network, network.CreateOptions{
		Driver:     "bridge",
		Attachable: true,
		Labels:     map[string]string{runtime.ManagedByLabel: runtime.ManagedByValue},
	})
	if err != nil {
		return fmt.Errorf("create network %q: %w", a.network, err)
	}
	return nil
}

// ParseMemory converts a human-readable size ("512m", "2g") into bytes the
// way `docker run -m` does.
func ParseMemory(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return units.RAMInBytes(s)
}

// ImageExists reports whether image is present locally.
func (a *Adapter) ImageExists(ctx context.Context, ref string) (bool, error) {
	_, _, err := a.client.ImageInspectWithRaw(ctx, ref)
	if err == nil {
		return true, nil
	}
	if dockerclient.IsErrNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("inspect image %q: %w", ref, err)
}

// PullImage pulls image from its registry.
func (a *Adapter) PullImage(ctx context.Context, ref string) error {
	rc, err := a.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %q: %w", ref, err)
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	return err
}

// EnsureImage pulls image only if it is not already present locally.
func (a *Adapter) EnsureImage(ctx context.Context, ref string) error {
	exists, err := a.ImageExists(ctx, ref)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return a.PullImage(ctx, ref)
}

// Create creates (but does not start) a container from spec.
func (a *Adapter) Create(ctx context.Context, spec runtime.ContainerSpec) (runtime.Handle, error) {
	if spec.Image == "" {
		return runtime.Handle{}, fmt.Errorf("spec.Image is required")
	}

	name := runtime.ContainerNameFor(spec.SessionKey)
	createdAt := time.Now()
	labels := runtime.Labels(spec, createdAt)

	env := []string{
		"SESSION_ID=" + spec.SessionKey,
		"REDIS_URL=" + spec.BrokerURL,
		"WORKSPACE_PATH=" + spec.WorkspacePath,
	}
	if spec.BrokerKeyPrefix != "" {
		env = append(env, "CAGE_BROKER_PREFIX="+spec.BrokerKeyPrefix)
	}
	if spec.GatewayURL != "" {
		env = append(env, "GATEWAY_URL="+spec.GatewayURL)
	}
	if spec.GatewayToken != "" {
		env = append(env, "GATEWAY_TOKEN="+spec.GatewayToken)
	}
	if spec.ParentSessionID != "" {
		env = append(env, "PARENT_SESSION_ID="+spec.ParentSessionID)
	}
	if spec.Model != "" {
		env = append(env, "CLAUDE_MODEL="+spec.Model)
	}
	if spec.AgentConfigJSON != "" {
		env = append(env, "CLAUDE_CONFIG="+spec.AgentConfigJSON)
	}
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	networkName := spec.NetworkName
	if networkName == "" {
		networkName = a.network
	}

	mounts := []mount.Mount{}
	if spec.WorkspaceHostPath != "" {
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: spec.WorkspaceHostPath,
			Target: spec.WorkspacePath,
		})
	}
	for _, b := range spec.ExtraBinds {
		parts := strings.SplitN(b, ":", 3)
		if len(parts) < 2 {
			continue
		}
		m := mount.Mount{Type: mount.TypeBind, Source: parts[0], Target: parts[1]}
		if len(parts) == 3 && parts[2] == "ro" {
			m.ReadOnly = true
		}
		mounts = append(mounts, m)
	}

	containerCfg := &container.Config{
		Image:  spec.Image,
		Env:    env,
		Labels: labels,
	}

	var pidsLimit *int64
	if spec.PidsLimit > 0 {
		pidsLimit = &spec.PidsLimit
	}

	hostCfg := &container.HostConfig{
		Mounts:      mounts,
		CapDrop:     spec.CapDrop,
		SecurityOpt: spec.SecurityOpt,
		Resources: container.Resources{
			Memory:    spec.MemoryBytes,
			NanoCPUs:  spec.NanoCPUs,
			PidsLimit: pidsLimit,
		},
	}

	networkCfg := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			networkName: {},
		},
	}

	resp, err := a.client.ContainerCreate(ctx, containerCfg, hostCfg, networkCfg, nil, name)
	if err != nil {
		return runtime.Handle{}, fmt.Errorf("create container: %w", err)
	}

	return runtime.Handle{ContainerID: resp.ID, ContainerName: name}, nil
}

// Start starts a created or stopped container by name.
func (a *Adapter) Start(ctx context.Context, name string) error {
	if err := a.client.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %s: %w", name, err)
	}
	return nil
}

// Stop gracefully stops a container, forcing after grace elapses.
func (a *Adapter) Stop(ctx context.Context, name string, grace time.Duration) error {
	timeout := int(grace.Seconds())
	if err := a.client.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil {
		if dockerclient.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("stop container %s: %w", name, err)
	}
	return nil
}

// Remove stops (best-effort) and removes a container.
func (a *Adapter) Remove(ctx context.Context, name string, force bool) error {
	_ = a.Stop(ctx, name, 10*time.Second)
	if err := a.client.ContainerRemove(ctx, name, container.RemoveOptions{Force: force}); err != nil {
		if dockerclient.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove container %s: %w", name, err)
	}
	return nil
}

// InspectState reports whether the container exists and is running.
func (a *Adapter) InspectState(ctx context.Context, name string) (runtime.RuntimeState, error) {
	inspect, err := a.client.ContainerInspect(ctx, name)
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return runtime.RuntimeState{Exists: false}, nil
		}
		return runtime.RuntimeState{}, fmt.Errorf("inspect container %s: %w", name, err)
	}
	return runtime.RuntimeState{
		Exists:  true,
		Running: inspect.State != nil && inspect.State.Running,
	}, nil
}

// InspectLabels returns the Docker labels on name.
func (a *Adapter) InspectLabels(ctx context.Context, name string) (map[string]string, error) {
	inspect, err := a.client.ContainerInspect(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("inspect container %s: %w", name, err)
	}
	if inspect.Config == nil {
		return nil, nil
	}
	return inspect.Config.Labels, nil
}

// List returns handles for every container matching labelFilter.
func (a *Adapter) List(ctx context.Context, labelFilter map[string]string) ([]runtime.Handle, error) {
	args := filters.NewArgs(filters.Arg("label", runtime.ManagedByLabel+"="+runtime.ManagedByValue))
	for k, v := range labelFilter {
		args.Add("label", k+"="+v)
	}

	containers, err := a.client.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	handles := make([]runtime.Handle, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		handles = append(handles, runtime.Handle{ContainerID: c.ID, ContainerName: name})
	}
	return handles, nil
}

// ExecInContainer runs argv inside the container and captures stdout/stderr.
func (a *Adapter) ExecInContainer(ctx context.Context, name string, argv []string, timeout time.Duration) (runtime.ExecResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execResp, err := a.client.ContainerExecCreate(ctx, name, container.ExecOptions{
		Cmd:          argv,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return runtime.ExecResult{}, fmt.Errorf("exec create: %w", err)
	}

	attach, err := a.client.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return runtime.ExecResult{}, fmt.Errorf("exec attach: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	_, _ = stdcopy.StdCopy(&stdout, &stderr, attach.Reader)

	inspect, err := a.client.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return runtime.ExecResult{}, fmt.Errorf("exec inspect: %w", err)
	}

	return runtime.ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspect.ExitCode,
	}, nil
}

// Logs returns the container's recent log output.
func (a *Adapter) Logs(ctx context.Context, name string, opts runtime.LogsOptions) (string, error) {
	logOpts := container.LogsOptions{ShowStdout: true, ShowStderr: true}
	if opts.TailLines > 0 {
		logOpts.Tail = strconv.Itoa(opts.TailLines)
	}
	if !opts.Since.IsZero() {
		logOpts.Since = strconv.FormatInt(opts.Since.Unix(), 10)
	}

	rc, err := a.client.ContainerLogs(ctx, name, logOpts)
	if err != nil {
		return "", fmt.Errorf("container logs: %w", err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return "", fmt.Errorf("read logs: %w", err)
	}
	return buf.String(), nil
}

// Available reports whether the Docker daemon is reachable.
func (a *Adapter) Available(ctx context.Context) bool {
	_, err := a.client.Ping(ctx)
	return err == nil
}

var _ runtime.Runtime = (*Adapter)(nil)
