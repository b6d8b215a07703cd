// Package runtime defines the narrow contract over the container runtime
// (spec.md §4.3) and the container-naming rules the rest of the module
// builds on.
package runtime

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// NamePrefix is the fixed prefix every container this module manages carries.
const NamePrefix = "cage-"

// ManagedByLabel is the discriminator label every managed container carries
// (spec.md §6.5); List filters on it.
const ManagedByLabel = "cage.managed-by"

// ManagedByValue is the value of ManagedByLabel on containers this module owns.
const ManagedByValue = "cage"

const (
	LabelSession     = "cage.session-key"
	LabelAgentID     = "cage.agent-id"
	LabelCreatedAtMs = "cage.created-at-ms"
	LabelFingerprint = "cage.config-fingerprint"
)

var unsafeNameChars = regexp.MustCompile(`[^a-z0-9]+`)

// ContainerNameFor derives a safe container name from a caller-supplied
// session key: lowercase, collapse non-alphanumerics to a single dash, trim
// leading/trailing dashes, truncate to 32 characters, then append a stable
// 8-hex-character fingerprint of the original key so near-equal keys never
// collide (spec.md §3).
func ContainerNameFor(sessionKey string) string {
	lower := strings.ToLower(sessionKey)
	safe := unsafeNameChars.ReplaceAllString(lower, "-")
	safe = strings.Trim(safe, "-")
	if len(safe) > 32 {
		safe = safe[:32]
	}
	safe = strings.Trim(safe, "-")

	sum := sha256.Sum256([]byte(sessionKey))
	fingerprint := hex.EncodeToString(sum[:])[:8]

	if safe == "" {
		return NamePrefix + fingerprint
	}
	return NamePrefix + safe + "-" + fingerprint
}

// ContainerSpec describes how a container should be created (spec.md §4.3).
type ContainerSpec struct {
	// SessionKey is the logical session this container serves, or a
	// synthetic warm-pool placeholder key.
	SessionKey string
	// AgentID is the optional agent-instance identifier.
	AgentID string
	// Image is the container image reference.
	Image string
	// ConfigFingerprint is stamped onto the container's labels so drift
	// detection (spec.md §3) can compare it against the live configuration.
	ConfigFingerprint string

	// Resource caps.
	MemoryBytes int64
	NanoCPUs    int64
	PidsLimit   int64

	// NetworkName is the Docker network to attach; empty uses the adapter's
	// default.
	NetworkName string
	// CapDrop lists Linux capabilities to drop.
	CapDrop []string
	// SecurityOpt lists Docker --security-opt values.
	SecurityOpt []string

	// WorkspaceHostPath is bind-mounted to WorkspacePath inside the container.
	WorkspaceHostPath string
	// WorkspacePath is the in-container workspace mount point.
	WorkspacePath string
	// ExtraBinds are additional host:container[:mode] bind specs.
	ExtraBinds []string

	// Env is environment injected on top of the standard wrapper contract
	// variables (spec.md §6.1), which the adapter always sets from the
	// other fields above.
	Env map[string]string

	// BrokerURL is injected as REDIS_URL.
	BrokerURL string
	// BrokerKeyPrefix is injected as CAGE_BROKER_PREFIX when non-empty,
	// keeping the container's broker key namespace in sync with the host's.
	BrokerKeyPrefix string
	// GatewayURL/GatewayToken are injected for the in-container tool sidecar.
	GatewayURL   string
	GatewayToken string
	// ParentSessionID is injected as PARENT_SESSION_ID when non-empty.
	ParentSessionID string
	// Model is injected as CLAUDE_MODEL when non-empty.
	Model string
	// AgentConfigJSON is injected as CLAUDE_CONFIG when non-empty.
	AgentConfigJSON string
}

// Handle identifies a created container.
type Handle struct {
	ContainerID   string
	ContainerName string
}

// RuntimeState is the minimal liveness view the pool manager needs.
type RuntimeState struct {
	Exists  bool
	Running bool
}

// ExecResult is the outcome of a one-shot exec inside a container.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Logs options.
type LogsOptions struct {
	TailLines int
	Since     time.Time
}

// Labels bundles the fixed discriminator label with session/agent/creation/
// fingerprint metadata (spec.md §6.5).
func Labels(spec ContainerSpec, createdAt time.Time) map[string]string {
	labels := map[string]string{
		ManagedByLabel:   ManagedByValue,
		LabelSession:     spec.SessionKey,
		LabelCreatedAtMs: strconv.FormatInt(createdAt.UnixMilli(), 10),
		LabelFingerprint: spec.ConfigFingerprint,
	}
	if spec.AgentID != "" {
		labels[LabelAgentID] = spec.AgentID
	}
	return labels
}
