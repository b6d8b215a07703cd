package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/grantharris33/clawdbot/common/environment"
	"github.com/grantharris33/clawdbot/internal/cage/broker"
	"github.com/grantharris33/clawdbot/internal/cage/pool"
	"github.com/grantharris33/clawdbot/internal/cage/runtime"
	"github.com/grantharris33/clawdbot/internal/cage/runtime/docker"
	"github.com/grantharris33/clawdbot/internal/cage/wrapperapi"
)

// Environment variable names this package reads (spec.md §6.6, layered the
// same way common/environment is used throughout the rest of the module).
const (
	EnvConfigFile      = "CAGE_CONFIG_FILE"
	EnvEnabled         = "CAGE_ENABLED"
	EnvMinWarm         = "CAGE_POOL_MIN_WARM"
	EnvMaxTotal        = "CAGE_POOL_MAX_TOTAL"
	EnvMaxPerAgent     = "CAGE_POOL_MAX_PER_AGENT"
	EnvImage           = "CAGE_IMAGE"
	EnvMemory          = "CAGE_RESOURCES_MEMORY"
	EnvCPUs            = "CAGE_RESOURCES_CPUS"
	EnvPidsLimit       = "CAGE_RESOURCES_PIDS_LIMIT"
	EnvIdleTimeout     = "CAGE_TIMEOUT_IDLE"
	EnvMaxAge          = "CAGE_TIMEOUT_MAX_AGE"
	EnvHealthInterval  = "CAGE_TIMEOUT_HEALTH_INTERVAL"
	EnvStartupTimeout  = "CAGE_TIMEOUT_STARTUP"
	EnvMaintenanceTick = "CAGE_MAINTENANCE_INTERVAL"
	EnvRedisURL        = "CAGE_REDIS_URL"
	EnvRedisKeyPrefix  = "CAGE_REDIS_KEY_PREFIX"
	EnvDockerNetwork   = "CAGE_DOCKER_NETWORK"
	EnvCapDrop         = "CAGE_DOCKER_CAP_DROP"
	EnvSecurityOpts    = "CAGE_DOCKER_SECURITY_OPTS"
	EnvBinds           = "CAGE_DOCKER_BINDS"
	EnvRegistryPath    = "CAGE_REGISTRY_PATH"
	EnvWorkspacePath   = "CAGE_WORKSPACE_PATH"
	EnvHealthAddr      = "CAGE_HEALTH_ADDR"
)

var defaultCapDrop = []string{"ALL"}

// Config is the fully-resolved, validated configuration the daemon wires
// its subsystems from.
type Config struct {
	Enabled bool

	Pool pool.Config

	RedisURL       string
	RedisKeyPrefix string

	DockerNetwork string

	RegistryPath string
	HealthAddr   string
}

// Resolve merges a YAML overlay with environment variables and built-in
// defaults, validates the result, and computes the pool configuration
// fingerprint. For the image, memory, Docker network, Redis URL and Redis
// key prefix, a set environment variable wins over the file value, which
// wins over the built-in default. For the pool caps, CPUs, pids limit,
// timeouts and the cap-drop, security-opt and bind lists, the file value
// wins over the environment variable, which wins over the default. The
// workspace path, registry path, health address and maintenance interval
// come from the environment or the default only.
func Resolve(f File) (Config, error) {
	envOrFile := func(name, fileValue, def string) string {
		if v := environment.StringOr(name, ""); v != "" {
			return v
		}
		if fileValue != "" {
			return fileValue
		}
		return def
	}

	if f.Docker.ContainerPrefix != "" && f.Docker.ContainerPrefix != strings.TrimSuffix(runtime.NamePrefix, "-") {
		return Config{}, fmt.Errorf("config: docker.containerPrefix %q is not configurable in this build (fixed at %q)",
			f.Docker.ContainerPrefix, strings.TrimSuffix(runtime.NamePrefix, "-"))
	}

	memoryStr := envOrFile(EnvMemory, f.Resources.Memory, "512m")
	memoryBytes, err := docker.ParseMemory(memoryStr)
	if err != nil {
		return Config{}, fmt.Errorf("config: resources.memory %q: %w", memoryStr, err)
	}

	cpus := f.Resources.CPUs
	if cpus == 0 {
		cpus = environment.FloatOr(EnvCPUs, 1.0)
	}

	pidsLimit := f.Resources.PidsLimit
	if pidsLimit == 0 {
		pidsLimit = int64(environment.IntOr(EnvPidsLimit, 64))
	}

	minWarm := f.Pool.MinWarm
	if minWarm == 0 {
		minWarm = environment.IntOr(EnvMinWarm, 1)
	}
	maxTotal := f.Pool.MaxTotal
	if maxTotal == 0 {
		maxTotal = environment.IntOr(EnvMaxTotal, 10)
	}
	maxPerAgent := f.Pool.MaxPerAgent
	if maxPerAgent == 0 {
		maxPerAgent = environment.IntOr(EnvMaxPerAgent, maxTotal)
	}

	idleTimeout := durationMsOrEnv(f.Timeouts.IdleMs, EnvIdleTimeout, 5*time.Minute)
	maxAge := durationMsOrEnv(f.Timeouts.MaxAgeMs, EnvMaxAge, 6*time.Hour)
	healthInterval := durationMsOrEnv(f.Timeouts.HealthIntervalMs, EnvHealthInterval, 10*time.Second)
	startupTimeout := durationMsOrEnv(f.Timeouts.StartupMs, EnvStartupTimeout, 30*time.Second)
	maintenanceEvery := environment.DurationOr(EnvMaintenanceTick, time.Minute)

	capDrop := f.Docker.CapDrop
	if len(capDrop) == 0 {
		capDrop = environment.StringSliceOr(EnvCapDrop, defaultCapDrop)
	}
	securityOpts := f.Docker.SecurityOpts
	if len(securityOpts) == 0 {
		securityOpts = environment.StringSliceOr(EnvSecurityOpts, nil)
	}
	binds := f.Docker.Binds
	if len(binds) == 0 {
		binds = environment.StringSliceOr(EnvBinds, nil)
	}

	image := envOrFile(EnvImage, f.Image, "")
	if image == "" {
		return Config{}, fmt.Errorf("config: image is required (set %s or config.image)", EnvImage)
	}

	networkName := envOrFile(EnvDockerNetwork, f.Docker.Network, "cage-net")
	workspacePath := environment.StringOr(EnvWorkspacePath, wrapperapi.DefaultWorkspacePath)

	redisURL := envOrFile(EnvRedisURL, f.Redis.URL, wrapperapi.DefaultRedisURL)
	redisKeyPrefix := envOrFile(EnvRedisKeyPrefix, f.Redis.KeyPrefix, broker.DefaultKeyPrefix)

	poolCfg := pool.Config{
		MinWarm:              minWarm,
		MaxTotal:             maxTotal,
		MaxPerAgent:          maxPerAgent,
		Image:                image,
		MemoryBytes:          memoryBytes,
		NanoCPUs:             int64(cpus * 1e9),
		PidsLimit:            pidsLimit,
		IdleTimeout:          idleTimeout,
		MaxAge:               maxAge,
		HealthInterval:       healthInterval,
		StartupTimeout:       startupTimeout,
		MaintenanceEvery:     maintenanceEvery,
		NetworkName:          networkName,
		CapDrop:              capDrop,
		SecurityOpt:          securityOpts,
		ExtraBinds:           binds,
		Env:                  f.Docker.Env,
		DefaultWorkspacePath: workspacePath,
		BrokerURL:            redisURL,
		BrokerKeyPrefix:      redisKeyPrefix,
	}
	// The fingerprint covers only the container's runtime shape (image,
	// resources, network, binds, env) — not the broker connection, which
	// containers can pick up without being considered "drifted".
	poolCfg.ConfigFingerprint = Fingerprint(poolCfg)

	if err := poolCfg.Validate(); err != nil {
		return Config{}, err
	}

	return Config{
		Enabled:        environment.BoolOr(EnvEnabled, f.Enabled),
		Pool:           poolCfg,
		RedisURL:       redisURL,
		RedisKeyPrefix: redisKeyPrefix,
		DockerNetwork:  networkName,
		RegistryPath:   environment.StringOr(EnvRegistryPath, "/var/lib/cage/registry.db"),
		HealthAddr:     environment.StringOr(EnvHealthAddr, ":9090"),
	}, nil
}

func durationMsOrEnv(fileMs int64, envName string, def time.Duration) time.Duration {
	if fileMs > 0 {
		return time.Duration(fileMs) * time.Millisecond
	}
	return environment.DurationOr(envName, def)
}
