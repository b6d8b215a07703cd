package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grantharris33/clawdbot/internal/cage/config"
)

func clearCageEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		config.EnvEnabled, config.EnvMinWarm, config.EnvMaxTotal, config.EnvMaxPerAgent,
		config.EnvImage, config.EnvMemory, config.EnvCPUs, config.EnvPidsLimit,
		config.EnvIdleTimeout, config.EnvMaxAge, config.EnvHealthInterval, config.EnvStartupTimeout,
		config.EnvRedisURL, config.EnvRedisKeyPrefix, config.EnvDockerNetwork,
		config.EnvCapDrop, config.EnvSecurityOpts, config.EnvBinds,
		config.EnvRegistryPath, config.EnvHealthAddr,
	} {
		orig, had := os.LookupEnv(name)
		os.Unsetenv(name)
		t.Cleanup(func() {
			if had {
				os.Setenv(name, orig)
			}
		})
	}
}

func TestResolve_RequiresImage(t *testing.T) {
	clearCageEnv(t)
	_, err := config.Resolve(config.File{})
	require.Error(t, err)
}

func TestResolve_AppliesDefaultsWhenUnset(t *testing.T) {
	clearCageEnv(t)
	os.Setenv(config.EnvImage, "cage/agent:latest")
	t.Cleanup(func() { os.Unsetenv(config.EnvImage) })

	cfg, err := config.Resolve(config.File{})
	require.NoError(t, err)
	require.Equal(t, "cage/agent:latest", cfg.Pool.Image)
	require.Equal(t, 1, cfg.Pool.MinWarm)
	require.Equal(t, 10, cfg.Pool.MaxTotal)
	require.NotEmpty(t, cfg.Pool.ConfigFingerprint)
	require.Contains(t, cfg.Pool.CapDrop, "ALL")
}

func TestResolve_EnvOverridesFile(t *testing.T) {
	clearCageEnv(t)
	os.Setenv(config.EnvImage, "cage/agent:env")
	t.Cleanup(func() { os.Unsetenv(config.EnvImage) })

	f := config.File{}
	f.Image = "cage/agent:file"

	cfg, err := config.Resolve(f)
	require.NoError(t, err)
	require.Equal(t, "cage/agent:env", cfg.Pool.Image)
}

func TestResolve_RejectsUnsupportedContainerPrefix(t *testing.T) {
	clearCageEnv(t)
	os.Setenv(config.EnvImage, "cage/agent:latest")
	t.Cleanup(func() { os.Unsetenv(config.EnvImage) })

	f := config.File{}
	f.Docker.ContainerPrefix = "totally-different"

	_, err := config.Resolve(f)
	require.Error(t, err)
}

func TestFingerprint_StableAcrossCapDropOrdering(t *testing.T) {
	clearCageEnv(t)
	os.Setenv(config.EnvImage, "cage/agent:latest")
	t.Cleanup(func() { os.Unsetenv(config.EnvImage) })

	f1 := config.File{}
	f1.Docker.CapDrop = []string{"ALL", "NET_RAW"}
	f2 := config.File{}
	f2.Docker.CapDrop = []string{"NET_RAW", "ALL"}

	cfg1, err := config.Resolve(f1)
	require.NoError(t, err)
	cfg2, err := config.Resolve(f2)
	require.NoError(t, err)
	require.Equal(t, cfg1.Pool.ConfigFingerprint, cfg2.Pool.ConfigFingerprint)
}

func TestValidateAgentConfig_AcceptsEmptyAndValidJSON(t *testing.T) {
	require.NoError(t, config.ValidateAgentConfig(""))
	require.NoError(t, config.ValidateAgentConfig(`{"system_prompt": "be terse", "model": "sonnet"}`))
}

func TestValidateAgentConfig_RejectsMalformedJSON(t *testing.T) {
	require.Error(t, config.ValidateAgentConfig(`{not json`))
}

func TestValidateAgentConfig_RejectsSchemaViolation(t *testing.T) {
	require.Error(t, config.ValidateAgentConfig(`{"mcp_servers": [{"name": "fs"}]}`))
}
