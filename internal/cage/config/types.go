// Package config loads and validates the options spec.md §6.6 recognizes,
// from environment variables (the teacher's own layered
// env-var-with-defaults convention, common/environment) with an optional
// YAML overlay, and resolves them into the concrete configuration the
// rest of the module consumes (pool.Config, the broker URL and key prefix,
// the runtime adapter's default network).
package config

// File is the optional YAML overlay (spec.md §6.6's documented shape).
// Every field is optional; a zero value means "not set in the file,"
// leaving Resolve free to fall back to an environment variable or a
// built-in default.
type File struct {
	Enabled bool `yaml:"enabled"`

	Pool struct {
		MinWarm     int `yaml:"minWarm"`
		MaxTotal    int `yaml:"maxTotal"`
		MaxPerAgent int `yaml:"maxPerAgent"`
	} `yaml:"pool"`

	Image string `yaml:"image"`

	Resources struct {
		Memory    string  `yaml:"memory"`
		CPUs      float64 `yaml:"cpus"`
		PidsLimit int64   `yaml:"pidsLimit"`
	} `yaml:"resources"`

	Timeouts struct {
		IdleMs          int64 `yaml:"idleMs"`
		MaxAgeMs        int64 `yaml:"maxAgeMs"`
		HealthIntervalMs int64 `yaml:"healthIntervalMs"`
		StartupMs       int64 `yaml:"startupMs"`
	} `yaml:"timeouts"`

	Redis struct {
		URL       string `yaml:"url"`
		KeyPrefix string `yaml:"keyPrefix"`
	} `yaml:"redis"`

	Docker struct {
		ContainerPrefix string            `yaml:"containerPrefix"`
		Network         string            `yaml:"network"`
		CapDrop         []string          `yaml:"capDrop"`
		SecurityOpts    []string          `yaml:"securityOpts"`
		Binds           []string          `yaml:"binds"`
		Env             map[string]string `yaml:"env"`
	} `yaml:"docker"`
}
