package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/grantharris33/clawdbot/internal/cage/pool"
)

// fingerprintInput is the subset of pool.Config that defines a container's
// runtime shape (spec.md §3): two configurations that agree on every field
// here are interchangeable, so a container built under one is still valid
// under the other.
type fingerprintInput struct {
	Image       string            `json:"image"`
	MemoryBytes int64             `json:"memory_bytes"`
	NanoCPUs    int64             `json:"nano_cpus"`
	PidsLimit   int64             `json:"pids_limit"`
	NetworkName string            `json:"network_name"`
	CapDrop     []string          `json:"cap_drop"`
	SecurityOpt []string          `json:"security_opt"`
	ExtraBinds  []string          `json:"extra_binds"`
	Env         map[string]string `json:"env"`
}

// Fingerprint computes a stable hash of the container-shape-defining fields
// of cfg. No pack library specializes in config hashing; this is stdlib
// crypto/sha256 over canonically-sorted JSON.
func Fingerprint(cfg pool.Config) string {
	sortedCapDrop := append([]string(nil), cfg.CapDrop...)
	sort.Strings(sortedCapDrop)
	sortedSecurityOpt := append([]string(nil), cfg.SecurityOpt...)
	sort.Strings(sortedSecurityOpt)
	sortedBinds := append([]string(nil), cfg.ExtraBinds...)
	sort.Strings(sortedBinds)

	in := fingerprintInput{
		Image:       cfg.Image,
		MemoryBytes: cfg.MemoryBytes,
		NanoCPUs:    cfg.NanoCPUs,
		PidsLimit:   cfg.PidsLimit,
		NetworkName: cfg.NetworkName,
		CapDrop:     sortedCapDrop,
		SecurityOpt: sortedSecurityOpt,
		ExtraBinds:  sortedBinds,
		Env:         cfg.Env,
	}

	// json.Marshal sorts map keys, so Env's encoding is already canonical.
	data, err := json.Marshal(in)
	if err != nil {
		// in is composed entirely of strings/ints/slices/maps of strings;
		// Marshal cannot fail on it.
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
