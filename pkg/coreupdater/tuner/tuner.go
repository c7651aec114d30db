// Package tuner turns the configured server performance tier and the
// detected machine resources into a work profile: how many steps one
// invocation may run, for how long, and how many files are hashed in
// parallel while scanning.
package tuner

import (
	"fmt"
	"strings"
	"time"

	"github.com/jamesainslie/coreupdater/pkg/coreupdater/process"
)

// Tier is a coarse performance class of the host.
type Tier string

const (
	TierLow    Tier = "LOW"
	TierNormal Tier = "NORMAL"
	TierHigh   Tier = "HIGH"
)

// ParseTier parses a tier name, case-insensitively.
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToUpper(strings.TrimSpace(s))) {
	case TierLow:
		return TierLow, nil
	case TierNormal, "":
		return TierNormal, nil
	case TierHigh:
		return TierHigh, nil
	default:
		return TierNormal, fmt.Errorf("unknown performance tier %q", s)
	}
}

// SystemResources contains detected system resources.
type SystemResources struct {
	CPUCores     int
	TotalRAM     int64
	AvailableRAM int64
}

// Profile is the tuned configuration for one invocation.
type Profile struct {
	Tier Tier

	// Budget bounds each batch of steps between progress reports.
	Budget process.Budget

	// HashWorkers is the number of files hashed concurrently during a scan.
	HashWorkers int

	// ChunkSize is the number of files per download chunk.
	ChunkSize int
}

// DefaultChunkSize is the number of files fetched per archive download.
const DefaultChunkSize = 100

const (
	maxHashWorkers = 16

	// Hashing reads whole files; below this much free memory the pool is
	// kept small so that page cache is not thrashed.
	lowMemory = 512 * 1024 * 1024
)

// Calculate returns the profile for tier on a machine with resources.
func Calculate(tier Tier, resources SystemResources) Profile {
	cores := max(resources.CPUCores, 1)

	p := Profile{Tier: tier, ChunkSize: DefaultChunkSize}
	switch tier {
	case TierLow:
		p.Budget = process.Budget{MaxSteps: 1, MaxDuration: 10 * time.Second}
		p.HashWorkers = 1
	case TierHigh:
		p.Budget = process.Budget{MaxSteps: 20, MaxDuration: 30 * time.Second}
		p.HashWorkers = min(cores*2, maxHashWorkers)
	default:
		p.Tier = TierNormal
		p.Budget = process.Budget{MaxSteps: 5, MaxDuration: 20 * time.Second}
		p.HashWorkers = min(cores, 4)
	}

	if resources.AvailableRAM > 0 && resources.AvailableRAM < lowMemory {
		p.HashWorkers = min(p.HashWorkers, 2)
	}
	return p
}

// ForTier detects resources and calculates the profile. Detection errors
// fall back to conservative defaults.
func ForTier(tier Tier) Profile {
	resources, err := Detect()
	if err != nil {
		resources = SystemResources{CPUCores: 1}
	}
	return Calculate(tier, resources)
}
