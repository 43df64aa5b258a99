// Package config collects every tunable named in spec.md §6 into one
// struct, defaulted the way the core specifies and overridable by the CLI
// shim in cmd/tiermemd.
package config

import (
	"github.com/oichkatzele/tiermem/internal/manager"
	"github.com/oichkatzele/tiermem/internal/policy"
	"github.com/oichkatzele/tiermem/internal/region"
	"github.com/oichkatzele/tiermem/internal/sampler"
	"github.com/oichkatzele/tiermem/internal/tier"
)

// LargeAllocThreshold is the size above which an external shim would hand
// an allocation to register_region rather than managing it itself.
const LargeAllocThreshold = 1 << 30

// Config is the full set of startup tunables.
type Config struct {
	LargeAllocThreshold int64
	PageSize            int64

	PolicyIntervalMS      int
	MaxManagedRegions     int
	PageStatsHashSize     int
	HotThreshold          float64
	ColdThreshold         float64
	ConfidenceMin         float64
	MinResidenceNS        int64
	MaxMigrationsPerCycle int

	FastCapacity int64
	SlowCapacity int64

	SamplerEnabled   bool
	SamplePeriod     int64
	SamplerRingPages int

	MetricsAddr string
}

// Default returns the tunables at their spec.md §6 defaults.
func Default() Config {
	return Config{
		LargeAllocThreshold:   LargeAllocThreshold,
		PageSize:              4096,
		PolicyIntervalMS:      policy.DefaultIntervalMS,
		MaxManagedRegions:     region.DefaultMaxRegions,
		PageStatsHashSize:     0, // 0 selects pagestats.DefaultBucketCount
		HotThreshold:          policy.DefaultHotThreshold,
		ColdThreshold:         policy.DefaultColdThreshold,
		ConfidenceMin:         policy.DefaultConfidenceMin,
		MinResidenceNS:        policy.DefaultMinResidenceNS,
		MaxMigrationsPerCycle: policy.DefaultMaxMigrationsRun,
		FastCapacity:          tier.DefaultFastCapacity,
		SlowCapacity:          tier.DefaultSlowCapacity,
		SamplerEnabled:        false,
		SamplePeriod:          sampler.DefaultSamplePeriod,
		SamplerRingPages:      sampler.DefaultRingPages,
		MetricsAddr:           "",
	}
}

// ManagerConfig projects the subset of Config internal/manager.New consumes.
func (c Config) ManagerConfig() manager.Config {
	return manager.Config{
		PageStatsHashSize:     int(c.PageStatsHashSize),
		MaxManagedRegions:     c.MaxManagedRegions,
		FastCapacity:          c.FastCapacity,
		SlowCapacity:          c.SlowCapacity,
		PolicyIntervalMS:      c.PolicyIntervalMS,
		ConfidenceMin:         c.ConfidenceMin,
		MaxMigrationsPerCycle: c.MaxMigrationsPerCycle,
		HotThreshold:          c.HotThreshold,
		ColdThreshold:         c.ColdThreshold,
		MinResidenceNS:        c.MinResidenceNS,
		SamplerEnabled:        c.SamplerEnabled,
		SamplerRingPages:      c.SamplerRingPages,
		SamplerPeriod:         c.SamplePeriod,
	}
}
