package domain

import "time"

// ResourceSample is one reading of host pressure.
//
// LoadRatio is the 1-minute load average normalized by CPU count (1.0 means
// fully loaded; values up to ~2 occur on saturated hosts). MemoryPressure is
// the used-memory fraction in [0,1]. Fallback is set when the OS query
// failed and conservative defaults were substituted.
type ResourceSample struct {
	LoadRatio      float64   `json:"load_ratio"`
	MemoryPressure float64   `json:"memory_pressure"`
	Fallback       bool      `json:"fallback,omitempty"`
	SampledAt      time.Time `json:"sampled_at"`
}
