package preflight

import (
	"context"

	"lostfound/internal/config"
)

// minFreeBytes is the free-space floor for the evidence volume.
const minFreeBytes = 256 << 20

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Evidence directory", cfg.Paths.EvidenceDir),
		CheckDirectoryAccess("Capture directory", cfg.Paths.CaptureDir),
	}
	if cfg.Paths.LogDir != "" {
		results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	}
	results = append(results, CheckFreeSpace("Evidence volume", cfg.Paths.EvidenceDir, minFreeBytes))
	results = append(results, CheckActuatorFromConfig(ctx, cfg))
	results = append(results, CheckCameraFromConfig(ctx, cfg))
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
