package version

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// CheckSchemaCompatibility checks if the engine can resume from a state file
// written at the given schema version. Returns nil if compatible, error with
// details if not.
//
// Compatibility Rules:
//   - If either version is "main" (development build), compatibility check is skipped
//   - Major versions must match exactly
//   - Minor versions must match exactly
//   - Patch versions can differ (e.g., 1.2.0 can load state written by 1.2.5)
//
// Examples:
//   - Engine 1.2.0, State 1.2.0 -> OK (exact match)
//   - Engine 1.2.1, State 1.2.0 -> OK (patch differs)
//   - Engine 1.3.0, State 1.2.0 -> ERROR (minor differs)
//   - Engine 2.0.0, State 1.2.0 -> ERROR (major differs)
//   - Engine main, State 1.2.0 -> OK (dev build, skip check)
//   - Engine 1.2.0, State main -> OK (dev build, skip check)
func CheckSchemaCompatibility(engineVersion, stateVersion string) error {
	// Strip 'v' prefix if present for consistency
	engineVersion = strings.TrimPrefix(engineVersion, "v")
	stateVersion = strings.TrimPrefix(stateVersion, "v")

	// Skip version check for "main" (development builds)
	if engineVersion == "main" || stateVersion == "main" {
		return nil
	}

	// Parse engine version
	engineSemver, err := semver.NewVersion(engineVersion)
	if err != nil {
		return fmt.Errorf("invalid engine version '%s': %w", engineVersion, err)
	}

	// Parse state version
	stateSemver, err := semver.NewVersion(stateVersion)
	if err != nil {
		return fmt.Errorf("invalid state version '%s': %w", stateVersion, err)
	}

	// Check major version match
	if engineSemver.Major() != stateSemver.Major() {
		return fmt.Errorf("major version mismatch: engine is %d.x.x but state was written by %d.x.x",
			engineSemver.Major(), stateSemver.Major())
	}

	// Check minor version match
	if engineSemver.Minor() != stateSemver.Minor() {
		return fmt.Errorf("minor version mismatch: engine is %d.%d.x but state was written by %d.%d.x",
			engineSemver.Major(), engineSemver.Minor(),
			stateSemver.Major(), stateSemver.Minor())
	}

	// Patch versions can differ, so we're compatible
	return nil
}
