package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckSchemaCompatibility(t *testing.T) {
	tests := []struct {
		name          string
		engineVersion string
		stateVersion  string
		expectError   bool
		errorContains string
	}{
		// Compatible cases
		{
			name:          "exact match",
			engineVersion: "1.2.0",
			stateVersion:  "1.2.0",
			expectError:   false,
		},
		{
			name:          "engine patch higher",
			engineVersion: "1.2.1",
			stateVersion:  "1.2.0",
			expectError:   false,
		},
		{
			name:          "state patch higher",
			engineVersion: "1.2.0",
			stateVersion:  "1.2.5",
			expectError:   false,
		},
		{
			name:          "same major minor different patch",
			engineVersion: "2.5.10",
			stateVersion:  "2.5.3",
			expectError:   false,
		},

		// Incompatible cases
		{
			name:          "engine minor higher",
			engineVersion: "1.3.0",
			stateVersion:  "1.2.0",
			expectError:   true,
			errorContains: "minor version mismatch",
		},
		{
			name:          "engine minor lower",
			engineVersion: "1.1.0",
			stateVersion:  "1.2.0",
			expectError:   true,
			errorContains: "minor version mismatch",
		},
		{
			name:          "major version differs",
			engineVersion: "2.0.0",
			stateVersion:  "1.2.0",
			expectError:   true,
			errorContains: "major version mismatch",
		},
		{
			name:          "engine is main",
			engineVersion: "main",
			stateVersion:  "1.2.0",
			expectError:   false,
		},
		{
			name:          "both are main",
			engineVersion: "main",
			stateVersion:  "main",
			expectError:   false,
		},
		{
			name:          "state is main",
			engineVersion: "1.2.0",
			stateVersion:  "main",
			expectError:   false,
		},

		// Edge cases with v prefix
		{
			name:          "v prefix on engine",
			engineVersion: "v1.2.0",
			stateVersion:  "1.2.0",
			expectError:   false,
		},
		{
			name:          "v prefix on state",
			engineVersion: "1.2.0",
			stateVersion:  "v1.2.0",
			expectError:   false,
		},
		{
			name:          "v prefix on both",
			engineVersion: "v1.2.0",
			stateVersion:  "v1.2.0",
			expectError:   false,
		},

		// Edge cases with prerelease and metadata
		{
			name:          "prerelease version",
			engineVersion: "1.2.0-alpha",
			stateVersion:  "1.2.0",
			expectError:   false,
		},
		{
			name:          "build metadata",
			engineVersion: "1.2.0+build123",
			stateVersion:  "1.2.0",
			expectError:   false,
		},

		// Invalid versions
		{
			name:          "invalid engine version",
			engineVersion: "not-a-version",
			stateVersion:  "1.2.0",
			expectError:   true,
			errorContains: "invalid engine version",
		},
		{
			name:          "invalid state version",
			engineVersion: "1.2.0",
			stateVersion:  "not-a-version",
			expectError:   true,
			errorContains: "invalid state version",
		},
		{
			name:          "empty engine version",
			engineVersion: "",
			stateVersion:  "1.2.0",
			expectError:   true,
			errorContains: "invalid engine version",
		},
		{
			name:          "empty state version",
			engineVersion: "1.2.0",
			stateVersion:  "",
			expectError:   true,
			errorContains: "invalid state version",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckSchemaCompatibility(tt.engineVersion, tt.stateVersion)

			if tt.expectError {
				require.Error(t, err)
				if tt.errorContains != "" {
					assert.Contains(t, err.Error(), tt.errorContains)
				}
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestGetVersion(t *testing.T) {
	v := GetVersion()
	assert.Equal(t, Version, v)
}
