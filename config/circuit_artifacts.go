package config

import (
	"fmt"

	"github.com/vocdoni/anonsignal/circuits"
)

// Artifacts returns the signal circuit artifacts pinned by the config. The
// proving key is optional: a relay only verifies. ArtifactsDir, if set,
// replaces the artifact cache directory.
func (c *CircuitConfig) Artifacts(withProvingKey bool) (*circuits.CircuitArtifacts, error) {
	if c.ArtifactsDir != "" {
		circuits.BaseDir = c.ArtifactsDir
	}
	if c.DefinitionHash == "" || c.VerifyingKeyHash == "" {
		return nil, fmt.Errorf("circuit definition and verifying key hashes are required")
	}
	definition, err := circuits.NewArtifact(c.DefinitionURL, c.DefinitionHash)
	if err != nil {
		return nil, fmt.Errorf("circuit definition: %w", err)
	}
	verifyingKey, err := circuits.NewArtifact(c.VerifyingKeyURL, c.VerifyingKeyHash)
	if err != nil {
		return nil, fmt.Errorf("verifying key: %w", err)
	}
	var provingKey *circuits.Artifact
	if withProvingKey {
		if c.ProvingKeyHash == "" {
			return nil, fmt.Errorf("proving key hash is required")
		}
		if provingKey, err = circuits.NewArtifact(c.ProvingKeyURL, c.ProvingKeyHash); err != nil {
			return nil, fmt.Errorf("proving key: %w", err)
		}
	}
	return circuits.NewCircuitArtifacts(definition, provingKey, verifyingKey), nil
}
