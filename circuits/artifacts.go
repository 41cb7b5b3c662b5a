package circuits

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vocdoni/anonsignal/types"
	"golang.org/x/sync/errgroup"
)

// CheckHashes is a flag that determines if the hashes of the artifacts should
// be checked when they are loaded or downloaded. It can be set to false by
// setting the ANONSIGNAL_CHECK_HASHES environment variable to false or 0.
var CheckHashes = true

// BaseDir is the path where the artifact cache is expected to be found. If the
// artifacts are not found there, they will be downloaded and stored. It can be
// set to a different path if needed from other packages. Defaults to the
// env var ANONSIGNAL_ARTIFACTS_DIR or the user home directory.
var BaseDir string

func init() {
	if checkHashes := os.Getenv("ANONSIGNAL_CHECK_HASHES"); checkHashes != "" {
		if strings.ToLower(checkHashes) == "false" || checkHashes == "0" {
			CheckHashes = false
		}
	}
	if dir := os.Getenv("ANONSIGNAL_ARTIFACTS_DIR"); dir != "" {
		BaseDir = dir
	} else {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			BaseDir = filepath.Join(os.TempDir(), "anonsignal-artifacts")
		} else {
			BaseDir = filepath.Join(home, ".cache", "anonsignal-artifacts")
		}
	}
}

// Artifact is a struct that holds the remote URL, the sha256 hash of the
// content and the content itself. The hash pins the content: artifacts are
// cached locally by hash and checked every time they are loaded.
type Artifact struct {
	RemoteURL string
	Hash      types.HexBytes
	Content   []byte
}

// NewArtifact returns an artifact from its remote URL and hex encoded hash.
func NewArtifact(remoteURL, hexHash string) (*Artifact, error) {
	var hash types.HexBytes
	if err := hash.UnmarshalText([]byte(hexHash)); err != nil {
		return nil, fmt.Errorf("invalid artifact hash: %w", err)
	}
	if len(hash) != sha256.Size {
		return nil, fmt.Errorf("invalid artifact hash length %d", len(hash))
	}
	return &Artifact{RemoteURL: remoteURL, Hash: hash}, nil
}

// Load method checks if the artifact content is already loaded, if not, it
// tries to load it from the local cache, and downloads it from the remote URL
// when it is not cached yet. The hash of the content is always checked.
func (k *Artifact) Load(ctx context.Context) error {
	if len(k.Content) != 0 {
		return nil
	}
	if len(k.Hash) == 0 {
		return fmt.Errorf("key hash not provided")
	}
	content, err := readCached(k.Hash)
	if err != nil {
		return err
	}
	if content == nil {
		if err := k.Download(ctx); err != nil {
			return err
		}
		if content, err = readCached(k.Hash); err != nil {
			return err
		}
	}
	if content == nil {
		return fmt.Errorf("no content found")
	}
	k.Content = content
	return nil
}

// Download method downloads the content of the artifact from the remote URL,
// checks the hash of the content and stores it locally. It returns an error if
// the remote URL is not provided or the content cannot be downloaded, or if the
// hash of the content does not match.
func (k *Artifact) Download(ctx context.Context) error {
	if k.RemoteURL == "" {
		return fmt.Errorf("key not cached and remote url not provided")
	}
	if err := ensureBaseDir(); err != nil {
		return err
	}
	return download(ctx, k.RemoteURL, k.Hash)
}

// Store writes content into the local cache and returns the artifact that
// points to it. Used to publish locally generated artifacts.
func Store(content []byte) (*Artifact, error) {
	if err := ensureBaseDir(); err != nil {
		return nil, err
	}
	hash := sha256.Sum256(content)
	path := cachePath(hash[:])
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return nil, fmt.Errorf("error writing artifact %s: %w", path, err)
	}
	return &Artifact{Hash: hash[:], Content: content}, nil
}

// CircuitArtifacts is a struct that holds the artifacts of a zkSNARK circuit
// (definition, proving and verification key). It provides a method to load the
// keys from the local cache or download them from the remote URLs provided.
type CircuitArtifacts struct {
	circuitDefinition *Artifact
	provingKey        *Artifact
	verifyingKey      *Artifact
}

// NewCircuitArtifacts creates a new CircuitArtifacts struct with the circuit
// artifacts provided. It returns the struct with the artifacts set.
func NewCircuitArtifacts(circuit, provingKey, verifyingKey *Artifact) *CircuitArtifacts {
	return &CircuitArtifacts{
		circuitDefinition: circuit,
		provingKey:        provingKey,
		verifyingKey:      verifyingKey,
	}
}

// LoadAll method loads the circuit artifacts into memory, downloading the
// ones that are not cached yet concurrently. Nil artifacts are skipped, so a
// verifier only deployment can omit the proving key.
func (ca *CircuitArtifacts) LoadAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for name, artifact := range map[string]*Artifact{
		"circuit definition": ca.circuitDefinition,
		"proving key":        ca.provingKey,
		"verifying key":      ca.verifyingKey,
	} {
		if artifact == nil {
			continue
		}
		g.Go(func() error {
			if err := artifact.Load(ctx); err != nil {
				return fmt.Errorf("error loading %s: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// CircuitDefinition returns the content of the circuit definition as
// types.HexBytes. If the circuit definition is not loaded, it returns nil.
func (ca *CircuitArtifacts) CircuitDefinition() types.HexBytes {
	if ca.circuitDefinition == nil {
		return nil
	}
	return ca.circuitDefinition.Content
}

// ProvingKey returns the content of the proving key as types.HexBytes. If the
// proving key is not loaded, it returns nil.
func (ca *CircuitArtifacts) ProvingKey() types.HexBytes {
	if ca.provingKey == nil {
		return nil
	}
	return ca.provingKey.Content
}

// VerifyingKey returns the content of the verifying key as types.HexBytes. If the
// verifying key is not loaded, it returns nil.
func (ca *CircuitArtifacts) VerifyingKey() types.HexBytes {
	if ca.verifyingKey == nil {
		return nil
	}
	return ca.verifyingKey.Content
}
