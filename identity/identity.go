// Package identity derives the member secrets from a seed and exposes the
// public values derived from them.
package identity

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/vocdoni/anonsignal/crypto"
	"github.com/vocdoni/anonsignal/crypto/ethereum"
	"github.com/vocdoni/anonsignal/crypto/hash/mimc"
	"github.com/vocdoni/anonsignal/crypto/hash/poseidon"
	"github.com/vocdoni/anonsignal/types"
)

const (
	trapdoorDomain        = 1
	nullifierSecretDomain = 2
)

// Identity holds the two member secrets. It must never leave the member
// device, which is why it has no serialization methods.
type Identity struct {
	trapdoor        *big.Int
	nullifierSecret *big.Int
	commitment      *big.Int
}

// Derive deterministically computes an identity from the seed. The seed is
// hashed into the field and both secrets are derived from it with Poseidon
// under different domain tags.
func Derive(seed []byte) (*Identity, error) {
	if len(seed) == 0 {
		return nil, fmt.Errorf("empty identity seed")
	}
	seedFF := crypto.BigToFF(crypto.FieldModulus, new(big.Int).SetBytes(ethcrypto.Keccak256(seed)))
	trapdoor, err := poseidon.DomainHash(trapdoorDomain, seedFF)
	if err != nil {
		return nil, fmt.Errorf("cannot derive trapdoor: %w", err)
	}
	nullifierSecret, err := poseidon.DomainHash(nullifierSecretDomain, seedFF)
	if err != nil {
		return nil, fmt.Errorf("cannot derive nullifier secret: %w", err)
	}
	return FromSecrets(trapdoor, nullifierSecret)
}

// DeriveFromKey signs the identity challenge with the wallet key and uses the
// signature as seed. The same key always yields the same identity.
func DeriveFromKey(keys *ethereum.SignKeys) (*Identity, error) {
	signature, err := keys.SignEthereum([]byte(types.IdentityChallenge))
	if err != nil {
		return nil, fmt.Errorf("cannot sign identity challenge: %w", err)
	}
	return Derive(signature)
}

// FromSecrets builds an identity from known secrets.
func FromSecrets(trapdoor, nullifierSecret *big.Int) (*Identity, error) {
	if trapdoor == nil || nullifierSecret == nil {
		return nil, fmt.Errorf("missing identity secrets")
	}
	commitment, err := Commitment(nullifierSecret, trapdoor)
	if err != nil {
		return nil, err
	}
	return &Identity{
		trapdoor:        new(big.Int).Set(trapdoor),
		nullifierSecret: new(big.Int).Set(nullifierSecret),
		commitment:      commitment,
	}, nil
}

// Commitment returns the public commitment of the secrets, the value that is
// inserted in the membership tree.
func Commitment(nullifierSecret, trapdoor *big.Int) (*big.Int, error) {
	commitment, err := mimc.Hash(nullifierSecret, trapdoor)
	if err != nil {
		return nil, fmt.Errorf("cannot compute identity commitment: %w", err)
	}
	return commitment, nil
}

// NullifierHash returns the scope bound nullifier of the secrets.
func NullifierHash(externalNullifier, nullifierSecret *big.Int) (*big.Int, error) {
	h, err := mimc.Hash(externalNullifier, nullifierSecret)
	if err != nil {
		return nil, fmt.Errorf("cannot compute nullifier hash: %w", err)
	}
	return h, nil
}

// Commitment returns the public identity commitment.
func (id *Identity) Commitment() *big.Int {
	return new(big.Int).Set(id.commitment)
}

// Trapdoor returns a copy of the trapdoor secret.
func (id *Identity) Trapdoor() *big.Int {
	return new(big.Int).Set(id.trapdoor)
}

// NullifierSecret returns a copy of the nullifier secret.
func (id *Identity) NullifierSecret() *big.Int {
	return new(big.Int).Set(id.nullifierSecret)
}

// NullifierHash returns the nullifier of the identity for the given scope.
func (id *Identity) NullifierHash(externalNullifier *big.Int) (*big.Int, error) {
	return NullifierHash(externalNullifier, id.nullifierSecret)
}

// String only prints the public commitment.
func (id *Identity) String() string {
	return fmt.Sprintf("identity(%s)", id.commitment.String())
}
