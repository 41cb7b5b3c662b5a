// Package nullifiers keeps the set of consumed nullifier hashes. Consuming a
// nullifier is an atomic insert-if-absent: for any value, at most one caller
// ever succeeds.
package nullifiers

import (
	"context"
	"math/big"
)

// Registry is the set of consumed nullifier hashes.
type Registry interface {
	// Consume marks the nullifier as used. It returns an error wrapping
	// types.ErrNullifierAlreadyUsed if it was already consumed.
	Consume(ctx context.Context, nullifierHash *big.Int) error
	// Used reports whether the nullifier has been consumed.
	Used(ctx context.Context, nullifierHash *big.Int) (bool, error)
}
