// Package mimc implements the native MiMC hash over the BN254 scalar field,
// compatible with the gnark std/hash/mimc gadget used inside the circuits.
package mimc

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/vocdoni/anonsignal/crypto"
)

// Hash returns the MiMC hash of the inputs. Every input is reduced into the
// scalar field first.
func Hash(inputs ...*big.Int) (*big.Int, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no inputs provided")
	}
	h := mimc.NewMiMC()
	for i, input := range inputs {
		if input == nil {
			return nil, fmt.Errorf("input %d is nil", i)
		}
		if _, err := h.Write(crypto.BigIntToFieldBytes(input)); err != nil {
			return nil, fmt.Errorf("cannot hash input %d: %w", i, err)
		}
	}
	return new(big.Int).SetBytes(h.Sum(nil)), nil
}

// MustHash is like Hash but panics on error. Only for inputs that are known
// to be valid, such as precomputed zero nodes.
func MustHash(inputs ...*big.Int) *big.Int {
	h, err := Hash(inputs...)
	if err != nil {
		panic(err)
	}
	return h
}
