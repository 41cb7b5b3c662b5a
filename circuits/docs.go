// Package circuits holds the zkSNARK circuits and the handling of their
// pinned artifacts (compiled constraint system, proving key and verifying
// key).
//
// A member proves, without revealing which member they are, that:
//  1. they know the secrets behind one of the identity commitments of the
//     group (a leaf of the membership tree with the given root),
//  2. the public nullifier hash is derived from the same secrets and the
//     public external nullifier,
//  3. the proof is bound to the public signal hash.
//
// +------------+
// |   Signal   |  BN254, Groth16, MiMC	<- native
// +------------+
package circuits
