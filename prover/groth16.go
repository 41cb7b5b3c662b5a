package prover

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/groth16"
	groth16_bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/vocdoni/anonsignal/circuits"
	"github.com/vocdoni/anonsignal/circuits/signalproof"
	"github.com/vocdoni/anonsignal/types"
	"go.vocdoni.io/dvote/log"
)

// Groth16 is the gnark Groth16 backend over BN254 for the signal circuit.
type Groth16 struct {
	depth int
	ccs   constraint.ConstraintSystem
	pk    groth16.ProvingKey
	vk    groth16.VerifyingKey
}

// SetupGroth16 compiles the circuit for the given depth and runs a local
// trusted setup. The keys it produces are only meant for development and
// tests, production deployments load pinned artifacts with LoadGroth16.
func SetupGroth16(depth int) (*Groth16, error) {
	if depth <= 0 {
		return nil, fmt.Errorf("invalid tree depth %d", depth)
	}
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, signalproof.NewCircuit(depth),
		frontend.IgnoreUnconstrainedInputs())
	if err != nil {
		return nil, fmt.Errorf("failed to compile signal circuit: %w", err)
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("failed to setup signal circuit: %w", err)
	}
	log.Infow("signal circuit compiled", "depth", depth, "constraints", ccs.GetNbConstraints())
	return &Groth16{depth: depth, ccs: ccs, pk: pk, vk: vk}, nil
}

// LoadGroth16 loads the circuit artifacts and decodes them. A nil proving
// key artifact yields a verify only backend.
func LoadGroth16(ctx context.Context, artifacts *circuits.CircuitArtifacts, depth int) (*Groth16, error) {
	if artifacts == nil {
		return nil, fmt.Errorf("circuit artifacts cannot be nil")
	}
	if err := artifacts.LoadAll(ctx); err != nil {
		return nil, fmt.Errorf("failed to load signal circuit artifacts: %w", err)
	}
	g := &Groth16{depth: depth}

	// Decode the circuit definition
	if len(artifacts.CircuitDefinition()) > 0 {
		g.ccs = groth16.NewCS(ecc.BN254)
		if _, err := g.ccs.ReadFrom(bytes.NewReader(artifacts.CircuitDefinition())); err != nil {
			return nil, fmt.Errorf("failed to read signal circuit definition: %w", err)
		}
		// identity secrets plus siblings and path indices
		if n := g.ccs.GetNbSecretVariables(); n != 2+2*depth {
			return nil, fmt.Errorf("circuit definition has %d secret inputs, depth %d needs %d", n, depth, 2+2*depth)
		}
	}

	// Decode the proving key
	if len(artifacts.ProvingKey()) > 0 {
		if g.ccs == nil {
			return nil, fmt.Errorf("proving key provided without circuit definition")
		}
		g.pk = groth16.NewProvingKey(ecc.BN254)
		if _, err := g.pk.ReadFrom(bytes.NewReader(artifacts.ProvingKey())); err != nil {
			return nil, fmt.Errorf("failed to read signal circuit proving key: %w", err)
		}
	}

	// Decode the verifying key
	if len(artifacts.VerifyingKey()) == 0 {
		return nil, fmt.Errorf("verifying key not provided")
	}
	g.vk = groth16.NewVerifyingKey(ecc.BN254)
	if _, err := g.vk.ReadFrom(bytes.NewReader(artifacts.VerifyingKey())); err != nil {
		return nil, fmt.Errorf("failed to read signal circuit verifying key: %w", err)
	}
	log.Debugw("signal circuit artifacts loaded", "depth", depth, "canProve", g.pk != nil)
	return g, nil
}

// Export serializes the circuit definition, the proving key and the
// verifying key, in the format LoadGroth16 reads.
func (g *Groth16) Export() (ccs, pk, vk []byte, err error) {
	if g.ccs == nil || g.pk == nil || g.vk == nil {
		return nil, nil, nil, fmt.Errorf("backend has no keys to export")
	}
	var ccsBuf, pkBuf, vkBuf bytes.Buffer
	if _, err := g.ccs.WriteTo(&ccsBuf); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to write circuit definition: %w", err)
	}
	if _, err := g.pk.WriteTo(&pkBuf); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to write proving key: %w", err)
	}
	if _, err := g.vk.WriteTo(&vkBuf); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to write verifying key: %w", err)
	}
	return ccsBuf.Bytes(), pkBuf.Bytes(), vkBuf.Bytes(), nil
}

// Depth implements Backend.
func (g *Groth16) Depth() int {
	return g.depth
}

// Prove implements Backend. gnark proving cannot be interrupted, so when ctx
// is done first the proof keeps being computed in the background and its
// result is discarded.
func (g *Groth16) Prove(ctx context.Context, in *signalproof.Inputs) (types.SolidityProof, error) {
	if g.ccs == nil || g.pk == nil {
		return types.SolidityProof{}, fmt.Errorf("%w: backend has no proving key", types.ErrProvingFailed)
	}
	assignment, err := in.Assignment(g.depth)
	if err != nil {
		return types.SolidityProof{}, fmt.Errorf("%w: %w", types.ErrProvingFailed, err)
	}
	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return types.SolidityProof{}, fmt.Errorf("%w: failed to create witness: %w", types.ErrProvingFailed, err)
	}

	type result struct {
		proof groth16.Proof
		err   error
	}
	done := make(chan result, 1)
	go func() {
		proof, err := groth16.Prove(g.ccs, g.pk, witness)
		done <- result{proof, err}
	}()

	select {
	case <-ctx.Done():
		return types.SolidityProof{}, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return types.SolidityProof{}, fmt.Errorf("%w: %w", types.ErrProvingFailed, res.err)
		}
		proof, ok := res.proof.(*groth16_bn254.Proof)
		if !ok {
			return types.SolidityProof{}, fmt.Errorf("%w: unexpected proof type %T", types.ErrProvingFailed, res.proof)
		}
		return packProof(proof), nil
	}
}

// Verify implements Verifier.
func (g *Groth16) Verify(packed types.SolidityProof, pub *types.PublicSignals) error {
	if g.vk == nil {
		return fmt.Errorf("backend has no verifying key")
	}
	if err := checkPublicSignals(pub); err != nil {
		return fmt.Errorf("%w: %w", types.ErrInvalidProof, err)
	}
	proof, err := unpackProof(packed)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrInvalidProof, err)
	}
	assignment, err := signalproof.PublicAssignment(pub, g.depth)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrInvalidProof, err)
	}
	pubWitness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("%w: failed to create public witness: %w", types.ErrInvalidProof, err)
	}
	if err := groth16.Verify(proof, g.vk, pubWitness); err != nil {
		return fmt.Errorf("%w: %w", types.ErrInvalidProof, err)
	}
	return nil
}

// checkPublicSignals rejects missing signals and values outside the scalar
// field, which the witness would otherwise reduce silently.
func checkPublicSignals(pub *types.PublicSignals) error {
	if pub == nil {
		return fmt.Errorf("missing public signals")
	}
	for name, v := range map[string]*types.BigInt{
		"merkleTreeRoot":    pub.Root,
		"nullifierHash":     pub.NullifierHash,
		"signalHash":        pub.SignalHash,
		"externalNullifier": pub.ExternalNullifier,
	} {
		if v == nil {
			return fmt.Errorf("missing %s", name)
		}
		if !inRange(v.MathBigInt(), fr.Modulus()) {
			return fmt.Errorf("%s is not a field element", name)
		}
	}
	return nil
}

func inRange(v, modulus *big.Int) bool {
	return v.Sign() >= 0 && v.Cmp(modulus) < 0
}

// packProof flattens the proof as [A.x, A.y, B.x1, B.x0, B.y1, B.y0, C.x, C.y].
func packProof(p *groth16_bn254.Proof) types.SolidityProof {
	elems := []*fp.Element{
		&p.Ar.X, &p.Ar.Y,
		&p.Bs.X.A1, &p.Bs.X.A0, &p.Bs.Y.A1, &p.Bs.Y.A0,
		&p.Krs.X, &p.Krs.Y,
	}
	var out types.SolidityProof
	for i, e := range elems {
		out[i] = types.BigIntFrom(e.BigInt(new(big.Int)))
	}
	return out
}

// unpackProof is the inverse of packProof. Every coordinate must be a base
// field element and every point must be on its curve.
func unpackProof(packed types.SolidityProof) (*groth16_bn254.Proof, error) {
	if err := packed.Valid(); err != nil {
		return nil, err
	}
	p := new(groth16_bn254.Proof)
	elems := []*fp.Element{
		&p.Ar.X, &p.Ar.Y,
		&p.Bs.X.A1, &p.Bs.X.A0, &p.Bs.Y.A1, &p.Bs.Y.A0,
		&p.Krs.X, &p.Krs.Y,
	}
	for i, e := range elems {
		v := packed[i].MathBigInt()
		if !inRange(v, fp.Modulus()) {
			return nil, fmt.Errorf("proof element %d is not a base field element", i)
		}
		e.SetBigInt(v)
	}
	if !p.Ar.IsOnCurve() || !p.Krs.IsOnCurve() || !p.Bs.IsOnCurve() {
		return nil, fmt.Errorf("proof point is not on curve")
	}
	return p, nil
}
