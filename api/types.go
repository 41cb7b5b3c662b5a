package api

import (
	"github.com/vocdoni/anonsignal/types"
)

// GreetRequest is an anonymous greeting as posted by a member.
type GreetRequest struct {
	Greeting       string              `json:"greeting"`
	NullifierHash  *types.BigInt       `json:"nullifierHash"`
	SolidityProof  types.SolidityProof `json:"solidityProof"`
	MerkleTreeRoot *types.BigInt       `json:"merkleTreeRoot"`
}

// GreetResponse is returned once the greeting is confirmed by the ledger.
type GreetResponse struct {
	ID       string `json:"id"`
	Greeting string `json:"greeting"`
	TxRef    string `json:"txRef"`
}

// GreetReceipt is the forwarding outcome of a greeting. Forwarded is false
// when the ledger rejected it, Error holds the reason.
type GreetReceipt struct {
	ID        string `json:"id"`
	Forwarded bool   `json:"forwarded"`
	TxRef     string `json:"txRef,omitempty"`
	Error     string `json:"error,omitempty"`
	DoneAt    int64  `json:"doneAt,omitempty"`
}

// CensusRoot is the response to a census root request.
type CensusRoot struct {
	Root  *types.BigInt `json:"root"`
	Size  uint64        `json:"size"`
	Depth int           `json:"depth"`
}

// CensusCommitments is the published membership list, in registration
// order. Version is the number of commitments.
type CensusCommitments struct {
	Commitments []*types.BigInt `json:"commitments"`
	Version     uint64          `json:"version"`
	Root        *types.BigInt   `json:"root,omitempty"`
}
