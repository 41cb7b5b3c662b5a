package types

const (
	// CensusTreeDepth is the default number of levels of the membership
	// merkle tree. The circuit artifacts are compiled for a single depth.
	CensusTreeDepth = 20
	// DefaultRootHistorySize is the number of superseded membership roots
	// that are still accepted by the relay.
	DefaultRootHistorySize = 30
	// SignalMaxLen is the maximum length of a signal in bytes.
	SignalMaxLen = 31
	// SignalEncodedLen is the fixed width of an encoded signal.
	SignalEncodedLen = 32
	// SolidityProofLen is the number of field elements of a packed proof.
	SolidityProofLen = 8
	// IdentityChallenge is the message a member signs with their wallet key
	// to obtain the deterministic identity seed.
	IdentityChallenge = "Sign this message to create your identity!"
)
