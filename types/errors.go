package types

import "errors"

// Errors shared by the member side and the relay. Components wrap them with
// context, callers classify them with KindOf.
var (
	ErrNotAMember           = errors.New("identity is not a member of the group")
	ErrProvingFailed        = errors.New("proof generation failed")
	ErrInvalidProof         = errors.New("invalid proof")
	ErrNullifierAlreadyUsed = errors.New("nullifier already used")
	ErrLedgerUnavailable    = errors.New("ledger unavailable")
	ErrConfirmationTimeout  = errors.New("confirmation timeout")
	ErrMalformedSignal      = errors.New("malformed signal")
)

// ErrorKind classifies protocol failures.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNotAMember
	KindProvingFailed
	KindInvalidProof
	KindNullifierAlreadyUsed
	KindLedgerUnavailable
	KindConfirmationTimeout
	KindMalformedSignal
)

var kindErrors = map[ErrorKind]error{
	KindNotAMember:           ErrNotAMember,
	KindProvingFailed:        ErrProvingFailed,
	KindInvalidProof:         ErrInvalidProof,
	KindNullifierAlreadyUsed: ErrNullifierAlreadyUsed,
	KindLedgerUnavailable:    ErrLedgerUnavailable,
	KindConfirmationTimeout:  ErrConfirmationTimeout,
	KindMalformedSignal:      ErrMalformedSignal,
}

// KindOf returns the kind of the first protocol error found in the err chain.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	for k := KindNotAMember; k <= KindMalformedSignal; k++ {
		if errors.Is(err, kindErrors[k]) {
			return k
		}
	}
	return KindUnknown
}

// Err returns the sentinel error of the kind, nil for KindUnknown.
func (k ErrorKind) Err() error {
	return kindErrors[k]
}

func (k ErrorKind) String() string {
	switch k {
	case KindNotAMember:
		return "NotAMember"
	case KindProvingFailed:
		return "ProvingFailed"
	case KindInvalidProof:
		return "InvalidProof"
	case KindNullifierAlreadyUsed:
		return "NullifierAlreadyUsed"
	case KindLedgerUnavailable:
		return "LedgerUnavailable"
	case KindConfirmationTimeout:
		return "ConfirmationTimeout"
	case KindMalformedSignal:
		return "MalformedSignal"
	default:
		return "Unknown"
	}
}
