//nolint:lll
package api

import (
	"fmt"
	"net/http"

	"github.com/vocdoni/anonsignal/types"
)

// The custom Error type satisfies the error interface.
// Error() returns a human-readable description of the error.
//
// Error codes in the 40001-49999 range are the user's fault,
// and they return HTTP Status 400 or 404 (or even 204), whatever is most appropriate.
// Rejected greetings are the exception: the submission contract answers
// them with HTTP Status 500 and a short reason, and clients tell them apart
// by Code.
//
// Error codes 50001-59999 are the server's fault
// and they return HTTP Status 500 or 503, or something else if appropriate.
//
// NEVER change any of the current error codes, only append new errors after the current last 4XXX or 5XXX
// If you notice there's a gap (say, error code 4010, 4011 and 4013 exist, 4012 is missing) DON'T fill in the gap,
// that code was used in the past for some error (not anymore) and shouldn't be reused.
// There's no correlation between Code and HTTP Status.
var (
	ErrResourceNotFound     = Error{Code: 40001, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("resource not found")}
	ErrMalformedBody        = Error{Code: 40004, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed JSON body")}
	ErrUnauthorized         = Error{Code: 40005, HTTPstatus: http.StatusUnauthorized, Err: fmt.Errorf("invalid admin token")}
	ErrMalformedSignal      = Error{Code: 40006, HTTPstatus: http.StatusInternalServerError, Err: types.ErrMalformedSignal}
	ErrCommitmentExists     = Error{Code: 40007, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("commitment already registered")}
	ErrInvalidProof         = Error{Code: 40008, HTTPstatus: http.StatusInternalServerError, Err: types.ErrInvalidProof}
	ErrNullifierAlreadyUsed = Error{Code: 40009, HTTPstatus: http.StatusInternalServerError, Err: types.ErrNullifierAlreadyUsed}
	ErrNotAMember           = Error{Code: 40010, HTTPstatus: http.StatusInternalServerError, Err: types.ErrNotAMember}

	ErrMarshalingServerJSONFailed = Error{Code: 50001, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("marshaling (server-side) JSON failed")}
	ErrGenericInternalServerError = Error{Code: 50002, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("internal server error")}
	ErrLedgerUnavailable          = Error{Code: 50003, HTTPstatus: http.StatusInternalServerError, Err: types.ErrLedgerUnavailable}
	ErrConfirmationTimeout        = Error{Code: 50004, HTTPstatus: http.StatusInternalServerError, Err: types.ErrConfirmationTimeout}
	ErrProvingFailed              = Error{Code: 50005, HTTPstatus: http.StatusInternalServerError, Err: types.ErrProvingFailed}
)

var kindAPIErrors = map[types.ErrorKind]Error{
	types.KindNotAMember:           ErrNotAMember,
	types.KindProvingFailed:        ErrProvingFailed,
	types.KindInvalidProof:         ErrInvalidProof,
	types.KindNullifierAlreadyUsed: ErrNullifierAlreadyUsed,
	types.KindLedgerUnavailable:    ErrLedgerUnavailable,
	types.KindConfirmationTimeout:  ErrConfirmationTimeout,
	types.KindMalformedSignal:      ErrMalformedSignal,
}

// ErrorFor returns the API error of a protocol failure. Failures outside the
// protocol taxonomy become a generic internal error that does not disclose
// the cause.
func ErrorFor(err error) Error {
	if e, ok := kindAPIErrors[types.KindOf(err)]; ok {
		return e
	}
	return ErrGenericInternalServerError
}

// KindOfCode returns the protocol error kind an API error code stands for.
func KindOfCode(code int) types.ErrorKind {
	for kind, e := range kindAPIErrors {
		if e.Code == code {
			return kind
		}
	}
	return types.KindUnknown
}
