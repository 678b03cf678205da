package mint

import "fmt"

// Error is a typed tool failure with a stable numeric code. Codes are part
// of the API surface and never change meaning.
type Error struct {
	Code    uint32 `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Message }

// Is matches on code so detailed instances compare equal to their sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func (e *Error) detail(format string, args ...any) *Error {
	return &Error{Code: e.Code, Message: e.Message + ", " + fmt.Sprintf(format, args...)}
}

var (
	ErrNotAllowAnonymous   = &Error{Code: 1, Message: "anonymous caller is not allowed"}
	ErrOnlyOwner           = &Error{Code: 2, Message: "caller is not the owner"}
	ErrInvalidModule       = &Error{Code: 3, Message: "invalid token module"}
	ErrAlreadyInstalled    = &Error{Code: 4, Message: "instance already installed"}
	ErrTokenNotFound       = &Error{Code: 5, Message: "token not found"}
	ErrInstallFailed       = &Error{Code: 6, Message: "install token module failed"}
	ErrCallerNotController = &Error{Code: 7, Message: "caller is not a controller of the instance"}
	ErrMintInProgress      = &Error{Code: 8, Message: "issuance already in progress for this instance"}
	ErrUninitialized       = &Error{Code: 9, Message: "uninitialized"}
	ErrAlreadyInitialized  = &Error{Code: 10, Message: "already initialized"}
	ErrInvalidIssuer       = &Error{Code: 11, Message: "invalid issuer"}
	ErrFeeChargeFailed     = &Error{Code: 12, Message: "charge issue fee failed"}
	ErrRemote              = &Error{Code: 10000, Message: "error from remote"}
)

func errInstallFailed(reason string) *Error {
	return ErrInstallFailed.detail("reason: %s", reason)
}

func errFeeChargeFailed(reason string) *Error {
	return ErrFeeChargeFailed.detail("reason: %s", reason)
}

func errRemote(err error) *Error {
	return ErrRemote.detail("detail: %v", err)
}
