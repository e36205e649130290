package common

import "fmt"

// Error is a program failure with a stable numeric code and name. Clients
// match on Name or Code, so both are part of the public interface.
type Error struct {
	Code uint32
	Name string
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Name, e.Code, e.Msg)
}

// Is matches any *Error carrying the same code and name, so wrapped copies
// created with Wrap still satisfy errors.Is against the sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Name == e.Name
}

// Wrap returns a copy of the sentinel with additional detail in the message.
func (e *Error) Wrap(format string, args ...any) *Error {
	return &Error{Code: e.Code, Name: e.Name, Msg: fmt.Sprintf("%s: %s", e.Msg, fmt.Sprintf(format, args...))}
}

// Framework errors shared by every program.
var (
	ErrAccountAlreadyInitialized = &Error{Code: 0, Name: "AccountAlreadyInitialized", Msg: "account already initialized"}
	ErrInsufficientFunds         = &Error{Code: 1, Name: "InsufficientFunds", Msg: "insufficient funds"}
	ErrUnauthorized              = &Error{Code: 2001, Name: "Unauthorized", Msg: "signer does not hold the required role"}
	ErrConstraintSeeds           = &Error{Code: 2006, Name: "ConstraintSeeds", Msg: "seeds constraint was violated"}
	ErrAccountNotFound           = &Error{Code: 3012, Name: "AccountNotFound", Msg: "account not found"}
)
