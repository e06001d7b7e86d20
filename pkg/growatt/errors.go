package growatt

import (
	"errors"
	"fmt"
)

// loginInvalidAuthCode is the msg value the classic login endpoint returns
// when the username or password is wrong. Anything else is treated as a
// connectivity problem, not a credential problem.
const loginInvalidAuthCode = "502"

// ErrInvalidAuth indicates the vendor rejected the configured credentials.
// Callers surface this distinctly so the user reconfigures instead of the
// setup being retried forever.
var ErrInvalidAuth = errors.New("growatt: invalid credentials")

// APIError is a non-zero error_code response from the vendor API. The
// vendor's own code and message are preserved verbatim.
type APIError struct {
	Op   string
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("growatt api error during %s: %s (code %d)", e.Op, e.Msg, e.Code)
}

// ParameterError is a request rejected locally before any remote call was
// made, naming the offending field.
type ParameterError struct {
	Field string
	Msg   string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Field, e.Msg)
}
