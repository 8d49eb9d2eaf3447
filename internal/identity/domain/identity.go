package domain

import (
	"errors"
	"fmt"
)

// AuthenticationType is the authentication type reported by every identity this service issues,
// whether or not the credentials matched.
const AuthenticationType = "CSLA"

// Sentinel errors for credential lookups. Gateways wrap the driver error with one of these so
// callers can tell an unreachable store apart from a failing procedure with errors.Is.
// An unknown user or wrong password is neither: it is a normal lookup result.
var (
	ErrConnection = errors.New("credential store unreachable")
	ErrQuery      = errors.New("credential store query failed")
)

// Criteria is one credential lookup request. It is built per resolution, handed to the gateway
// once, and dropped. Neither field is validated or normalized here.
type Criteria struct {
	Username string
	Password string
}

// NewCriteria returns the lookup criteria for the given raw credentials.
func NewCriteria(username, password string) Criteria {
	return Criteria{Username: username, Password: password}
}

// String implements fmt.Stringer without the password so criteria never leak into logs.
func (c Criteria) String() string {
	return fmt.Sprintf("Criteria{Username: %q, Password: [REDACTED]}", c.Username)
}

// GoString keeps %#v redacted as well.
func (c Criteria) GoString() string {
	return c.String()
}
