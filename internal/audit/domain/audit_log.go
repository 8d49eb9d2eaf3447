package domain

import "time"

// AuditLog represents an audit event.
type AuditLog struct {
	ID string
	// Username is the name the caller presented, which may not exist in the credential store.
	Username  string
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}

// Actions recorded for credential resolution. Passwords are never part of an entry.
const (
	ActionLoginSuccess = "login_success"
	ActionLoginFailure = "login_failure"
	ActionLoginError   = "login_error"
)

// ResourceIdentity is the resource for resolution events.
const ResourceIdentity = "identity"
