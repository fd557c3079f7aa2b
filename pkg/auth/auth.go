// Package auth abstracts the credential exchange with the ERP gateway.
// Legacy username/password login and OAuth2 both reduce to "obtain a session
// credential"; the orchestration core only ever sees this package's types.
package auth

import (
	"context"
	"fmt"
	"time"
)

// Credential names one authenticated channel on the server side. SessionID is
// the gateway's session handle (cookie value); Bearer is set instead when the
// provider speaks OAuth2. Exactly one of the two is expected to be non-empty.
type Credential struct {
	SessionID string    `json:"session_id,omitempty"`
	Bearer    string    `json:"bearer,omitempty"`
	UserCode  int       `json:"user_code,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
}

// Zero reports whether the credential carries no usable handle.
func (c Credential) Zero() bool {
	return c.SessionID == "" && c.Bearer == ""
}

// Provider performs the credential exchange. Reauthenticate replaces a
// credential the server stopped honoring; Invalidate is the best-effort
// server-side logout used when a session is finalized.
type Provider interface {
	Authenticate(ctx context.Context) (Credential, error)
	Reauthenticate(ctx context.Context, old Credential) (Credential, error)
	Invalidate(ctx context.Context, cred Credential) error
}

// Error reports a rejected credential exchange. It is terminal: the retry
// core surfaces it immediately and never retries it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("auth %s: %v", e.Op, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}
