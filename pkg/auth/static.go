package auth

import "context"

// StaticProvider hands out a fixed credential. Useful for tests and for
// attaching to a gateway that authenticates out of band (e.g. a pre-issued
// OAuth2 token).
type StaticProvider struct {
	Cred Credential
}

// Authenticate returns the fixed credential.
func (p *StaticProvider) Authenticate(ctx context.Context) (Credential, error) {
	return p.Cred, nil
}

// Reauthenticate returns the fixed credential unchanged.
func (p *StaticProvider) Reauthenticate(ctx context.Context, old Credential) (Credential, error) {
	return p.Cred, nil
}

// Invalidate is a no-op.
func (p *StaticProvider) Invalidate(ctx context.Context, cred Credential) error {
	return nil
}
