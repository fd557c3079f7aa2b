package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Gateway service names for the legacy login protocol.
const (
	ServiceLogin  = "MobileLoginSP.login"
	ServiceLogout = "MobileLoginSP.logout"
)

// RoundTripFunc performs one gateway round trip for the credential exchange.
// It exists so this package does not depend on pkg/transport: any Channel can
// be adapted with a closure. The call is made with the given credential,
// which is zero for the initial login.
type RoundTripFunc func(ctx context.Context, cred Credential, service string, body []byte) ([]byte, error)

// GatewayProvider implements the legacy username/password exchange against
// the gateway's login service.
type GatewayProvider struct {
	roundTrip RoundTripFunc
	username  string
	password  string
	logger    zerolog.Logger
}

// NewGatewayProvider builds a provider that logs in through rt with the given
// credentials.
func NewGatewayProvider(rt RoundTripFunc, username, password string, logger zerolog.Logger) *GatewayProvider {
	return &GatewayProvider{
		roundTrip: rt,
		username:  username,
		password:  password,
		logger:    logger.With().Str("component", "auth").Logger(),
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	SessionID string `json:"sessionId"`
	UserCode  int    `json:"userCode"`
}

// Authenticate performs the login round trip and returns a fresh credential.
func (p *GatewayProvider) Authenticate(ctx context.Context) (Credential, error) {
	body, err := json.Marshal(loginRequest{Username: p.username, Password: p.password})
	if err != nil {
		return Credential{}, &Error{Op: "login", Err: err}
	}

	raw, err := p.roundTrip(ctx, Credential{}, ServiceLogin, body)
	if err != nil {
		return Credential{}, &Error{Op: "login", Err: err}
	}

	var resp loginResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Credential{}, &Error{Op: "login", Err: fmt.Errorf("decode login response: %w", err)}
	}
	if resp.SessionID == "" {
		return Credential{}, &Error{Op: "login", Err: errors.New("gateway returned no session id")}
	}

	p.logger.Info().Int("user_code", resp.UserCode).Msg("Authenticated")

	return Credential{
		SessionID: resp.SessionID,
		UserCode:  resp.UserCode,
		IssuedAt:  time.Now(),
	}, nil
}

// Reauthenticate discards the stale credential server-side (best effort) and
// runs a fresh login.
func (p *GatewayProvider) Reauthenticate(ctx context.Context, old Credential) (Credential, error) {
	if !old.Zero() {
		if err := p.Invalidate(ctx, old); err != nil {
			p.logger.Warn().Err(err).Msg("Logout of stale session failed")
		}
	}
	return p.Authenticate(ctx)
}

// Invalidate logs the credential out server-side. Failures are returned but
// callers treat them as best-effort.
func (p *GatewayProvider) Invalidate(ctx context.Context, cred Credential) error {
	if cred.Zero() {
		return nil
	}
	if _, err := p.roundTrip(ctx, cred, ServiceLogout, nil); err != nil {
		return &Error{Op: "logout", Err: err}
	}
	p.logger.Debug().Msg("Session invalidated")
	return nil
}
