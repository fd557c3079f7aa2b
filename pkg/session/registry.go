// Package session owns the lifecycle of authenticated gateway sessions: one
// principal session created with the registry plus any number of secondary
// sessions acquired for parallelism or isolation. Each session is named by an
// opaque UUID token and is independently lockable and re-authenticable.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cordala/erpbridge/pkg/auth"
	"github.com/cordala/erpbridge/pkg/locks"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "erp_sessions_active",
	Help: "Currently registered gateway sessions (principal included)",
})

// Errors returned by registry operations.
var (
	// ErrUnknownToken is returned for tokens the registry does not hold.
	ErrUnknownToken = errors.New("unknown session token")

	// ErrClosed is returned once the registry has been closed.
	ErrClosed = errors.New("session registry closed")

	// ErrPrincipal is returned when an operation reserved for secondary
	// sessions targets the principal token.
	ErrPrincipal = errors.New("operation not allowed on the principal session")

	// ErrTokenExists is returned when attaching a blob whose token the
	// registry already holds.
	ErrTokenExists = errors.New("session token already registered")
)

// Blob is the portable form of a session: everything another registry, in
// this process or another, needs to resume calls on it. Produced by
// DetachSession and consumed by AttachSession.
type Blob struct {
	Token      uuid.UUID       `json:"token"`
	Credential auth.Credential `json:"credential"`
	CreatedAt  time.Time       `json:"created_at"`
}

type entry struct {
	cred      auth.Credential
	createdAt time.Time
	principal bool
}

// Registry holds the principal session and any secondary sessions. The token
// map has its own internal lock, distinct from the per-session transport
// locks handed out by locks.Manager.
type Registry struct {
	mu        sync.Mutex
	provider  auth.Provider
	locks     *locks.Manager
	sessions  map[uuid.UUID]*entry
	principal uuid.UUID
	closed    bool
	logger    zerolog.Logger
}

// NewRegistry authenticates the principal session and returns the registry.
// The lock manager is shared with the request invoker so both see the same
// per-token mutexes.
func NewRegistry(ctx context.Context, provider auth.Provider, lm *locks.Manager, logger zerolog.Logger) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("credential provider is required")
	}
	if lm == nil {
		lm = locks.NewManager()
	}

	cred, err := provider.Authenticate(ctx)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		provider:  provider,
		locks:     lm,
		sessions:  make(map[uuid.UUID]*entry),
		principal: uuid.New(),
		logger:    logger.With().Str("component", "session").Logger(),
	}
	r.sessions[r.principal] = &entry{cred: cred, createdAt: time.Now(), principal: true}
	sessionsActive.Inc()

	r.logger.Info().Str("token", r.principal.String()).Msg("Principal session established")
	return r, nil
}

// Principal returns the token of the principal session.
func (r *Registry) Principal() uuid.UUID {
	return r.principal
}

// Locks returns the lock manager shared with the invoker.
func (r *Registry) Locks() *locks.Manager {
	return r.locks
}

// Credential returns the current credential for token. The invoker borrows
// it for the duration of one attempt.
func (r *Registry) Credential(token uuid.UUID) (auth.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return auth.Credential{}, ErrClosed
	}
	e, ok := r.sessions[token]
	if !ok {
		return auth.Credential{}, fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	return e.cred, nil
}

// AcquireSession authenticates a new secondary session with the same
// credential provider as the principal and returns its token. The caller
// controls the session count; the registry imposes no cap.
func (r *Registry) AcquireSession(ctx context.Context) (uuid.UUID, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return uuid.Nil, ErrClosed
	}
	r.mu.Unlock()

	// The credential exchange runs outside the registry lock: it is a
	// network call and must not block unrelated token lookups.
	cred, err := r.provider.Authenticate(ctx)
	if err != nil {
		return uuid.Nil, err
	}

	token := uuid.New()
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = r.provider.Invalidate(ctx, cred)
		return uuid.Nil, ErrClosed
	}
	r.sessions[token] = &entry{cred: cred, createdAt: time.Now()}
	r.mu.Unlock()
	sessionsActive.Inc()

	r.logger.Info().Str("token", token.String()).Msg("Secondary session acquired")
	return token, nil
}

// FinalizeSession invalidates the session server-side (best effort) and
// removes it from the registry. Finalizing an unknown or already-finalized
// token is a no-op. The principal session cannot be finalized directly; it
// lives until Close.
func (r *Registry) FinalizeSession(ctx context.Context, token uuid.UUID) error {
	r.mu.Lock()
	e, ok := r.sessions[token]
	if ok && e.principal && !r.closed {
		r.mu.Unlock()
		r.logger.Warn().Str("token", token.String()).Msg("Refusing to finalize principal session")
		return ErrPrincipal
	}
	if ok {
		delete(r.sessions, token)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	sessionsActive.Dec()

	if err := r.provider.Invalidate(ctx, e.cred); err != nil {
		r.logger.Warn().Err(err).Str("token", token.String()).Msg("Server-side logout failed")
	}
	r.locks.Release(token.String())

	r.logger.Debug().Str("token", token.String()).Msg("Session finalized")
	return nil
}

// DetachSession serializes the session named by token for handoff to another
// registry. The session stays registered here until explicitly finalized, so
// the receiving side decides who logs it out.
func (r *Registry) DetachSession(token uuid.UUID) (Blob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return Blob{}, ErrClosed
	}
	e, ok := r.sessions[token]
	if !ok {
		return Blob{}, fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	return Blob{Token: token, Credential: e.cred, CreatedAt: e.createdAt}, nil
}

// AttachSession installs a detached session under its original token. The
// session joins as a secondary one regardless of its role in the registry
// that produced the blob.
func (r *Registry) AttachSession(blob Blob) error {
	if blob.Token == uuid.Nil {
		return errors.New("blob carries no token")
	}
	if blob.Credential.Zero() {
		return errors.New("blob carries no credential")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if _, ok := r.sessions[blob.Token]; ok {
		return fmt.Errorf("%w: %s", ErrTokenExists, blob.Token)
	}
	r.sessions[blob.Token] = &entry{cred: blob.Credential, createdAt: blob.CreatedAt}
	sessionsActive.Inc()

	r.logger.Info().Str("token", blob.Token.String()).Msg("Detached session attached")
	return nil
}

// Reauthenticate re-runs the credential exchange for an existing token in
// place. Used by the invoker when the gateway stops honoring the session.
func (r *Registry) Reauthenticate(ctx context.Context, token uuid.UUID) error {
	r.mu.Lock()
	e, ok := r.sessions[token]
	if !ok || r.closed {
		r.mu.Unlock()
		if r.closed {
			return ErrClosed
		}
		return fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	old := e.cred
	r.mu.Unlock()

	cred, err := r.provider.Reauthenticate(ctx, old)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if e, ok := r.sessions[token]; ok {
		e.cred = cred
	}
	r.mu.Unlock()

	r.logger.Info().Str("token", token.String()).Msg("Session re-authenticated")
	return nil
}

// Count returns the number of registered sessions, principal included.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close finalizes every session, the principal last, and marks the registry
// closed. Idempotent.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	snapshot := make(map[uuid.UUID]*entry, len(r.sessions))
	for t, e := range r.sessions {
		snapshot[t] = e
	}
	r.sessions = make(map[uuid.UUID]*entry)
	r.mu.Unlock()

	var principalEntry *entry
	for token, e := range snapshot {
		if e.principal {
			principalEntry = e
			continue
		}
		if err := r.provider.Invalidate(ctx, e.cred); err != nil {
			r.logger.Warn().Err(err).Str("token", token.String()).Msg("Server-side logout failed")
		}
		r.locks.Release(token.String())
		sessionsActive.Dec()
	}

	if principalEntry != nil {
		if err := r.provider.Invalidate(ctx, principalEntry.cred); err != nil {
			r.logger.Warn().Err(err).Msg("Principal logout failed")
		}
		r.locks.Release(r.principal.String())
		sessionsActive.Dec()
	}

	r.logger.Info().Msg("Session registry closed")
	return nil
}
