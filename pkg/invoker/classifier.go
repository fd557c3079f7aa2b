package invoker

import (
	"context"
	"errors"
	"strings"

	"github.com/cordala/erpbridge/pkg/auth"
	"github.com/cordala/erpbridge/pkg/transport"
)

// FailureKind is the closed set of failure classes the retry loop knows how
// to handle. Every error coming back from a call maps to exactly one kind.
type FailureKind int

const (
	// KindFatal covers everything the loop cannot recover from: business
	// faults, malformed requests, cancelled contexts, auth failures.
	KindFatal FailureKind = iota

	// KindUnauthorized means the gateway no longer honors the session.
	KindUnauthorized

	// KindTimeout means the call ran but did not finish in time.
	KindTimeout

	// KindDeadlock means the gateway aborted the call to break a
	// database deadlock.
	KindDeadlock

	// KindTemporarilyUnavailable means the gateway answered but refused
	// to serve the call.
	KindTemporarilyUnavailable

	// KindInaccessible means the gateway could not be reached at all.
	KindInaccessible
)

// String returns the kind name.
func (k FailureKind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindTimeout:
		return "timeout"
	case KindDeadlock:
		return "deadlock"
	case KindTemporarilyUnavailable:
		return "temporarily_unavailable"
	case KindInaccessible:
		return "inaccessible"
	default:
		return "fatal"
	}
}

// Decision is one row of the retry policy table.
type Decision struct {
	// Retry reports whether the call may be attempted again.
	Retry bool

	// Reauth requests a fresh credential exchange before the next attempt.
	Reauth bool

	// Tier selects the wait class applied before the next attempt.
	Tier Tier
}

// Classify maps an error to its failure kind. Structured errors from the
// transport decide directly; faults without a known code fall back to
// message patterns before giving up as fatal.
func Classify(err error) FailureKind {
	if err == nil {
		return KindFatal
	}

	var authErr *auth.Error
	if errors.As(err, &authErr) {
		return KindFatal
	}

	var terr *transport.Error
	if errors.As(err, &terr) {
		switch {
		case terr.Timeout:
			return KindTimeout
		case terr.Unreachable:
			return KindInaccessible
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return KindFatal
		}
		return KindInaccessible
	}

	var fault *transport.Fault
	if errors.As(err, &fault) {
		switch fault.Code {
		case transport.FaultUnauthorized:
			return KindUnauthorized
		case transport.FaultTimeout:
			return KindTimeout
		case transport.FaultDeadlock:
			return KindDeadlock
		case transport.FaultUnavailable:
			return KindTemporarilyUnavailable
		case transport.FaultInaccessible:
			return KindInaccessible
		}
		return classifyMessage(fault.Message)
	}

	return KindFatal
}

// classifyMessage matches fault text for gateways that report failure classes
// only in prose. Patterns are checked most specific first.
func classifyMessage(msg string) FailureKind {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "deadlock"):
		return KindDeadlock
	case strings.Contains(m, "not authorized"), strings.Contains(m, "session expired"):
		return KindUnauthorized
	case strings.Contains(m, "timed out"), strings.Contains(m, "timeout"):
		return KindTimeout
	case strings.Contains(m, "unavailable"):
		return KindTemporarilyUnavailable
	default:
		return KindFatal
	}
}

// Decide returns the policy row for a failure kind.
func Decide(kind FailureKind) Decision {
	switch kind {
	case KindUnauthorized:
		return Decision{Retry: true, Reauth: true, Tier: TierNone}
	case KindTimeout:
		return Decision{Retry: true, Tier: TierFree}
	case KindDeadlock:
		return Decision{Retry: true, Tier: TierStable}
	case KindTemporarilyUnavailable:
		return Decision{Retry: true, Tier: TierUnstable}
	case KindInaccessible:
		return Decision{Retry: true, Reauth: true, Tier: TierBreakdown}
	default:
		return Decision{}
	}
}
