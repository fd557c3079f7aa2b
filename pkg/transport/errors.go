package transport

import "fmt"

// Well-known gateway fault codes. The classifier in pkg/invoker maps these to
// failure kinds; codes outside this set are treated as fatal business faults.
const (
	FaultUnauthorized = "UNAUTHORIZED"
	FaultTimeout      = "TIMEOUT"
	FaultDeadlock     = "DEADLOCK"
	FaultUnavailable  = "UNAVAILABLE"
	FaultInaccessible = "INACCESSIBLE"
)

// Error is a transport-level failure: the request never produced a usable
// gateway reply. Timeout and Unreachable describe the network condition so
// the classifier can pick a retry tier without inspecting error strings.
type Error struct {
	Op          string
	Timeout     bool
	Unreachable bool
	Err         error
}

func (e *Error) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("transport %s: timeout: %v", e.Op, e.Err)
	case e.Unreachable:
		return fmt.Sprintf("transport %s: host unreachable: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
	}
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Fault is a failure reported by the gateway itself: the round trip completed
// but the server answered with an error status. Code is one of the Fault*
// constants when the gateway supplied a machine-readable code, otherwise
// empty with the raw message preserved.
type Fault struct {
	Code    string
	Message string
	Service string
}

func (f *Fault) Error() string {
	if f.Code != "" {
		return fmt.Sprintf("gateway fault %s (%s): %s", f.Code, f.Service, f.Message)
	}
	return fmt.Sprintf("gateway fault (%s): %s", f.Service, f.Message)
}
