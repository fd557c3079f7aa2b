// Package testutil provides testing doubles for the gateway client.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cordala/erpbridge/pkg/auth"
	"github.com/cordala/erpbridge/pkg/transport"
)

// Call records one Send observed by a ScriptedChannel.
type Call struct {
	Service   string
	Body      []byte
	SessionID string
	Start     time.Time
	End       time.Time
}

// Step is one scripted outcome. Exactly one of Response or Err is used.
type Step struct {
	Response transport.Response
	Err      error

	// Delay holds the call open before answering, for lock and overlap
	// assertions.
	Delay time.Duration
}

// ScriptedChannel is a transport.Channel that answers from a fixed script
// and records every call with wall-clock timestamps. Once the script is
// exhausted the last step repeats.
type ScriptedChannel struct {
	mu    sync.Mutex
	steps []Step
	next  int
	calls []Call
}

// NewScriptedChannel creates a channel that plays steps in order.
func NewScriptedChannel(steps ...Step) *ScriptedChannel {
	return &ScriptedChannel{steps: steps}
}

// OK is a convenience step with the given response body.
func OK(body string) Step {
	return Step{Response: transport.Response{StatusCode: 200, Body: []byte(body)}}
}

// Fail is a convenience step returning err.
func Fail(err error) Step {
	return Step{Err: err}
}

// Send plays the next scripted step.
func (c *ScriptedChannel) Send(ctx context.Context, cred auth.Credential, req transport.Request) (transport.Response, error) {
	c.mu.Lock()
	step := Step{Response: transport.Response{StatusCode: 200}}
	if len(c.steps) > 0 {
		i := c.next
		if i >= len(c.steps) {
			i = len(c.steps) - 1
		}
		step = c.steps[i]
		c.next++
	}
	idx := len(c.calls)
	c.calls = append(c.calls, Call{
		Service:   req.Service,
		Body:      append([]byte(nil), req.Body...),
		SessionID: cred.SessionID,
		Start:     time.Now(),
	})
	c.mu.Unlock()

	if step.Delay > 0 {
		select {
		case <-time.After(step.Delay):
		case <-ctx.Done():
			c.stamp(idx)
			return transport.Response{}, ctx.Err()
		}
	}
	c.stamp(idx)

	if step.Err != nil {
		return transport.Response{}, step.Err
	}
	return step.Response, nil
}

func (c *ScriptedChannel) stamp(idx int) {
	c.mu.Lock()
	c.calls[idx].End = time.Now()
	c.mu.Unlock()
}

// Calls returns a copy of the recorded calls.
func (c *ScriptedChannel) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// CallCount returns the number of recorded calls.
func (c *ScriptedChannel) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// CountingProvider is an auth.Provider that mints sequential credentials and
// counts each operation.
type CountingProvider struct {
	mu      sync.Mutex
	seq     int
	Auths   int
	Reauths int
	Logouts int

	// AuthErr, when set, is returned by Authenticate and Reauthenticate.
	AuthErr error
}

// Authenticate mints the next credential.
func (p *CountingProvider) Authenticate(ctx context.Context) (auth.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.AuthErr != nil {
		return auth.Credential{}, p.AuthErr
	}
	p.seq++
	p.Auths++
	return auth.Credential{SessionID: sessionID(p.seq), IssuedAt: time.Now()}, nil
}

// Reauthenticate mints a fresh credential for an existing session.
func (p *CountingProvider) Reauthenticate(ctx context.Context, old auth.Credential) (auth.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.AuthErr != nil {
		return auth.Credential{}, p.AuthErr
	}
	p.seq++
	p.Reauths++
	return auth.Credential{SessionID: sessionID(p.seq), IssuedAt: time.Now()}, nil
}

// Invalidate counts the logout.
func (p *CountingProvider) Invalidate(ctx context.Context, cred auth.Credential) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Logouts++
	return nil
}

func sessionID(n int) string {
	return fmt.Sprintf("session-%03d", n)
}
