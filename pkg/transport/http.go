package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cordala/erpbridge/pkg/auth"
	"github.com/rs/zerolog"
)

const servicePath = "/mge/service.sbr"

// HTTPChannel is the reference Channel implementation: one POST per Send
// against the gateway's service endpoint, session cookie or bearer token
// attached, network conditions mapped to *Error and gateway error statuses
// to *Fault.
type HTTPChannel struct {
	base   *url.URL
	client *http.Client
	logger zerolog.Logger
}

// HTTPConfig holds the channel configuration.
type HTTPConfig struct {
	// BaseURL is the gateway root, e.g. "http://erp.example.com:8180".
	BaseURL string

	// Timeout bounds one round trip. Defaults to 30s.
	Timeout time.Duration
}

// NewHTTPChannel creates a channel for the given gateway.
func NewHTTPChannel(cfg HTTPConfig, logger zerolog.Logger) (*HTTPChannel, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base url is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &HTTPChannel{
		base:   base,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With().Str("component", "transport").Logger(),
	}, nil
}

// Send performs one round trip. Business faults embedded in 2xx bodies are
// left to the codec; only transport and HTTP-level failures surface here.
func (c *HTTPChannel) Send(ctx context.Context, cred auth.Credential, req Request) (Response, error) {
	u := *c.base
	u.Path = servicePath
	q := u.Query()
	q.Set("serviceName", req.Service)
	q.Set("outputType", "json")
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(req.Body))
	if err != nil {
		return Response{}, &Error{Op: req.Service, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if cred.SessionID != "" {
		httpReq.AddCookie(&http.Cookie{Name: "JSESSIONID", Value: cred.SessionID})
	}
	if cred.Bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+cred.Bearer)
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.logger.Warn().Err(err).Str("service", req.Service).Msg("Round trip failed")
		return Response{}, classifyNetErr(req.Service, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, &Error{Op: req.Service, Err: fmt.Errorf("read body: %w", err)}
	}

	c.logger.Debug().
		Str("service", req.Service).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Round trip complete")

	if fault := faultFromStatus(req.Service, resp.StatusCode, body); fault != nil {
		return Response{}, fault
	}

	return Response{StatusCode: resp.StatusCode, Body: body}, nil
}

// RoundTrip adapts the channel to auth.RoundTripFunc for the login provider.
func (c *HTTPChannel) RoundTrip(ctx context.Context, cred auth.Credential, service string, body []byte) ([]byte, error) {
	resp, err := c.Send(ctx, cred, Request{Service: service, Body: body})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// classifyNetErr maps a net/http client error to a transport Error with the
// timeout/unreachable condition flags set.
func classifyNetErr(service string, err error) *Error {
	te := &Error{Op: service, Err: err}

	if errors.Is(err, context.DeadlineExceeded) {
		te.Timeout = true
		return te
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		te.Timeout = true
		return te
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		te.Unreachable = true
		return te
	}
	if strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "no such host") {
		te.Unreachable = true
	}
	return te
}

// faultFromStatus maps gateway HTTP error statuses to faults. 2xx passes
// through; the codec owns faults the gateway reports inside a 200 body.
func faultFromStatus(service string, status int, body []byte) *Fault {
	if status < 400 {
		return nil
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > 256 {
		msg = msg[:256]
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Fault{Code: FaultUnauthorized, Message: msg, Service: service}
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return &Fault{Code: FaultTimeout, Message: msg, Service: service}
	case status == http.StatusServiceUnavailable || status == http.StatusBadGateway:
		return &Fault{Code: FaultUnavailable, Message: msg, Service: service}
	default:
		return &Fault{Message: msg, Service: service}
	}
}
