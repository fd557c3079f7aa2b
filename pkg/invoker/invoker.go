// Package invoker executes gateway calls under the session lock and retries
// recoverable failures according to a fixed policy table. Recoverable classes
// wait a tier-specific delay between attempts; unrecoverable ones propagate
// immediately. When retries run out the caller receives the error from the
// first failed attempt, not the last.
package invoker

import (
	"context"
	"time"

	"github.com/cordala/erpbridge/pkg/session"
	"github.com/cordala/erpbridge/pkg/transport"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "erp_requests_total",
		Help: "Gateway call attempts by service and outcome",
	}, []string{"service", "outcome"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "erp_request_retries_total",
		Help: "Retry attempts by failure kind",
	}, []string{"kind"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "erp_request_duration_seconds",
		Help:    "Gateway call duration including retries and waits",
		Buckets: prometheus.DefBuckets,
	}, []string{"service"})
)

// Invoker sends requests through a channel on behalf of registered sessions.
type Invoker struct {
	channel  transport.Channel
	registry *session.Registry
	cfg      Config
	logger   zerolog.Logger
}

// New creates an invoker. A zero MaxRetries in cfg disables retries entirely;
// use DefaultConfig for the production policy.
func New(channel transport.Channel, registry *session.Registry, cfg Config, logger zerolog.Logger) *Invoker {
	return &Invoker{
		channel:  channel,
		registry: registry,
		cfg:      cfg,
		logger:   logger.With().Str("component", "invoker").Logger(),
	}
}

// Invoke sends req on the session named by token. The session lock is held
// only while a single attempt is in flight, never across waits, so other
// callers of the same session interleave between attempts and callers of
// other sessions are never blocked.
func (inv *Invoker) Invoke(ctx context.Context, token uuid.UUID, req transport.Request) (transport.Response, error) {
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(req.Service).Observe(time.Since(start).Seconds())
	}()

	var original error
	for attempt := 0; ; attempt++ {
		resp, err := inv.attempt(ctx, token, req)
		if err == nil {
			requestsTotal.WithLabelValues(req.Service, "success").Inc()
			return resp, nil
		}
		// Every attempt counts, not just the terminal one.
		requestsTotal.WithLabelValues(req.Service, "failure").Inc()
		if original == nil {
			original = err
		}

		kind := Classify(err)
		dec := Decide(kind)
		if !dec.Retry || attempt >= inv.cfg.MaxRetries {
			inv.logger.Error().
				Err(original).
				Str("service", req.Service).
				Str("kind", kind.String()).
				Int("attempts", attempt+1).
				Msg("Request failed")
			return transport.Response{}, original
		}

		retriesTotal.WithLabelValues(kind.String()).Inc()
		inv.logger.Warn().
			Err(err).
			Str("service", req.Service).
			Str("kind", kind.String()).
			Int("attempt", attempt+1).
			Dur("wait", inv.cfg.Delay(dec.Tier)).
			Msg("Request failed, retrying")

		if dec.Reauth {
			if rerr := inv.registry.Reauthenticate(ctx, token); rerr != nil {
				return transport.Response{}, rerr
			}
		}
		if err := inv.wait(ctx, dec.Tier); err != nil {
			return transport.Response{}, err
		}
	}
}

// attempt performs one locked round trip.
func (inv *Invoker) attempt(ctx context.Context, token uuid.UUID, req transport.Request) (transport.Response, error) {
	mu := inv.registry.Locks().Acquire(token.String())
	mu.Lock()
	defer mu.Unlock()

	cred, err := inv.registry.Credential(token)
	if err != nil {
		return transport.Response{}, err
	}
	return inv.channel.Send(ctx, cred, req)
}

// wait sleeps for the tier delay or until ctx is done.
func (inv *Invoker) wait(ctx context.Context, tier Tier) error {
	d := inv.cfg.Delay(tier)
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Attempts reports how many attempts the retry policy spends on err before
// propagating it. Failure accounting uses it to record effort without the
// invoker wrapping the error it returns.
func (inv *Invoker) Attempts(err error) int {
	if err == nil {
		return 0
	}
	if Decide(Classify(err)).Retry {
		return inv.cfg.MaxRetries + 1
	}
	return 1
}
