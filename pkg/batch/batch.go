// Package batch accumulates entity saves and ships them to the gateway in
// fixed-size groups. When a group is rejected as a whole, each member is
// retried individually so one bad entity cannot sink its neighbors; entities
// that still fail are announced on the event bus instead of failing the
// flush.
package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cordala/erpbridge/pkg/events"
	"github.com/cordala/erpbridge/pkg/invoker"
	"github.com/cordala/erpbridge/pkg/transport"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// DefaultThroughput is the group size used when Config.Throughput is zero.
const DefaultThroughput = 50

// ErrCancelled is returned by Add and Flush after Cancel.
var ErrCancelled = errors.New("batch engine cancelled")

var (
	entitiesSaved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "erp_batch_entities_total",
		Help: "Entities processed by batch flushes, by outcome",
	}, []string{"outcome"})

	flushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "erp_batch_flushes_total",
		Help: "Batch flushes by mode (grouped or fallback)",
	}, []string{"mode"})
)

// FailureEvent is published for every entity that could not be saved even
// individually. Subscribers receive it on the flushing goroutine after the
// flush has released the engine lock, so handlers may call back into the
// engine.
type FailureEvent struct {
	// Entity is the rejected entity.
	Entity transport.Entity

	// Update reports whether the save carried primary keys.
	Update bool

	// Err is the final error for this entity.
	Err error

	// Message is the flattened error text for subscribers that persist
	// events without the error chain.
	Message string

	// Attempts is how many gateway calls were spent on this entity, the
	// rejected group call included.
	Attempts int

	OccurredAt time.Time
}

// Config tunes one engine.
type Config struct {
	// Service is the gateway save operation the engine invokes.
	Service string

	// Throughput is the group size that triggers an automatic flush.
	Throughput int
}

// Stats is a snapshot of an engine's counters.
type Stats struct {
	// Queued is the number of entities waiting for the next flush.
	Queued int

	// Flushes is the number of completed flushes, automatic and manual.
	Flushes int

	// Saved and Failed count entities over the engine's lifetime.
	Saved  int
	Failed int
}

// Engine queues entities and flushes them in groups. Safe for concurrent use;
// flushes are serialized.
type Engine struct {
	mu        sync.Mutex
	inv       *invoker.Invoker
	codec     transport.Codec
	bus       *events.Bus
	token     uuid.UUID
	cfg       Config
	queue     []transport.Entity
	stats     Stats
	cancelled bool
	logger    zerolog.Logger
}

// NewEngine creates a batch engine bound to one session. A nil bus falls back
// to the process-wide one.
func NewEngine(inv *invoker.Invoker, codec transport.Codec, bus *events.Bus, token uuid.UUID, cfg Config, logger zerolog.Logger) *Engine {
	if cfg.Throughput <= 0 {
		cfg.Throughput = DefaultThroughput
	}
	if bus == nil {
		bus = events.Default()
	}
	return &Engine{
		inv:    inv,
		codec:  codec,
		bus:    bus,
		token:  token,
		cfg:    cfg,
		logger: logger.With().Str("component", "batch").Logger(),
	}
}

// Add queues an entity for saving. When the queue reaches the configured
// throughput it is flushed on the calling goroutine before Add returns.
func (e *Engine) Add(ctx context.Context, ent transport.Entity) error {
	e.mu.Lock()
	if e.cancelled {
		e.mu.Unlock()
		return ErrCancelled
	}
	e.queue = append(e.queue, ent)
	if len(e.queue) < e.cfg.Throughput {
		e.mu.Unlock()
		return nil
	}
	failures, err := e.flushLocked(ctx)
	e.mu.Unlock()

	e.publish(failures)
	return err
}

// Flush sends all queued entities now. Entities that fail even individually
// are reported via FailureEvent, not through the returned error; a non-nil
// error means the flush itself could not run to completion.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	if e.cancelled {
		e.mu.Unlock()
		return ErrCancelled
	}
	failures, err := e.flushLocked(ctx)
	e.mu.Unlock()

	e.publish(failures)
	return err
}

// Cancel discards queued entities and rejects further use of the engine.
// Entities from completed flushes are unaffected.
func (e *Engine) Cancel() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	dropped := len(e.queue)
	e.queue = nil
	e.cancelled = true
	if dropped > 0 {
		e.logger.Warn().Int("dropped", dropped).Msg("Batch cancelled with queued entities")
	}
	return dropped
}

// Stats returns a snapshot of the engine's counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.stats
	s.Queued = len(e.queue)
	return s
}

// flushLocked runs the grouped save and the per-entity fallback with e.mu
// held. It returns the failure events for the caller to publish once the
// lock is released.
func (e *Engine) flushLocked(ctx context.Context) ([]FailureEvent, error) {
	if len(e.queue) == 0 {
		return nil, nil
	}
	group := e.queue
	e.queue = nil

	groupErr := e.saveGroup(ctx, group)
	if groupErr == nil {
		e.stats.Flushes++
		e.stats.Saved += len(group)
		entitiesSaved.WithLabelValues("saved").Add(float64(len(group)))
		flushesTotal.WithLabelValues("grouped").Inc()
		e.logger.Debug().Int("count", len(group)).Msg("Batch saved")
		return nil, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		// Do not grind through fallbacks on a dead context.
		e.queue = group
		return nil, ctxErr
	}

	// Failure events account for the effort spent on the rejected group call
	// on top of the entity's own.
	groupAttempts := e.inv.Attempts(groupErr)

	e.logger.Warn().Int("count", len(group)).Msg("Batch rejected, saving entities individually")
	flushesTotal.WithLabelValues("fallback").Inc()

	var failures []FailureEvent
	for i, ent := range group {
		if err := e.saveGroup(ctx, group[i:i+1]); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				e.queue = group[i:]
				return failures, ctxErr
			}
			failures = append(failures, e.record(ent, err, groupAttempts))
			continue
		}
		e.stats.Saved++
		entitiesSaved.WithLabelValues("saved").Inc()
	}
	e.stats.Flushes++
	return failures, nil
}

// publish delivers failure events with the engine mutex released.
func (e *Engine) publish(failures []FailureEvent) {
	for _, ev := range failures {
		e.bus.Publish(ev)
	}
}

func (e *Engine) saveGroup(ctx context.Context, group []transport.Entity) error {
	body, err := e.codec.Encode(group...)
	if err != nil {
		return err
	}
	_, err = e.inv.Invoke(ctx, e.token, transport.Request{Service: e.cfg.Service, Body: body})
	return err
}

// record counts one unsavable entity and builds its FailureEvent.
func (e *Engine) record(ent transport.Entity, err error, groupAttempts int) FailureEvent {
	e.stats.Failed++
	entitiesSaved.WithLabelValues("failed").Inc()

	update := false
	if k, ok := ent.(transport.Keyed); ok {
		update = k.HasKeys()
	}
	e.logger.Error().
		Err(err).
		Str("entity", ent.EntityName()).
		Bool("update", update).
		Msg("Entity rejected")
	return FailureEvent{
		Entity:     ent,
		Update:     update,
		Err:        err,
		Message:    err.Error(),
		Attempts:   groupAttempts + e.inv.Attempts(err),
		OccurredAt: time.Now(),
	}
}
