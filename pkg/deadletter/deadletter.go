// Package deadletter persists batch failure events to a Redis list so
// rejected entities survive the process and can be inspected or replayed
// later. The queue is a plain event-bus subscriber; the batch engine never
// learns it exists.
package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cordala/erpbridge/pkg/batch"
	"github.com/cordala/erpbridge/pkg/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultKey is the Redis list the queue writes to when none is configured.
const DefaultKey = "erpbridge:deadletter"

var (
	entriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "erp_deadletter_entries_total",
		Help: "Failure events persisted to the dead-letter queue",
	})

	errorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "erp_deadletter_errors_total",
		Help: "Dead-letter queue write failures",
	})
)

// Entry is the persisted form of a failure event. The entity is stored as
// its JSON rendering; replay tooling reconstructs it from there.
type Entry struct {
	EntityName string          `json:"entityName"`
	Entity     json.RawMessage `json:"entity"`
	Update     bool            `json:"update"`
	Message    string          `json:"message"`
	Attempts   int             `json:"attempts"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// Queue writes failure events to a Redis list, newest last.
type Queue struct {
	redis  *redis.Client
	key    string
	logger zerolog.Logger
}

// NewQueue creates a queue backed by redisClient. An empty key selects
// DefaultKey.
func NewQueue(redisClient *redis.Client, key string, logger zerolog.Logger) *Queue {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if key == "" {
		key = DefaultKey
	}
	return &Queue{
		redis:  redisClient,
		key:    key,
		logger: logger.With().Str("component", "deadletter").Logger(),
	}
}

// Attach subscribes the queue to failure events on bus. Writes happen on the
// publishing goroutine with their own timeout so a slow Redis cannot stall a
// flush indefinitely. Cancel the returned subscription to detach.
func (q *Queue) Attach(bus *events.Bus) *events.Subscription {
	return events.Subscribe(bus, func(ev batch.FailureEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := q.Push(ctx, ev); err != nil {
			q.logger.Error().Err(err).Str("entity", ev.Entity.EntityName()).Msg("Dead-letter write failed")
		}
	})
}

// Push persists one failure event.
func (q *Queue) Push(ctx context.Context, ev batch.FailureEvent) error {
	raw, err := json.Marshal(ev.Entity)
	if err != nil {
		errorsTotal.Inc()
		return fmt.Errorf("marshal entity: %w", err)
	}
	entry := Entry{
		EntityName: ev.Entity.EntityName(),
		Entity:     raw,
		Update:     ev.Update,
		Message:    ev.Message,
		Attempts:   ev.Attempts,
		OccurredAt: ev.OccurredAt,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		errorsTotal.Inc()
		return fmt.Errorf("marshal entry: %w", err)
	}

	if err := q.redis.RPush(ctx, q.key, data).Err(); err != nil {
		errorsTotal.Inc()
		return fmt.Errorf("redis rpush: %w", err)
	}
	entriesTotal.Inc()
	return nil
}

// Len returns the number of queued entries.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.redis.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis llen: %w", err)
	}
	return n, nil
}

// Pop removes and returns the oldest entry. It returns redis.Nil when the
// queue is empty.
func (q *Queue) Pop(ctx context.Context) (*Entry, error) {
	data, err := q.redis.LPop(ctx, q.key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, err
		}
		return nil, fmt.Errorf("redis lpop: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal entry: %w", err)
	}
	return &entry, nil
}
