// Package paging turns the gateway's page-at-a-time query protocol into a
// lazy entity stream. Nothing is fetched until the consumer asks for the
// first entity, and at most one page is buffered ahead of the one being
// consumed, so partially read result sets cost at most two pages.
package paging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cordala/erpbridge/pkg/invoker"
	"github.com/cordala/erpbridge/pkg/transport"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var pagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "erp_pages_total",
	Help: "Page fetches issued by result streams, by outcome",
}, []string{"outcome"})

// DefaultPageSize is used when Options.PageSize is zero.
const DefaultPageSize = 100

// ErrorAction tells the stream how to proceed after a page fails.
type ErrorAction int

const (
	// ActionAbort ends the stream; the page error surfaces via Err.
	ActionAbort ErrorAction = iota

	// ActionContinue retries the failed page one more time before the
	// stream gives up on it.
	ActionContinue
)

// Error describes a failed page fetch or a stream that ran out of time.
type Error struct {
	// Page is the zero-based page the stream stopped at: the page whose
	// fetch failed, or the last successfully fetched page when the
	// deadline expired while handing it to the consumer.
	Page int

	// TotalPages is the page count reported by the gateway, zero if no
	// page succeeded yet.
	TotalPages int

	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("page %d: %v", e.Page, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Query describes a paged gateway query. Body renders the request payload
// for one page; pagerID is empty on the first page and carries the gateway's
// result-set handle afterwards.
type Query struct {
	Service string
	Body    func(page, pageSize int, pagerID string) ([]byte, error)
}

// Options tune one stream.
type Options struct {
	// PageSize is the number of entities requested per page.
	PageSize int

	// MaxResults caps the number of entities the stream yields. Zero
	// means unlimited. The cap applies mid-page: a page is never fetched
	// once the cap is reached, and a partially needed page yields only
	// the entities under the cap.
	MaxResults int

	// Deadline bounds the whole stream, fetching and consuming included.
	// Zero means no bound.
	Deadline time.Duration

	// OnPageLoaded is called after each successful page fetch.
	OnPageLoaded func(transport.PageMeta)

	// OnPageError is called when a page fails after retries. Returning
	// ActionContinue grants the page one extra attempt; a second failure
	// of the same page ends the stream, and unrecoverable failures end it
	// regardless. Nil means abort.
	OnPageError func(Error) ErrorAction
}

// Engine creates entity streams over the invoker.
type Engine struct {
	inv    *invoker.Invoker
	codec  transport.Codec
	logger zerolog.Logger
}

// NewEngine creates a paging engine.
func NewEngine(inv *invoker.Invoker, codec transport.Codec, logger zerolog.Logger) *Engine {
	return &Engine{
		inv:    inv,
		codec:  codec,
		logger: logger.With().Str("component", "paging").Logger(),
	}
}

type fetched struct {
	entities []transport.Entity
	meta     transport.PageMeta
}

// Stream is a pull iterator over a paged result set. Use it like sql.Rows:
// call Next until it returns false, read each entity with Entity, then check
// Err. Close releases the fetcher early; it is safe to call at any point and
// is implied when Next returns false.
type Stream struct {
	ctx     context.Context
	cancel  context.CancelFunc
	eng     *Engine
	token   uuid.UUID
	query   Query
	opts    Options
	started bool
	pages   chan fetched
	cur     []transport.Entity
	idx     int
	emitted int
	err     error
	done    bool

	// termMu guards termErr, which the fetcher writes before closing the
	// page channel and the consumer reads after it closes.
	termMu  sync.Mutex
	termErr error
}

// Query creates a stream for q. No gateway call happens until the first Next.
func (e *Engine) Query(ctx context.Context, token uuid.UUID, q Query, opts Options) *Stream {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}

	var cancel context.CancelFunc
	if opts.Deadline > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Deadline)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	return &Stream{
		ctx:    ctx,
		cancel: cancel,
		eng:    e,
		token:  token,
		query:  q,
		opts:   opts,
		pages:  make(chan fetched),
	}
}

// Next advances the stream to the next entity. It returns false when the
// result set is exhausted, the cap is reached, or a page fails; check Err to
// tell the cases apart.
func (s *Stream) Next() bool {
	if s.done {
		return false
	}
	if !s.started {
		s.started = true
		go s.fetch()
	}

	for {
		if s.opts.MaxResults > 0 && s.emitted >= s.opts.MaxResults {
			s.Close()
			return false
		}
		if s.idx < len(s.cur) {
			s.idx++
			s.emitted++
			return true
		}

		f, ok := <-s.pages
		if !ok {
			s.finish(s.takeTermErr())
			return false
		}
		s.cur = f.entities
		s.idx = 0
	}
}

// Entity returns the entity Next advanced to.
func (s *Stream) Entity() transport.Entity {
	return s.cur[s.idx-1]
}

// Err returns the error that ended the stream, nil after a clean end.
func (s *Stream) Err() error {
	return s.err
}

// Close stops the fetcher and discards buffered pages. Entities already read
// remain valid.
func (s *Stream) Close() {
	s.finish(s.err)
}

func (s *Stream) finish(err error) {
	if s.done {
		return
	}
	s.done = true
	s.err = err
	s.cancel()
	if s.started {
		// Unblock a fetcher parked on the page channel.
		for range s.pages {
		}
	}
}

// fetch runs on its own goroutine, staying one page ahead of the consumer.
func (s *Stream) fetch() {
	defer close(s.pages)

	var (
		page    int
		pagerID string
		total   int
		retried bool
	)
	// With a result cap the fetcher knows the last page it could ever need
	// and never reads past it.
	maxPages := 0
	if s.opts.MaxResults > 0 {
		maxPages = (s.opts.MaxResults + s.opts.PageSize - 1) / s.opts.PageSize
	}
	for {
		entities, meta, perr := s.fetchPage(page, pagerID)
		if perr != nil {
			pagesFetched.WithLabelValues("failure").Inc()
			perr.TotalPages = total
			action := ActionAbort
			if s.opts.OnPageError != nil {
				action = s.opts.OnPageError(*perr)
			}
			recoverable := invoker.Classify(perr.Err) != invoker.KindFatal
			if action == ActionContinue && recoverable && !retried {
				retried = true
				s.eng.logger.Warn().Err(perr.Err).Int("page", page).Msg("Retrying failed page")
				continue
			}
			s.setTermErr(perr)
			return
		}
		pagesFetched.WithLabelValues("success").Inc()
		retried = false

		if meta.TotalPages > 0 {
			total = meta.TotalPages
		}
		if meta.PagerID != "" {
			pagerID = meta.PagerID
		}
		if s.opts.OnPageLoaded != nil {
			s.opts.OnPageLoaded(meta)
		}
		if !s.deliver(fetched{entities: entities, meta: meta}) {
			// Close cancels the context too; only a deadline expiry is
			// an error the consumer must see.
			if errors.Is(s.ctx.Err(), context.DeadlineExceeded) {
				s.setTermErr(&Error{Page: page, TotalPages: total, Err: s.ctx.Err()})
			}
			return
		}

		// A short, empty, or final page ends the set, as does reaching
		// the last page the result cap could use.
		if len(entities) < s.opts.PageSize {
			return
		}
		if total > 0 && page+1 >= total {
			return
		}
		if maxPages > 0 && page+1 >= maxPages {
			return
		}
		page++
	}
}

func (s *Stream) fetchPage(page int, pagerID string) ([]transport.Entity, transport.PageMeta, *Error) {
	body, err := s.query.Body(page, s.opts.PageSize, pagerID)
	if err != nil {
		return nil, transport.PageMeta{}, &Error{Page: page, Err: err}
	}

	resp, err := s.eng.inv.Invoke(s.ctx, s.token, transport.Request{Service: s.query.Service, Body: body})
	if err != nil {
		return nil, transport.PageMeta{}, &Error{Page: page, Err: err}
	}

	entities, meta, err := s.eng.codec.Decode(resp)
	if err != nil {
		return nil, transport.PageMeta{}, &Error{Page: page, Err: err}
	}
	if meta.PageNumber == 0 {
		meta.PageNumber = page
	}
	return entities, meta, nil
}

// deliver hands a page to the consumer, aborting if the stream is closed.
func (s *Stream) deliver(f fetched) bool {
	select {
	case s.pages <- f:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Stream) setTermErr(err *Error) {
	s.termMu.Lock()
	s.termErr = err
	s.termMu.Unlock()
}

func (s *Stream) takeTermErr() error {
	s.termMu.Lock()
	defer s.termMu.Unlock()
	return s.termErr
}
