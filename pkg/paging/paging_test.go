package paging_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/cordala/erpbridge/internal/testutil"
	"github.com/cordala/erpbridge/pkg/invoker"
	"github.com/cordala/erpbridge/pkg/locks"
	"github.com/cordala/erpbridge/pkg/paging"
	"github.com/cordala/erpbridge/pkg/session"
	"github.com/cordala/erpbridge/pkg/transport"
	"github.com/rs/zerolog"
)

func setup(t *testing.T, steps ...testutil.Step) (*paging.Engine, *testutil.ScriptedChannel, *session.Registry) {
	t.Helper()

	ch := testutil.NewScriptedChannel(steps...)
	reg, err := session.NewRegistry(context.Background(), &testutil.CountingProvider{}, locks.NewManager(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(func() { reg.Close(context.Background()) })

	cfg := invoker.Config{MaxRetries: 0}
	inv := invoker.New(ch, reg, cfg, zerolog.Nop())
	return paging.NewEngine(inv, transport.JSONCodec{}, zerolog.Nop()), ch, reg
}

func pageBody(t *testing.T, totalPages int, names ...string) testutil.Step {
	t.Helper()

	records := make([]map[string]any, 0, len(names))
	for _, n := range names {
		records = append(records, map[string]any{
			"entity": "Partner",
			"fields": map[string]any{"NOMEPARC": n},
		})
	}
	body, err := json.Marshal(map[string]any{"records": records, "totalPages": totalPages})
	if err != nil {
		t.Fatalf("marshal page: %v", err)
	}
	return testutil.OK(string(body))
}

func testQuery() paging.Query {
	return paging.Query{
		Service: "CRUDServiceProvider.loadRecords",
		Body: func(page, pageSize int, pagerID string) ([]byte, error) {
			return json.Marshal(map[string]any{"page": page, "pageSize": pageSize, "pagerId": pagerID})
		},
	}
}

func collect(t *testing.T, s *paging.Stream) ([]string, error) {
	t.Helper()

	var names []string
	for s.Next() {
		rec, ok := s.Entity().(transport.Record)
		if !ok {
			t.Fatalf("Entity() = %T, want transport.Record", s.Entity())
		}
		names = append(names, rec.Fields["NOMEPARC"].(string))
	}
	return names, s.Err()
}

func TestStreamIsLazy(t *testing.T) {
	eng, ch, reg := setup(t, pageBody(t, 1, "a"))

	s := eng.Query(context.Background(), reg.Principal(), testQuery(), paging.Options{PageSize: 1})
	time.Sleep(20 * time.Millisecond)
	if ch.CallCount() != 0 {
		t.Errorf("CallCount = %d before first Next, want 0", ch.CallCount())
	}
	s.Close()
}

func TestStreamIteratesAllPages(t *testing.T) {
	eng, ch, reg := setup(t,
		pageBody(t, 2, "a", "b"),
		pageBody(t, 2, "c"),
	)

	s := eng.Query(context.Background(), reg.Principal(), testQuery(), paging.Options{PageSize: 2})
	names, err := collect(t, s)
	if err != nil {
		t.Fatalf("Err: %v", err)
	}
	if want := []string{"a", "b", "c"}; !equal(names, want) {
		t.Errorf("entities = %v, want %v", names, want)
	}
	if ch.CallCount() != 2 {
		t.Errorf("CallCount = %d, want 2", ch.CallCount())
	}
}

func TestStreamEmptyResult(t *testing.T) {
	eng, ch, reg := setup(t, testutil.OK(`{"records":[]}`))

	s := eng.Query(context.Background(), reg.Principal(), testQuery(), paging.Options{})
	names, err := collect(t, s)
	if err != nil {
		t.Fatalf("Err: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("entities = %v, want none", names)
	}
	if ch.CallCount() != 1 {
		t.Errorf("CallCount = %d, want 1", ch.CallCount())
	}
}

func TestStreamPrefetchesAtMostOnePage(t *testing.T) {
	eng, ch, reg := setup(t,
		pageBody(t, 4, "a"),
		pageBody(t, 4, "b"),
		pageBody(t, 4, "c"),
		pageBody(t, 4, "d"),
	)

	s := eng.Query(context.Background(), reg.Principal(), testQuery(), paging.Options{PageSize: 1})
	defer s.Close()

	if !s.Next() {
		t.Fatalf("Next = false, Err: %v", s.Err())
	}
	// Give the fetcher time to run ahead if it were going to.
	time.Sleep(50 * time.Millisecond)
	if n := ch.CallCount(); n > 2 {
		t.Errorf("CallCount = %d after one Next, want at most 2", n)
	}
}

func TestStreamMaxResultsCapsMidPage(t *testing.T) {
	eng, ch, reg := setup(t,
		pageBody(t, 3, "a", "b"),
		pageBody(t, 3, "c", "d"),
		pageBody(t, 3, "e", "f"),
	)

	s := eng.Query(context.Background(), reg.Principal(), testQuery(), paging.Options{PageSize: 2, MaxResults: 3})
	names, err := collect(t, s)
	if err != nil {
		t.Fatalf("Err: %v", err)
	}
	if want := []string{"a", "b", "c"}; !equal(names, want) {
		t.Errorf("entities = %v, want %v", names, want)
	}
	if ch.CallCount() != 2 {
		t.Errorf("CallCount = %d, want 2 (third page must never be fetched)", ch.CallCount())
	}
}

func TestStreamAbortsOnPageError(t *testing.T) {
	failure := &transport.Error{Op: "load", Timeout: true, Err: errors.New("deadline")}
	eng, _, reg := setup(t,
		pageBody(t, 3, "a"),
		testutil.Fail(failure),
	)

	s := eng.Query(context.Background(), reg.Principal(), testQuery(), paging.Options{PageSize: 1})
	names, err := collect(t, s)
	if want := []string{"a"}; !equal(names, want) {
		t.Errorf("entities = %v, want %v", names, want)
	}

	var perr *paging.Error
	if !errors.As(err, &perr) {
		t.Fatalf("Err = %v, want *paging.Error", err)
	}
	if perr.Page != 1 {
		t.Errorf("Page = %d, want 1", perr.Page)
	}
	if !errors.Is(err, failure) {
		t.Errorf("Err does not wrap the transport failure: %v", err)
	}
}

func TestStreamContinueRetriesFailedPage(t *testing.T) {
	eng, ch, reg := setup(t,
		pageBody(t, 3, "a"),
		testutil.Fail(&transport.Error{Op: "load", Timeout: true, Err: errors.New("deadline")}),
		pageBody(t, 3, "b"),
		pageBody(t, 3, "c"),
	)

	var reported []paging.Error
	opts := paging.Options{
		PageSize: 1,
		OnPageError: func(e paging.Error) paging.ErrorAction {
			reported = append(reported, e)
			return paging.ActionContinue
		},
	}
	s := eng.Query(context.Background(), reg.Principal(), testQuery(), opts)
	names, err := collect(t, s)
	if err != nil {
		t.Fatalf("Err: %v", err)
	}
	if want := []string{"a", "b", "c"}; !equal(names, want) {
		t.Errorf("entities = %v, want %v", names, want)
	}
	if len(reported) != 1 || reported[0].Page != 1 {
		t.Errorf("reported errors = %+v, want one for page 1", reported)
	}
	if ch.CallCount() != 4 {
		t.Errorf("CallCount = %d, want 4", ch.CallCount())
	}
}

func TestStreamContinueGivesUpAfterSecondFailure(t *testing.T) {
	failure := &transport.Error{Op: "load", Timeout: true, Err: errors.New("deadline")}
	eng, ch, reg := setup(t,
		pageBody(t, 3, "a"),
		testutil.Fail(failure),
		testutil.Fail(failure),
	)

	var reported []paging.Error
	opts := paging.Options{
		PageSize: 1,
		OnPageError: func(e paging.Error) paging.ErrorAction {
			reported = append(reported, e)
			return paging.ActionContinue
		},
	}
	s := eng.Query(context.Background(), reg.Principal(), testQuery(), opts)
	names, err := collect(t, s)
	if want := []string{"a"}; !equal(names, want) {
		t.Errorf("entities = %v, want %v", names, want)
	}

	var perr *paging.Error
	if !errors.As(err, &perr) {
		t.Fatalf("Err = %v, want *paging.Error", err)
	}
	if perr.Page != 1 {
		t.Errorf("Page = %d, want 1", perr.Page)
	}
	if len(reported) != 2 {
		t.Errorf("reported errors = %d, want 2 (one per attempt)", len(reported))
	}
	if ch.CallCount() != 3 {
		t.Errorf("CallCount = %d, want 3", ch.CallCount())
	}
}

func TestStreamFatalFailureAbortsDespiteContinue(t *testing.T) {
	eng, _, reg := setup(t,
		pageBody(t, 3, "a"),
		testutil.Fail(&transport.Fault{Message: "malformed criteria", Service: "load"}),
	)

	opts := paging.Options{
		PageSize:    1,
		OnPageError: func(paging.Error) paging.ErrorAction { return paging.ActionContinue },
	}
	s := eng.Query(context.Background(), reg.Principal(), testQuery(), opts)
	_, err := collect(t, s)
	if err == nil {
		t.Fatal("Err = nil, want the fatal page error")
	}
}

func TestStreamDeadline(t *testing.T) {
	eng, _, reg := setup(t,
		testutil.Step{Response: transport.Response{StatusCode: 200}, Delay: 200 * time.Millisecond},
	)

	s := eng.Query(context.Background(), reg.Principal(), testQuery(), paging.Options{PageSize: 1, Deadline: 30 * time.Millisecond})
	if s.Next() {
		t.Fatal("Next = true, want false after deadline")
	}
	if err := s.Err(); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Err = %v, want context.DeadlineExceeded", err)
	}
}

func TestStreamDeadlineWithSlowConsumer(t *testing.T) {
	eng, _, reg := setup(t,
		pageBody(t, 3, "a"),
		pageBody(t, 3, "b"),
		pageBody(t, 3, "c"),
	)

	s := eng.Query(context.Background(), reg.Principal(), testQuery(), paging.Options{PageSize: 1, Deadline: 40 * time.Millisecond})
	if !s.Next() {
		t.Fatalf("Next = false, Err: %v", s.Err())
	}
	// Outlive the deadline while the fetcher is parked handing over the
	// next page.
	time.Sleep(120 * time.Millisecond)
	for s.Next() {
	}

	var perr *paging.Error
	if !errors.As(s.Err(), &perr) {
		t.Fatalf("Err = %v, want *paging.Error after the deadline expired mid-iteration", s.Err())
	}
	if !errors.Is(s.Err(), context.DeadlineExceeded) {
		t.Errorf("Err = %v, want context.DeadlineExceeded in the chain", s.Err())
	}
	if perr.Page != 1 {
		t.Errorf("Page = %d, want 1 (the last page fetched)", perr.Page)
	}
}

func TestStreamOnPageLoaded(t *testing.T) {
	eng, _, reg := setup(t,
		pageBody(t, 2, "a"),
		pageBody(t, 2, "b"),
	)

	var metas []transport.PageMeta
	opts := paging.Options{
		PageSize:     1,
		OnPageLoaded: func(m transport.PageMeta) { metas = append(metas, m) },
	}
	s := eng.Query(context.Background(), reg.Principal(), testQuery(), opts)
	if _, err := collect(t, s); err != nil {
		t.Fatalf("Err: %v", err)
	}

	if len(metas) != 2 {
		t.Fatalf("OnPageLoaded calls = %d, want 2", len(metas))
	}
	if metas[0].TotalPages != 2 || metas[0].ItemCount != 1 {
		t.Errorf("first meta = %+v", metas[0])
	}
}

func TestStreamCloseEarly(t *testing.T) {
	eng, _, reg := setup(t,
		pageBody(t, 10, "a"),
		pageBody(t, 10, "b"),
		pageBody(t, 10, "c"),
	)

	s := eng.Query(context.Background(), reg.Principal(), testQuery(), paging.Options{PageSize: 1})
	if !s.Next() {
		t.Fatalf("Next = false, Err: %v", s.Err())
	}
	s.Close()
	if s.Next() {
		t.Error("Next = true after Close")
	}
	if err := s.Err(); err != nil {
		t.Errorf("Err = %v after Close, want nil", err)
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
