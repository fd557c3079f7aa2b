package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/cordala/erpbridge/internal/testutil"
	"github.com/cordala/erpbridge/pkg/auth"
	"github.com/cordala/erpbridge/pkg/batch"
	"github.com/cordala/erpbridge/pkg/deadletter"
	"github.com/cordala/erpbridge/pkg/events"
	"github.com/cordala/erpbridge/pkg/invoker"
	"github.com/cordala/erpbridge/pkg/locks"
	"github.com/cordala/erpbridge/pkg/paging"
	"github.com/cordala/erpbridge/pkg/session"
	"github.com/cordala/erpbridge/pkg/transport"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

// setupBridge wires a real HTTP channel, login provider and session registry
// against the mock gateway.
func setupBridge(t *testing.T, gw *testutil.MockGateway, cfg invoker.Config) (*invoker.Invoker, *session.Registry) {
	t.Helper()

	logger := zerolog.Nop()
	channel, err := transport.NewHTTPChannel(transport.HTTPConfig{BaseURL: gw.URL(), Timeout: 5 * time.Second}, logger)
	if err != nil {
		t.Fatalf("NewHTTPChannel: %v", err)
	}
	provider := auth.NewGatewayProvider(channel.RoundTrip, "SUP", "secret", logger)

	reg, err := session.NewRegistry(context.Background(), provider, locks.NewManager(), logger)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(func() { reg.Close(context.Background()) })

	return invoker.New(channel, reg, cfg, logger), reg
}

// TestPagedQueryFlow walks the full path: login, paged query over HTTP, lazy
// stream consumption.
func TestPagedQueryFlow(t *testing.T) {
	gw := testutil.NewMockGateway()
	defer gw.Close()

	pages := [][]string{{"a", "b"}, {"c", "d"}, {"e"}}
	gw.SetHandler("CRUDServiceProvider.loadRecords", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Page int `json:"page"`
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &req)

		if req.Page >= len(pages) {
			w.Write([]byte(`{"records": []}`))
			return
		}
		records := make([]map[string]any, 0, 2)
		for _, n := range pages[req.Page] {
			records = append(records, map[string]any{
				"entity": "Partner",
				"fields": map[string]any{"NOMEPARC": n},
			})
		}
		json.NewEncoder(w).Encode(map[string]any{
			"records":    records,
			"page":       req.Page,
			"totalPages": len(pages),
		})
	})

	inv, reg := setupBridge(t, gw, invoker.DefaultConfig())
	eng := paging.NewEngine(inv, transport.JSONCodec{}, zerolog.Nop())

	query := paging.Query{
		Service: "CRUDServiceProvider.loadRecords",
		Body: func(page, pageSize int, pagerID string) ([]byte, error) {
			return json.Marshal(map[string]any{"page": page, "pageSize": pageSize})
		},
	}
	s := eng.Query(context.Background(), reg.Principal(), query, paging.Options{PageSize: 2})

	var names []string
	for s.Next() {
		names = append(names, s.Entity().(transport.Record).Fields["NOMEPARC"].(string))
	}
	if err := s.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}

	want := []string{"a", "b", "c", "d", "e"}
	if fmt.Sprint(names) != fmt.Sprint(want) {
		t.Errorf("entities = %v, want %v", names, want)
	}
	if gw.LastSession == "" {
		t.Error("queries were sent without a session cookie")
	}
}

// TestReauthenticationFlow verifies an expired session is replaced
// transparently and the call retried with the fresh credential.
func TestReauthenticationFlow(t *testing.T) {
	gw := testutil.NewMockGateway()
	defer gw.Close()

	logins := 0
	gw.SetHandler(auth.ServiceLogin, func(w http.ResponseWriter, r *http.Request) {
		logins++
		json.NewEncoder(w).Encode(map[string]any{
			"sessionId": fmt.Sprintf("session-%d", logins),
			"userCode":  1,
		})
	})
	gw.SetHandler("svc", func(w http.ResponseWriter, r *http.Request) {
		c, _ := r.Cookie("JSESSIONID")
		if c == nil || c.Value != "session-2" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`session expired`))
			return
		}
		w.Write([]byte(`{"records": []}`))
	})

	cfg := invoker.DefaultConfig()
	inv, reg := setupBridge(t, gw, cfg)

	resp, err := inv.Invoke(context.Background(), reg.Principal(), transport.Request{Service: "svc"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if logins != 2 {
		t.Errorf("logins = %d, want 2 (initial plus one re-authentication)", logins)
	}
}

// TestBatchFailuresReachDeadLetterQueue runs a flush whose group is rejected,
// one entity failing even individually, and verifies the failure lands in
// Redis through the event bus.
func TestBatchFailuresReachDeadLetterQueue(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	gw := testutil.NewMockGateway()
	defer gw.Close()

	saves := 0
	gw.SetHandler("DatasetSP.save", func(w http.ResponseWriter, r *http.Request) {
		saves++
		body, _ := io.ReadAll(r.Body)
		var env struct {
			Records []transport.Record `json:"records"`
		}
		json.Unmarshal(body, &env)

		// Reject the whole group, then reject the entity named "bad" on
		// its individual save.
		if len(env.Records) > 1 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`batch rejected`))
			return
		}
		if len(env.Records) == 1 && env.Records[0].Fields["NOMEPARC"] == "bad" {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`NOMEPARC rejected by trigger`))
			return
		}
		w.Write([]byte(`{}`))
	})

	inv, reg := setupBridge(t, gw, invoker.Config{MaxRetries: 0})

	bus := events.New()
	queue := deadletter.NewQueue(redisClient, "test:deadletter", zerolog.Nop())
	sub := queue.Attach(bus)
	defer sub.Cancel()

	eng := batch.NewEngine(inv, transport.JSONCodec{}, bus, reg.Principal(), batch.Config{Service: "DatasetSP.save", Throughput: 10}, zerolog.Nop())

	ctx := context.Background()
	for _, n := range []string{"good-1", "bad", "good-2"} {
		rec := transport.Record{Name: "Partner", Fields: map[string]any{"NOMEPARC": n}}
		if err := eng.Add(ctx, rec); err != nil {
			t.Fatalf("Add(%s): %v", n, err)
		}
	}
	if err := eng.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	stats := eng.Stats()
	if stats.Saved != 2 || stats.Failed != 1 {
		t.Errorf("Stats = %+v, want Saved 2, Failed 1", stats)
	}

	n, err := queue.Len(ctx)
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 1 {
		t.Fatalf("queue length = %d, want 1", n)
	}

	entry, err := queue.Pop(ctx)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if entry.EntityName != "Partner" {
		t.Errorf("EntityName = %q, want Partner", entry.EntityName)
	}
	// One attempt in the rejected group call, one in the fallback save.
	if entry.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", entry.Attempts)
	}
	var rec transport.Record
	if err := json.Unmarshal(entry.Entity, &rec); err != nil {
		t.Fatalf("unmarshal entity: %v", err)
	}
	if rec.Fields["NOMEPARC"] != "bad" {
		t.Errorf("dead-lettered entity = %v, want the rejected one", rec.Fields)
	}

	if _, err := queue.Pop(ctx); err != redis.Nil {
		t.Errorf("Pop on empty queue = %v, want redis.Nil", err)
	}
}
