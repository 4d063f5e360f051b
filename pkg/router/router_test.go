package router

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/athulya-anil/editorfed/pkg/coordination"
	"github.com/athulya-anil/editorfed/pkg/registry"
	"github.com/athulya-anil/editorfed/pkg/remoteexec"
)

type stubLocal struct {
	result coordination.ToolResult
	err    error
}

func (s *stubLocal) ExecuteTool(ctx context.Context, name string, params map[string]any) (coordination.ToolResult, error) {
	return s.result, s.err
}

func (s *stubLocal) GetAvailableTools() []string { return nil }

func newWorkerServer(t *testing.T, respond func(w http.ResponseWriter)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(w)
	}))
}

func portOf(server *httptest.Server) int {
	return server.Listener.Addr().(*net.TCPAddr).Port
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New("master-1", 5*time.Second)
	reg.SetReachabilityCheck(func(int) bool { return true })
	return reg
}

func TestRouteWorkspaceSpecificByURIPrefix(t *testing.T) {
	server := newWorkerServer(t, func(w http.ResponseWriter) {
		w.Write([]byte(`{"success":true,"result":"from-worker"}`))
	})
	defer server.Close()

	reg := newTestRegistry(t)
	reg.Register(registry.RegisterRequest{InstanceID: "w1", WorkspacePath: "/home/user/proj", Port: portOf(server)})

	r := &Router{Registry: reg, Local: &stubLocal{}, Remote: remoteexec.New()}
	outcome, err := r.Route(context.Background(), "get-symbols", map[string]any{"uri": "/home/user/proj/main.go"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.RoutedTo != "w1" {
		t.Fatalf("expected routed to w1, got %s", outcome.RoutedTo)
	}
}

func TestRouteWorkspaceSpecificFallsBackLocalOnFailure(t *testing.T) {
	ln, _ := net.Listen("tcp", "127.0.0.1:0")
	deadPort := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	reg := newTestRegistry(t)
	reg.Register(registry.RegisterRequest{InstanceID: "w1", WorkspacePath: "/proj", Port: deadPort})

	local := &stubLocal{result: coordination.ToolResult{Success: true, Result: "local-result"}}
	r := &Router{
		Registry: reg,
		Local:    local,
		Remote:   &remoteexec.Executor{MaxAttempts: 1, InitialBackoff: time.Millisecond, AttemptTimeout: 100 * time.Millisecond},
	}

	outcome, err := r.Route(context.Background(), "get-symbols", map[string]any{"uri": "/proj/main.go"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.RoutedTo != "local" || !outcome.Fallback {
		t.Fatalf("expected local fallback, got routedTo=%s fallback=%v", outcome.RoutedTo, outcome.Fallback)
	}
}

func TestRouteWorkspaceSpecificNoWorkersGoesLocal(t *testing.T) {
	reg := newTestRegistry(t)
	local := &stubLocal{result: coordination.ToolResult{Success: true, Result: "local"}}
	r := &Router{Registry: reg, Local: local, Remote: remoteexec.New()}

	outcome, err := r.Route(context.Background(), "get-symbols", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.RoutedTo != "local" || outcome.Fallback {
		t.Fatalf("expected direct local (not fallback), got %+v", outcome)
	}
}

func TestRouteActiveContextPicksMostRecentlyActive(t *testing.T) {
	older := newWorkerServer(t, func(w http.ResponseWriter) { w.Write([]byte(`{"success":true,"result":"old"}`)) })
	defer older.Close()
	newer := newWorkerServer(t, func(w http.ResponseWriter) { w.Write([]byte(`{"success":true,"result":"new"}`)) })
	defer newer.Close()

	reg := newTestRegistry(t)
	reg.Register(registry.RegisterRequest{InstanceID: "old", Port: portOf(older)})
	reg.Register(registry.RegisterRequest{InstanceID: "new", Port: portOf(newer)})
	reg.Heartbeat("old", coordination.StatusActive, time.Now().Add(-time.Minute))
	reg.Heartbeat("new", coordination.StatusActive, time.Now())

	r := &Router{Registry: reg, Local: &stubLocal{}, Remote: remoteexec.New()}
	outcome, err := r.Route(context.Background(), "active-editor", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.RoutedTo != "new" {
		t.Fatalf("expected routed to most recently active worker 'new', got %s", outcome.RoutedTo)
	}
}

func TestRouteAggregatedMergesRolePrefixed(t *testing.T) {
	w1 := newWorkerServer(t, func(w http.ResponseWriter) { w.Write([]byte(`{"success":true,"result":["a"]}`)) })
	defer w1.Close()
	w2 := newWorkerServer(t, func(w http.ResponseWriter) { w.Write([]byte(`{"success":true,"result":["b"]}`)) })
	defer w2.Close()

	reg := newTestRegistry(t)
	reg.Register(registry.RegisterRequest{InstanceID: "w1", Port: portOf(w1)})
	reg.Register(registry.RegisterRequest{InstanceID: "w2", Port: portOf(w2)})

	local := &stubLocal{result: coordination.ToolResult{Success: true, Result: []any{"c"}}}
	r := &Router{Registry: reg, Local: local, Remote: remoteexec.New(), LocalRole: "master"}

	outcome, err := r.Route(context.Background(), "instances", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	merged, ok := outcome.Result.Result.([]map[string]any)
	if !ok {
		t.Fatalf("expected []map[string]any, got %T", outcome.Result.Result)
	}
	if len(merged) != 3 {
		t.Fatalf("expected 3 merged entries (a,b,c), got %d", len(merged))
	}
}

func TestRouteAggregatedFailsWhenAllBranchesFail(t *testing.T) {
	ln, _ := net.Listen("tcp", "127.0.0.1:0")
	deadPort := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	reg := newTestRegistry(t)
	reg.Register(registry.RegisterRequest{InstanceID: "w1", Port: deadPort})

	local := &stubLocal{err: context.DeadlineExceeded}
	r := &Router{
		Registry: reg,
		Local:    local,
		Remote:   &remoteexec.Executor{MaxAttempts: 1, InitialBackoff: time.Millisecond, AttemptTimeout: 50 * time.Millisecond},
	}

	_, err := r.Route(context.Background(), "instances", nil)
	if err == nil {
		t.Fatal("expected error when every branch fails")
	}
}

func TestRouteAggregatedSucceedsWithOneBranch(t *testing.T) {
	ln, _ := net.Listen("tcp", "127.0.0.1:0")
	deadPort := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	reg := newTestRegistry(t)
	reg.Register(registry.RegisterRequest{InstanceID: "w1", Port: deadPort})

	local := &stubLocal{result: coordination.ToolResult{Success: true, Result: []any{"only"}}}
	r := &Router{
		Registry: reg,
		Local:    local,
		Remote:   &remoteexec.Executor{MaxAttempts: 1, InitialBackoff: time.Millisecond, AttemptTimeout: 50 * time.Millisecond},
	}

	outcome, err := r.Route(context.Background(), "workspace-symbols", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	merged, ok := outcome.Result.Result.([]any)
	if !ok || len(merged) != 1 {
		t.Fatalf("expected single-entry merge, got %+v", outcome.Result.Result)
	}
}
