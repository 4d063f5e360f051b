package mastercore

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/athulya-anil/editorfed/pkg/coordination"
	"github.com/athulya-anil/editorfed/pkg/portprobe"
)

type stubExecutor struct {
	result coordination.ToolResult
	err    error
}

func (s *stubExecutor) ExecuteTool(ctx context.Context, name string, params map[string]any) (coordination.ToolResult, error) {
	return s.result, s.err
}

func (s *stubExecutor) GetAvailableTools() []string { return []string{"ping"} }

func newTestCore(t *testing.T) (*Core, int) {
	t.Helper()
	port, err := portprobe.FindAvailablePort(20000, 21000)
	if err != nil {
		t.Fatalf("no available port: %v", err)
	}
	c := New(Config{
		InstanceID:        "master-test",
		Port:              port,
		HeartbeatInterval: 50 * time.Millisecond,
		Local:             &stubExecutor{result: coordination.ToolResult{Success: true, Result: "pong"}},
	})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.Stop(ctx)
	})
	return c, port
}

func waitHealthy(t *testing.T, port int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(urlFor(port, "/coordination/health"))
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("master never became healthy")
}

func urlFor(port int, path string) string {
	return "http://127.0.0.1:" + strconv.Itoa(port) + path
}

func TestCoreHealthEndpoint(t *testing.T) {
	c, port := newTestCore(t)
	waitHealthy(t, port)

	resp, err := http.Get(urlFor(port, "/coordination/health"))
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	if body["instanceId"] != c.InstanceID() {
		t.Fatalf("expected instanceId %s, got %v", c.InstanceID(), body["instanceId"])
	}
}

func TestCoreRegisterAndListWorkers(t *testing.T) {
	_, port := newTestCore(t)
	waitHealthy(t, port)

	// Registration verifies the worker port is reachable, so the worker
	// side needs a live listener.
	workerLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("bind worker listener: %v", err)
	}
	defer workerLn.Close()

	reqBody, _ := json.Marshal(map[string]any{
		"instanceId":    "worker-1",
		"workspacePath": "/tmp/proj",
		"port":          workerLn.Addr().(*net.TCPAddr).Port,
	})
	resp, err := http.Post(urlFor(port, "/coordination/workers/register"), "application/json", bytes.NewReader(reqBody))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	listResp, err := http.Get(urlFor(port, "/coordination/workers"))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	defer listResp.Body.Close()

	var listBody struct {
		Workers []coordination.WorkerRecord `json:"workers"`
	}
	json.NewDecoder(listResp.Body).Decode(&listBody)
	if len(listBody.Workers) != 1 || listBody.Workers[0].InstanceID != "worker-1" {
		t.Fatalf("expected worker-1 registered, got %+v", listBody.Workers)
	}
}

func TestCoreToolCallRoutesLocalWhenNoWorkers(t *testing.T) {
	_, port := newTestCore(t)
	waitHealthy(t, port)

	resp, err := http.Post(urlFor(port, "/coordination/tools/ping"), "application/json", bytes.NewReader([]byte(`{}`)))
	if err != nil {
		t.Fatalf("tool call: %v", err)
	}
	defer resp.Body.Close()

	var body coordination.ToolResult
	json.NewDecoder(resp.Body).Decode(&body)
	if !body.Success || body.Result != "pong" {
		t.Fatalf("expected local pong result, got %+v", body)
	}
}

func TestCoreMetricsTrackToolCalls(t *testing.T) {
	c, port := newTestCore(t)
	waitHealthy(t, port)

	http.Post(urlFor(port, "/coordination/tools/ping"), "application/json", bytes.NewReader([]byte(`{}`)))
	http.Post(urlFor(port, "/coordination/tools/ping"), "application/json", bytes.NewReader([]byte(`{}`)))

	metrics := c.Metrics()
	if metrics.TotalCalls != 2 {
		t.Fatalf("expected 2 recorded calls, got %d", metrics.TotalCalls)
	}
	if metrics.SuccessRate != 1.0 {
		t.Fatalf("expected success rate 1.0, got %f", metrics.SuccessRate)
	}
}
