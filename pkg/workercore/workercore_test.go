package workercore

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/athulya-anil/editorfed/pkg/coordination"
)

func fakeMaster(t *testing.T, registered chan string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/coordination/workers/register", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if registered != nil {
			registered <- body["instanceId"].(string)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success":           true,
			"masterInstanceId":  "master-1",
			"heartbeatInterval": 50,
		})
	})
	mux.HandleFunc("/coordination/workers/worker-1/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": true, "masterStatus": "HEALTHY"})
	})
	mux.HandleFunc("/coordination/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "healthy", "instanceId": "master-1"})
	})
	return httptest.NewServer(mux)
}

func portOf(s *httptest.Server) int {
	return s.Listener.Addr().(*net.TCPAddr).Port
}

func TestWorkerRegistersAndServesHealth(t *testing.T) {
	registered := make(chan string, 1)
	master := fakeMaster(t, registered)
	defer master.Close()

	c := New(Config{
		InstanceID:                "worker-1",
		WorkerPortStart:           31000,
		WorkerPortEnd:             31100,
		MasterPort:                portOf(master),
		MasterHealthCheckInterval: 50 * time.Millisecond,
	})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop(context.Background())

	select {
	case id := <-registered:
		if id != "worker-1" {
			t.Fatalf("expected worker-1 to register, got %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker never registered with master")
	}

	resp, err := http.Get("http://127.0.0.1:" + strconv.Itoa(c.Port()) + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	if body["instanceId"] != "worker-1" {
		t.Fatalf("expected instanceId worker-1, got %v", body["instanceId"])
	}
}

func TestWorkerTriggersElectionAfterMasterFailures(t *testing.T) {
	registered := make(chan string, 1)
	master := fakeMaster(t, registered)
	masterPort := portOf(master)

	triggered := make(chan struct{}, 1)
	c := New(Config{
		InstanceID:                "worker-1",
		WorkerPortStart:           31200,
		WorkerPortEnd:             31300,
		MasterPort:                masterPort,
		MasterHealthCheckInterval: 20 * time.Millisecond,
		ElectionInProgress:        func() bool { return false },
		TriggerElection: func() {
			select {
			case triggered <- struct{}{}:
			default:
			}
		},
	})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop(context.Background())

	select {
	case <-registered:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never registered with master")
	}

	// Simulate the master disappearing: the worker's own health loop is
	// the sole authority for failure detection (§4.8), so closing the
	// server here is what should eventually trip the failure counter.
	master.Close()

	select {
	case <-triggered:
	case <-time.After(2 * time.Second):
		t.Fatal("expected election to be triggered after repeated master-health failures")
	}
}

func TestElectionCandidateEndpointReportsScore(t *testing.T) {
	registered := make(chan string, 1)
	master := fakeMaster(t, registered)
	defer master.Close()

	c := New(Config{
		InstanceID:                "worker-3",
		WorkerPortStart:           31400,
		WorkerPortEnd:             31500,
		MasterPort:                portOf(master),
		MasterHealthCheckInterval: time.Second,
		Adapter:                   fakeAdapter{},
	})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop(context.Background())

	resp, err := http.Get("http://127.0.0.1:" + strconv.Itoa(c.Port()) + "/election/candidate")
	if err != nil {
		t.Fatalf("candidate: %v", err)
	}
	defer resp.Body.Close()

	var cand coordination.ElectionCandidate
	json.NewDecoder(resp.Body).Decode(&cand)
	if cand.WorkspaceScore <= 0 {
		t.Fatalf("expected positive workspace score, got %f", cand.WorkspaceScore)
	}
}

type fakeAdapter struct{}

func (fakeAdapter) CurrentWorkspaceInfo() (coordination.WorkspaceInfo, error) {
	return coordination.WorkspaceInfo{Name: "proj", Path: "/tmp/proj"}, nil
}

func (fakeAdapter) WorkspaceScoreInputs() (coordination.ScoreInputs, error) {
	return coordination.ScoreInputs{FileCount: 50, GitCommits: 10, RecentActivity: 0.8}, nil
}

func (fakeAdapter) WorkerStatus() (coordination.WorkerStatus, error) {
	return coordination.StatusActive, nil
}

