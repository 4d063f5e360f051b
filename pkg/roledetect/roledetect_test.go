package roledetect

import (
	"math/rand"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/athulya-anil/editorfed/pkg/coordination"
)

func TestDetectStandaloneWhenDisabled(t *testing.T) {
	role := Detect(Config{CoordinationEnabled: false})
	if role != coordination.RoleStandalone {
		t.Fatalf("expected STANDALONE, got %s", role)
	}
}

func TestDetectForcedRole(t *testing.T) {
	role := Detect(Config{CoordinationEnabled: true, ForcedRole: coordination.RoleMaster})
	if role != coordination.RoleMaster {
		t.Fatalf("expected forced MASTER, got %s", role)
	}
}

func TestDetectMasterWhenUnreachable(t *testing.T) {
	ln, _ := net.Listen("tcp", "127.0.0.1:0")
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	role := Detect(Config{
		CoordinationEnabled: true,
		MasterPort:          port,
		ProbeTimeout:        200 * time.Millisecond,
	})
	if role != coordination.RoleMaster {
		t.Fatalf("expected MASTER when master port unreachable, got %s", role)
	}
}

func TestDetectWorkerWhenHealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer server.Close()
	port := server.Listener.Addr().(*net.TCPAddr).Port

	role := Detect(Config{
		CoordinationEnabled: true,
		MasterPort:          port,
		ProbeTimeout:        time.Second,
	})
	if role != coordination.RoleWorker {
		t.Fatalf("expected WORKER when master healthy, got %s", role)
	}
}

func TestResolveDegradedBecomesMasterWhenScoreHigh(t *testing.T) {
	cfg := &Config{
		MasterPort:     1, // never bound: every probe is UNREACHABLE-ish, forced degraded below
		ProbeTimeout:   50 * time.Millisecond,
		ScoreThreshold: 1,
		Scorer: func() (coordination.ScoreInputs, error) {
			return coordination.ScoreInputs{FileCount: 100}, nil
		},
		rngSource: rand.New(rand.NewSource(1)),
	}

	// resolveDegraded does its own probing (1s sleeps between); this test
	// only exercises the scoring/backoff branch shape, not real timing,
	// so we call it directly against an always-unreachable port and
	// accept the ~2s cost (3 probes) as a slow-but-correct unit test.
	role := cfg.resolveDegraded()
	if role != coordination.RoleMaster {
		t.Fatalf("expected MASTER after high-score degraded resolution, got %s", role)
	}
}

func TestResolveDegradedStaysWorkerWhenScoreLow(t *testing.T) {
	cfg := &Config{
		MasterPort:     1,
		ProbeTimeout:   50 * time.Millisecond,
		ScoreThreshold: 1000,
		Scorer: func() (coordination.ScoreInputs, error) {
			return coordination.ScoreInputs{FileCount: 1}, nil
		},
		rngSource: rand.New(rand.NewSource(1)),
	}

	role := cfg.resolveDegraded()
	if role != coordination.RoleWorker {
		t.Fatalf("expected WORKER when score below threshold, got %s", role)
	}
}
