package registry

import (
	"testing"
	"time"

	"github.com/athulya-anil/editorfed/pkg/coordination"
)

func alwaysReachable(reg *Registry) {
	reg.SetReachabilityCheck(func(int) bool { return true })
}

func TestRegisterAndDeregisterRoundTrip(t *testing.T) {
	reg := New("master-1", 5*time.Second)
	alwaysReachable(reg)

	if _, err := reg.Register(RegisterRequest{InstanceID: "w1", WorkspacePath: "/a", Port: 9101}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if reg.Len() != 1 {
		t.Fatalf("expected 1 worker, got %d", reg.Len())
	}

	reg.Deregister("w1")

	if reg.Len() != 0 {
		t.Fatalf("expected registry empty after deregister, got %d", reg.Len())
	}
	if reg.WorkerForWorkspace("/a") != nil {
		t.Fatal("expected no routing entry for /a after deregister")
	}
}

func TestRegisterUnreachablePortRejected(t *testing.T) {
	reg := New("master-1", 5*time.Second)
	reg.SetReachabilityCheck(func(int) bool { return false })

	_, err := reg.Register(RegisterRequest{InstanceID: "w1", Port: 9999})
	if err != ErrPortUnreachable {
		t.Fatalf("expected ErrPortUnreachable, got %v", err)
	}
}

func TestInvariantM1WorkspaceRoutingPointsAtRegisteredWorker(t *testing.T) {
	reg := New("master-1", 5*time.Second)
	alwaysReachable(reg)

	reg.Register(RegisterRequest{InstanceID: "w1", WorkspacePath: "/proj"})

	record := reg.WorkerForWorkspace("/proj")
	if record == nil {
		t.Fatal("expected routing entry for /proj")
	}
	if reg.Get(record.InstanceID) == nil {
		t.Fatal("invariant M1 violated: routing points at unregistered worker")
	}
}

func TestInvariantM2ReapRemovesRouting(t *testing.T) {
	reg := New("master-1", 10*time.Millisecond)
	alwaysReachable(reg)

	reg.Register(RegisterRequest{InstanceID: "w1", WorkspacePath: "/proj"})
	time.Sleep(50 * time.Millisecond)

	reaped := reg.ReapExpired()
	if len(reaped) != 1 || reaped[0] != "w1" {
		t.Fatalf("expected w1 to be reaped, got %v", reaped)
	}
	if reg.WorkerForWorkspace("/proj") != nil {
		t.Fatal("invariant M2 violated: routing entry survived reap")
	}
	if reg.Get("w1") != nil {
		t.Fatal("expected worker removed from registry after reap")
	}
}

func TestHeartbeatUnknownWorkerAsksToReregister(t *testing.T) {
	reg := New("master-1", 5*time.Second)
	result := reg.Heartbeat("ghost", coordination.StatusActive, time.Now())
	if !result.ShouldReregister {
		t.Fatal("expected ShouldReregister for unknown worker")
	}
}

func TestHeartbeatIdempotentOnMembership(t *testing.T) {
	reg := New("master-1", 5*time.Second)
	alwaysReachable(reg)
	reg.Register(RegisterRequest{InstanceID: "w1"})

	before := reg.Len()
	reg.Heartbeat("w1", coordination.StatusActive, time.Now())
	reg.Heartbeat("w1", coordination.StatusIdle, time.Now())

	if reg.Len() != before {
		t.Fatalf("heartbeat must not change membership, got len %d want %d", reg.Len(), before)
	}
	if reg.Get("w1").Status != coordination.StatusIdle {
		t.Fatal("expected status updated by second heartbeat")
	}
}

func TestLastSeenMonotonic(t *testing.T) {
	reg := New("master-1", 5*time.Second)
	alwaysReachable(reg)
	reg.Register(RegisterRequest{InstanceID: "w1"})

	later := time.Now().Add(time.Minute)
	reg.Heartbeat("w1", coordination.StatusActive, later)
	earlier := time.Now()
	reg.Heartbeat("w1", coordination.StatusActive, earlier)

	if !reg.Get("w1").LastSeen.Equal(later) {
		t.Fatal("invariant R2 violated: lastSeen moved backwards")
	}
}

func TestReRegisterPreservesRegisteredAt(t *testing.T) {
	reg := New("master-1", 5*time.Second)
	alwaysReachable(reg)
	reg.Register(RegisterRequest{InstanceID: "w1"})
	first := reg.Get("w1").RegisteredAt

	time.Sleep(5 * time.Millisecond)
	reg.Register(RegisterRequest{InstanceID: "w1"})

	if !reg.Get("w1").RegisteredAt.Equal(first) {
		t.Fatal("expected RegisteredAt preserved across re-register")
	}
}
