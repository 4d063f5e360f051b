// Package registry is the master-side mapping from worker identity to its
// WorkerRecord, with heartbeat-timeout reaping and a workspace→worker
// routing index (§4.4).
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/athulya-anil/editorfed/pkg/coordination"
	"github.com/athulya-anil/editorfed/pkg/portprobe"
)

// ErrPortUnreachable is returned by Register when the requested port
// cannot be reached over loopback (invariant R3).
var ErrPortUnreachable = errors.New("registry: worker port unreachable")

// RegisterRequest is the payload for Register.
type RegisterRequest struct {
	InstanceID    string
	WorkspaceName string
	WorkspacePath string
	Port          int
	Capabilities  []string
	Version       string
}

// RegisterResult is returned to a successfully registered worker.
type RegisterResult struct {
	MasterID          string
	HeartbeatInterval time.Duration
}

// HeartbeatResult is returned in response to a heartbeat.
type HeartbeatResult struct {
	ShouldReregister bool
	MasterStatus     string
}

// Registry is a single-writer, concurrent-read map of registered workers.
// All mutations go through its exported methods, which serialise writes
// behind mu — request handlers never touch the underlying maps directly
// (§9 design note: don't expose internal containers to request handlers).
type Registry struct {
	mu                sync.RWMutex
	workers           map[string]*coordination.WorkerRecord
	workspaceRouting  map[string]string // workspacePath -> instanceId
	masterID          string
	heartbeatInterval time.Duration

	// reachabilityCheck is swappable in tests; defaults to a real
	// loopback dial.
	reachabilityCheck func(port int) bool
}

// New creates an empty Registry owned by the master with instance id
// masterID and the heartbeat cadence workers should use.
func New(masterID string, heartbeatInterval time.Duration) *Registry {
	return &Registry{
		workers:           make(map[string]*coordination.WorkerRecord),
		workspaceRouting:  make(map[string]string),
		masterID:          masterID,
		heartbeatInterval: heartbeatInterval,
		reachabilityCheck: func(port int) bool {
			return portprobe.IsReachable(port, 2*time.Second)
		},
	}
}

// Register creates or replaces the record for req.InstanceID (invariant
// R1: instanceId is primary key, so a replace never leaves a duplicate
// record). The port must be reachable at registration time (invariant R3).
func (r *Registry) Register(req RegisterRequest) (RegisterResult, error) {
	if req.InstanceID == "" {
		return RegisterResult{}, fmt.Errorf("registry: register requires instanceId")
	}
	if !r.reachabilityCheck(req.Port) {
		return RegisterResult{}, ErrPortUnreachable
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	registeredAt := now
	if existing, ok := r.workers[req.InstanceID]; ok {
		registeredAt = existing.RegisteredAt
		r.removeRoutingLocked(existing.InstanceID)
	}

	record := &coordination.WorkerRecord{
		InstanceID:    req.InstanceID,
		WorkspaceName: req.WorkspaceName,
		WorkspacePath: req.WorkspacePath,
		Port:          req.Port,
		Capabilities:  req.Capabilities,
		Status:        coordination.StatusActive,
		RegisteredAt:  registeredAt,
		LastSeen:      now,
		Version:       req.Version,
	}
	r.workers[req.InstanceID] = record
	if req.WorkspacePath != "" {
		r.workspaceRouting[req.WorkspacePath] = req.InstanceID
	}

	return RegisterResult{MasterID: r.masterID, HeartbeatInterval: r.heartbeatInterval}, nil
}

// Deregister idempotently removes a worker and every routing entry
// pointing at it (invariant M2).
func (r *Registry) Deregister(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeRoutingLocked(instanceID)
	delete(r.workers, instanceID)
}

// removeRoutingLocked drops every workspaceRouting entry that points at
// instanceID. Caller must hold r.mu.
func (r *Registry) removeRoutingLocked(instanceID string) {
	for path, id := range r.workspaceRouting {
		if id == instanceID {
			delete(r.workspaceRouting, path)
		}
	}
}

// Heartbeat updates lastSeen/status for a known worker. Unknown ids get
// ShouldReregister so the worker re-registers instead of being silently
// dropped (§7: recovery, not an error).
func (r *Registry) Heartbeat(instanceID string, status coordination.WorkerStatus, ts time.Time) HeartbeatResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.workers[instanceID]
	if !ok {
		return HeartbeatResult{ShouldReregister: true}
	}

	// Invariant R2: lastSeen is monotonic non-decreasing.
	if ts.After(record.LastSeen) {
		record.LastSeen = ts
	}
	record.Status = status

	return HeartbeatResult{MasterStatus: "HEALTHY"}
}

// ReapExpired removes every record whose lastSeen is older than
// 3×heartbeatInterval, atomically with its routing entries (invariant
// M2). Returns the instance ids that were reaped, for logging.
func (r *Registry) ReapExpired() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	deadline := 3 * r.heartbeatInterval
	now := time.Now()
	var reaped []string
	for id, record := range r.workers {
		if now.Sub(record.LastSeen) > deadline {
			reaped = append(reaped, id)
			r.removeRoutingLocked(id)
			delete(r.workers, id)
		}
	}
	return reaped
}

// Get returns a pointer to a copy of a worker record, or nil. Changes to
// the copy do not reach the registry.
func (r *Registry) Get(instanceID string) *coordination.WorkerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.workers[instanceID]
	if !ok {
		return nil
	}
	clone := *record
	return &clone
}

// List returns a consistent snapshot of every registered worker.
func (r *Registry) List() []*coordination.WorkerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*coordination.WorkerRecord, 0, len(r.workers))
	for _, record := range r.workers {
		clone := *record
		out = append(out, &clone)
	}
	return out
}

// Len returns the number of registered workers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// WorkerForWorkspace returns the worker registered for the exact
// workspacePath, if any (invariant M1: every routing value is a
// registered worker id).
func (r *Registry) WorkerForWorkspace(workspacePath string) *coordination.WorkerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.workspaceRouting[workspacePath]
	if !ok {
		return nil
	}
	record, ok := r.workers[id]
	if !ok {
		return nil
	}
	clone := *record
	return &clone
}

// SetReachabilityCheck overrides the loopback-reachability check used by
// Register. Exposed for tests.
func (r *Registry) SetReachabilityCheck(check func(port int) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reachabilityCheck = check
}
