// Package election runs the candidate-discovery, scoring, and
// deterministic-tie-break state machine that decides a new master when the
// old one disappears (§4.9).
package election

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/athulya-anil/editorfed/pkg/coordination"
)

// State is a position in the election state machine.
type State string

const (
	StateIdle                 State = "IDLE"
	StateDiscovering          State = "DISCOVERING"
	StateCollectingCandidates State = "COLLECTING_CANDIDATES"
	StateDecided              State = "DECIDED"
	StateBroadcasting         State = "BROADCASTING"
)

// ErrAlreadyInProgress is returned by Start when an election is already
// running; the spec permits only one election per process.
var ErrAlreadyInProgress = errors.New("election: already in progress")

// ErrNoQuorum is returned when fewer than ceil(totalWorkers/2) candidates
// respond before the election timeout.
var ErrNoQuorum = errors.New("election: quorum not reached")

// RegistryLister is satisfied by mastercore.Core (or any dying master) for
// the first discovery strategy: ask the master for its registry listing.
type RegistryLister interface {
	List() []*coordination.WorkerRecord
}

// Config configures a Coordinator.
type Config struct {
	SelfInstanceID string

	// MasterPort is the configured master port. discover does not read
	// it: the registry-listing strategy uses the RegistryLister passed
	// to Run.
	MasterPort int

	// WorkerPortStart/End bound the scan used when the master cannot be
	// asked (it is the one that died).
	WorkerPortStart int
	WorkerPortEnd   int

	// ElectionTimeout bounds the candidate-collection phase (default 5s).
	ElectionTimeout time.Duration

	// ScanConcurrency bounds simultaneous port probes during discovery
	// (spec: 10, load-bearing to avoid self-throttling on loopback).
	ScanConcurrency int

	// ScanPerProbeTimeout and ScanBatchPause bound the port-scan pacing
	// (spec: 2s per probe, 100ms between batches).
	ScanPerProbeTimeout time.Duration
	ScanBatchPause      time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.ElectionTimeout == 0 {
		out.ElectionTimeout = 5 * time.Second
	}
	if out.ScanConcurrency == 0 {
		out.ScanConcurrency = 10
	}
	if out.ScanPerProbeTimeout == 0 {
		out.ScanPerProbeTimeout = 2 * time.Second
	}
	if out.ScanBatchPause == 0 {
		out.ScanBatchPause = 100 * time.Millisecond
	}
	return out
}

// Result is the outcome of a completed election.
type Result struct {
	WinnerInstanceID string
	WinnerPort       int
	Candidates       []coordination.ElectionCandidate
}

// Coordinator runs at most one election at a time. Its state is transient
// and cleared on completion or abort — it is never shared with
// MasterCore/WorkerCore state (§3 ownership).
type Coordinator struct {
	cfg Config

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
}

// New constructs a Coordinator.
func New(cfg Config) *Coordinator {
	return &Coordinator{cfg: cfg.withDefaults(), state: StateIdle}
}

// State reports the coordinator's current position in the state machine.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Timeout returns the configured election-collection timeout.
func (c *Coordinator) Timeout() time.Duration {
	return c.cfg.ElectionTimeout
}

// IsElectionInProgress reports whether an election is currently running.
func (c *Coordinator) IsElectionInProgress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != StateIdle
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Abort clears any in-progress election and resets the flag, per §5's
// cancellation contract.
func (c *Coordinator) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	c.state = StateIdle
}

// Run executes one full election: discover candidates, score them,
// decide the winner by the deterministic comparator, and broadcast the
// result to every loser. A second concurrent call returns
// ErrAlreadyInProgress.
func (c *Coordinator) Run(ctx context.Context, dying RegistryLister) (Result, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return Result{}, ErrAlreadyInProgress
	}
	c.state = StateDiscovering
	runCtx, cancel := context.WithTimeout(ctx, c.cfg.ElectionTimeout)
	c.cancel = cancel
	c.mu.Unlock()

	defer func() {
		cancel()
		c.setState(StateIdle)
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
	}()

	ports := c.discover(runCtx, dying)
	if len(ports) == 0 {
		return Result{}, fmt.Errorf("election: no candidates discovered")
	}

	c.setState(StateCollectingCandidates)
	candidates, totalDiscovered := c.collectCandidates(runCtx, ports)

	quorum := int(math.Ceil(float64(totalDiscovered) / 2.0))
	if len(candidates) < quorum {
		return Result{}, fmt.Errorf("%w: got %d of %d discovered (need %d)", ErrNoQuorum, len(candidates), totalDiscovered, quorum)
	}

	c.setState(StateDecided)
	winner, ok := decide(candidates)
	if !ok {
		return Result{}, fmt.Errorf("election: no unique winner among %d candidates", len(candidates))
	}

	c.setState(StateBroadcasting)
	c.broadcast(candidates, winner)

	return Result{
		WinnerInstanceID: winner.InstanceID,
		WinnerPort:       winner.WorkerInfo.Port,
		Candidates:       candidates,
	}, nil
}

// discover runs the two discovery strategies in order, stopping at the
// first that yields any candidate port: ask the dying master's registry,
// then fall back to a bounded-concurrency scan of the worker port range.
func (c *Coordinator) discover(ctx context.Context, dying RegistryLister) []int {
	if dying != nil {
		if workers := dying.List(); len(workers) > 0 {
			ports := make([]int, 0, len(workers))
			for _, w := range workers {
				ports = append(ports, w.Port)
			}
			return ports
		}
	}
	return c.scanPortRange(ctx)
}

// scanPortRange probes every port in [WorkerPortStart, WorkerPortEnd] in
// batches of ScanConcurrency, pausing ScanBatchPause between batches. A
// port is a worker iff its /health reply carries a non-empty instanceId.
func (c *Coordinator) scanPortRange(ctx context.Context) []int {
	var found []int
	var mu sync.Mutex

	ports := make([]int, 0, c.cfg.WorkerPortEnd-c.cfg.WorkerPortStart+1)
	for p := c.cfg.WorkerPortStart; p <= c.cfg.WorkerPortEnd; p++ {
		ports = append(ports, p)
	}

	for i := 0; i < len(ports); i += c.cfg.ScanConcurrency {
		select {
		case <-ctx.Done():
			return found
		default:
		}

		end := i + c.cfg.ScanConcurrency
		if end > len(ports) {
			end = len(ports)
		}
		batch := ports[i:end]

		var wg sync.WaitGroup
		for _, port := range batch {
			wg.Add(1)
			go func(port int) {
				defer wg.Done()
				if id := probeHealthInstanceID(ctx, port, c.cfg.ScanPerProbeTimeout); id != "" {
					mu.Lock()
					found = append(found, port)
					mu.Unlock()
				}
			}(port)
		}
		wg.Wait()

		if end < len(ports) {
			time.Sleep(c.cfg.ScanBatchPause)
		}
	}

	return found
}

func probeHealthInstanceID(ctx context.Context, port int, timeout time.Duration) string {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return ""
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	var body struct {
		InstanceID string `json:"instanceId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ""
	}
	return body.InstanceID
}

// collectCandidates queries /election/candidate on every discovered port
// concurrently and returns the successful responses, plus the total
// number of ports that were asked (for the quorum calculation).
func (c *Coordinator) collectCandidates(ctx context.Context, ports []int) ([]coordination.ElectionCandidate, int) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var candidates []coordination.ElectionCandidate

	for _, port := range ports {
		wg.Add(1)
		go func(port int) {
			defer wg.Done()
			cand, err := fetchCandidate(ctx, port)
			if err != nil {
				log.Printf("[ELECTION] candidate query to port %d failed: %v", port, err)
				return
			}
			mu.Lock()
			candidates = append(candidates, cand)
			mu.Unlock()
		}(port)
	}
	wg.Wait()

	return candidates, len(ports)
}

func fetchCandidate(ctx context.Context, port int) (coordination.ElectionCandidate, error) {
	url := fmt.Sprintf("http://127.0.0.1:%d/election/candidate", port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return coordination.ElectionCandidate{}, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return coordination.ElectionCandidate{}, err
	}
	defer resp.Body.Close()

	var cand coordination.ElectionCandidate
	if err := json.NewDecoder(resp.Body).Decode(&cand); err != nil {
		return coordination.ElectionCandidate{}, err
	}
	cand.WorkerInfo.Port = port
	return cand, nil
}

// decide applies the deterministic comparator (workspaceScore DESC,
// uptime DESC, resourceUsage ASC, instanceId ASC) and reports the unique
// maximum. If two candidates tie on every field including instanceId
// (impossible in practice since instanceId is unique) ok is false.
func decide(candidates []coordination.ElectionCandidate) (coordination.ElectionCandidate, bool) {
	if len(candidates) == 0 {
		return coordination.ElectionCandidate{}, false
	}

	sorted := make([]coordination.ElectionCandidate, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		return less(sorted[j], sorted[i])
	})

	if len(sorted) > 1 && !less(sorted[1], sorted[0]) {
		return coordination.ElectionCandidate{}, false
	}
	return sorted[0], true
}

// less reports whether a ranks below b under the comparator (so sorting
// with "j less-than i" via this puts the winner first).
func less(a, b coordination.ElectionCandidate) bool {
	if a.WorkspaceScore != b.WorkspaceScore {
		return a.WorkspaceScore < b.WorkspaceScore
	}
	if a.Uptime != b.Uptime {
		return a.Uptime < b.Uptime
	}
	if a.ResourceUsage != b.ResourceUsage {
		return a.ResourceUsage > b.ResourceUsage
	}
	return a.InstanceID > b.InstanceID
}

// broadcast sends MASTER_ELECTED to every candidate except the winner.
// Failures are logged and ignored — losers fall back to discovering the
// new master via their own health loop within 30s (§4.9).
func (c *Coordinator) broadcast(candidates []coordination.ElectionCandidate, winner coordination.ElectionCandidate) {
	msg := coordination.ElectionMessage{
		Type:           coordination.ElectionMessageMasterElected,
		FromInstanceID: c.cfg.SelfInstanceID,
		Timestamp:      time.Now().Unix(),
		Data:           map[string]string{"newMasterId": winner.InstanceID},
	}
	body, _ := json.Marshal(msg)

	var wg sync.WaitGroup
	for _, cand := range candidates {
		if cand.InstanceID == winner.InstanceID {
			continue
		}
		wg.Add(1)
		go func(port int, id string) {
			defer wg.Done()
			if err := postElectionMessage(port, body); err != nil {
				log.Printf("[ELECTION] broadcast to %s failed: %v", id, err)
			}
		}(cand.WorkerInfo.Port, cand.InstanceID)
	}
	wg.Wait()
}

func postElectionMessage(port int, body []byte) error {
	url := fmt.Sprintf("http://127.0.0.1:%d/election/message", port)
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}
