// Package supervisor is the lifecycle orchestrator that starts a process
// in its detected role and drives every role transition named in §4.10:
// worker→master on election win, master→worker on split-brain loss,
// worker→standalone on registration exhaustion, and the startup
// transitions out of RoleDetector's verdict.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/athulya-anil/editorfed/pkg/coordination"
	"github.com/athulya-anil/editorfed/pkg/election"
	"github.com/athulya-anil/editorfed/pkg/mastercore"
	"github.com/athulya-anil/editorfed/pkg/portprobe"
	"github.com/athulya-anil/editorfed/pkg/roledetect"
	"github.com/athulya-anil/editorfed/pkg/workercore"
)

// electionLossWait is how long a losing worker waits for the winner to
// come up before self-promoting (§4.10: WORKER, election lost, ≤30s).
const electionLossWait = 30 * time.Second

// Config configures a Supervisor. It is the single place that knows how
// to construct a MasterCore or WorkerCore for this process.
type Config struct {
	InstanceID string
	Version    string

	MasterPort      int
	WorkerPortStart int
	WorkerPortEnd   int

	HeartbeatInterval         time.Duration
	MasterHealthCheckInterval time.Duration
	RegistrationTimeout       time.Duration
	ElectionTimeout           time.Duration

	Local   coordination.LocalToolExecutor
	Adapter coordination.WorkspaceAdapter

	RoleDetect roledetect.Config
}

// Supervisor owns exactly one running role component at a time
// (mastercore.Core, workercore.Core, or neither for pure standalone) and
// transitions between them by constructing a fresh component, never
// mutating the previous one in place (§9 design note).
type Supervisor struct {
	cfg Config

	mu             sync.Mutex
	role           coordination.Role
	transitioning  bool
	master         *mastercore.Core
	worker         *workercore.Core
	electionCoord  *election.Coordinator
	standaloneOnly bool
}

// New constructs a Supervisor. Call Start to enter the detected role.
func New(cfg Config) *Supervisor {
	s := &Supervisor{cfg: cfg}
	s.electionCoord = election.New(election.Config{
		SelfInstanceID:  cfg.InstanceID,
		MasterPort:      cfg.MasterPort,
		WorkerPortStart: cfg.WorkerPortStart,
		WorkerPortEnd:   cfg.WorkerPortEnd,
		ElectionTimeout: cfg.ElectionTimeout,
	})
	return s
}

// Role reports the currently running role.
func (s *Supervisor) Role() coordination.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// Master returns the currently running MasterCore, or nil if this
// process isn't (currently) acting as master. The returned pointer may
// become stale across a role transition — callers that hold it across
// an await should re-fetch rather than cache it indefinitely.
func (s *Supervisor) Master() *mastercore.Core {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.master
}

// Start runs RoleDetector and enters the resulting role (§4.10 startup
// row).
func (s *Supervisor) Start(ctx context.Context) error {
	role := roledetect.Detect(s.cfg.RoleDetect)
	log.Printf("[SUPERVISOR] detected role %s", role)

	switch role {
	case coordination.RoleMaster:
		return s.becomeMaster(ctx)
	case coordination.RoleWorker:
		return s.becomeWorker(ctx)
	default:
		return s.becomeStandalone(ctx)
	}
}

// Stop tears down whichever component is currently running, within its
// own 5s deadline.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	master := s.master
	worker := s.worker
	s.mu.Unlock()

	if master != nil {
		return master.Stop(ctx)
	}
	if worker != nil {
		return worker.Stop(ctx)
	}
	return nil
}

// beginTransition short-circuits re-entrant transitions (§4.10: "never
// concurrent"). It returns false if a transition is already underway.
func (s *Supervisor) beginTransition() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transitioning {
		return false
	}
	s.transitioning = true
	return true
}

func (s *Supervisor) endTransition() {
	s.mu.Lock()
	s.transitioning = false
	s.mu.Unlock()
}

// becomeMaster stops any worker this process is currently running (§4.10
// WORKER→MASTER on election win: "stop WorkerCore; start MasterCore"),
// then constructs and starts a fresh MasterCore, wiring its split-brain
// handler to step this process back down to WORKER on loss.
func (s *Supervisor) becomeMaster(ctx context.Context) error {
	s.mu.Lock()
	oldWorker := s.worker
	s.mu.Unlock()

	if oldWorker != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := oldWorker.Stop(stopCtx); err != nil {
			log.Printf("[SUPERVISOR] error stopping worker during promotion to MASTER: %v", err)
		}
		cancel()
	}

	m := mastercore.New(mastercore.Config{
		InstanceID:        s.cfg.InstanceID,
		Port:              s.cfg.MasterPort,
		HeartbeatInterval: s.cfg.HeartbeatInterval,
		Version:           s.cfg.Version,
		Local:             s.cfg.Local,
		Adapter:           s.cfg.Adapter,
	})
	m.SetSplitBrainHandler(s.onSplitBrainLoss)

	if err := m.Start(ctx); err != nil {
		return fmt.Errorf("supervisor: start master: %w", err)
	}

	s.mu.Lock()
	s.role = coordination.RoleMaster
	s.master = m
	s.worker = nil
	s.mu.Unlock()
	return nil
}

// becomeWorker stops any worker this process is currently running, then
// acquires a fresh port (always — including on a MASTER→WORKER
// transition, per the spec's redesign flag correcting the source's
// stale-port bug) and starts a fresh WorkerCore.
func (s *Supervisor) becomeWorker(ctx context.Context) error {
	s.mu.Lock()
	oldWorker := s.worker
	s.mu.Unlock()

	if oldWorker != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := oldWorker.Stop(stopCtx); err != nil {
			log.Printf("[SUPERVISOR] error stopping previous worker: %v", err)
		}
		cancel()
	}

	w := workercore.New(workercore.Config{
		InstanceID:                s.cfg.InstanceID,
		WorkerPortStart:           s.cfg.WorkerPortStart,
		WorkerPortEnd:             s.cfg.WorkerPortEnd,
		MasterPort:                s.cfg.MasterPort,
		Version:                   s.cfg.Version,
		MasterHealthCheckInterval: s.cfg.MasterHealthCheckInterval,
		RegistrationTimeout:       s.cfg.RegistrationTimeout,
		Local:                     s.cfg.Local,
		Adapter:                   s.cfg.Adapter,
		ElectionInProgress:        s.electionCoord.IsElectionInProgress,
		TriggerElection:           s.onElectionTrigger,
		OnRegistrationExhausted:   s.onRegistrationExhausted,
		OnMasterElected:           s.onMasterElected,
		OnMasterShutdown:          s.onMasterShutdown,
	})

	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("supervisor: start worker: %w", err)
	}

	s.mu.Lock()
	s.role = coordination.RoleWorker
	s.worker = w
	s.master = nil
	s.mu.Unlock()
	return nil
}

// becomeStandalone starts nothing and binds no endpoint: the supervisor
// only records the role. A process that enters STANDALONE here (rather
// than through registration exhaustion) serves no local tool-exec
// endpoint.
func (s *Supervisor) becomeStandalone(ctx context.Context) error {
	s.mu.Lock()
	s.role = coordination.RoleStandalone
	s.master = nil
	s.worker = nil
	s.standaloneOnly = true
	s.mu.Unlock()
	log.Printf("[SUPERVISOR] running STANDALONE, local tool execution only")
	return nil
}

// onSplitBrainLoss implements MASTER, split-brain loses tie → WORKER
// (§4.10): stop the master, point at the winner's port, and start a
// worker on a fresh port. No registry snapshot is taken; the stopped
// master's registry is dropped. If the worker transition fails, fall
// back to STANDALONE.
func (s *Supervisor) onSplitBrainLoss(winnerInstanceID string, winnerPort int) {
	if !s.beginTransition() {
		return
	}
	defer s.endTransition()

	log.Printf("[SUPERVISOR] split-brain loss to %s; stepping down to WORKER", winnerInstanceID)

	s.mu.Lock()
	master := s.master
	s.mu.Unlock()

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if master != nil {
		if err := master.Stop(stopCtx); err != nil {
			log.Printf("[SUPERVISOR] error stopping master during step-down: %v", err)
		}
	}

	s.mu.Lock()
	s.cfg.MasterPort = winnerPort
	s.mu.Unlock()

	if err := s.becomeWorker(context.Background()); err != nil {
		log.Printf("[SUPERVISOR] worker transition failed after split-brain loss: %v; falling back to STANDALONE", err)
		s.becomeStandalone(context.Background())
	}
}

// onRegistrationExhausted implements WORKER, registration exhausted →
// STANDALONE (§4.10): the worker's own HTTP surface keeps running (it was
// already bound in workercore.Start), the supervisor just relabels the
// role.
func (s *Supervisor) onRegistrationExhausted() {
	s.mu.Lock()
	s.role = coordination.RoleStandalone
	s.standaloneOnly = true
	s.mu.Unlock()
	log.Printf("[SUPERVISOR] registration exhausted; running STANDALONE with local tool-exec endpoint live")
}

// onMasterShutdown fires the moment a worker is notified its master is
// going away deliberately; it initiates election immediately rather than
// waiting for the failure-counter threshold.
func (s *Supervisor) onMasterShutdown() {
	log.Printf("[SUPERVISOR] received MASTER_SHUTDOWN notice")
	s.onElectionTrigger()
}

// onMasterElected fires when a worker receives a MASTER_ELECTED broadcast
// naming a peer other than itself; nothing to do here beyond logging —
// the worker's own health loop will discover the new master's port
// within its own probing cadence, per §4.9's 30s fallback guarantee.
func (s *Supervisor) onMasterElected(newMasterInstanceID string) {
	log.Printf("[SUPERVISOR] observed election result: new master is %s", newMasterInstanceID)
}

// onElectionTrigger runs an election in the background and applies its
// result: WORKER, election won → MASTER; WORKER, election lost → wait for
// the new master, self-promoting on timeout (§4.10).
func (s *Supervisor) onElectionTrigger() {
	if !s.beginTransition() {
		return
	}

	go func() {
		defer s.endTransition()

		ctx, cancel := context.WithTimeout(context.Background(), s.electionCoord.Timeout()+time.Second)
		defer cancel()

		s.mu.Lock()
		master := s.master
		s.mu.Unlock()

		var lister election.RegistryLister
		if master != nil {
			lister = master.Registry()
		}

		result, err := s.electionCoord.Run(ctx, lister)
		if err != nil {
			log.Printf("[SUPERVISOR] election failed: %v", err)
			return
		}

		if result.WinnerInstanceID == s.cfg.InstanceID {
			log.Printf("[SUPERVISOR] election won; transitioning to MASTER")
			if err := s.becomeMaster(context.Background()); err != nil {
				log.Printf("[SUPERVISOR] failed to start master after winning election: %v", err)
			}
			return
		}

		log.Printf("[SUPERVISOR] election lost to %s; waiting up to %v for it to come up", result.WinnerInstanceID, electionLossWait)
		// The winner binds the shared master port, not the worker port it
		// was elected from.
		s.mu.Lock()
		masterPort := s.cfg.MasterPort
		s.mu.Unlock()

		if s.waitForMaster(masterPort, electionLossWait) {
			if err := s.becomeWorker(context.Background()); err != nil {
				log.Printf("[SUPERVISOR] failed to register with elected master: %v", err)
			}
			return
		}

		log.Printf("[SUPERVISOR] elected master never came up within %v; self-promoting", electionLossWait)
		if err := s.becomeMaster(context.Background()); err != nil {
			log.Printf("[SUPERVISOR] self-promotion after election-lost timeout failed: %v", err)
		}
	}()
}

// waitForMaster polls the given port for a bound listener until it comes
// up or the deadline elapses.
func (s *Supervisor) waitForMaster(port int, deadline time.Duration) bool {
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if portprobe.IsReachable(port, 500*time.Millisecond) {
			return true
		}
		time.Sleep(500 * time.Millisecond)
	}
	return false
}
