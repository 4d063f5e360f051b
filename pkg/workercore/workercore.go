// Package workercore registers with a master, sends heartbeats, exposes
// the worker-side HTTP surface (local tool execution, context, election
// endpoints), and monitors master health to trigger an election when the
// master disappears (§4.8).
package workercore

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/athulya-anil/editorfed/pkg/coordination"
	"github.com/athulya-anil/editorfed/pkg/portprobe"
)

// masterHealthFailureThreshold is the consecutive non-HEALTHY probe count
// that triggers an election (§4.8).
const masterHealthFailureThreshold = 3

// maxRegistrationAttempts bounds the initial-registration retry loop
// (§4.8: exponential backoff 2^n seconds, up to 5 attempts).
const maxRegistrationAttempts = 5

// Config configures a Core.
type Config struct {
	InstanceID      string
	WorkerPortStart int
	WorkerPortEnd   int
	MasterPort      int
	Version         string

	MasterHealthCheckInterval time.Duration
	RegistrationTimeout       time.Duration

	Local   coordination.LocalToolExecutor
	Adapter coordination.WorkspaceAdapter

	// ElectionInProgress reports whether an election is already running,
	// so the master-health loop does not start a second one (§4.9: only
	// one election active per process).
	ElectionInProgress func() bool

	// TriggerElection is invoked once the failure counter reaches
	// masterHealthFailureThreshold.
	TriggerElection func()

	// OnRegistrationExhausted is invoked when registration fails
	// maxRegistrationAttempts times; the caller (ModeSupervisor)
	// transitions this process to STANDALONE while the worker endpoint
	// keeps running (§4.10).
	OnRegistrationExhausted func()

	// OnMasterElected is invoked when this worker receives a
	// MASTER_ELECTED broadcast naming a new master. ModeSupervisor only
	// logs it; the worker finds the new master through its own health
	// loop (§4.9).
	OnMasterElected func(newMasterInstanceID string)

	// OnMasterShutdown is invoked when this worker receives
	// MASTER_SHUTDOWN, so the supervisor can initiate election
	// immediately instead of waiting out the failure-counter threshold.
	OnMasterShutdown func()
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MasterHealthCheckInterval == 0 {
		out.MasterHealthCheckInterval = 3 * time.Second
	}
	if out.RegistrationTimeout == 0 {
		out.RegistrationTimeout = 10 * time.Second
	}
	return out
}

// Core is a worker's coordination-plane state and HTTP surface.
type Core struct {
	cfg  Config
	port int

	server *http.Server

	mu                sync.Mutex
	heartbeatInterval time.Duration
	masterID          string
	failureCount      int
	status            coordination.WorkerStatus
	startedAt         time.Time

	stop     chan struct{}
	loopDone sync.WaitGroup
}

// New allocates a Core. It does not pick a port or bind a listener until
// Start.
func New(cfg Config) *Core {
	return &Core{cfg: cfg.withDefaults(), status: coordination.StatusActive}
}

// InstanceID returns this worker's identity.
func (c *Core) InstanceID() string { return c.cfg.InstanceID }

// Port returns the loopback port this worker bound, valid after Start.
func (c *Core) Port() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port
}

// Start picks a free port in the configured worker range, binds the
// worker HTTP surface, and launches registration (with its own retry
// loop), the heartbeat sender, and the master-health monitor as
// background goroutines. It returns once the listener is bound.
func (c *Core) Start(ctx context.Context) error {
	port, err := portprobe.FindAvailablePort(c.cfg.WorkerPortStart, c.cfg.WorkerPortEnd)
	if err != nil {
		return fmt.Errorf("workercore: %w", err)
	}
	c.mu.Lock()
	c.port = port
	c.startedAt = time.Now()
	c.mu.Unlock()

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	c.registerRoutes(engine)

	c.server = &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", port),
		Handler: engine,
	}

	ln, err := listen(port)
	if err != nil {
		return fmt.Errorf("workercore: bind port %d: %w", port, err)
	}

	go func() {
		if err := c.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("[WORKER] server error: %v", err)
		}
	}()

	c.stop = make(chan struct{})

	c.loopDone.Add(1)
	go c.registerAndRun()

	log.Printf("[WORKER] %s listening on 127.0.0.1:%d", c.cfg.InstanceID, port)
	return nil
}

// Stop closes the worker's HTTP server and stops its background loops
// within a 5s deadline (§5).
func (c *Core) Stop(ctx context.Context) error {
	if c.stop != nil {
		close(c.stop)
	}

	done := make(chan struct{})
	go func() {
		c.loopDone.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Printf("[WORKER] background loops did not stop within deadline")
	}

	if c.server != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return c.server.Shutdown(stopCtx)
	}
	return nil
}

// resourceUsage is a local, adapter-independent estimate (0-100, lower
// better) used only for election candidate scoring. The spec's adapter
// interface has no resource-usage method, so this stays a process-local
// heuristic rather than something fabricated on the adapter's behalf.
func resourceUsage() float64 {
	n := runtime.NumGoroutine()
	usage := float64(n)
	if usage > 100 {
		usage = 100
	}
	return usage
}

// uptimeMillis returns milliseconds since this worker first registered
// (since Start, before any registration has succeeded).
func (c *Core) uptimeMillis() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startedAt.IsZero() {
		return 0
	}
	return time.Since(c.startedAt).Milliseconds()
}
