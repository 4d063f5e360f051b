// Package mastercore owns the registry, exposes the coordination
// endpoints, ticks the heartbeat reaper, tracks performance, broadcasts
// graceful-shutdown notifications, and arbitrates split-brain (§4.7).
package mastercore

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/athulya-anil/editorfed/pkg/coordination"
	"github.com/athulya-anil/editorfed/pkg/registry"
	"github.com/athulya-anil/editorfed/pkg/remoteexec"
	"github.com/athulya-anil/editorfed/pkg/router"
)

const toolCallHistoryCapacity = 100

// Config configures a Core.
type Config struct {
	InstanceID        string
	Port              int
	HeartbeatInterval time.Duration
	Version           string
	Local             coordination.LocalToolExecutor
	Adapter           coordination.WorkspaceAdapter
}

// Core is the master's coordination-plane state and HTTP surface. It
// exclusively owns MasterState — every mutation of registeredWorkers,
// workspaceRouting, performanceMetrics and toolCallHistory routes through
// Core's own methods (§9: single-writer discipline, no exposing internal
// containers to handlers).
type Core struct {
	cfg      Config
	registry *registry.Registry
	router   *router.Router

	startedAt time.Time
	server    *http.Server

	mu           sync.Mutex
	history      []coordination.ToolCallLogEntry
	totalCalls   int64
	successCalls int64
	avgResponse  float64
	metricsAt    time.Time

	reaperStop chan struct{}
	reaperDone chan struct{}

	// splitBrainHandler is invoked when this master loses a split-brain
	// tie-break; it receives the winning master's instance id so the
	// caller (ModeSupervisor) can register as its worker.
	splitBrainHandler func(winnerInstanceID string, winnerPort int)

	brainPath string
}

// New constructs a Core. It does not bind any listener until Start.
func New(cfg Config) *Core {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	reg := registry.New(cfg.InstanceID, cfg.HeartbeatInterval)
	c := &Core{
		cfg:       cfg,
		registry:  reg,
		startedAt: time.Now(),
		metricsAt: time.Now(),
		brainPath: announcementPath(cfg.Port),
	}
	c.router = &router.Router{
		Registry:  reg,
		Local:     cfg.Local,
		Remote:    remoteexec.New(),
		LocalRole: "master",
	}
	return c
}

// InstanceID returns the master's identity.
func (c *Core) InstanceID() string { return c.cfg.InstanceID }

// Registry exposes read access to the worker registry for components
// that need a snapshot (e.g. ElectionCoordinator's registry-query
// discovery strategy).
func (c *Core) Registry() *registry.Registry { return c.registry }

// SetSplitBrainHandler installs the callback invoked when this master
// loses split-brain arbitration.
func (c *Core) SetSplitBrainHandler(fn func(winnerInstanceID string, winnerPort int)) {
	c.splitBrainHandler = fn
}

// Start binds the coordination HTTP server, announces this master through
// its announcement file in the OS temp dir (for split-brain detection), and starts the
// heartbeat-reap ticker. It returns once the listener is bound; serving
// happens in a background goroutine.
func (c *Core) Start(ctx context.Context) error {
	if err := c.announceSelf(); err != nil {
		log.Printf("[MASTER] failed to write master announcement: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	c.registerRoutes(engine)

	c.server = &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", c.cfg.Port),
		Handler: engine,
	}

	ln, err := listen(c.cfg.Port)
	if err != nil {
		return fmt.Errorf("mastercore: bind port %d: %w", c.cfg.Port, err)
	}

	go func() {
		if err := c.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("[MASTER] server error: %v", err)
		}
	}()

	c.reaperStop = make(chan struct{})
	c.reaperDone = make(chan struct{})
	go c.reapLoop()

	log.Printf("[MASTER] %s listening on 127.0.0.1:%d", c.cfg.InstanceID, c.cfg.Port)
	return nil
}

// reapLoop ticks the registry reaper and the split-brain filesystem
// check on the heartbeat cadence, exiting promptly on stop.
func (c *Core) reapLoop() {
	defer close(c.reaperDone)
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.reaperStop:
			return
		case <-ticker.C:
			if reaped := c.registry.ReapExpired(); len(reaped) > 0 {
				log.Printf("[MASTER] reaped %d expired worker(s): %v", len(reaped), reaped)
			}
			c.checkSplitBrain()
		}
	}
}

// Stop broadcasts MASTER_SHUTDOWN to every registered worker within a
// global 5s deadline, then closes the server. Per §5, stop() must
// complete or abandon in-flight work within its deadline, not
// best-effort past it.
func (c *Core) Stop(ctx context.Context) error {
	if c.reaperStop != nil {
		close(c.reaperStop)
		<-c.reaperDone
	}
	c.forgetSelf()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	c.broadcastShutdown(shutdownCtx)

	if c.server != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		return c.server.Shutdown(stopCtx)
	}
	return nil
}

// Uptime returns how long this master has been running.
func (c *Core) Uptime() time.Duration { return time.Since(c.startedAt) }

// Metrics returns a snapshot of the rolling performance metrics.
func (c *Core) Metrics() coordination.PerformanceMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	successRate := 0.0
	if c.totalCalls > 0 {
		successRate = float64(c.successCalls) / float64(c.totalCalls)
	}
	return coordination.PerformanceMetrics{
		TotalCalls:  c.totalCalls,
		SuccessRate: successRate,
		AvgResponse: c.avgResponse,
		UpdatedAt:   c.metricsAt,
	}
}

// History returns a snapshot of the bounded tool-call ring buffer,
// oldest first.
func (c *Core) History() []coordination.ToolCallLogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]coordination.ToolCallLogEntry, len(c.history))
	copy(out, c.history)
	return out
}

// recordCall updates performanceMetrics and appends to toolCallHistory.
// Both are single-writer state guarded by c.mu (§5 shared-resource
// policy).
func (c *Core) recordCall(entry coordination.ToolCallLogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalCalls++
	if entry.Error == "" {
		c.successCalls++
	}
	// Rolling average: weight the new sample by 1/totalCalls.
	c.avgResponse += (float64(entry.Duration.Milliseconds()) - c.avgResponse) / float64(c.totalCalls)
	c.metricsAt = time.Now()

	c.history = append(c.history, entry)
	if len(c.history) > toolCallHistoryCapacity {
		c.history = c.history[len(c.history)-toolCallHistoryCapacity:]
	}
}

// HandleToolCall routes tool through the Router, records the outcome in
// history/metrics, and returns the result verbatim to the caller (with
// routedTo metadata attached to the log, per §7 propagation policy).
func (c *Core) HandleToolCall(ctx context.Context, tool string, params map[string]any) (coordination.ToolResult, error) {
	start := time.Now()
	outcome, err := c.router.Route(ctx, tool, params)
	duration := time.Since(start)

	entry := coordination.ToolCallLogEntry{
		ID:        uuid.NewString(),
		Tool:      tool,
		Params:    params,
		Timestamp: start,
		Duration:  duration,
		RoutedTo:  outcome.RoutedTo,
	}
	if err != nil {
		entry.Error = err.Error()
		c.recordCall(entry)
		return coordination.ToolResult{}, err
	}

	entry.Result = outcome.Result.Result
	if !outcome.Result.Success {
		entry.Error = outcome.Result.Error
	}
	c.recordCall(entry)
	return outcome.Result, nil
}
