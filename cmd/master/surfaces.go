package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/athulya-anil/editorfed/pkg/adapter"
	"github.com/athulya-anil/editorfed/pkg/dashboard"
	"github.com/athulya-anil/editorfed/pkg/inbound"
	"github.com/athulya-anil/editorfed/pkg/mastercore"
	"github.com/athulya-anil/editorfed/pkg/supervisor"
)

// inboundSurfaces owns the inbound MCP transport and dashboard, both of
// which only make sense while this process is acting as MASTER.
// It polls the supervisor rather than attaching once at startup, since a
// worker that wins a later failover election is promoted to MASTER in
// the background with no other signal back to main.
type inboundSurfaces struct {
	sup        *supervisor.Supervisor
	tools      *adapter.Tools
	instanceID string
	version    string
	masterPort int

	mu        sync.Mutex
	current   *mastercore.Core
	transport *inbound.Transport
	dashSrv   *http.Server
	stopCh    chan struct{}
}

func newInboundSurfaces(sup *supervisor.Supervisor, tools *adapter.Tools, instanceID, version string, masterPort int) *inboundSurfaces {
	return &inboundSurfaces{
		sup:        sup,
		tools:      tools,
		instanceID: instanceID,
		version:    version,
		masterPort: masterPort,
		stopCh:     make(chan struct{}),
	}
}

// watch attaches the inbound surfaces the first time it observes a live
// MasterCore, and re-attaches if a later promotion produces a different
// one (the supervisor never mutates a MasterCore in place, so a new
// pointer means a new instance to wire up).
func (s *inboundSurfaces) watch() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			master := s.sup.Master()
			s.mu.Lock()
			already := s.current
			s.mu.Unlock()
			if master != nil && master != already {
				s.attach(master)
			}
		}
	}
}

func (s *inboundSurfaces) attach(master *mastercore.Core) {
	s.mu.Lock()
	oldTransport, oldDash := s.transport, s.dashSrv
	s.mu.Unlock()
	if oldTransport != nil || oldDash != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if oldTransport != nil {
			oldTransport.Stop(stopCtx)
		}
		if oldDash != nil {
			oldDash.Shutdown(stopCtx)
		}
		cancel()
	}

	transport := inbound.New(fmt.Sprintf("editorfed-%s", s.instanceID), s.version, master, func() inbound.Summary {
		return inbound.Summary{
			Status:      "healthy",
			InstanceID:  master.InstanceID(),
			Role:        string(s.sup.Role()),
			WorkerCount: master.Registry().Len(),
			Uptime:      master.Uptime(),
		}
	}, s.tools.GetAvailableTools())

	inboundPort := envInt("EDITORFED_INBOUND_PORT", s.masterPort+1000)
	if err := transport.Start(inboundPort); err != nil {
		log.Printf("[MAIN] failed to start inbound transport: %v", err)
	}

	var dashSrv *http.Server
	if dash, err := dashboard.New(master); err != nil {
		log.Printf("[MAIN] dashboard unavailable (templates not found): %v", err)
	} else {
		gin.SetMode(gin.ReleaseMode)
		engine := gin.New()
		engine.Use(gin.Recovery())
		dash.SetupRoutes(engine)

		dashboardPort := envInt("EDITORFED_DASHBOARD_PORT", s.masterPort+2000)
		dashSrv = &http.Server{Addr: fmt.Sprintf("127.0.0.1:%d", dashboardPort), Handler: engine}
		go func() {
			if err := dashSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("[MAIN] dashboard server error: %v", err)
			}
		}()
		log.Printf("[MAIN] dashboard listening on 127.0.0.1:%d", dashboardPort)
	}

	s.mu.Lock()
	s.current = master
	s.transport = transport
	s.dashSrv = dashSrv
	s.mu.Unlock()
}

// stop tears down whichever surfaces are currently attached, if any.
func (s *inboundSurfaces) stop(ctx context.Context) {
	close(s.stopCh)

	s.mu.Lock()
	transport := s.transport
	dashSrv := s.dashSrv
	s.mu.Unlock()

	if transport != nil {
		transport.Stop(ctx)
	}
	if dashSrv != nil {
		dashSrv.Shutdown(ctx)
	}
}
