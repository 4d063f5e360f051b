// Command master is the reference entry point for an editorfed instance.
// Role detection decides at startup whether it actually runs as MASTER,
// WORKER, or STANDALONE — "master" names the coordination port range it
// defaults to, not a fixed role.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/athulya-anil/editorfed/pkg/adapter"
	"github.com/athulya-anil/editorfed/pkg/coordination"
	"github.com/athulya-anil/editorfed/pkg/roledetect"
	"github.com/athulya-anil/editorfed/pkg/supervisor"
)

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func main() {
	instanceID := os.Getenv("EDITORFED_INSTANCE_ID")
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	workspaceName := os.Getenv("EDITORFED_WORKSPACE_NAME")
	if workspaceName == "" {
		workspaceName = "default"
	}
	workspacePath := os.Getenv("EDITORFED_WORKSPACE_PATH")
	if workspacePath == "" {
		workspacePath, _ = os.Getwd()
	}

	masterPort := envInt("EDITORFED_MASTER_PORT", 9100)
	workerStart := envInt("EDITORFED_WORKER_PORT_START", 9101)
	workerEnd := envInt("EDITORFED_WORKER_PORT_END", 9199)

	heartbeatInterval := envDuration("EDITORFED_HEARTBEAT_INTERVAL", 5*time.Second)
	masterHealthInterval := envDuration("EDITORFED_MASTER_HEALTH_INTERVAL", 3*time.Second)
	registrationTimeout := envDuration("EDITORFED_REGISTRATION_TIMEOUT", 10*time.Second)
	electionTimeout := envDuration("EDITORFED_ELECTION_TIMEOUT", 5*time.Second)

	coordinationEnabled := os.Getenv("EDITORFED_DISABLE_COORDINATION") != "true"
	forcedRole := coordination.Role(os.Getenv("EDITORFED_FORCE_ROLE"))

	version := os.Getenv("EDITORFED_VERSION")
	if version == "" {
		version = "dev"
	}

	log.Printf("[MAIN] starting editorfed instance %s (workspace %s at %s)", instanceID, workspaceName, workspacePath)

	workspace := adapter.NewFilesystemWorkspace(workspaceName, workspacePath)
	tools := adapter.NewTools(instanceID, workspace)

	sup := supervisor.New(supervisor.Config{
		InstanceID:                instanceID,
		Version:                   version,
		MasterPort:                masterPort,
		WorkerPortStart:           workerStart,
		WorkerPortEnd:             workerEnd,
		HeartbeatInterval:         heartbeatInterval,
		MasterHealthCheckInterval: masterHealthInterval,
		RegistrationTimeout:       registrationTimeout,
		ElectionTimeout:           electionTimeout,
		Local:                     tools,
		Adapter:                   workspace,
		RoleDetect: roledetect.Config{
			CoordinationEnabled: coordinationEnabled,
			ForcedRole:          forcedRole,
			MasterPort:          masterPort,
			ScoreThreshold:      5.0,
			ProbeTimeout:        2 * time.Second,
			Scorer:              workspace.WorkspaceScoreInputs,
		},
	})

	ctx := context.Background()
	if err := sup.Start(ctx); err != nil {
		log.Fatalf("[MAIN] failed to start: %v", err)
	}
	log.Printf("[MAIN] running as %s", sup.Role())

	// The inbound MCP surface and dashboard only make sense once this
	// instance is actually acting as master; a worker serves its own
	// local surface via workercore directly, and an instance that starts
	// as STANDALONE binds no endpoint at all. A worker
	// that wins a later failover election is promoted by the supervisor
	// in the background, so inboundSurfaces polls for that promotion
	// rather than attaching inbound/dashboard once at startup only.
	surfaces := newInboundSurfaces(sup, tools, instanceID, version, masterPort)
	go surfaces.watch()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Printf("[MAIN] shutting down %s...", instanceID)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	surfaces.stop(shutdownCtx)
	if err := sup.Stop(shutdownCtx); err != nil {
		log.Printf("[MAIN] error during shutdown: %v", err)
	}
	log.Printf("[MAIN] stopped")
}
