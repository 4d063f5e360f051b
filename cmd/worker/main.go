// Command worker is a thin wrapper over the same supervisor used by
// cmd/master, forced into WORKER role detection — useful when an
// operator already knows a master is running and wants to skip the
// probe-and-decide dance.
package main

import (
	"context"
	"fmt"
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
		hostname, _ := os.Hostname()
		instanceID = fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8])
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

	version := os.Getenv("EDITORFED_VERSION")
	if version == "" {
		version = "dev"
	}

	log.Printf("[MAIN] starting editorfed worker %s (workspace %s at %s), master at :%d", instanceID, workspaceName, workspacePath, masterPort)

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
			CoordinationEnabled: true,
			ForcedRole:          coordination.RoleWorker,
			MasterPort:          masterPort,
			ProbeTimeout:        2 * time.Second,
			Scorer:              workspace.WorkspaceScoreInputs,
		},
	})

	if err := sup.Start(context.Background()); err != nil {
		log.Fatalf("[MAIN] failed to start: %v", err)
	}
	log.Printf("[MAIN] running as %s", sup.Role())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Printf("[MAIN] shutting down %s...", instanceID)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sup.Stop(shutdownCtx); err != nil {
		log.Printf("[MAIN] error during shutdown: %v", err)
	}
	log.Printf("[MAIN] stopped")
}
