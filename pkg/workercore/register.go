package workercore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/athulya-anil/editorfed/pkg/coordination"
	"github.com/athulya-anil/editorfed/pkg/healthprobe"
)

type registerRequest struct {
	InstanceID    string   `json:"instanceId"`
	WorkspaceName string   `json:"workspaceName"`
	WorkspacePath string   `json:"workspacePath"`
	Port          int      `json:"port"`
	Capabilities  []string `json:"capabilities"`
	Version       string   `json:"version"`
}

type registerResponse struct {
	Success           bool   `json:"success"`
	MasterInstanceID  string `json:"masterInstanceId"`
	HeartbeatInterval int64  `json:"heartbeatInterval"`
	Error             string `json:"error"`
}

// registerAndRun performs the initial registration with its exponential
// backoff retry, then — if registration ever succeeds — runs the
// heartbeat sender and master-health monitor until Stop. If registration
// is exhausted, it invokes OnRegistrationExhausted once and returns,
// leaving the worker HTTP surface (already bound in Start) running.
func (c *Core) registerAndRun() {
	defer c.loopDone.Done()

	if !c.registerWithRetry() {
		if c.cfg.OnRegistrationExhausted != nil {
			c.cfg.OnRegistrationExhausted()
		}
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.heartbeatLoop()
	}()
	c.masterHealthLoop()
	<-done
}

// registerWithRetry retries registerOnce with exponential backoff
// (2^n seconds) up to maxRegistrationAttempts times (§4.8).
func (c *Core) registerWithRetry() bool {
	for attempt := 0; attempt < maxRegistrationAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			log.Printf("[WORKER] registration attempt %d/%d in %v", attempt+1, maxRegistrationAttempts, backoff)
			select {
			case <-time.After(backoff):
			case <-c.stop:
				return false
			}
		}

		if err := c.registerOnce(); err != nil {
			log.Printf("[WORKER] registration attempt %d/%d failed: %v", attempt+1, maxRegistrationAttempts, err)
			continue
		}
		return true
	}
	return false
}

// registerOnce sends one registration request to the master, preserving
// this worker's instanceId across re-registrations.
func (c *Core) registerOnce() error {
	var info coordination.WorkspaceInfo
	if c.cfg.Adapter != nil {
		if i, err := c.cfg.Adapter.CurrentWorkspaceInfo(); err == nil {
			info = i
		}
	}

	var caps []string
	if c.cfg.Local != nil {
		caps = c.cfg.Local.GetAvailableTools()
	}

	body, err := json.Marshal(registerRequest{
		InstanceID:    c.cfg.InstanceID,
		WorkspaceName: info.Name,
		WorkspacePath: info.Path,
		Port:          c.Port(),
		Capabilities:  caps,
		Version:       c.cfg.Version,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RegistrationTimeout)
	defer cancel()

	url := fmt.Sprintf("http://127.0.0.1:%d/coordination/workers/register", c.cfg.MasterPort)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: c.cfg.RegistrationTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out registerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode register response: %w", err)
	}
	if !out.Success {
		return fmt.Errorf("master rejected registration: %s", out.Error)
	}

	c.mu.Lock()
	if c.masterID == "" {
		c.startedAt = time.Now()
	}
	c.masterID = out.MasterInstanceID
	c.heartbeatInterval = time.Duration(out.HeartbeatInterval) * time.Millisecond
	if c.heartbeatInterval == 0 {
		c.heartbeatInterval = 5 * time.Second
	}
	c.mu.Unlock()

	return nil
}

type heartbeatRequest struct {
	InstanceID string                    `json:"instanceId"`
	Status     coordination.WorkerStatus `json:"status"`
	Timestamp  int64                     `json:"timestamp"`
}

type heartbeatResponse struct {
	Success          bool   `json:"success"`
	MasterStatus     string `json:"masterStatus"`
	ShouldReregister bool   `json:"shouldReregister"`
}

// heartbeatLoop sends a heartbeat on the master-assigned cadence. If the
// HTTP call itself fails, the loop proceeds regardless — the
// master-health loop is the sole authority for failure detection (§4.8).
func (c *Core) heartbeatLoop() {
	c.mu.Lock()
	interval := c.heartbeatInterval
	c.mu.Unlock()
	if interval == 0 {
		interval = 5 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sendHeartbeat()
		}
	}
}

func (c *Core) sendHeartbeat() {
	status := c.currentStatus()

	body, _ := json.Marshal(heartbeatRequest{
		InstanceID: c.cfg.InstanceID,
		Status:     status,
		Timestamp:  time.Now().Unix(),
	})

	url := fmt.Sprintf("http://127.0.0.1:%d/coordination/workers/%s/heartbeat", c.cfg.MasterPort, c.cfg.InstanceID)
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("[WORKER] heartbeat failed: %v", err)
		return
	}
	defer resp.Body.Close()

	var out heartbeatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Printf("[WORKER] heartbeat response decode failed: %v", err)
		return
	}

	if out.ShouldReregister {
		log.Printf("[WORKER] master requested re-registration")
		if err := c.registerOnce(); err != nil {
			log.Printf("[WORKER] re-registration failed: %v", err)
		}
	}
}

func (c *Core) currentStatus() coordination.WorkerStatus {
	if c.cfg.Adapter != nil {
		if s, err := c.cfg.Adapter.WorkerStatus(); err == nil {
			return s
		}
	}
	return coordination.StatusActive
}

// masterHealthLoop probes the master on MasterHealthCheckInterval,
// maintaining a consecutive-failure counter; at masterHealthFailureThreshold
// it triggers an election, provided none is already running (§4.8, §4.9).
func (c *Core) masterHealthLoop() {
	ticker := time.NewTicker(c.cfg.MasterHealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			status := healthprobe.ProbeMaster(c.cfg.MasterPort, 10*time.Second)

			c.mu.Lock()
			if status == healthprobe.HEALTHY {
				c.failureCount = 0
			} else {
				c.failureCount++
			}
			count := c.failureCount
			c.mu.Unlock()

			if count >= masterHealthFailureThreshold {
				inProgress := c.cfg.ElectionInProgress != nil && c.cfg.ElectionInProgress()
				if !inProgress && c.cfg.TriggerElection != nil {
					log.Printf("[WORKER] master unreachable %d consecutive checks; initiating election", count)
					c.cfg.TriggerElection()
				}
			}
		}
	}
}
