package mastercore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/athulya-anil/editorfed/pkg/healthprobe"
)

// announcement is the shared-filesystem record a master writes so that
// any other process that becomes master on this host can actually detect
// it, instead of the source's checkForOtherMaster always answering "no
// other master" (an open question the spec calls out explicitly: a
// faithful implementation must probe a secondary channel, not fabricate
// the answer).
type announcement struct {
	InstanceID string `json:"instanceId"`
	Port       int    `json:"port"`
	Pid        int    `json:"pid"`
}

// announcementGlob matches every master's announcement file so
// checkSplitBrain can read the full set, not just one shared slot.
func announcementGlob() string {
	return filepath.Join(os.TempDir(), "editorfed-master-announce-*.json")
}

// announcementPath is the well-known, host-local file one master uses to
// announce itself, keyed by its own coordination port so that two
// concurrently-running masters never overwrite each other's record.
// Using the OS temp dir keeps this a single-host mechanism, consistent
// with the Non-goal of cross-host clustering.
func announcementPath(port int) string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("editorfed-master-announce-%d.json", port))
}

func (c *Core) announceSelf() error {
	data, err := json.Marshal(announcement{InstanceID: c.cfg.InstanceID, Port: c.cfg.Port, Pid: os.Getpid()})
	if err != nil {
		return err
	}
	return os.WriteFile(c.brainPath, data, 0o644)
}

// forgetSelf removes this master's announcement file so a stale record
// doesn't outlive the process and get mistaken for a live master.
func (c *Core) forgetSelf() {
	os.Remove(c.brainPath)
}

// checkSplitBrain reads every master's announcement file; since each
// master writes to its own port-keyed file, both sides of a split brain
// observe each other symmetrically regardless of which one started
// first or wrote last. Any entry that names a different, currently
// healthy master is a real split-brain condition and is resolved
// deterministically.
func (c *Core) checkSplitBrain() {
	matches, err := filepath.Glob(announcementGlob())
	if err != nil {
		return
	}

	for _, path := range matches {
		if path == c.brainPath {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var other announcement
		if err := json.Unmarshal(data, &other); err != nil {
			continue
		}
		if other.InstanceID == "" || other.InstanceID == c.cfg.InstanceID {
			continue
		}
		if healthprobe.ProbeMaster(other.Port, 2*time.Second) != healthprobe.HEALTHY {
			continue
		}

		c.resolveSplitBrain(other)
	}
}

// resolveSplitBrain applies the deterministic tie-break: the instance
// with the higher lexicographic instanceId steps down; the other
// continues untouched and never raises (§4.7, §7).
func (c *Core) resolveSplitBrain(other announcement) {
	if c.cfg.InstanceID <= other.InstanceID {
		log.Printf("[MASTER] split-brain detected against %s; this instance has the lower id and continues", other.InstanceID)
		return
	}

	log.Printf("[MASTER] split-brain detected against %s; this instance has the higher id and steps down", other.InstanceID)
	if c.splitBrainHandler != nil {
		// Run off the reaper goroutine: the handler stops this Core, and
		// Stop waits for reapLoop to exit.
		go c.splitBrainHandler(other.InstanceID, other.Port)
	}
}

// broadcastShutdown notifies every registered worker that this master is
// shutting down, bounded by ctx's deadline. Failures are logged and
// ignored — this is a best-effort notification, not a commit protocol.
func (c *Core) broadcastShutdown(ctx context.Context) {
	workers := c.registry.List()
	if len(workers) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(port int, id string) {
			defer wg.Done()
			if err := c.notifyShutdown(ctx, port); err != nil {
				log.Printf("[MASTER] shutdown notify to %s failed: %v", id, err)
			}
		}(w.Port, w.InstanceID)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("[MASTER] shutdown broadcast deadline exceeded; abandoning remaining notifications")
	}
}

func (c *Core) notifyShutdown(ctx context.Context, port int) error {
	body, _ := json.Marshal(map[string]any{
		"type":       "MASTER_SHUTDOWN",
		"instanceId": c.cfg.InstanceID,
		"timestamp":  time.Now().Unix(),
		"message":    "master is shutting down",
	})

	url := fmt.Sprintf("http://127.0.0.1:%d/coordination/shutdown", port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}
