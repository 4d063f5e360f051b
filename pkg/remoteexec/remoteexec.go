// Package remoteexec performs master-to-worker HTTP invocation of a
// single tool with bounded retries and exponential backoff (§4.5).
package remoteexec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/athulya-anil/editorfed/pkg/coordination"
)

// ErrWorkerUnreachable is raised when every attempt fails. The executor
// never mutates the registry itself — this error bubbles up to the
// caller (Router), which decides whether to route elsewhere.
var ErrWorkerUnreachable = errors.New("remoteexec: worker unreachable after retries")

// Executor calls a worker's /tools/:tool endpoint over HTTP.
type Executor struct {
	// MaxAttempts is the total number of tries including the first
	// (spec: up to 4 attempts = initial + 3 retries).
	MaxAttempts int
	// InitialBackoff is the delay before the first retry; it doubles on
	// each subsequent retry.
	InitialBackoff time.Duration
	// AttemptTimeout bounds a single HTTP round trip.
	AttemptTimeout time.Duration
}

// New returns an Executor configured per spec defaults (4 attempts,
// 1s initial backoff doubling, 30s per-attempt timeout).
func New() *Executor {
	return &Executor{
		MaxAttempts:    4,
		InitialBackoff: time.Second,
		AttemptTimeout: 30 * time.Second,
	}
}

// Call invokes tool on the given worker, retrying transient failures with
// exponential backoff. On final failure it returns ErrWorkerUnreachable.
func (e *Executor) Call(worker *coordination.WorkerRecord, tool string, params map[string]any) (coordination.ToolResult, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return coordination.ToolResult{}, fmt.Errorf("remoteexec: marshal params: %w", err)
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/tools/%s", worker.Port, tool)
	backoff := e.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= e.MaxAttempts; attempt++ {
		if attempt > 1 {
			log.Printf("[REMOTEEXEC] retrying %s on %s (attempt %d/%d) after %v", tool, worker.InstanceID, attempt, e.MaxAttempts, backoff)
			time.Sleep(backoff)
			backoff *= 2
		}

		result, err := e.attempt(url, body)
		if err == nil {
			return result, nil
		}
		lastErr = err
		log.Printf("[REMOTEEXEC] attempt %d/%d for %s on %s failed: %v", attempt, e.MaxAttempts, tool, worker.InstanceID, err)
	}

	return coordination.ToolResult{}, fmt.Errorf("%w: %s on %s: %v", ErrWorkerUnreachable, tool, worker.InstanceID, lastErr)
}

func (e *Executor) attempt(url string, body []byte) (coordination.ToolResult, error) {
	client := &http.Client{Timeout: e.AttemptTimeout}

	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return coordination.ToolResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return coordination.ToolResult{}, fmt.Errorf("worker returned status %d", resp.StatusCode)
	}

	var result coordination.ToolResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		if resp.StatusCode >= 400 {
			return coordination.ToolResult{Error: fmt.Sprintf("worker returned status %d", resp.StatusCode)}, nil
		}
		return coordination.ToolResult{}, fmt.Errorf("decode worker response: %w", err)
	}

	if resp.StatusCode >= 400 {
		// Protocol-level rejection (bad request, unknown tool): not
		// retryable, surfaced as a result-shaped error rather than a
		// connection failure.
		if result.Error == "" {
			result.Error = fmt.Sprintf("worker returned status %d", resp.StatusCode)
		}
		return result, nil
	}

	return result, nil
}
