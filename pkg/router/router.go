// Package router picks the execution target for a tool call based on its
// routing class: a single workspace match, the most-recently-active
// worker, or a fan-out-and-merge aggregation across every worker plus
// local (§4.6).
package router

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/athulya-anil/editorfed/pkg/coordination"
	"github.com/athulya-anil/editorfed/pkg/registry"
	"github.com/athulya-anil/editorfed/pkg/remoteexec"
	"github.com/athulya-anil/editorfed/pkg/toolcatalog"
)

// Router dispatches tool calls according to the static routing class
// table in pkg/toolcatalog.
type Router struct {
	Registry *registry.Registry
	Local    coordination.LocalToolExecutor
	Remote   *remoteexec.Executor

	// LocalRole labels the local branch of an aggregated fan-out
	// ("master" or "worker") per the merge policy for workspaces/
	// instances tools.
	LocalRole string
}

// Outcome is the result of routing one tool call, including which
// target actually served it (for ToolCallLog.routedTo).
type Outcome struct {
	Result   coordination.ToolResult
	RoutedTo string
	Fallback bool
}

// Route dispatches tool with params according to its routing class.
func (r *Router) Route(ctx context.Context, tool string, params map[string]any) (Outcome, error) {
	switch toolcatalog.ClassOf(tool) {
	case coordination.ClassAggregated:
		return r.routeAggregated(ctx, tool, params)
	case coordination.ClassActiveContext:
		return r.routeActiveContext(ctx, tool, params)
	default:
		return r.routeWorkspaceSpecific(ctx, tool, params)
	}
}

// routeWorkspaceSpecific implements the (a)-(e) selection chain: explicit
// workspace param, then uri prefix match, then most-recently-active
// worker, then any worker, then local. A failed remote call falls back to
// local execution.
func (r *Router) routeWorkspaceSpecific(ctx context.Context, tool string, params map[string]any) (Outcome, error) {
	target := r.selectWorkspaceTarget(params)
	if target == nil {
		return r.runLocal(ctx, tool, params, false)
	}

	result, err := r.Remote.Call(target, tool, params)
	if err != nil {
		return r.runLocalFallback(ctx, tool, params)
	}
	return Outcome{Result: result, RoutedTo: target.InstanceID}, nil
}

// routeActiveContext targets the most-recently-active worker, falling
// back to any worker then local exactly like workspace_specific once a
// target is chosen.
func (r *Router) routeActiveContext(ctx context.Context, tool string, params map[string]any) (Outcome, error) {
	target := r.mostRecentlyActive()
	if target == nil {
		target = r.anyWorker()
	}
	if target == nil {
		return r.runLocal(ctx, tool, params, false)
	}

	result, err := r.Remote.Call(target, tool, params)
	if err != nil {
		return r.runLocalFallback(ctx, tool, params)
	}
	return Outcome{Result: result, RoutedTo: target.InstanceID}, nil
}

func (r *Router) runLocal(ctx context.Context, tool string, params map[string]any, fallback bool) (Outcome, error) {
	result, err := r.Local.ExecuteTool(ctx, tool, params)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Result: result, RoutedTo: "local", Fallback: fallback}, nil
}

func (r *Router) runLocalFallback(ctx context.Context, tool string, params map[string]any) (Outcome, error) {
	return r.runLocal(ctx, tool, params, true)
}

// selectWorkspaceTarget implements selection steps (a) and (b); (c)/(d)
// are delegated to the shared active/any helpers.
func (r *Router) selectWorkspaceTarget(params map[string]any) *coordination.WorkerRecord {
	if workspace, ok := params["workspace"].(string); ok && workspace != "" {
		for _, w := range r.Registry.List() {
			if w.WorkspaceName == workspace || w.WorkspacePath == workspace {
				return w
			}
		}
	}

	if uri, ok := params["uri"].(string); ok && uri != "" {
		if w := r.longestPrefixMatch(uri); w != nil {
			return w
		}
	}

	if w := r.mostRecentlyActive(); w != nil {
		return w
	}

	return r.anyWorker()
}

// longestPrefixMatch normalises uri to an absolute path and returns the
// registered worker whose workspacePath is a prefix of it, preferring the
// longest matching prefix when several qualify (tie-break rule, §4.6).
func (r *Router) longestPrefixMatch(uri string) *coordination.WorkerRecord {
	abs := uri
	if !filepath.IsAbs(abs) {
		if resolved, err := filepath.Abs(abs); err == nil {
			abs = resolved
		}
	}
	abs = filepath.Clean(abs)

	var best *coordination.WorkerRecord
	bestLen := -1
	for _, w := range r.Registry.List() {
		if w.WorkspacePath == "" {
			continue
		}
		prefix := filepath.Clean(w.WorkspacePath)
		if abs == prefix || strings.HasPrefix(abs, prefix+string(filepath.Separator)) {
			if len(prefix) > bestLen {
				best = w
				bestLen = len(prefix)
			}
		}
	}
	return best
}

func (r *Router) mostRecentlyActive() *coordination.WorkerRecord {
	var best *coordination.WorkerRecord
	for _, w := range r.Registry.List() {
		if w.Status != coordination.StatusActive {
			continue
		}
		if best == nil || w.LastSeen.After(best.LastSeen) {
			best = w
		}
	}
	return best
}

func (r *Router) anyWorker() *coordination.WorkerRecord {
	workers := r.Registry.List()
	if len(workers) == 0 {
		return nil
	}
	return workers[0]
}

// branchResult is one fan-out branch's outcome, tagged with its origin
// for merge policies that need to attribute entries.
type branchResult struct {
	origin string // instanceId, or "local"
	role   string // "master" or "worker", for role-prefixed merges
	result coordination.ToolResult
	err    error
}

// routeAggregated fans tool out to every registered worker plus local in
// parallel and merges the successful branches. At least one success is
// required; zero successes is an error.
func (r *Router) routeAggregated(ctx context.Context, tool string, params map[string]any) (Outcome, error) {
	workers := r.Registry.List()

	var wg sync.WaitGroup
	results := make([]branchResult, 0, len(workers)+1)
	var mu sync.Mutex

	record := func(res branchResult) {
		mu.Lock()
		results = append(results, res)
		mu.Unlock()
	}

	for _, w := range workers {
		wg.Add(1)
		go func(w *coordination.WorkerRecord) {
			defer wg.Done()
			result, err := r.Remote.Call(w, tool, params)
			record(branchResult{origin: w.InstanceID, role: "worker", result: result, err: err})
		}(w)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		result, err := r.Local.ExecuteTool(ctx, tool, params)
		role := r.LocalRole
		if role == "" {
			role = "master"
		}
		record(branchResult{origin: "local", role: role, result: result, err: err})
	}()

	wg.Wait()

	merged, successCount := mergeBranches(tool, results)
	if successCount == 0 {
		return Outcome{}, fmt.Errorf("all workers and local failed for tool %s", tool)
	}

	return Outcome{Result: merged, RoutedTo: "aggregated"}, nil
}
