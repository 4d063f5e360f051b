package router

import (
	"fmt"
	"reflect"

	"github.com/athulya-anil/editorfed/pkg/coordination"
	"github.com/athulya-anil/editorfed/pkg/toolcatalog"
)

// maxWorkspaceSymbols caps the merged workspace-symbols result, per §4.6.
const maxWorkspaceSymbols = 100

// mergeBranches applies the per-tool merge policy to the successful
// branches of an aggregated fan-out. Failed branches contribute nothing
// (null, per spec) rather than aborting the merge. Returns the merged
// result and the count of branches that actually succeeded.
func mergeBranches(tool string, branches []branchResult) (coordination.ToolResult, int) {
	successes := make([]branchResult, 0, len(branches))
	for _, b := range branches {
		if b.err == nil && b.result.Success {
			successes = append(successes, b)
		}
	}
	if len(successes) == 0 {
		return coordination.ToolResult{}, 0
	}

	switch toolcatalog.MergePolicyFor(tool) {
	case toolcatalog.MergeOpenFiles:
		return coordination.ToolResult{Success: true, Result: mergeByURI(successes)}, len(successes)
	case toolcatalog.MergeWorkspaceSymbols:
		return coordination.ToolResult{Success: true, Result: mergeDedupedCapped(successes, maxWorkspaceSymbols)}, len(successes)
	case toolcatalog.MergeFileSearch:
		return coordination.ToolResult{Success: true, Result: mergeFileSearchLines(successes)}, len(successes)
	case toolcatalog.MergeRolePrefixed:
		return coordination.ToolResult{Success: true, Result: mergeRolePrefixed(successes)}, len(successes)
	default:
		return successes[0].result, len(successes)
	}
}

// entriesOf coerces a branch's result payload into a flat slice,
// tolerating []any, other slice types (such as the []string or
// []map[string]any an in-process executor returns), and a single scalar
// entry.
func entriesOf(result any) []any {
	switch v := result.(type) {
	case []any:
		return v
	case nil:
		return nil
	default:
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Slice {
			out := make([]any, rv.Len())
			for i := range out {
				out[i] = rv.Index(i).Interface()
			}
			return out
		}
		return []any{v}
	}
}

// mergeByURI concatenates per-file entries across branches, deduplicating
// by a "uri" key (open-files policy).
func mergeByURI(branches []branchResult) []any {
	seen := make(map[string]bool)
	var merged []any
	for _, b := range branches {
		for _, entry := range entriesOf(b.result.Result) {
			uri := uriOf(entry)
			if uri != "" {
				if seen[uri] {
					continue
				}
				seen[uri] = true
			}
			merged = append(merged, entry)
		}
	}
	return merged
}

func uriOf(entry any) string {
	m, ok := entry.(map[string]any)
	if !ok {
		return ""
	}
	if uri, ok := m["uri"].(string); ok {
		return uri
	}
	return ""
}

// mergeDedupedCapped concatenates entries, deduplicating by textual
// identity and capping the result at max entries (workspace-symbols
// policy).
func mergeDedupedCapped(branches []branchResult, max int) []any {
	seen := make(map[string]bool)
	var merged []any
	for _, b := range branches {
		for _, entry := range entriesOf(b.result.Result) {
			key := fmt.Sprintf("%v", entry)
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, entry)
			if len(merged) >= max {
				return merged
			}
		}
	}
	return merged
}

// mergeFileSearchLines concatenates non-empty result lines across
// branches (file-search policy).
func mergeFileSearchLines(branches []branchResult) []string {
	var lines []string
	for _, b := range branches {
		for _, entry := range entriesOf(b.result.Result) {
			line := fmt.Sprintf("%v", entry)
			if line != "" && line != "<nil>" {
				lines = append(lines, line)
			}
		}
	}
	return lines
}

// mergeRolePrefixed concatenates entries, prefixing each with its
// originator role ("master" or "worker"), per the workspaces/instances
// merge policy.
func mergeRolePrefixed(branches []branchResult) []map[string]any {
	var merged []map[string]any
	for _, b := range branches {
		for _, entry := range entriesOf(b.result.Result) {
			merged = append(merged, map[string]any{
				"role":  b.role,
				"entry": entry,
			})
		}
	}
	return merged
}
