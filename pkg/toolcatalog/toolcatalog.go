// Package toolcatalog holds the static tool-name → routing-class table.
// Keeping this as one data table instead of scattering routing decisions
// through handlers is a deliberate design note from the source (§9).
package toolcatalog

import "github.com/athulya-anil/editorfed/pkg/coordination"

// classes is the static routing table. Unknown tools default to
// workspace_specific, the most conservative class (falls through the
// full selection chain down to local execution).
var classes = map[string]coordination.RoutingClass{
	"open-diagnostics":   coordination.ClassWorkspaceSpecific,
	"open-file":          coordination.ClassWorkspaceSpecific,
	"get-selection":      coordination.ClassWorkspaceSpecific,
	"get-symbols":        coordination.ClassWorkspaceSpecific,
	"get-references":     coordination.ClassWorkspaceSpecific,
	"get-definition":     coordination.ClassWorkspaceSpecific,
	"active-editor":      coordination.ClassActiveContext,
	"active-diagnostics": coordination.ClassActiveContext,
	"open-files":         coordination.ClassAggregated,
	"workspace-symbols":  coordination.ClassAggregated,
	"file-search":        coordination.ClassAggregated,
	"workspaces":         coordination.ClassAggregated,
	"instances":          coordination.ClassAggregated,
}

// ClassOf returns the routing class for tool, defaulting to
// workspace_specific for tools not present in the static table.
func ClassOf(tool string) coordination.RoutingClass {
	if class, ok := classes[tool]; ok {
		return class
	}
	return coordination.ClassWorkspaceSpecific
}

// MergePolicy identifies which aggregated-tool merge strategy applies.
type MergePolicy string

const (
	MergeOpenFiles        MergePolicy = "open-files"
	MergeWorkspaceSymbols MergePolicy = "workspace-symbols"
	MergeFileSearch       MergePolicy = "file-search"
	MergeRolePrefixed     MergePolicy = "role-prefixed"
	MergeFirstSuccess     MergePolicy = "first-success"
)

var mergePolicies = map[string]MergePolicy{
	"open-files":        MergeOpenFiles,
	"workspace-symbols": MergeWorkspaceSymbols,
	"file-search":       MergeFileSearch,
	"workspaces":        MergeRolePrefixed,
	"instances":         MergeRolePrefixed,
}

// MergePolicyFor returns the merge strategy for an aggregated tool,
// defaulting to "return first successful branch".
func MergePolicyFor(tool string) MergePolicy {
	if policy, ok := mergePolicies[tool]; ok {
		return policy
	}
	return MergeFirstSuccess
}
