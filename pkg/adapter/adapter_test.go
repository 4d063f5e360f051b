package adapter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFilesystemWorkspaceScoreInputsCountsFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.go", "b.go", "c.go"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("package x"), 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}

	ws := NewFilesystemWorkspace("proj", dir)
	inputs, err := ws.WorkspaceScoreInputs()
	if err != nil {
		t.Fatalf("score inputs: %v", err)
	}
	if inputs.FileCount != 3 {
		t.Fatalf("expected 3 files, got %d", inputs.FileCount)
	}
	if inputs.RecentActivity <= 0 {
		t.Fatalf("expected positive recent activity for freshly written files, got %f", inputs.RecentActivity)
	}
}

func TestFilesystemWorkspaceStatusDefaultsActive(t *testing.T) {
	ws := NewFilesystemWorkspace("proj", t.TempDir())
	status, err := ws.WorkerStatus()
	if err != nil {
		t.Fatalf("worker status: %v", err)
	}
	if status != "active" {
		t.Fatalf("expected active, got %s", status)
	}
}

func TestToolsOpenFileThenListRoundTrips(t *testing.T) {
	tools := NewTools("inst-1", nil)
	ctx := context.Background()

	result, err := tools.ExecuteTool(ctx, "open-file", map[string]any{"uri": "file:///a.go"})
	if err != nil || !result.Success {
		t.Fatalf("open-file: result=%+v err=%v", result, err)
	}

	listed, err := tools.ExecuteTool(ctx, "open-files", nil)
	if err != nil || !listed.Success {
		t.Fatalf("open-files: result=%+v err=%v", listed, err)
	}
	entries, ok := listed.Result.([]map[string]any)
	if !ok || len(entries) != 1 {
		t.Fatalf("expected one open file, got %+v", listed.Result)
	}
}

func TestToolsInstancesReportsInstanceID(t *testing.T) {
	tools := NewTools("inst-42", nil)
	result, err := tools.ExecuteTool(context.Background(), "instances", nil)
	if err != nil || !result.Success {
		t.Fatalf("instances: result=%+v err=%v", result, err)
	}
	payload, ok := result.Result.(map[string]any)
	if !ok || payload["instanceId"] != "inst-42" {
		t.Fatalf("expected instanceId inst-42, got %+v", result.Result)
	}
}

func TestToolsUnknownToolErrors(t *testing.T) {
	tools := NewTools("inst-1", nil)
	if _, err := tools.ExecuteTool(context.Background(), "not-a-tool", nil); err == nil {
		t.Fatal("expected an error for an unknown tool")
	}
}
