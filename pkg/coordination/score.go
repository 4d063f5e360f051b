package coordination

// WorkspaceScore combines adapter-supplied inputs into the single score
// used both by RoleDetector's split-brain-avoidance check and by
// ElectionCoordinator's candidate ranking (§4.3, §4.9). Weights are fixed
// per spec: 0.4 file count, 0.3 git commits, 0.3 recent activity.
func WorkspaceScore(in ScoreInputs) float64 {
	return float64(in.FileCount)*0.4 + float64(in.GitCommits)*0.3 + in.RecentActivity*0.3
}
