package coordination

import "time"

// ElectionCandidate is one worker's self-reported standing in an election,
// served from its /election/candidate endpoint (§3, §4.9).
type ElectionCandidate struct {
	InstanceID     string       `json:"instanceId"`
	WorkspaceScore float64      `json:"workspaceScore"`
	Uptime         int64        `json:"uptime"`
	ResourceUsage  float64      `json:"resourceUsage"`
	Capabilities   []string     `json:"capabilities"`
	LastSeen       time.Time    `json:"lastSeen"`
	WorkerInfo     WorkerRecord `json:"workerInfo"`
}

// ElectionMessage is the envelope broadcast to candidates once an election
// decides.
type ElectionMessage struct {
	Type           string `json:"type"`
	FromInstanceID string `json:"fromInstanceId"`
	Timestamp      int64  `json:"timestamp"`
	Data           any    `json:"data,omitempty"`
}

const (
	ElectionMessageMasterElected string = "MASTER_ELECTED"
)
