// Package roledetect decides the initial coordination role of a process
// (MASTER / WORKER / STANDALONE), per §4.3.
package roledetect

import (
	"log"
	"math/rand"
	"time"

	"github.com/athulya-anil/editorfed/pkg/coordination"
	"github.com/athulya-anil/editorfed/pkg/healthprobe"
)

// Config configures a single Detect() run.
type Config struct {
	// CoordinationEnabled, when false, forces STANDALONE regardless of
	// everything else.
	CoordinationEnabled bool

	// ForcedRole, if non-empty, is returned unconditionally (after the
	// CoordinationEnabled check). Used for operator overrides.
	ForcedRole coordination.Role

	// MasterPort is the loopback port a candidate master would be
	// listening on.
	MasterPort int

	// ScoreThreshold is the workspace-score cutoff a DEGRADED-probing
	// process must clear before it is willing to contend for master.
	ScoreThreshold float64

	// ProbeTimeout bounds each individual health probe.
	ProbeTimeout time.Duration

	// Scorer supplies the local workspace's score inputs. Required
	// whenever a DEGRADED verdict needs to be resolved — per spec's
	// open question, these inputs must come from the adapter, never a
	// hardcoded placeholder.
	Scorer func() (coordination.ScoreInputs, error)

	// rngSource lets tests make the split-brain-avoidance backoff
	// deterministic; nil uses the default source.
	rngSource *rand.Rand
}

func (c *Config) rng() *rand.Rand {
	if c.rngSource != nil {
		return c.rngSource
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// Detect runs the role-detection algorithm described in §4.3.
func Detect(cfg Config) coordination.Role {
	if !cfg.CoordinationEnabled {
		return coordination.RoleStandalone
	}
	if cfg.ForcedRole != "" {
		return cfg.ForcedRole
	}

	status := healthprobe.ProbeMaster(cfg.MasterPort, cfg.ProbeTimeout)
	switch status {
	case healthprobe.HEALTHY:
		return coordination.RoleWorker
	case healthprobe.UNREACHABLE, healthprobe.SHUTDOWN:
		return coordination.RoleMaster
	case healthprobe.DEGRADED:
		return cfg.resolveDegraded()
	default:
		return coordination.RoleWorker
	}
}

// resolveDegraded implements the DEGRADED branch: three probes at 1s
// intervals, a workspace-score gate, and a randomised backoff before a
// final decisive probe. The randomised backoff is a required
// collision-avoidance mechanism, not a performance tweak — it exists so
// that two processes racing to become master on the same host don't both
// observe DEGRADED and both immediately promote themselves.
func (c *Config) resolveDegraded() coordination.Role {
	degradedOrWorse := 0
	for i := 0; i < 3; i++ {
		if i > 0 {
			time.Sleep(time.Second)
		}
		s := healthprobe.ProbeMaster(c.MasterPort, c.ProbeTimeout)
		if s == healthprobe.DEGRADED || s == healthprobe.UNREACHABLE {
			degradedOrWorse++
		}
	}

	if float64(degradedOrWorse)/3.0 < 0.67 {
		return coordination.RoleWorker
	}

	var score float64
	if c.Scorer != nil {
		inputs, err := c.Scorer()
		if err != nil {
			log.Printf("[ROLE] failed to read workspace score inputs: %v", err)
		} else {
			score = coordination.WorkspaceScore(inputs)
		}
	}

	if score < c.ScoreThreshold {
		return coordination.RoleWorker
	}

	backoff := time.Duration(c.rng().Intn(2001)) * time.Millisecond
	log.Printf("[ROLE] split-brain avoidance backoff: %v", backoff)
	time.Sleep(backoff)

	final := healthprobe.ProbeMaster(c.MasterPort, c.ProbeTimeout)
	if final == healthprobe.UNREACHABLE || final == healthprobe.DEGRADED {
		return coordination.RoleMaster
	}
	return coordination.RoleWorker
}
