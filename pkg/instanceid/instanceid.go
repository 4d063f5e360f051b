// Package instanceid generates the opaque, globally-unique identifier each
// process uses to refer to itself across the coordination plane.
package instanceid

import (
	"fmt"

	"github.com/google/uuid"
)

// New returns a fresh InstanceId. It is generated once per process start
// and reused for the lifetime of the process — never regenerated on role
// transitions, since split-brain tie-breaking and election comparators
// depend on lexicographic stability across the process's whole life.
func New() string {
	return fmt.Sprintf("inst-%s", uuid.NewString())
}
