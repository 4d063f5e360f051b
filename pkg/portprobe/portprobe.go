// Package portprobe probes loopback ports for liveness and availability.
package portprobe

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrNoAvailablePort is returned by FindAvailablePort when every port in
// the requested range is already bound.
var ErrNoAvailablePort = errors.New("portprobe: no available port in range")

// FindAvailablePort tries ports [start, end] in order and returns the
// first one where a loopback listener can be bound and then immediately
// released. It never returns a port still bound by this process or any
// other.
func FindAvailablePort(start, end int) (int, error) {
	if start > end {
		return 0, fmt.Errorf("portprobe: invalid range [%d, %d]", start, end)
	}

	for port := start; port <= end; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			continue
		}
		ln.Close()
		return port, nil
	}

	return 0, ErrNoAvailablePort
}

// IsReachable reports whether a TCP connection to the given loopback port
// succeeds within timeout.
func IsReachable(port int, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
