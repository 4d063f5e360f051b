package workercore

import (
	"fmt"
	"net"
)

// listen binds a loopback-only TCP listener for the worker surface.
func listen(port int) (net.Listener, error) {
	return net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
}
