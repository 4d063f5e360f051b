package mastercore

import (
	"fmt"
	"net"
)

// listen binds a loopback-only TCP listener for the coordination server.
func listen(port int) (net.Listener, error) {
	return net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
}
