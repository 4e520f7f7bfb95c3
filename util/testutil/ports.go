package testutil

import (
	"fmt"
	"net"
	"sync"
)

var (
	// recentPorts remembers handed-out ports so rapid successive calls never repeat one.
	recentPorts   = make(map[int]struct{})
	recentPortsMu sync.Mutex
)

// GetFreePort returns a TCP port on localhost that was free at the time of the call.
// Panics if no port can be found.
func GetFreePort() int {
	const maxRetries = 100

	recentPortsMu.Lock()
	defer recentPortsMu.Unlock()

	for attempt := 0; attempt < maxRetries; attempt++ {
		listener, err := net.Listen("tcp", "localhost:0")
		if err != nil {
			panic(fmt.Sprintf("failed to get free port: %v", err))
		}
		port := listener.Addr().(*net.TCPAddr).Port
		listener.Close()

		if _, used := recentPorts[port]; used {
			continue
		}
		recentPorts[port] = struct{}{}
		return port
	}

	panic(fmt.Sprintf("failed to get unique free port after %d attempts", maxRetries))
}

// GetFreeAddress returns "localhost:<port>" for a port from GetFreePort.
func GetFreeAddress() string {
	return fmt.Sprintf("localhost:%d", GetFreePort())
}
