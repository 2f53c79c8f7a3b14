package registry

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

// isPortAvailable reports whether addr can be bound, by binding it and
// immediately releasing it. "Address in use" means another process owns
// the registry; any other bind failure is unexpected and returned.
func isPortAvailable(addr string) (bool, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return false, nil
		}
		return false, fmt.Errorf("probing %s: %w", addr, err)
	}
	ln.Close()
	return true, nil
}

// isConnectionError reports whether err means nothing is listening at the
// target: the expected state when no registry is currently running.
func isConnectionError(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}
