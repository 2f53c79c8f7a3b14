package middleware

import (
	"net"
	"strconv"
)

// GetURLFromHostPort builds an http URL from a host and port.
func GetURLFromHostPort(host string, port int) string {
	portStr := strconv.Itoa(port)
	return "http://" + net.JoinHostPort(host, portStr)
}
