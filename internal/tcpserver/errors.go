package tcpserver

import (
	"errors"
	"io"
	"net"
	"strings"
)

// isExpectedCloseError reports errors that only mean the peer or the server
// already closed the socket.
func isExpectedCloseError(err error) bool {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "connection reset by peer") ||
		strings.Contains(errStr, "broken pipe")
}
