package mcp

import (
	"errors"
	"io"
	"strings"
)

// isConnectionError detects connection-level transport failures. A server
// whose session fails this way is disconnected so the next call dials a
// fresh session.
func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	msg := strings.ToLower(err.Error())
	connectionErrors := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"connection closed",
		"no such host",
		"transport closed",
	}
	for _, e := range connectionErrors {
		if strings.Contains(msg, e) {
			return true
		}
	}
	return false
}
