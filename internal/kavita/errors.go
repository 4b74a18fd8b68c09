// file: internal/kavita/errors.go
// version: 1.1.0
// guid: 3a9e6d2c-5b8f-41a7-9c4e-7d0b1f8a2e63

package kavita

import (
	"errors"
	"fmt"
)

// ConnectivityError means the server could not be reached at the transport
// level (refused, DNS, timeout). Callers treat it as "go/stay offline", never
// as fatal.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("kavita %s: server unreachable: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// ProtocolError means the server answered, but with a non-2xx status or a body
// that did not parse. Body holds a snippet of the response for logs.
type ProtocolError struct {
	Op     string
	Status int
	Body   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("kavita %s: status %d: %s", e.Op, e.Status, e.Body)
}

// IsConnectivity reports whether err is a transport-level failure.
func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}

const bodySnippetLen = 200

func snippet(body []byte) string {
	if len(body) > bodySnippetLen {
		return string(body[:bodySnippetLen]) + "..."
	}
	return string(body)
}
