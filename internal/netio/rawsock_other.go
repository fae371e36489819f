//go:build !linux

package netio

import "fmt"

// NewRawSocket is only implemented on Linux; tcppump's raw Ethernet
// transport needs AF_PACKET, which has no portable equivalent (spec.md
// Non-goals exclude Windows/macOS raw capture backends).
func NewRawSocket(ifaceName string) (*RawSocket, error) {
	return nil, fmt.Errorf("netio: raw Ethernet sockets are only supported on linux")
}

// RawSocket is an opaque placeholder on non-Linux platforms so the
// package still builds; it has no methods here, and NewRawSocket never
// returns one.
type RawSocket struct{}
