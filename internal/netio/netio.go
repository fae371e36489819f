// Package netio defines the OS adapter boundary between tcppump's core
// (compiler, scheduler, resolver) and the outside world: a network
// interface capable of sending and receiving raw Ethernet frames.
//
// Core code never touches a socket directly. It only ever holds an
// Interface, so tests can substitute a fake implementation without any
// platform-specific plumbing.
package netio

import (
	"errors"
	"net"
	"net/netip"
	"time"

	"golang.org/x/net/bpf"
)

// BPFProgram is an already-assembled classic BPF filter program. Compiling
// filter text into instructions is an external-collaborator concern (it
// needs libpcap or an equivalent assembler); the adapter only ever
// consumes the compiled form.
type BPFProgram []bpf.RawInstruction

// Interface is the contract every network backend (raw Ethernet socket,
// recording-only file sink, test double) must satisfy.
type Interface interface {
	// Open prepares the interface for use. sendOnly skips setting up a
	// receive path for backends that never need to answer Wait items.
	Open(sendOnly bool) error
	Close() error

	// SendPacket transmits b verbatim. sendTime is the scheduled offset
	// of this frame within the run and is recorded for statistics only;
	// it never causes the adapter itself to sleep.
	SendPacket(b []byte, sendTime time.Duration) error

	// PrepareSendQueue and FlushSendQueue bracket a burst of SendPacket
	// calls. count and totalBytes are hints a queueing backend can use
	// to size buffers; realtime indicates whether the caller is pacing
	// sends itself (true) or wants maximum throughput (false).
	PrepareSendQueue(count int, totalBytes int64, realtime bool) error
	FlushSendQueue() error

	// SendStatistic reports what has actually left the wire since Open.
	SendStatistic() (packets, bytes uint64, duration time.Duration)

	MAC() net.HardwareAddr
	IPv4() netip.Addr
	IPv6() netip.Addr
	MTU() int

	// ReceivePacket blocks until a frame matching the installed BPF
	// program (if any) arrives, dropBefore is a deadline for discarding
	// stale frames already queued by the kernel before the Wait point
	// started watching, or ctx-less timeout elapses. n is 0 and err is
	// ErrTimeout when no matching frame arrived in time.
	ReceivePacket(buf []byte, bpf BPFProgram, dropBefore time.Time) (n int, err error)
	AddReceiveFilter(bpfText string) error
}

// ErrTimeout is returned by ReceivePacket when no frame satisfying the
// filter arrived before the caller's deadline.
var ErrTimeout = errors.New("netio: receive timed out")

// ErrClosed is returned by Send/ReceivePacket once the interface has been
// closed.
var ErrClosed = errors.New("netio: interface closed")
