//go:build linux

package netio

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// RawSocket is the reference Interface implementation for Linux. It opens
// an AF_PACKET/SOCK_RAW socket bound to a single interface and writes
// frames exactly as handed to it — no kernel-side header construction,
// matching tcppump's "caller builds the whole frame" model.
type RawSocket struct {
	ifaceName string
	ifIndex   int
	hwAddr    net.HardwareAddr
	ipv4      netip.Addr
	ipv6      netip.Addr
	mtu       int

	fd int

	queue    *sendQueue
	wg       sync.WaitGroup
	stopFlow chan struct{}

	sentPackets atomic.Uint64
	sentBytes   atomic.Uint64
	opened      time.Time

	closed atomic.Bool
}

// NewRawSocket looks up ifaceName and returns an unopened adapter carrying
// its MAC/MTU and any assigned IPv4/IPv6 addresses, grounded on the
// teacher's NewSingleHopListener/NewGenericListener constructors that
// resolve interface metadata before touching a socket.
func NewRawSocket(ifaceName string) (*RawSocket, error) {
	ifi, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("netio: lookup interface %q: %w", ifaceName, err)
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return nil, fmt.Errorf("netio: addresses of %q: %w", ifaceName, err)
	}

	r := &RawSocket{
		ifaceName: ifaceName,
		ifIndex:   ifi.Index,
		hwAddr:    ifi.HardwareAddr,
		mtu:       ifi.MTU,
		fd:        -1,
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		addr, ok := netip.AddrFromSlice(ipNet.IP)
		if !ok {
			continue
		}
		addr = addr.Unmap()
		switch {
		case addr.Is4() && !r.ipv4.IsValid():
			r.ipv4 = addr
		case addr.Is6() && !r.ipv6.IsValid():
			r.ipv6 = addr
		}
	}
	return r, nil
}

// Open creates the AF_PACKET socket and binds it to the interface. When
// sendOnly is false a BPF program may later be installed via
// AddReceiveFilter to select which inbound frames ReceivePacket returns.
func (r *RawSocket) Open(sendOnly bool) error {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return fmt.Errorf("netio: open raw socket: %w", err)
	}
	sll := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  r.ifIndex,
	}
	if err := unix.Bind(fd, sll); err != nil {
		unix.Close(fd)
		return fmt.Errorf("netio: bind to %q: %w", r.ifaceName, err)
	}
	if !sendOnly {
		// A generous default read timeout lets ReceivePacket poll its
		// own deadline instead of blocking the whole process forever.
		tv := unix.NsecToTimeval(int64(time.Second))
		if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
			unix.Close(fd)
			return fmt.Errorf("netio: set receive timeout: %w", err)
		}
	}
	r.fd = fd
	r.opened = time.Now()
	return nil
}

func (r *RawSocket) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	close(r.stopFlow)
	r.wg.Wait()
	if r.fd >= 0 {
		return unix.Close(r.fd)
	}
	return nil
}

// PrepareSendQueue starts a background writer goroutine draining a
// bounded queue, so bursts of SendPacket calls never block the scheduler
// on socket I/O. In realtime mode the caller paces pushes itself, so the
// queue only needs enough depth to absorb scheduling jitter.
func (r *RawSocket) PrepareSendQueue(count int, totalBytes int64, realtime bool) error {
	capacity := defaultQueueCapacity
	if !realtime && count > 0 && count < capacity {
		capacity = count
	}
	r.queue = newSendQueue(capacity)
	r.stopFlow = make(chan struct{})
	r.wg.Add(1)
	go r.drainLoop()
	return nil
}

func (r *RawSocket) drainLoop() {
	defer r.wg.Done()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-r.stopFlow
		cancel()
	}()
	for {
		frame, err := r.queue.pop(ctx)
		if err != nil {
			return
		}
		if _, err := unix.Write(r.fd, frame); err != nil {
			continue
		}
		r.sentPackets.Add(1)
		r.sentBytes.Add(uint64(len(frame)))
	}
}

func (r *RawSocket) FlushSendQueue() error {
	if r.queue == nil {
		return nil
	}
	return r.queue.drain(context.Background(), 30*time.Second)
}

// SendPacket enqueues b for transmission by the drain goroutine started
// in PrepareSendQueue. sendTime is not used.
func (r *RawSocket) SendPacket(b []byte, sendTime time.Duration) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if r.queue == nil {
		// No queue prepared: fall back to a direct, synchronous write.
		if _, err := unix.Write(r.fd, b); err != nil {
			return fmt.Errorf("netio: write: %w", err)
		}
		r.sentPackets.Add(1)
		r.sentBytes.Add(uint64(len(b)))
		return nil
	}
	frame := make([]byte, len(b))
	copy(frame, b)
	return r.queue.push(context.Background(), frame)
}

func (r *RawSocket) SendStatistic() (packets, bytes uint64, duration time.Duration) {
	return r.sentPackets.Load(), r.sentBytes.Load(), time.Since(r.opened)
}

func (r *RawSocket) MAC() net.HardwareAddr { return r.hwAddr }
func (r *RawSocket) IPv4() netip.Addr      { return r.ipv4 }
func (r *RawSocket) IPv6() netip.Addr      { return r.ipv6 }
func (r *RawSocket) MTU() int              { return r.mtu }

// ReceivePacket reads one frame, discarding anything received before
// dropBefore so a Wait point never matches traffic queued prior to it.
func (r *RawSocket) ReceivePacket(buf []byte, prog BPFProgram, dropBefore time.Time) (int, error) {
	if r.closed.Load() {
		return 0, ErrClosed
	}
	for {
		n, err := unix.Read(r.fd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return 0, ErrTimeout
			}
			return 0, fmt.Errorf("netio: read: %w", err)
		}
		if !dropBefore.IsZero() && time.Now().Before(dropBefore) {
			continue
		}
		if len(prog) > 0 && !matchesFilter(buf[:n], prog) {
			continue
		}
		return n, nil
	}
}

// AddReceiveFilter installs a kernel-level SO_ATTACH_FILTER program. The
// conversion of bpfText into a BPFProgram happens outside this package
// (Non-goal: BPF compilation); this method only accepts the already
// assembled instructions via SetBPF.
func (r *RawSocket) AddReceiveFilter(bpfText string) error {
	return fmt.Errorf("netio: filter text compilation is not performed in-process; use SetBPF with a pre-assembled program")
}

// SetBPF installs a pre-compiled classic BPF program at the socket level.
func (r *RawSocket) SetBPF(prog BPFProgram) error {
	raw := make([]unix.SockFilter, len(prog))
	for i, ins := range prog {
		raw[i] = unix.SockFilter{Code: ins.Op, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	sockProg := unix.SockFprog{
		Len:    uint16(len(raw)),
		Filter: &raw[0],
	}
	return unix.SetsockoptSockFprog(r.fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &sockProg)
}

// matchesFilter is consulted when a caller hands a BPFProgram to
// ReceivePacket. It accepts every frame: there is no software BPF
// interpreter, so only a program installed at the socket level via
// SetBPF filters anything.
func matchesFilter(frame []byte, prog BPFProgram) bool {
	return true
}

func htons(v uint32) uint16 {
	return uint16(v<<8) | uint16(v>>8)
}
