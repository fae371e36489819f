package netio

import (
	"net"
	"net/netip"
	"sync"
	"time"
)

// Mock is an in-memory Interface double for tests that exercise the
// scheduler, resolver or compiler without a real socket, grounded on the
// teacher's netio mock test double of the same shape.
type Mock struct {
	mu      sync.Mutex
	sent    [][]byte
	sentAt  []time.Duration
	mac     net.HardwareAddr
	ipv4    netip.Addr
	ipv6    netip.Addr
	mtu     int
	opened  bool
	failAll bool

	rx [][]byte
}

// NewMock returns a Mock with a deterministic MAC/MTU so tests don't need
// to special-case address formatting.
func NewMock() *Mock {
	return &Mock{
		mac: net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		mtu: 1500,
	}
}

// FailSends makes every subsequent SendPacket call return an error,
// simulating a socket failure mid-run.
func (m *Mock) FailSends(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = fail
}

// QueueReceive arranges for a future ReceivePacket call to return frame.
func (m *Mock) QueueReceive(frame []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rx = append(m.rx, frame)
}

// Sent returns every frame handed to SendPacket, in order.
func (m *Mock) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *Mock) Open(sendOnly bool) error { m.opened = true; return nil }
func (m *Mock) Close() error             { m.opened = false; return nil }

func (m *Mock) SendPacket(b []byte, sendTime time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return ErrClosed
	}
	frame := make([]byte, len(b))
	copy(frame, b)
	m.sent = append(m.sent, frame)
	m.sentAt = append(m.sentAt, sendTime)
	return nil
}

func (m *Mock) PrepareSendQueue(count int, totalBytes int64, realtime bool) error { return nil }
func (m *Mock) FlushSendQueue() error                                             { return nil }

func (m *Mock) SendStatistic() (packets, bytes uint64, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total uint64
	for _, f := range m.sent {
		total += uint64(len(f))
	}
	return uint64(len(m.sent)), total, 0
}

func (m *Mock) MAC() net.HardwareAddr { return m.mac }
func (m *Mock) IPv4() netip.Addr      { return m.ipv4 }
func (m *Mock) IPv6() netip.Addr      { return m.ipv6 }
func (m *Mock) MTU() int              { return m.mtu }

func (m *Mock) ReceivePacket(buf []byte, prog BPFProgram, dropBefore time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.rx) == 0 {
		return 0, ErrTimeout
	}
	frame := m.rx[0]
	m.rx = m.rx[1:]
	n := copy(buf, frame)
	return n, nil
}

func (m *Mock) AddReceiveFilter(bpfText string) error { return nil }
