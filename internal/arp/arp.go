// Package arp builds and reads ARP (RFC 826) packets as the Ethernet
// payload of an internal/frame.Frame, covering the who-has/reply pair
// tcppump's resolver and `arp(...)` expressions both need.
package arp

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"

	"github.com/amartin755/tcppump/internal/frame"
)

// Opcode is the ARP operation field.
type Opcode uint16

const (
	OpRequest Opcode = 1
	OpReply   Opcode = 2
)

// wireLen is the fixed size of an Ethernet/IPv4 ARP payload:
// hwType(2) + protType(2) + hwAddrSize(1) + protAddrSize(1) + opcode(2)
// + srcMac(6) + srcIP(4) + dstMac(6) + dstIP(4).
const wireLen = 2 + 2 + 1 + 1 + 2 + 6 + 4 + 6 + 4

const (
	hwTypeEthernet  = 1
	protAddrSizeIP4 = 4
)

// Build writes a complete ARP packet (MAC header + ARP payload) into f.
// A zero dstMAC is rendered as the broadcast address, matching ARP
// requests where the resolution target's MAC is not yet known.
func Build(f *frame.Frame, op Opcode, srcMAC, dstMAC net.HardwareAddr, srcIP, dstIP netip.Addr) error {
	if !srcIP.Is4() || !dstIP.Is4() {
		return fmt.Errorf("arp: only IPv4 is supported")
	}
	if dstMAC == nil {
		dstMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	}

	f.SetMACHeader(srcMAC, dstMAC)
	f.SetTypeLength(uint16(frame.EtherTypeARP))

	payload := make([]byte, wireLen)
	binary.BigEndian.PutUint16(payload[0:2], hwTypeEthernet)
	binary.BigEndian.PutUint16(payload[2:4], uint16(frame.EtherTypeIPv4))
	payload[4] = 6 // hardware address size
	payload[5] = protAddrSizeIP4
	binary.BigEndian.PutUint16(payload[6:8], uint16(op))
	copy(payload[8:14], srcMAC)
	ip4 := srcIP.As4()
	copy(payload[14:18], ip4[:])
	copy(payload[18:24], dstMAC)
	ip4 = dstIP.As4()
	copy(payload[24:28], ip4[:])

	return f.SetPayload(payload)
}

// WhoHas builds an ARP request asking who has targetIP, announcing our
// own srcMAC/srcIP as sender.
func WhoHas(f *frame.Frame, srcMAC net.HardwareAddr, srcIP, targetIP netip.Addr) error {
	return Build(f, OpRequest, srcMAC, nil, srcIP, targetIP)
}

// Probe builds a duplicate-address-detection ARP probe: sender IP is the
// unspecified address, target IP is the address being probed.
func Probe(f *frame.Frame, srcMAC net.HardwareAddr, probedIP netip.Addr) error {
	return Build(f, OpRequest, srcMAC, nil, netip.IPv4Unspecified(), probedIP)
}

// Announce builds a gratuitous ARP announcement: sender and target IP
// are both the announcing host's own address.
func Announce(f *frame.Frame, srcMAC net.HardwareAddr, ownIP netip.Addr) error {
	return Build(f, OpRequest, srcMAC, nil, ownIP, ownIP)
}

// Packet is a read-only decoded view of an inbound ARP payload, used by
// the resolver to interpret replies.
type Packet struct {
	Op        Opcode
	SenderMAC net.HardwareAddr
	SenderIP  netip.Addr
	TargetMAC net.HardwareAddr
	TargetIP  netip.Addr
}

// Parse decodes payload (the Ethernet payload, not the whole frame) as
// an IPv4 ARP packet.
func Parse(payload []byte) (*Packet, error) {
	if len(payload) < wireLen {
		return nil, fmt.Errorf("arp: payload too short: %d bytes", len(payload))
	}
	hwType := binary.BigEndian.Uint16(payload[0:2])
	protType := binary.BigEndian.Uint16(payload[2:4])
	if hwType != hwTypeEthernet || protType != uint16(frame.EtherTypeIPv4) {
		return nil, fmt.Errorf("arp: unsupported hardware/protocol type %#x/%#x", hwType, protType)
	}

	senderMAC := make(net.HardwareAddr, 6)
	copy(senderMAC, payload[8:14])
	targetMAC := make(net.HardwareAddr, 6)
	copy(targetMAC, payload[18:24])

	return &Packet{
		Op:        Opcode(binary.BigEndian.Uint16(payload[6:8])),
		SenderMAC: senderMAC,
		SenderIP:  netip.AddrFrom4([4]byte(payload[14:18])),
		TargetMAC: targetMAC,
		TargetIP:  netip.AddrFrom4([4]byte(payload[24:28])),
	}, nil
}

// IsRequest and IsReply classify a parsed packet's opcode.
func (p *Packet) IsRequest() bool { return p.Op == OpRequest }
func (p *Packet) IsReply() bool   { return p.Op == OpReply }
