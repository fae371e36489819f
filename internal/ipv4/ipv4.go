// Package ipv4 builds IPv4 headers and performs the deterministic
// fragmentation tcppump needs when a packet's total length exceeds the
// outgoing interface's MTU.
//
// original_source/ did not retain ipv4packet.cpp/hpp (filtered out by the
// retrieval's size cap), so this package follows RFC 791 directly and
// the fragmentation invariants spec.md states explicitly: 8-byte offset
// alignment, MF semantics, DF triggering a hard failure instead of a
// silent fragmentation.
package ipv4

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

// HeaderLen is the length of an IPv4 header without options; tcppump
// never emits options.
const HeaderLen = 20

// ErrWouldFragment is returned by Fragment when Header.DF is set but the
// payload does not fit in a single frame of the given MTU.
var ErrWouldFragment = errors.New("ipv4: packet exceeds MTU and DF is set")

// fragmentGranularity is the unit fragment offsets are expressed in, per
// RFC 791 §3.1.
const fragmentGranularity = 8

// Header carries the fields tcppump's `ipv4(...)` expression exposes.
// Identification is caller-supplied so a whole FragmentedPacket shares
// one value across all its fragments, as RFC 791 requires.
type Header struct {
	Src            netip.Addr
	Dst            netip.Addr
	Protocol       uint8
	TTL            uint8
	TOS            uint8
	DF             bool
	Identification uint16
}

// Build serializes a single, non-fragmented IPv4 packet: header +
// payload, with MF=0 and fragment offset 0.
func Build(h Header, payload []byte) ([]byte, error) {
	return buildFragment(h, payload, 0, false)
}

func buildFragment(h Header, payload []byte, fragOffsetUnits uint16, moreFragments bool) ([]byte, error) {
	if !h.Src.Is4() || !h.Dst.Is4() {
		return nil, fmt.Errorf("ipv4: only IPv4 addresses are supported")
	}
	totalLen := HeaderLen + len(payload)
	if totalLen > 0xffff {
		return nil, fmt.Errorf("ipv4: total length %d exceeds 16 bits", totalLen)
	}

	buf := make([]byte, totalLen)
	buf[0] = 0x45 // version 4, IHL 5 (20 bytes, no options)
	buf[1] = h.TOS
	binary.BigEndian.PutUint16(buf[2:4], uint16(totalLen))
	binary.BigEndian.PutUint16(buf[4:6], h.Identification)

	flagsAndOffset := fragOffsetUnits & 0x1fff
	if h.DF {
		flagsAndOffset |= 0x4000
	}
	if moreFragments {
		flagsAndOffset |= 0x2000
	}
	binary.BigEndian.PutUint16(buf[6:8], flagsAndOffset)

	buf[8] = h.TTL
	buf[9] = h.Protocol
	// checksum at buf[10:12] filled in below

	src := h.Src.As4()
	dst := h.Dst.As4()
	copy(buf[12:16], src[:])
	copy(buf[16:20], dst[:])
	copy(buf[HeaderLen:], payload)

	binary.BigEndian.PutUint16(buf[10:12], checksum(buf[:HeaderLen]))
	return buf, nil
}

// checksum computes the RFC 791 Internet checksum (one's complement sum
// of 16-bit words, folded, then complemented) over data, whose length
// must be even.
func checksum(data []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(data); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(data[i : i+2]))
	}
	if len(data)%2 == 1 {
		sum += uint32(data[len(data)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// Fragment splits payload into RFC 791 fragments so each resulting IPv4
// packet's total length fits within mtu (the Ethernet payload capacity,
// typically 1500). Each fragment carries its own copy of the header
// fields (TOS/TTL/protocol/identification/DF unchanged) but only the
// first fragment is meaningful for header options — tcppump emits none.
//
// Returns a single-element slice unchanged when the packet already fits.
func Fragment(h Header, payload []byte, mtu int) ([][]byte, error) {
	total := HeaderLen + len(payload)
	if total <= mtu {
		pkt, err := buildFragment(h, payload, 0, false)
		if err != nil {
			return nil, err
		}
		return [][]byte{pkt}, nil
	}
	if h.DF {
		return nil, ErrWouldFragment
	}

	maxFragPayload := (mtu - HeaderLen) / fragmentGranularity * fragmentGranularity
	if maxFragPayload <= 0 {
		return nil, fmt.Errorf("ipv4: MTU %d too small to fragment", mtu)
	}

	var fragments [][]byte
	offsetBytes := 0
	for offsetBytes < len(payload) {
		end := offsetBytes + maxFragPayload
		more := true
		if end >= len(payload) {
			end = len(payload)
			more = false
		}
		chunk := payload[offsetBytes:end]
		pkt, err := buildFragment(h, chunk, uint16(offsetBytes/fragmentGranularity), more)
		if err != nil {
			return nil, err
		}
		fragments = append(fragments, pkt)
		offsetBytes = end
	}
	return fragments, nil
}
