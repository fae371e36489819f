// Package stp builds Spanning Tree Protocol BPDUs — configuration, RSTP,
// and TCN — onto the standard 802.1D multicast destination with an LLC
// header, per IEEE 802.1D §9.
package stp

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/amartin755/tcppump/internal/frame"
)

// bridgeGroupAddress is the reserved STP multicast destination MAC,
// 01:80:C2:00:00:00.
var bridgeGroupAddress = net.HardwareAddr{0x01, 0x80, 0xc2, 0x00, 0x00, 0x00}

// Flag bits of a config/RSTP BPDU, IEEE 802.1D §9.3.
type Flag uint8

const (
	FlagTopologyChange    Flag = 1 << 0
	FlagProposal          Flag = 1 << 1
	FlagLearning          Flag = 1 << 4
	FlagForwarding        Flag = 1 << 5
	FlagAgreement         Flag = 1 << 6
	FlagTopologyChangeAck Flag = 1 << 7
)

// PortRole occupies bits 3-4 of an RSTP BPDU's flags byte.
type PortRole uint8

const (
	RoleUnknown PortRole = iota
	RoleAlternateOrBackup
	RoleRoot
	RoleDesignated
)

// BridgeID is an 8-byte STP bridge/root identifier: a 4-bit priority, a
// 12-bit system ID extension, and a MAC address.
type BridgeID struct {
	Priority  uint8 // 0-15 (already divided by 4096 by the caller)
	SystemExt uint16
	MAC       net.HardwareAddr
}

func (b BridgeID) encode() [8]byte {
	var out [8]byte
	prioExt := (uint16(b.Priority&0x0f) << 12) | (b.SystemExt & 0x0fff)
	binary.BigEndian.PutUint16(out[0:2], prioExt)
	copy(out[2:8], b.MAC)
	return out
}

// ConfigPDU carries the fields of a legacy (802.1D) STP configuration
// BPDU.
type ConfigPDU struct {
	Root             BridgeID
	RootPathCost     uint32
	Bridge           BridgeID
	PortPriority      uint8 // 0-15
	PortNumber        uint16
	MessageAge        time.Duration
	MaxAge            time.Duration
	HelloTime         time.Duration
	ForwardDelay      time.Duration
	TopologyChange    bool
	TopologyChangeAck bool
}

const (
	protoVersionLegacy = 0
	protoVersionRSTP   = 2
	bpduTypeConfig     = 0x00
	bpduTypeRSTP       = 0x02
	bpduTypeTCN        = 0x80
)

// toTimer encodes a duration in IEEE 802.1D's 1/256-second timer unit.
func toTimer(d time.Duration) uint16 {
	return uint16(d.Seconds() * 256)
}

func portID(prio uint8, number uint16) uint16 {
	return (uint16(prio&0x0f) << 12) | (number & 0x0fff)
}

func stpFlags(topoChange, topoChangeAck bool) uint8 {
	var f uint8
	if topoChange {
		f |= uint8(FlagTopologyChange)
	}
	if topoChangeAck {
		f |= uint8(FlagTopologyChangeAck)
	}
	return f
}

// prepareMACHeader sets the well-known STP destination and the 802.2 LLC
// header (DSAP/SSAP 0x42, unnumbered-information control) shared by every
// BPDU type.
func prepareMACHeader(f *frame.Frame, srcMAC net.HardwareAddr) error {
	f.SetSrcMAC(srcMAC)
	f.SetDstMAC(bridgeGroupAddress)
	return f.AddLLCHeader(0x42, 0x42, 3)
}

// BuildConfig writes a legacy 802.1D configuration BPDU into f.
func BuildConfig(f *frame.Frame, srcMAC net.HardwareAddr, p ConfigPDU) error {
	if err := prepareMACHeader(f, srcMAC); err != nil {
		return err
	}
	body := make([]byte, 35)
	binary.BigEndian.PutUint16(body[0:2], 0) // protocol identifier: 0x0000
	body[2] = protoVersionLegacy
	body[3] = bpduTypeConfig
	body[4] = stpFlags(p.TopologyChange, p.TopologyChangeAck)
	root := p.Root.encode()
	copy(body[5:13], root[:])
	binary.BigEndian.PutUint32(body[13:17], p.RootPathCost)
	bridge := p.Bridge.encode()
	copy(body[17:25], bridge[:])
	binary.BigEndian.PutUint16(body[25:27], portID(p.PortPriority, p.PortNumber))
	binary.BigEndian.PutUint16(body[27:29], toTimer(p.MessageAge))
	binary.BigEndian.PutUint16(body[29:31], toTimer(p.MaxAge))
	binary.BigEndian.PutUint16(body[31:33], toTimer(p.HelloTime))
	binary.BigEndian.PutUint16(body[33:35], toTimer(p.ForwardDelay))

	if err := f.SetPayload(body); err != nil {
		return err
	}
	f.SetLength()
	return nil
}

// RSTPConfigPDU extends ConfigPDU with the RSTP-only flags and role.
type RSTPConfigPDU struct {
	ConfigPDU
	Proposal   bool
	Forwarding bool
	Learning   bool
	Agreement  bool
	Role       PortRole
}

// BuildRSTP writes an RSTP (802.1w) configuration BPDU into f: the same
// 35-byte body as a legacy config BPDU, version/type bumped to RSTP, the
// flags byte's role/proposal/agreement bits set, and a trailing
// Version-1-Length byte of 0 (no RSTP-specific TLVs, matching the
// teacher's minimal-BPDU approach).
func BuildRSTP(f *frame.Frame, srcMAC net.HardwareAddr, p RSTPConfigPDU) error {
	if err := prepareMACHeader(f, srcMAC); err != nil {
		return err
	}
	body := make([]byte, 36)
	binary.BigEndian.PutUint16(body[0:2], 0)
	body[2] = protoVersionRSTP
	body[3] = bpduTypeRSTP

	flags := stpFlags(p.TopologyChange, p.TopologyChangeAck)
	if p.Proposal {
		flags |= uint8(FlagProposal)
	}
	if p.Forwarding {
		flags |= uint8(FlagForwarding)
	}
	if p.Learning {
		flags |= uint8(FlagLearning)
	}
	if p.Agreement {
		flags |= uint8(FlagAgreement)
	}
	flags |= uint8(p.Role&0x3) << 2
	body[4] = flags

	root := p.Root.encode()
	copy(body[5:13], root[:])
	binary.BigEndian.PutUint32(body[13:17], p.RootPathCost)
	bridge := p.Bridge.encode()
	copy(body[17:25], bridge[:])
	binary.BigEndian.PutUint16(body[25:27], portID(p.PortPriority, p.PortNumber))
	binary.BigEndian.PutUint16(body[27:29], toTimer(p.MessageAge))
	binary.BigEndian.PutUint16(body[29:31], toTimer(p.MaxAge))
	binary.BigEndian.PutUint16(body[31:33], toTimer(p.HelloTime))
	binary.BigEndian.PutUint16(body[33:35], toTimer(p.ForwardDelay))
	body[35] = 0 // version 1 length: no protocol-specific info present

	if err := f.SetPayload(body); err != nil {
		return err
	}
	f.SetLength()
	return nil
}

// BuildTCN writes a Topology Change Notification BPDU: protocol ID,
// version 0, type 0x80, with no other fields.
func BuildTCN(f *frame.Frame, srcMAC net.HardwareAddr) error {
	if err := prepareMACHeader(f, srcMAC); err != nil {
		return err
	}
	body := []byte{0x00, 0x00, protoVersionLegacy, bpduTypeTCN}
	if err := f.SetPayload(body); err != nil {
		return err
	}
	f.SetLength()
	return nil
}
