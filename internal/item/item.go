// Package item models a compiled sequence as an ordered list of a
// tagged variant instead of a polymorphic class hierarchy: Kind selects
// which of Frame/Fragments/Wait/Loop/Goto is meaningful, and dispatch is
// a switch on Kind rather than a virtual call, joined by a singly-linked
// next pointer.
package item

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/amartin755/tcppump/internal/frame"
)

// Kind discriminates which field of Item is valid.
type Kind int

const (
	KindFrame Kind = iota
	KindFragmented
	KindWait
	KindLoop
	KindGoto
)

func (k Kind) String() string {
	switch k {
	case KindFrame:
		return "frame"
	case KindFragmented:
		return "fragmented"
	case KindWait:
		return "wait"
	case KindLoop:
		return "loop"
	case KindGoto:
		return "goto"
	default:
		return "unknown"
	}
}

// WaitState is the runtime state of a Wait item.
type WaitState int

const (
	WaitArmed WaitState = iota
	WaitMatched
	WaitTimedOut
)

// WaitSpec describes a pause point: the scheduler waits until a
// received frame contains Pattern (any frame, when Pattern is empty) or
// Timeout elapses; Timeout <= 0 means no deadline. Duration mirrors
// Timeout and is not read by the scheduler. BPFText is recorded, but
// the scheduler does not apply it as a receive filter.
type WaitSpec struct {
	Duration time.Duration
	BPFText  string
	Pattern  []byte
	Timeout  time.Duration
	State    WaitState
}

// LoopState is a Loop item's mutable counter plus a pointer to the first
// item after the loop body, grounded on cLoop::getNext: the counter
// resets to Runs every time the loop is exhausted and control jumps to
// End directly.
type LoopState struct {
	Runs    int
	counter int
	End     *Item // first item after the loop block; set once by the compiler
}

// GotoSpec is an unconditional jump target.
type GotoSpec struct {
	Target *Item
	Label  string
}

// Item is one entry in a compiled Sequence.
type Item struct {
	Kind     Kind
	SendTime time.Duration
	Line     int

	Frame     *frame.Frame
	Fragments []*frame.Frame
	Wait      *WaitSpec
	Loop      *LoopState
	Goto      *GotoSpec

	// ResolveDst is set by the Compiler when a Frame/Fragmented item's
	// destination MAC was not given explicitly but its IPv4 destination
	// is known — the Resolver fills in the MAC via ARP before
	// scheduling. The zero value (an invalid netip.Addr) means no
	// resolution is needed.
	ResolveDst netip.Addr

	next *Item
}

// NeedsResolution reports whether the Resolver still owes this item a
// destination MAC.
func (it *Item) NeedsResolution() bool { return it.ResolveDst.IsValid() }

// NewFrame wraps f as a Frame item scheduled at sendTime.
func NewFrame(f *frame.Frame, sendTime time.Duration, line int) *Item {
	return &Item{Kind: KindFrame, Frame: f, SendTime: sendTime, Line: line}
}

// NewFragmented wraps an ordered list of fragment Frames as one
// FragmentedPacket item.
func NewFragmented(fragments []*frame.Frame, sendTime time.Duration, line int) *Item {
	return &Item{Kind: KindFragmented, Fragments: fragments, SendTime: sendTime, Line: line}
}

// NewWait creates a Wait item.
func NewWait(spec WaitSpec, sendTime time.Duration, line int) *Item {
	return &Item{Kind: KindWait, Wait: &spec, SendTime: sendTime, Line: line}
}

// NewLoop creates a Loop item with its counter primed to runs. Call
// SetLoopEnd once the post-loop item is known.
func NewLoop(runs int, line int) *Item {
	return &Item{Kind: KindLoop, Loop: &LoopState{Runs: runs, counter: runs}, Line: line}
}

// NewGoto creates a Goto item; Target is filled in by the compiler once
// label resolution completes.
func NewGoto(label string, line int) *Item {
	return &Item{Kind: KindGoto, Goto: &GotoSpec{Label: label}, Line: line}
}

// SetLoopEnd records the item immediately following this Loop's body.
func (it *Item) SetLoopEnd(end *Item) {
	if it.Kind != KindLoop {
		panic("item: SetLoopEnd called on a non-Loop item")
	}
	it.Loop.End = end
}

// SetNext overrides an item's linear successor, used by the Compiler to
// wire a loop body's last item back to its Loop item (the control-flow
// edge a flat, append-only Sequence can't express on its own).
func (it *Item) SetNext(n *Item) {
	it.next = n
}

// Next returns the next item to execute, applying Loop/Goto control flow.
// A plain Frame/Fragmented/Wait item simply returns its linear successor.
func (it *Item) Next() *Item {
	switch it.Kind {
	case KindLoop:
		if it.Loop.counter <= 0 {
			it.Loop.counter = it.Loop.Runs
			return it.Loop.End
		}
		it.Loop.counter--
		return it.next
	case KindGoto:
		return it.Goto.Target
	default:
		return it.next
	}
}

// Sequence is a compiled, ordered list of Items plus the statistics the
// scheduler and CLI summary report.
type Sequence struct {
	head, tail *Item

	// linkFrom is the item whose .next field the next Append call will
	// set. It is normally equal to tail, but Detach sets it to nil so an
	// Append that follows a manually wired edge (a loop's back edge, or
	// a Loop item's own body-entry pointer) doesn't overwrite that edge.
	linkFrom *Item

	ethernetFrames int
	ipv4Packets    int
	triggerPoints  int
	totalBytes     int64
}

// Append adds it to the end of the sequence, linking it after whatever
// Append or Detach left as the current link point. It does not update
// statistics — call UpdateStats once fragments (if any) have been
// expanded, so loop bodies are never double-counted against a running
// total captured before expansion.
func (s *Sequence) Append(it *Item) {
	if s.head == nil {
		s.head = it
	} else if s.linkFrom != nil {
		s.linkFrom.next = it
	}
	s.tail = it
	s.linkFrom = it
}

// Detach clears the current link point without touching tail, so the
// next Append attaches its item only via whatever external mechanism
// (a Loop's End, a label, a Goto target) already points to it, instead
// of also being wired into the physical chain a second time.
func (s *Sequence) Detach() {
	s.linkFrom = nil
}

// First returns the first item of the sequence, or nil if empty.
func (s *Sequence) First() *Item { return s.head }

// Last returns the last appended item, used by the compiler to wire a
// loop body's back edge.
func (s *Sequence) Last() *Item { return s.tail }

// UpdateStats records it's contribution to the sequence's packet/byte
// counters. Call exactly once per item, after any fragmentation has
// already happened — so a FragmentedPacket counts every one of its
// materialized fragments, not the one logical IPv4 packet.
func (s *Sequence) UpdateStats(it *Item) {
	switch it.Kind {
	case KindFrame:
		s.ethernetFrames++
		s.totalBytes += int64(it.Frame.Length())
	case KindFragmented:
		s.ipv4Packets++
		for _, f := range it.Fragments {
			s.ethernetFrames++
			s.totalBytes += int64(f.Length())
		}
	case KindWait:
		s.triggerPoints++
	}
}

// PacketCount returns the number of Ethernet frames that will actually
// leave the wire — fragments included.
func (s *Sequence) PacketCount() int { return s.ethernetFrames }

// TotalBytes returns the sum of every emitted frame's length.
func (s *Sequence) TotalBytes() int64 { return s.totalBytes }

// HasTriggerPoints reports whether any Wait item is present.
func (s *Sequence) HasTriggerPoints() bool { return s.triggerPoints > 0 }

// String is used by diagnostics and tests to render a compact trace of
// an item for error messages.
func (it *Item) String() string {
	return fmt.Sprintf("%s@line%d", it.Kind, it.Line)
}
