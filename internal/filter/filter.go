// Package filter applies the one-shot, whole-sequence transforms that
// run once before scheduling (a forced destination MAC override) and
// the per-frame transform that runs at emission time (random source/
// destination MAC substitution).
package filter

import (
	"net"

	"github.com/amartin755/tcppump/internal/frame"
	"github.com/amartin755/tcppump/internal/item"
	"github.com/amartin755/tcppump/internal/macaddr"
)

// Filter runs once, before scheduling begins.
type Filter struct {
	// OverwriteDst, when non-nil, replaces the destination MAC of every
	// Frame and every fragment of every FragmentedPacket in the sequence.
	OverwriteDst net.HardwareAddr
}

// Apply overwrites destination MACs across seq. It is a no-op unless
// f.OverwriteDst is set.
func (f *Filter) Apply(seq *item.Sequence) {
	if f.OverwriteDst == nil {
		return
	}
	for it := seq.First(); it != nil; it = it.Next() {
		switch it.Kind {
		case item.KindFrame:
			it.Frame.SetDstMAC(f.OverwriteDst)
		case item.KindFragmented:
			for _, frg := range it.Fragments {
				frg.SetDstMAC(f.OverwriteDst)
			}
		}
	}
}

// Preprocessor runs once per frame, immediately before it is handed to
// the backend, substituting a freshly generated source and/or
// destination MAC when randomization is enabled.
type Preprocessor struct {
	Gen        macaddr.Generator
	RandSrc    bool
	RandDst    bool
	LocalAdmin bool
}

// Process rewrites f's MAC header in place according to p's settings.
// Only the MAC header is touched — a randomized destination on an
// otherwise IPv4 payload deliberately does not also touch ARP's own
// embedded addresses; this postprocesses the Ethernet header only, not
// protocol payloads.
func (p *Preprocessor) Process(f *frame.Frame) error {
	if p.RandSrc {
		mac, err := p.Gen.Next(p.LocalAdmin)
		if err != nil {
			return err
		}
		f.SetSrcMAC(mac)
	}
	if p.RandDst {
		mac, err := p.Gen.Next(p.LocalAdmin)
		if err != nil {
			return err
		}
		f.SetDstMAC(mac)
	}
	return nil
}
