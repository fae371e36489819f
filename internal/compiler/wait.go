package compiler

import (
	"fmt"
	"strings"

	"github.com/amartin755/tcppump/internal/config"
	"github.com/amartin755/tcppump/internal/item"
	"github.com/amartin755/tcppump/internal/params"
)

// parseWaitExpr turns a raw "wait(...)" instruction into a WaitSpec.
// Recognised parameters, all optional: timeout (in the script's
// configured time resolution; absent or 0 means no deadline), bpf (a
// BPF filter expression, kept as text in BPFText), pattern (a hex
// stream that must occur somewhere in an incoming frame). Without a
// pattern, the first received frame ends the wait.
func parseWaitExpr(raw string, cfg *config.Config) (item.WaitSpec, error) {
	body := strings.TrimPrefix(strings.TrimSpace(raw), "wait")
	plist, err := params.Parse(body)
	if err != nil {
		return item.WaitSpec{}, fmt.Errorf("wait: %w", err)
	}

	spec := item.WaitSpec{}

	if p, ok := plist.Find("timeout"); ok {
		v, err := p.Int32(0, 1<<31-1)
		if err != nil {
			return item.WaitSpec{}, err
		}
		spec.Timeout = cfg.Resolution.Duration(int64(v))
		spec.Duration = spec.Timeout
	}

	if p, ok := plist.Find("bpf"); ok {
		spec.BPFText = p.Value
	}

	if p, ok := plist.Find("pattern"); ok {
		pattern, err := p.HexStream()
		if err != nil {
			return item.WaitSpec{}, err
		}
		spec.Pattern = pattern
	}

	return spec, nil
}
