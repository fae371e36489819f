// Package compiler turns tcppump's three input dialects — inline packet
// expressions, script files, and PCAP traces — into a single
// item.Sequence: a flat, scheduled list the Scheduler can drive without
// knowing which front end produced it.
//
// The Compiler is transactional: any error returns (nil, err) and never
// a partially built Sequence, and cfg.Freeze() is only called once every
// input has been parsed and every frame successfully built.
package compiler

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/amartin755/tcppump/internal/config"
	"github.com/amartin755/tcppump/internal/exprparser"
	"github.com/amartin755/tcppump/internal/frame"
	"github.com/amartin755/tcppump/internal/item"
	"github.com/amartin755/tcppump/internal/pcapfile"
	"github.com/amartin755/tcppump/internal/scriptparser"
)

// CompilePackets builds a Sequence directly from inline packet
// expressions, one per positional command-line argument (PACKET mode).
// Consecutive items are spaced by cfg.DefaultDelay; no explicit
// per-item timestamp exists in this mode.
func CompilePackets(exprs []string, cfg *config.Config) (*item.Sequence, error) {
	seq := &item.Sequence{}
	var sendTime time.Duration
	delay := cfg.Resolution.Duration(cfg.DefaultDelay)

	for i, raw := range exprs {
		expr, err := exprparser.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("compiler: argument %d: %w", i+1, err)
		}
		it, err := buildItem(expr, cfg, sendTime, 0)
		if err != nil {
			return nil, fmt.Errorf("compiler: argument %d: %w", i+1, err)
		}
		seq.Append(it)
		seq.UpdateStats(it)
		sendTime += delay
	}

	cfg.Freeze()
	return seq, nil
}

// CompileScript reads and concatenates the named script files, in
// order, and compiles them into a Sequence with full control-flow
// resolution (labels, goto, loops) and per-instruction timestamps
// (explicit, or inherited default delay).
func CompileScript(paths []string, cfg *config.Config) (*item.Sequence, error) {
	var allStmts []scriptparser.Statement
	for _, path := range paths {
		text, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("compiler: read %s: %w", path, err)
		}
		stmts, err := scriptparser.Parse(string(text))
		if err != nil {
			return nil, fmt.Errorf("compiler: %s: %w", path, err)
		}
		allStmts = append(allStmts, stmts...)
	}

	seq, err := compileStatements(allStmts, cfg)
	if err != nil {
		return nil, err
	}
	cfg.Freeze()
	return seq, nil
}

// CompilePCAP reads the named PCAP capture files, in order, and turns
// every record into a Frame item. Each record's timestamp delta from
// the previous record is scaled by scale; scale == 0 is throughput
// mode, where every item's SendTime is zero.
func CompilePCAP(paths []string, scale float64, cfg *config.Config) (*item.Sequence, error) {
	seq := &item.Sequence{}
	var accumulated time.Duration
	var prevStamp time.Duration
	haveStamp := false

	for _, path := range paths {
		records, err := pcapfile.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("compiler: read %s: %w", path, err)
		}
		for _, rec := range records {
			var sendTime time.Duration
			if scale != 0 {
				if haveStamp {
					delta := rec.Timestamp - prevStamp
					if delta < 0 {
						delta = 0
					}
					accumulated += time.Duration(float64(delta) * scale)
				}
				sendTime = accumulated
				prevStamp = rec.Timestamp
				haveStamp = true
			}

			f := frame.New(frame.MaxDoubleTagged)
			if err := f.SetRaw(rec.Data); err != nil {
				return nil, fmt.Errorf("compiler: %s: %w", path, err)
			}
			it := item.NewFrame(f, sendTime, 0)
			seq.Append(it)
			seq.UpdateStats(it)
		}
	}

	cfg.Freeze()
	return seq, nil
}

// compileStatements resolves control flow (labels/goto/loop nesting)
// and timestamp inheritance over a flat statement stream, then builds
// each instruction into an Item.
//
// Label and loop-end resolution both use the same "pending, bound to
// the next appended item" technique: a label or a closing '}' doesn't
// know its target until whatever comes after it in the script is
// compiled, so its resolution is deferred and then attached the moment
// that next item is appended.
func compileStatements(stmts []scriptparser.Statement, cfg *config.Config) (*item.Sequence, error) {
	seq := &item.Sequence{}

	var pendingLabels []string
	var pendingLoopEnds []*item.Item
	labels := make(map[string]*item.Item)

	type pendingGoto struct {
		gotoItem *item.Item
		label    string
		line     int
	}
	var gotos []pendingGoto
	var loopStack []*item.Item

	var sendTime time.Duration
	lastDelay := cfg.Resolution.Duration(cfg.DefaultDelay)

	// bind resolves every pending loop-end and label against it, the item
	// that just became known. It reports whether anything was actually
	// pending, so loop-end handling can fall back to a plain forward link
	// when the body's last statement wasn't itself a loop or a label.
	bind := func(it *item.Item) bool {
		did := len(pendingLoopEnds) > 0 || len(pendingLabels) > 0
		for _, lp := range pendingLoopEnds {
			lp.SetLoopEnd(it)
		}
		pendingLoopEnds = nil
		for _, name := range pendingLabels {
			labels[name] = it
		}
		pendingLabels = nil
		return did
	}

	appendItem := func(it *item.Item) {
		bind(it)
		seq.Append(it)
		seq.UpdateStats(it)
	}

	resolveTimestamp := func(ts *int64) time.Duration {
		var delta time.Duration
		if ts != nil {
			delta = cfg.Resolution.Duration(*ts)
			lastDelay = delta
		} else {
			delta = lastDelay
		}
		sendTime += delta
		return sendTime
	}

	for _, st := range stmts {
		switch st.Kind {
		case scriptparser.KindLabel:
			pendingLabels = append(pendingLabels, st.Label)

		case scriptparser.KindLoopStart:
			loopIt := item.NewLoop(st.LoopCount, st.Line)
			appendItem(loopIt)
			loopStack = append(loopStack, loopIt)

		case scriptparser.KindLoopEnd:
			if len(loopStack) == 0 {
				return nil, fmt.Errorf("compiler: line %d: '}' without a matching loop start", st.Line)
			}
			top := loopStack[len(loopStack)-1]
			loopStack = loopStack[:len(loopStack)-1]

			// Wire the body's back edge: whatever the body's last item is,
			// once it finishes it must return to top so the loop can decide
			// whether to repeat. If the body's last statement was itself a
			// (just-closed) nested loop or a trailing label, bind already
			// points that at top; otherwise wire the plain last item
			// directly.
			if !bind(top) {
				if last := seq.Last(); last != nil {
					last.SetNext(top)
				}
			}
			// Either branch just wired the body's actual last item's .next
			// by hand (directly above, or inside bind via SetLoopEnd on a
			// nested loop). Detach so the next appendItem doesn't also
			// route through Sequence.Append's own linking and clobber it.
			seq.Detach()
			pendingLoopEnds = append(pendingLoopEnds, top)

		case scriptparser.KindGoto:
			gotoIt := item.NewGoto(st.Label, st.Line)
			appendItem(gotoIt)
			gotos = append(gotos, pendingGoto{gotoItem: gotoIt, label: st.Label, line: st.Line})

		case scriptparser.KindWait:
			wait, err := parseWaitExpr(st.WaitExpr, cfg)
			if err != nil {
				return nil, fmt.Errorf("compiler: line %d: %w", st.Line, err)
			}
			ts := resolveTimestamp(st.Timestamp)
			appendItem(item.NewWait(wait, ts, st.Line))

		case scriptparser.KindPacket:
			expr, err := exprparser.Parse(st.Expr)
			if err != nil {
				return nil, fmt.Errorf("compiler: line %d: %w", st.Line, err)
			}
			ts := resolveTimestamp(st.Timestamp)
			it, err := buildItem(expr, cfg, ts, st.Line)
			if err != nil {
				return nil, fmt.Errorf("compiler: line %d: %w", st.Line, err)
			}
			appendItem(it)
		}
	}

	if len(loopStack) != 0 {
		return nil, fmt.Errorf("compiler: unterminated loop block(s), %d still open", len(loopStack))
	}
	// Anything still pending at end-of-input resolves to "the end of the
	// sequence" — a loop falling off the end, or a goto to a trailing
	// label, both legitimately mean "stop here".
	for _, lp := range pendingLoopEnds {
		lp.SetLoopEnd(nil)
	}
	for _, name := range pendingLabels {
		if _, exists := labels[name]; !exists {
			labels[name] = nil
		}
	}

	for _, g := range gotos {
		target, ok := labels[g.label]
		if !ok {
			return nil, fmt.Errorf("compiler: line %d: undefined label %q", g.line, g.label)
		}
		g.gotoItem.Goto.Target = target
	}

	return seq, nil
}

var identificationCounter atomic.Uint32

func nextIdentification() uint16 {
	return uint16(identificationCounter.Add(1))
}

// vlanParams captures the optional VLAN fields an `eth(...)` layer may
// carry: vid is required for a tag to be added at all.
type vlanParams struct {
	present bool
	cTag    bool
	id      uint16
	prio    uint16
	dei     uint16
}
