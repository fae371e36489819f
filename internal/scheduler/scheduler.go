// Package scheduler drives a compiled item.Sequence against a
// netio.Interface: it paces sends according to each item's SendTime,
// applies the per-frame Preprocessor, answers Wait items by polling
// the interface's receive path, and honors the configured repeat
// count.
package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amartin755/tcppump/internal/filter"
	"github.com/amartin755/tcppump/internal/frame"
	"github.com/amartin755/tcppump/internal/item"
	"github.com/amartin755/tcppump/internal/netio"
)

// RepeatForever is the Loop value meaning "repeat until cancelled".
const RepeatForever = 0

// Scheduler emits a Sequence's items against an Interface.
type Scheduler struct {
	Iface        netio.Interface
	Preprocessor *filter.Preprocessor
	Realtime     bool
	Repeat       int
}

// Run drives seq to completion, or until ctx is cancelled. A send
// failure aborts the run immediately (fatal); a Wait item timing out
// without a match is not an error — it simply lets the sequence
// continue.
func (s *Scheduler) Run(ctx context.Context, seq *item.Sequence) error {
	if err := s.Iface.PrepareSendQueue(seq.PacketCount(), seq.TotalBytes(), s.Realtime); err != nil {
		return fmt.Errorf("scheduler: prepare send queue: %w", err)
	}
	defer s.Iface.FlushSendQueue()

	runs := s.Repeat
	if runs <= 0 {
		runs = -1 // sentinel: loop until ctx is cancelled
	}

	start := time.Now()
	for pass := 0; runs < 0 || pass < runs; pass++ {
		if err := s.runOnce(ctx, seq, start); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
	return nil
}

func (s *Scheduler) runOnce(ctx context.Context, seq *item.Sequence, start time.Time) error {
	for it := seq.First(); it != nil; it = it.Next() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if s.Realtime {
			waitUntil(ctx, start, it.SendTime)
		}

		switch it.Kind {
		case item.KindFrame:
			if err := s.sendFrame(it.Frame, it.SendTime); err != nil {
				return err
			}
		case item.KindFragmented:
			for _, f := range it.Fragments {
				if err := s.sendFrame(f, it.SendTime); err != nil {
					return err
				}
			}
		case item.KindWait:
			s.wait(ctx, it)
		}
	}
	return nil
}

func (s *Scheduler) sendFrame(f *frame.Frame, sendTime time.Duration) error {
	if s.Preprocessor != nil {
		if err := s.Preprocessor.Process(f); err != nil {
			return fmt.Errorf("scheduler: preprocess: %w", err)
		}
	}
	if err := s.Iface.SendPacket(f.Bytes(), sendTime); err != nil {
		return fmt.Errorf("scheduler: send: %w", err)
	}
	return nil
}

// wait polls for a matching frame until spec.Pattern is found, the
// configured timeout elapses, or ctx is cancelled. A zero/absent
// timeout means unbounded: block until a match or cancellation.
func (s *Scheduler) wait(ctx context.Context, it *item.Item) {
	spec := it.Wait
	buf := make([]byte, 1600)
	unbounded := spec.Timeout <= 0
	deadline := time.Now().Add(spec.Timeout)

	for unbounded || time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			spec.State = item.WaitTimedOut
			return
		default:
		}

		n, err := s.Iface.ReceivePacket(buf, nil, time.Now())
		if err != nil {
			if errors.Is(err, netio.ErrTimeout) {
				continue
			}
			spec.State = item.WaitTimedOut
			return
		}
		if matchesPattern(buf[:n], spec.Pattern) {
			spec.State = item.WaitMatched
			return
		}
	}
	spec.State = item.WaitTimedOut
}

// matchesPattern reports whether pattern occurs anywhere within data,
// not just at offset 0.
func matchesPattern(data, pattern []byte) bool {
	if len(pattern) == 0 {
		return true
	}
	return bytes.Contains(data, pattern)
}

// waitUntil blocks until start+target, or ctx is cancelled, whichever
// comes first.
func waitUntil(ctx context.Context, start time.Time, target time.Duration) {
	delay := time.Until(start.Add(target))
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
