package item

import (
	"testing"
	"time"

	"github.com/amartin755/tcppump/internal/frame"
	"github.com/stretchr/testify/require"
)

func buildLinearSequence(t *testing.T, n int) *Sequence {
	t.Helper()
	seq := &Sequence{}
	for i := 0; i < n; i++ {
		f := frame.New(frame.MaxUntagged)
		it := NewFrame(f, time.Duration(i)*time.Millisecond, i+1)
		seq.Append(it)
		seq.UpdateStats(it)
	}
	return seq
}

func TestLinearSequenceWalksInOrder(t *testing.T) {
	seq := buildLinearSequence(t, 3)
	var lines []int
	for it := seq.First(); it != nil; it = it.Next() {
		lines = append(lines, it.Line)
	}
	require.Equal(t, []int{1, 2, 3}, lines)
	require.Equal(t, 3, seq.PacketCount())
}

func TestLoopRepeatsBodyThenJumpsPastEnd(t *testing.T) {
	body := NewFrame(frame.New(frame.MaxUntagged), 0, 1)
	loop := NewLoop(2, 0)
	after := NewFrame(frame.New(frame.MaxUntagged), 0, 99)

	// loop -> body -> loop (repeat) -> ... -> after, once exhausted
	loop.next = body
	body.next = loop
	loop.SetLoopEnd(after)

	var visited []int
	cur := loop
	for i := 0; i < 8 && cur != nil; i++ {
		visited = append(visited, cur.Line)
		cur = cur.Next()
	}

	// the loop body (line 1) runs twice; the third visit of the loop item
	// finds it exhausted and control reaches "after"
	require.Equal(t, []int{0, 1, 0, 1, 0, 99}, visited)
}

func TestGotoAlwaysJumpsToTarget(t *testing.T) {
	target := NewFrame(frame.New(frame.MaxUntagged), 0, 5)
	g := NewGoto("label", 1)
	g.Goto.Target = target

	require.Same(t, target, g.Next())
	require.Same(t, target, g.Next()) // idempotent, no state change
}

func TestUpdateStatsCountsFragmentsNotLogicalPackets(t *testing.T) {
	seq := &Sequence{}
	frags := []*frame.Frame{frame.New(frame.MaxUntagged), frame.New(frame.MaxUntagged), frame.New(frame.MaxUntagged)}
	it := NewFragmented(frags, 0, 1)
	seq.Append(it)
	seq.UpdateStats(it)

	require.Equal(t, 3, seq.PacketCount())
}

func TestWaitCountsAsTriggerPoint(t *testing.T) {
	seq := &Sequence{}
	it := NewWait(WaitSpec{Timeout: time.Second}, 0, 1)
	seq.Append(it)
	seq.UpdateStats(it)

	require.True(t, seq.HasTriggerPoints())
}
