package scriptparser

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSimpleLineWithExplicitTimestamp(t *testing.T) {
	stmts, err := Parse("100: eth(dst=11:22:33:44:55:66)\n")
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	require.Equal(t, KindPacket, stmts[0].Kind)
	require.NotNil(t, stmts[0].Timestamp)
	require.Equal(t, int64(100), *stmts[0].Timestamp)
	require.Equal(t, "eth(dst=11:22:33:44:55:66)", stmts[0].Expr)
}

func TestParseLineWithoutTimestampInheritsDefaultDelay(t *testing.T) {
	stmts, err := Parse("eth(dst=11:22:33:44:55:66)\n")
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	require.Nil(t, stmts[0].Timestamp)
}

func TestMultipleInstructionsOnOneLine(t *testing.T) {
	stmts, err := Parse("10: eth(dst=11:22:33:44:55:66); eth(dst=aa:bb:cc:dd:ee:ff)\n")
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	require.NotNil(t, stmts[0].Timestamp)
	require.Equal(t, int64(10), *stmts[0].Timestamp)
	// only the first instruction on the line consumes the explicit timestamp
	require.Nil(t, stmts[1].Timestamp)
}

func TestSemicolonInsidePayloadDoesNotSplit(t *testing.T) {
	stmts, err := Parse("eth(payload=aabbcc;dd)\n")
	require.NoError(t, err)
	require.Len(t, stmts, 1)
}

func TestLoopBlockAndLabelAndGoto(t *testing.T) {
	script := "" +
		"start:\n" +
		"3{\n" +
		"eth(dst=11:22:33:44:55:66)\n" +
		"}\n" +
		"goto start\n"

	stmts, err := Parse(script)
	require.NoError(t, err)
	require.Len(t, stmts, 5)

	require.Equal(t, KindLabel, stmts[0].Kind)
	require.Equal(t, "start", stmts[0].Label)

	require.Equal(t, KindLoopStart, stmts[1].Kind)
	require.Equal(t, 3, stmts[1].LoopCount)

	require.Equal(t, KindPacket, stmts[2].Kind)

	require.Equal(t, KindLoopEnd, stmts[3].Kind)

	require.Equal(t, KindGoto, stmts[4].Kind)
	require.Equal(t, "start", stmts[4].Label)
}

func TestInfiniteLoopHasZeroCount(t *testing.T) {
	stmts, err := Parse("{\neth(dst=11:22:33:44:55:66)\n}\n")
	require.NoError(t, err)
	require.Equal(t, KindLoopStart, stmts[0].Kind)
	require.Equal(t, 0, stmts[0].LoopCount)
}

func TestWaitInstruction(t *testing.T) {
	stmts, err := Parse("wait(timeout=1000)\n")
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	require.Equal(t, KindWait, stmts[0].Kind)
	require.Equal(t, "wait(timeout=1000)", stmts[0].WaitExpr)
}

func TestCommentsAndBlankLinesAreIgnored(t *testing.T) {
	script := "# this is a comment\n\n  \n100: eth(dst=11:22:33:44:55:66) # trailing comment\n"
	stmts, err := Parse(script)
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	require.Equal(t, "eth(dst=11:22:33:44:55:66)", stmts[0].Expr)
}

func TestGotoWithoutLabelIsAnError(t *testing.T) {
	_, err := Parse("goto\n")
	require.Error(t, err)
}

func TestInvalidLoopCountIsAnError(t *testing.T) {
	_, err := Parse("abc{\n}\n")
	require.Error(t, err)
}
