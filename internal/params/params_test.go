package params

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseBasicAndWhitespaceTolerant(t *testing.T) {
	l, err := Parse("(     first=100, second = 200, third   =300)")
	require.NoError(t, err)

	first, ok := l.Find("first")
	require.True(t, ok)
	v, err := first.Int32(0, 1000)
	require.NoError(t, err)
	require.Equal(t, uint32(100), v)

	third, ok := l.Find("third")
	require.True(t, ok)
	v, err = third.Int32(0, 1000)
	require.NoError(t, err)
	require.Equal(t, uint32(300), v)
}

func TestMacAndIPv4Conversions(t *testing.T) {
	l, err := Parse("(src=12:34:56:78:9a:bc, dst=10.0.0.1)")
	require.NoError(t, err)

	src, _ := l.Find("src")
	mac, err := src.MAC()
	require.NoError(t, err)
	require.Equal(t, "12:34:56:78:9a:bc", mac.String())

	dst, _ := l.Find("dst")
	_, err = dst.MAC()
	require.Error(t, err)

	ip, err := dst.IPv4()
	require.NoError(t, err)
	require.True(t, ip.Is4())
}

func TestHexStreamDecoding(t *testing.T) {
	l, err := Parse("(payload=aabbccdd)")
	require.NoError(t, err)
	p, _ := l.Find("payload")
	b, err := p.HexStream()
	require.NoError(t, err)
	require.Equal(t, []byte{0xaa, 0xbb, 0xcc, 0xdd}, b)

	l2, _ := Parse("(payload=abc)")
	p2, _ := l2.Find("payload")
	_, err = p2.HexStream()
	require.Error(t, err)
}

func TestFindAfterWalksDuplicates(t *testing.T) {
	l, err := Parse("(vid=10, prio=1, vid=20, prio=2)")
	require.NoError(t, err)

	first, ok := l.Find("vid")
	require.True(t, ok)
	v, _ := first.Int32(0, 4095)
	require.Equal(t, uint32(10), v)

	second, ok := l.FindAfter(first, "", "vid")
	require.True(t, ok)
	v, _ = second.Int32(0, 4095)
	require.Equal(t, uint32(20), v)
}

func TestParseRejectsMalformedInput(t *testing.T) {
	_, err := Parse("first=100)")
	require.Error(t, err)

	_, err = Parse("(1abc=100)")
	require.Error(t, err)

	_, err = Parse("(first=100")
	require.Error(t, err)
}

func TestIntegerBaseAutoDetect(t *testing.T) {
	l, err := Parse("(hexval=0x1A, octval=017, decval=26)")
	require.NoError(t, err)

	hexVal, _ := l.Find("hexval")
	v, err := hexVal.Int32(0, 255)
	require.NoError(t, err)
	require.Equal(t, uint32(26), v)

	decVal, _ := l.Find("decval")
	v, _ = decVal.Int32(0, 255)
	require.Equal(t, uint32(26), v)
}
