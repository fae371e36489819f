package filter_test

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amartin755/tcppump/internal/filter"
	"github.com/amartin755/tcppump/internal/frame"
	"github.com/amartin755/tcppump/internal/item"
	"github.com/amartin755/tcppump/internal/macaddr"
)

func TestFilterApplyOverwritesDestination(t *testing.T) {
	f := frame.New(frame.MaxUntagged)
	f.SetSrcMAC(net.HardwareAddr{0x02, 0, 0, 0, 0, 1})
	f.SetDstMAC(net.HardwareAddr{0x11, 0x11, 0x11, 0x11, 0x11, 0x11})
	f.SetTypeLength(uint16(frame.EtherTypeIPv4))
	require.NoError(t, f.SetPayload([]byte{1, 2}))

	seq := &item.Sequence{}
	seq.Append(item.NewFrame(f, 0, 1))

	override := net.HardwareAddr{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa}
	ft := &filter.Filter{OverwriteDst: override}
	ft.Apply(seq)

	require.Equal(t, override, f.DstMAC())
}

func TestFilterApplyIsNoopWithoutOverride(t *testing.T) {
	f := frame.New(frame.MaxUntagged)
	f.SetSrcMAC(net.HardwareAddr{0x02, 0, 0, 0, 0, 1})
	dst := net.HardwareAddr{0x11, 0x11, 0x11, 0x11, 0x11, 0x11}
	f.SetDstMAC(dst)
	f.SetTypeLength(uint16(frame.EtherTypeIPv4))
	require.NoError(t, f.SetPayload([]byte{1, 2}))

	seq := &item.Sequence{}
	seq.Append(item.NewFrame(f, 0, 1))

	(&filter.Filter{}).Apply(seq)
	require.Equal(t, dst, f.DstMAC())
}

func TestPreprocessorRandomizesSourceAndDestination(t *testing.T) {
	f := frame.New(frame.MaxUntagged)
	f.SetSrcMAC(net.HardwareAddr{0x02, 0, 0, 0, 0, 1})
	f.SetDstMAC(net.HardwareAddr{0x11, 0x11, 0x11, 0x11, 0x11, 0x11})
	f.SetTypeLength(uint16(frame.EtherTypeIPv4))
	require.NoError(t, f.SetPayload([]byte{1, 2}))

	gen := macaddr.NewCounterGenerator(net.HardwareAddr{0x02, 0, 0, 0, 0, 0})
	pp := &filter.Preprocessor{Gen: gen, RandSrc: true, RandDst: true}

	require.NoError(t, pp.Process(f))
	require.NotEqual(t, net.HardwareAddr{0x02, 0, 0, 0, 0, 1}, f.SrcMAC())
	require.NotEqual(t, net.HardwareAddr{0x11, 0x11, 0x11, 0x11, 0x11, 0x11}, f.DstMAC())
}
