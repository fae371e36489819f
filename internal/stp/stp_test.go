package stp

import (
	"net"
	"testing"
	"time"

	"github.com/amartin755/tcppump/internal/frame"
	"github.com/stretchr/testify/require"
)

func TestBuildConfigSetsBridgeGroupDestAndLLC(t *testing.T) {
	f := frame.New(frame.MaxUntagged)
	srcMAC, _ := net.ParseMAC("02:00:00:00:00:01")
	bridgeMAC, _ := net.ParseMAC("02:00:00:00:00:02")

	p := ConfigPDU{
		Root:         BridgeID{Priority: 8, SystemExt: 0, MAC: bridgeMAC},
		Bridge:       BridgeID{Priority: 8, SystemExt: 0, MAC: bridgeMAC},
		PortNumber:   1,
		HelloTime:    2 * time.Second,
		MaxAge:       20 * time.Second,
		ForwardDelay: 15 * time.Second,
	}
	require.NoError(t, BuildConfig(f, srcMAC, p))

	require.Equal(t, net.HardwareAddr{0x01, 0x80, 0xc2, 0x00, 0x00, 0x00}, f.DstMAC())
	require.True(t, f.HasLLCHeader())

	payload := f.Payload()
	require.Equal(t, byte(0x00), payload[2]) // version
	require.Equal(t, byte(0x00), payload[3]) // BPDU type
}

func TestBuildRSTPSetsVersionAndType(t *testing.T) {
	f := frame.New(frame.MaxUntagged)
	srcMAC, _ := net.ParseMAC("02:00:00:00:00:01")

	p := RSTPConfigPDU{
		ConfigPDU: ConfigPDU{
			HelloTime: 2 * time.Second,
		},
		Role: RoleDesignated,
	}
	require.NoError(t, BuildRSTP(f, srcMAC, p))

	payload := f.Payload()
	require.Equal(t, byte(protoVersionRSTP), payload[2])
	require.Equal(t, byte(bpduTypeRSTP), payload[3])
	require.Equal(t, byte(0), payload[35]) // version 1 length
}

func TestBuildTCN(t *testing.T) {
	f := frame.New(frame.MaxUntagged)
	srcMAC, _ := net.ParseMAC("02:00:00:00:00:01")
	require.NoError(t, BuildTCN(f, srcMAC))

	payload := f.Payload()
	require.Len(t, payload, 4)
	require.Equal(t, byte(bpduTypeTCN), payload[3])
}

func TestToTimerEncodes256thsOfASecond(t *testing.T) {
	require.Equal(t, uint16(512), toTimer(2*time.Second))
}
