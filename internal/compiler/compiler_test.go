package compiler_test

import (
	"net"
	"net/netip"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amartin755/tcppump/internal/compiler"
	"github.com/amartin755/tcppump/internal/config"
	"github.com/amartin755/tcppump/internal/item"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.MAC, _ = net.ParseMAC("02:00:00:00:00:01")
	cfg.Interface = "eth0"
	return cfg
}

func TestCompilePacketsBuildsPlainEthFrame(t *testing.T) {
	cfg := testConfig()
	seq, err := compiler.CompilePackets([]string{"eth(dst=11:22:33:44:55:66, etype=0x0800, payload=aabb)"}, cfg)
	require.NoError(t, err)
	require.True(t, cfg.Frozen())

	it := seq.First()
	require.NotNil(t, it)
	require.Equal(t, item.KindFrame, it.Kind)
	require.Equal(t, 1, seq.PacketCount())
}

func TestCompilePacketsBuildsARPFrame(t *testing.T) {
	cfg := testConfig()
	seq, err := compiler.CompilePackets([]string{
		"eth(dst=ff:ff:ff:ff:ff:ff):arp(op=1,srcmac=02:00:00:00:00:01,srcip=10.0.0.1,dstmac=00:00:00:00:00:00,dstip=10.0.0.2)",
	}, cfg)
	require.NoError(t, err)
	require.Equal(t, 1, seq.PacketCount())
}

func TestCompilePacketsBuildsStackedVLANTags(t *testing.T) {
	cfg := testConfig()
	seq, err := compiler.CompilePackets([]string{
		"eth(dst=11:22:33:44:55:66,vid=12,prio=7,vtype=s):eth(vid=34,vtype=c,payload=cafe)",
	}, cfg)
	require.NoError(t, err)

	it := seq.First()
	require.NotNil(t, it)
	require.Equal(t, item.KindFrame, it.Kind)
	raw := it.Frame.Bytes()
	require.Equal(t, []byte{0x88, 0xa8, 0xe0, 0x0c, 0x81, 0x00, 0x00, 0x22}, raw[12:20])
}

func TestCompilePacketsFragmentsLargeIPv4Payload(t *testing.T) {
	cfg := testConfig()
	cfg.MTU = 1500
	payload := make([]byte, 3000*2) // hex-encoded, so 3000 bytes of payload
	for i := range payload {
		payload[i] = 'a'
	}
	expr := "eth(dst=11:22:33:44:55:66):ipv4(src=10.0.0.1,dst=10.0.0.2,payload=" + string(payload) + ")"

	seq, err := compiler.CompilePackets([]string{expr}, cfg)
	require.NoError(t, err)

	it := seq.First()
	require.Equal(t, item.KindFragmented, it.Kind)
	require.Len(t, it.Fragments, 3)
	require.Equal(t, 3, seq.PacketCount())
}

func TestCompilePacketsLeavesUnresolvedDestinationForARPResolution(t *testing.T) {
	cfg := testConfig()
	cfg.EnableARPResolution = true
	seq, err := compiler.CompilePackets([]string{
		"ipv4(src=10.0.0.1,dst=10.0.0.2,payload=aabb)",
	}, cfg)
	require.NoError(t, err)

	it := seq.First()
	require.True(t, it.NeedsResolution())
	require.Equal(t, netip.MustParseAddr("10.0.0.2"), it.ResolveDst)
}

func TestCompileScriptResolvesLoop(t *testing.T) {
	cfg := testConfig()
	path := writeScript(t, ""+
		"3{\n"+
		"eth(dst=11:22:33:44:55:66)\n"+
		"}\n"+
		"eth(dst=aa:bb:cc:dd:ee:ff)\n")

	seq, err := compiler.CompileScript([]string{path}, cfg)
	require.NoError(t, err)

	loopIt := seq.First()
	require.Equal(t, item.KindLoop, loopIt.Kind)

	// walk 3 repeats of the loop body, then the trailing frame, then nil
	count := 0
	cur := loopIt
	var visited []item.Kind
	for cur != nil && count < 20 {
		visited = append(visited, cur.Kind)
		cur = cur.Next()
		count++
	}
	// loop visited 4 times (3 repeats + the exhausted check), body frame
	// visited 3 times plus the trailing frame once: 2*3+2 == 8.
	require.Equal(t, 8, len(visited))
	require.Equal(t, item.KindFrame, visited[1])
	require.Equal(t, item.KindFrame, visited[len(visited)-1])
}

func TestCompileScriptRejectsUnterminatedLoop(t *testing.T) {
	cfg := testConfig()
	path := writeScript(t, "3{\neth(dst=11:22:33:44:55:66)\n")

	_, err := compiler.CompileScript([]string{path}, cfg)
	require.Error(t, err)
}

func TestCompileScriptRejectsUndefinedLabel(t *testing.T) {
	cfg := testConfig()
	path := writeScript(t, "goto nowhere\n")

	_, err := compiler.CompileScript([]string{path}, cfg)
	require.Error(t, err)
}

func writeScript(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := dir + "/script.tcppump"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
