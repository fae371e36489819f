package compiler

import (
	"fmt"
	"net"
	"time"

	"github.com/amartin755/tcppump/internal/arp"
	"github.com/amartin755/tcppump/internal/config"
	"github.com/amartin755/tcppump/internal/exprparser"
	"github.com/amartin755/tcppump/internal/frame"
	"github.com/amartin755/tcppump/internal/ipv4"
	"github.com/amartin755/tcppump/internal/item"
	"github.com/amartin755/tcppump/internal/params"
	"github.com/amartin755/tcppump/internal/stp"
)

// buildItem turns one parsed inline expression into an Item, dispatching
// on the first non-eth layer's protocol name. The (explicit or implied)
// `eth(...)` layer supplies the MAC header and, for a bare payload
// frame, the ethertype and payload themselves.
func buildItem(expr *exprparser.Expression, cfg *config.Config, sendTime time.Duration, line int) (*item.Item, error) {
	if len(expr.Layers) == 0 {
		return nil, fmt.Errorf("compiler: empty packet expression")
	}

	layers := expr.Layers
	idx := 0
	srcMAC := cfg.MAC
	var dstMAC net.HardwareAddr
	explicitDst := false
	var etypeOverride *uint16
	var ethPayload []byte
	var vlans []vlanParams

	// A frame can carry up to two stacked `eth(...)` layers for QinQ: the
	// first names the outer tag, the second the inner one. Each may also
	// carry src/dst/etype/payload; later layers override earlier ones.
	for idx < len(layers) && layers[idx].Proto == "eth" && len(vlans) < 2 {
		p := layers[idx].Params
		if pm, ok := p.Find("src"); ok {
			mac, err := pm.MAC()
			if err != nil {
				return nil, err
			}
			srcMAC = mac
		}
		if pm, ok := p.Find("dst"); ok {
			mac, err := pm.MAC()
			if err != nil {
				return nil, err
			}
			dstMAC = mac
			explicitDst = true
		}
		if pm, ok := p.Find("etype"); ok {
			v, err := pm.Int16(0, 0xffff)
			if err != nil {
				return nil, err
			}
			etypeOverride = &v
		}
		if pm, ok := p.Find("payload"); ok {
			b, err := pm.HexStream()
			if err != nil {
				return nil, err
			}
			ethPayload = b
		}
		if pm, ok := p.Find("vid"); ok {
			var v vlanParams
			id, err := pm.Int16(0, 4095)
			if err != nil {
				return nil, err
			}
			v.present = true
			v.id = id
			v.cTag = true
			if prioP, ok := p.Find("prio"); ok {
				prio, err := prioP.Int8(0, 7)
				if err != nil {
					return nil, err
				}
				v.prio = uint16(prio)
			}
			if vtypeP, ok := p.Find("vtype"); ok {
				v.cTag = vtypeP.Value != "s"
			}
			if deiP, ok := p.Find("dei"); ok {
				dei, err := deiP.Int8(0, 1)
				if err != nil {
					return nil, err
				}
				v.dei = uint16(dei)
			}
			vlans = append(vlans, v)
		}
		idx++
	}

	remaining := layers[idx:]

	if len(remaining) == 0 {
		capacity := frame.MaxUntagged
		switch len(vlans) {
		case 1:
			capacity = frame.MaxSingleTagged
		case 2:
			capacity = frame.MaxDoubleTagged
		}
		f := frame.New(capacity)
		f.SetMACHeader(srcMAC, dstMAC)
		for _, v := range vlans {
			if err := f.AddVLANTag(v.cTag, v.id, v.prio, v.dei); err != nil {
				return nil, err
			}
		}
		if err := f.SetPayload(ethPayload); err != nil {
			return nil, err
		}
		if etypeOverride != nil {
			f.SetTypeLength(*etypeOverride)
		} else {
			f.SetLength()
		}
		return item.NewFrame(f, sendTime, line), nil
	}

	layer := remaining[0]
	switch layer.Proto {
	case "arp":
		return buildARPItem(layer.Params, srcMAC, dstMAC, sendTime, line)
	case "ipv4":
		return buildIPv4Item(layer.Params, cfg, srcMAC, dstMAC, explicitDst, sendTime, line)
	case "stp-config", "stp-rstp", "stp-tcn":
		return buildSTPItem(layer.Proto, layer.Params, srcMAC, sendTime, line)
	default:
		return nil, fmt.Errorf("compiler: unknown protocol %q", layer.Proto)
	}
}

func buildARPItem(p *params.List, srcMAC, dstMAC net.HardwareAddr, sendTime time.Duration, line int) (*item.Item, error) {
	op := arp.OpRequest
	if pm, ok := p.Find("op"); ok {
		v, err := pm.Int8(1, 2)
		if err != nil {
			return nil, err
		}
		op = arp.Opcode(v)
	}
	if pm, ok := p.Find("srcmac"); ok {
		mac, err := pm.MAC()
		if err != nil {
			return nil, err
		}
		srcMAC = mac
	}
	if pm, ok := p.Find("dstmac"); ok {
		mac, err := pm.MAC()
		if err != nil {
			return nil, err
		}
		dstMAC = mac
	}
	srcIPp, ok := p.Find("srcip")
	if !ok {
		return nil, fmt.Errorf("arp: missing required parameter srcip")
	}
	srcIP, err := srcIPp.IPv4()
	if err != nil {
		return nil, err
	}
	dstIPp, ok := p.Find("dstip")
	if !ok {
		return nil, fmt.Errorf("arp: missing required parameter dstip")
	}
	dstIP, err := dstIPp.IPv4()
	if err != nil {
		return nil, err
	}

	f := frame.New(frame.MaxUntagged)
	if err := arp.Build(f, op, srcMAC, dstMAC, srcIP, dstIP); err != nil {
		return nil, err
	}
	return item.NewFrame(f, sendTime, line), nil
}

func buildIPv4Item(p *params.List, cfg *config.Config, srcMAC, dstMAC net.HardwareAddr, explicitDst bool, sendTime time.Duration, line int) (*item.Item, error) {
	srcIPp, ok := p.Find("src")
	if !ok {
		return nil, fmt.Errorf("ipv4: missing required parameter src")
	}
	srcIP, err := srcIPp.IPv4()
	if err != nil {
		return nil, err
	}
	dstIPp, ok := p.Find("dst")
	if !ok {
		return nil, fmt.Errorf("ipv4: missing required parameter dst")
	}
	dstIP, err := dstIPp.IPv4()
	if err != nil {
		return nil, err
	}

	protocol := uint8(0xfd) // experimental/testing, RFC 3692
	if pm, ok := p.Find("proto"); ok {
		v, err := pm.Int8(0, 0xff)
		if err != nil {
			return nil, err
		}
		protocol = v
	}
	ttl := uint8(64)
	if pm, ok := p.Find("ttl"); ok {
		v, err := pm.Int8(0, 0xff)
		if err != nil {
			return nil, err
		}
		ttl = v
	}
	tos := uint8(0)
	if pm, ok := p.Find("tos"); ok {
		v, err := pm.Int8(0, 0xff)
		if err != nil {
			return nil, err
		}
		tos = v
	}
	df := false
	if pm, ok := p.Find("df"); ok {
		v, err := pm.Bool()
		if err != nil {
			return nil, err
		}
		df = v
	}
	var payload []byte
	if pm, ok := p.Find("payload"); ok {
		b, err := pm.HexStream()
		if err != nil {
			return nil, err
		}
		payload = b
	}

	header := ipv4.Header{
		Src:            srcIP,
		Dst:            dstIP,
		Protocol:       protocol,
		TTL:            ttl,
		TOS:            tos,
		DF:             df,
		Identification: nextIdentification(),
	}

	// internal/frame does not support jumbo frames; fragmentation target
	// is the smaller of the configured MTU and the frame package's
	// single untagged-frame payload capacity.
	mtu := cfg.MTU
	if mtu > frame.MaxPayload {
		mtu = frame.MaxPayload
	}

	fragments, err := ipv4.Fragment(header, payload, mtu)
	if err != nil {
		return nil, err
	}

	frames := make([]*frame.Frame, 0, len(fragments))
	for _, raw := range fragments {
		f := frame.New(frame.MaxUntagged)
		f.SetSrcMAC(srcMAC)
		if explicitDst {
			f.SetDstMAC(dstMAC)
		}
		f.SetTypeLength(uint16(frame.EtherTypeIPv4))
		if err := f.SetPayload(raw); err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}

	var it *item.Item
	if len(frames) == 1 {
		it = item.NewFrame(frames[0], sendTime, line)
	} else {
		it = item.NewFragmented(frames, sendTime, line)
	}
	if !explicitDst {
		it.ResolveDst = dstIP
	}
	return it, nil
}

func buildSTPItem(proto string, p *params.List, srcMAC net.HardwareAddr, sendTime time.Duration, line int) (*item.Item, error) {
	if pm, ok := p.Find("srcmac"); ok {
		mac, err := pm.MAC()
		if err != nil {
			return nil, err
		}
		srcMAC = mac
	}

	f := frame.New(frame.MaxUntagged)

	if proto == "stp-tcn" {
		if err := stp.BuildTCN(f, srcMAC); err != nil {
			return nil, err
		}
		return item.NewFrame(f, sendTime, line), nil
	}

	cfg, err := parseConfigPDU(p)
	if err != nil {
		return nil, err
	}

	if proto == "stp-config" {
		if err := stp.BuildConfig(f, srcMAC, cfg); err != nil {
			return nil, err
		}
		return item.NewFrame(f, sendTime, line), nil
	}

	rstp := stp.RSTPConfigPDU{ConfigPDU: cfg}
	if pm, ok := p.Find("proposal"); ok {
		rstp.Proposal, err = pm.Bool()
		if err != nil {
			return nil, err
		}
	}
	if pm, ok := p.Find("forwarding"); ok {
		rstp.Forwarding, err = pm.Bool()
		if err != nil {
			return nil, err
		}
	}
	if pm, ok := p.Find("learning"); ok {
		rstp.Learning, err = pm.Bool()
		if err != nil {
			return nil, err
		}
	}
	if pm, ok := p.Find("agreement"); ok {
		rstp.Agreement, err = pm.Bool()
		if err != nil {
			return nil, err
		}
	}
	if pm, ok := p.Find("role"); ok {
		v, err := pm.Int8(0, 3)
		if err != nil {
			return nil, err
		}
		rstp.Role = stp.PortRole(v)
	}
	if err := stp.BuildRSTP(f, srcMAC, rstp); err != nil {
		return nil, err
	}
	return item.NewFrame(f, sendTime, line), nil
}

func parseConfigPDU(p *params.List) (stp.ConfigPDU, error) {
	var out stp.ConfigPDU

	if pm, ok := p.Find("rootmac"); ok {
		mac, err := pm.MAC()
		if err != nil {
			return out, err
		}
		out.Root.MAC = mac
	}
	if pm, ok := p.Find("rootprio"); ok {
		v, err := pm.Int8(0, 15)
		if err != nil {
			return out, err
		}
		out.Root.Priority = v
	}
	if pm, ok := p.Find("rootpathcost"); ok {
		v, err := pm.Int32(0, 0xffffffff)
		if err != nil {
			return out, err
		}
		out.RootPathCost = v
	}
	if pm, ok := p.Find("bridgemac"); ok {
		mac, err := pm.MAC()
		if err != nil {
			return out, err
		}
		out.Bridge.MAC = mac
	}
	if pm, ok := p.Find("bridgeprio"); ok {
		v, err := pm.Int8(0, 15)
		if err != nil {
			return out, err
		}
		out.Bridge.Priority = v
	}
	if pm, ok := p.Find("portprio"); ok {
		v, err := pm.Int8(0, 15)
		if err != nil {
			return out, err
		}
		out.PortPriority = v
	}
	if pm, ok := p.Find("portnum"); ok {
		v, err := pm.Int16(0, 0x0fff)
		if err != nil {
			return out, err
		}
		out.PortNumber = v
	}
	if pm, ok := p.Find("maxage"); ok {
		v, err := pm.Int16(0, 0xffff)
		if err != nil {
			return out, err
		}
		out.MaxAge = time.Duration(v) * time.Second / 256
	}
	if pm, ok := p.Find("hellotime"); ok {
		v, err := pm.Int16(0, 0xffff)
		if err != nil {
			return out, err
		}
		out.HelloTime = time.Duration(v) * time.Second / 256
	}
	if pm, ok := p.Find("fwddelay"); ok {
		v, err := pm.Int16(0, 0xffff)
		if err != nil {
			return out, err
		}
		out.ForwardDelay = time.Duration(v) * time.Second / 256
	}
	if pm, ok := p.Find("tc"); ok {
		v, err := pm.Bool()
		if err != nil {
			return out, err
		}
		out.TopologyChange = v
	}
	if pm, ok := p.Find("tcack"); ok {
		v, err := pm.Bool()
		if err != nil {
			return out, err
		}
		out.TopologyChangeAck = v
	}
	return out, nil
}
