// Package resolver fills in destination MAC addresses an item.Sequence
// left unresolved (a Frame or FragmentedPacket whose only known
// destination was an IPv4 address) by driving an ARP request/reply
// exchange through the netio OS adapter, backed by an ARP cache holding
// one entry per resolved address.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/amartin755/tcppump/internal/arp"
	"github.com/amartin755/tcppump/internal/frame"
	"github.com/amartin755/tcppump/internal/item"
	"github.com/amartin755/tcppump/internal/netio"
)

// ErrResolutionFailed is returned when one or more destinations could
// not be resolved after every retry was exhausted.
var ErrResolutionFailed = errors.New("resolver: could not resolve host(s)")

const (
	requestTimeout = 1 * time.Second
	maxAttempts    = 2 // one request plus one retry
	pollInterval   = 10 * time.Millisecond
)

// Cache maps resolved IPv4 addresses to their MAC address. It never
// caches a failed lookup, so a transient failure doesn't poison later
// attempts at the same address.
type Cache struct {
	mu      sync.Mutex
	entries map[netip.Addr]net.HardwareAddr
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[netip.Addr]net.HardwareAddr)}
}

func (c *Cache) get(addr netip.Addr) (net.HardwareAddr, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mac, ok := c.entries[addr]
	return mac, ok
}

func (c *Cache) put(addr netip.Addr, mac net.HardwareAddr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[addr] = mac
}

// Len reports how many addresses are currently cached, exposed for the
// stats collector's ARP cache size gauge.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Resolver fills in destination MAC addresses via ARP, backed by a
// shared Cache and a netio.Interface used to send requests and receive
// replies.
type Resolver struct {
	iface  netio.Interface
	cache  *Cache
	srcMAC net.HardwareAddr
	srcIP  netip.Addr
}

// New returns a Resolver that sends ARP requests from srcMAC/srcIP over
// iface, caching resolved addresses in cache.
func New(iface netio.Interface, cache *Cache, srcMAC net.HardwareAddr, srcIP netip.Addr) *Resolver {
	return &Resolver{iface: iface, cache: cache, srcMAC: srcMAC, srcIP: srcIP}
}

// Resolve walks seq for every item still needing a destination MAC
// (item.NeedsResolution) and patches its Frame/Fragments in place. A
// cache hit resolves instantly; a miss sends one ARP who-has request,
// allowing one retry, before giving up. Every pending item is tried; if
// any address stays unresolved the call fails with ErrResolutionFailed
// naming all of them, and the items that did resolve keep their patched
// destination MAC.
func (r *Resolver) Resolve(ctx context.Context, seq *item.Sequence) error {
	var failed []netip.Addr

	for it := seq.First(); it != nil; it = it.Next() {
		if !it.NeedsResolution() {
			continue
		}
		mac, err := r.resolve(ctx, it.ResolveDst)
		if err != nil {
			failed = append(failed, it.ResolveDst)
			continue
		}
		applyDstMAC(it, mac)
	}

	if len(failed) > 0 {
		return fmt.Errorf("%w: %v", ErrResolutionFailed, failed)
	}
	return nil
}

func (r *Resolver) resolve(ctx context.Context, target netip.Addr) (net.HardwareAddr, error) {
	if mac, ok := r.cache.get(target); ok {
		return mac, nil
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		mac, err := r.request(ctx, target)
		if err == nil {
			r.cache.put(target, mac)
			return mac, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (r *Resolver) request(ctx context.Context, target netip.Addr) (net.HardwareAddr, error) {
	f := frame.New(frame.MaxUntagged)
	if err := arp.WhoHas(f, r.srcMAC, r.srcIP, target); err != nil {
		return nil, err
	}
	if err := r.iface.SendPacket(f.Bytes(), 0); err != nil {
		return nil, fmt.Errorf("resolver: send ARP request: %w", err)
	}

	deadline := time.Now().Add(requestTimeout)
	buf := make([]byte, frame.MaxUntagged)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		n, err := r.iface.ReceivePacket(buf, nil, time.Now())
		if err != nil {
			if errors.Is(err, netio.ErrTimeout) {
				time.Sleep(pollInterval)
				continue
			}
			return nil, err
		}

		reply, err := arp.Parse(buf[14:n])
		if err != nil {
			continue
		}
		if reply.IsReply() && reply.SenderIP == target {
			return reply.SenderMAC, nil
		}
	}
	return nil, fmt.Errorf("resolver: timed out waiting for ARP reply from %s", target)
}

// applyDstMAC patches every frame a resolved item carries with mac —
// one Frame item has a single destination, a FragmentedPacket item
// shares the same destination across every fragment.
func applyDstMAC(it *item.Item, mac net.HardwareAddr) {
	switch it.Kind {
	case item.KindFrame:
		it.Frame.SetDstMAC(mac)
	case item.KindFragmented:
		for _, f := range it.Fragments {
			f.SetDstMAC(mac)
		}
	}
}
