// Package config manages tcppump's global configuration: the host's own
// link-layer/network identities, interface defaults, and scheduling
// knobs. It supports CLI flags (primary), an optional YAML defaults
// file, and environment variable overrides via koanf/v2 — CLI flags
// always win.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Resolution selects the time unit applied to user-visible timestamps
// and delays, per spec's `-t`/`--resolution` flag.
type Resolution int

const (
	ResolutionMicroseconds Resolution = iota
	ResolutionMilliseconds
	ResolutionCentiseconds
	ResolutionSeconds
)

// Duration returns the time.Duration represented by n units of r.
func (r Resolution) Duration(n int64) time.Duration {
	switch r {
	case ResolutionMicroseconds:
		return time.Duration(n) * time.Microsecond
	case ResolutionCentiseconds:
		return time.Duration(n) * 10 * time.Millisecond
	case ResolutionSeconds:
		return time.Duration(n) * time.Second
	default:
		return time.Duration(n) * time.Millisecond
	}
}

// ParseResolution maps the single-letter flag argument (u|m|c|s) to a
// Resolution, defaulting to milliseconds as spec.md states.
func ParseResolution(s string) (Resolution, error) {
	switch strings.ToLower(s) {
	case "u":
		return ResolutionMicroseconds, nil
	case "m", "":
		return ResolutionMilliseconds, nil
	case "c":
		return ResolutionCentiseconds, nil
	case "s":
		return ResolutionSeconds, nil
	default:
		return 0, fmt.Errorf("config: unknown resolution %q (want u|m|c|s)", s)
	}
}

// Errors returned by mutators once the configuration has been frozen,
// and by Validate.
var (
	ErrFrozen          = errors.New("config: configuration is frozen")
	ErrNoDestination   = errors.New("config: neither an interface nor a file output was configured")
	ErrInvalidMTU      = errors.New("config: mtu must be between 68 and 1048576")
	ErrInvalidFormat   = errors.New("config: unknown file format")
	ErrBothIfaceAndArp = errors.New("config: --arp requires an interface")
)

// ValidFormats lists the recognized `-F` file-backend format strings.
var ValidFormats = map[string]bool{
	"pcap":      true,
	"text":      true,
	"hexstream": true,
	"hexdump":   true,
}

// Config holds tcppump's global configuration, set once before
// compilation begins and treated as read-only thereafter (spec.md
// "Shared resources": "Global configuration is set before any emission
// step and treated as immutable thereafter").
//
// The two-phase lifecycle (mutable, then Freeze'd) exists because the
// source MAC/IPv4/IPv6/MTU are not fully known until the chosen
// interface is opened — the CLI populates overrides, opens the
// interface, fills in anything still unset from the interface, then
// hands the Config to the Compiler, which freezes it once compilation
// succeeds.
type Config struct {
	mu     sync.Mutex
	frozen bool

	// Interface is the raw network interface to bind, empty for
	// file-only output.
	Interface string

	// MAC/IPv4/IPv6 are this host's own identities, either taken from
	// the bound interface or overridden by --mymac/--myip4/--myip6.
	MAC  net.HardwareAddr
	IPv4 netip.Addr
	IPv6 netip.Addr

	// MTU is the outgoing interface's MTU, in bytes; drives IPv4
	// fragmentation.
	MTU int

	Resolution Resolution

	// DefaultDelay is the inter-packet delay (in Resolution units)
	// assumed for instructions that carry no explicit timestamp.
	DefaultDelay int64

	// Loop is the repeat count for the compiled sequence: 0 means
	// repeat until cancelled, 1 means run once.
	Loop int

	RandSrcMAC bool
	RandDstMAC bool

	// OverwriteDstMAC, if non-nil, is applied by the Filter stage to
	// every frame's destination MAC.
	OverwriteDstMAC net.HardwareAddr

	// PredictableRandom substitutes a deterministic counter-based MAC
	// generator for the default crypto/rand-backed one.
	PredictableRandom bool

	EnableARPResolution bool

	// OutputPath is the `-w` destination; "-" means stdout. Empty means
	// "send to Interface" instead of writing a file.
	OutputPath   string
	OutputFormat string

	// PCAPScale scales a PCAP-mode input's recorded timestamp deltas;
	// 0 means throughput mode (send as fast as possible, no timing
	// information emitted).
	PCAPScale float64

	MetricsAddr string
}

// DefaultConfig returns a Config populated with tcppump's defaults.
func DefaultConfig() *Config {
	return &Config{
		MTU:          1500,
		Resolution:   ResolutionMilliseconds,
		Loop:         1,
		OutputFormat: "pcap",
		PCAPScale:    1.0,
	}
}

// Freeze locks the configuration against further mutation. The Compiler
// calls it at the end of a successful compile; a failed compile leaves
// the Config unfrozen.
func (c *Config) Freeze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true
}

// Frozen reports whether Freeze has already been called.
func (c *Config) Frozen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frozen
}

// SetSourceIdentity overrides the host's own MAC/IPv4/IPv6, e.g. once
// the bound interface has been opened and its real identities are
// known, or via the --mymac/--myip4/--myip6 flags. Returns ErrFrozen
// if called after Freeze.
func (c *Config) SetSourceIdentity(mac net.HardwareAddr, ip4, ip6 netip.Addr) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return ErrFrozen
	}
	if mac != nil {
		c.MAC = mac
	}
	if ip4.IsValid() {
		c.IPv4 = ip4
	}
	if ip6.IsValid() {
		c.IPv6 = ip6
	}
	return nil
}

// SetMTU overrides the configured MTU. Returns ErrFrozen if called
// after Freeze, or ErrInvalidMTU if mtu is out of spec.md's [68,
// 1048576] range.
func (c *Config) SetMTU(mtu int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return ErrFrozen
	}
	if mtu < 68 || mtu > 1048576 {
		return ErrInvalidMTU
	}
	c.MTU = mtu
	return nil
}

// Validate checks the configuration for logical errors, independent of
// Freeze — called once CLI flags have been applied, before the
// interface (if any) is opened.
func Validate(c *Config) error {
	if c.Interface == "" && c.OutputPath == "" {
		return ErrNoDestination
	}
	if c.MTU < 68 || c.MTU > 1048576 {
		return ErrInvalidMTU
	}
	if c.OutputFormat != "" && !ValidFormats[c.OutputFormat] {
		return fmt.Errorf("%w: %q", ErrInvalidFormat, c.OutputFormat)
	}
	if c.EnableARPResolution && c.Interface == "" {
		return ErrBothIfaceAndArp
	}
	return nil
}

// -------------------------------------------------------------------------
// Layered file/env loading
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for tcppump defaults.
// Variables are named TCPPUMP_<KEY>, e.g. TCPPUMP_MTU.
const envPrefix = "TCPPUMP_"

// LoadDefaults reads optional YAML defaults from path (if non-empty)
// and overlays TCPPUMP_-prefixed environment variables on top,
// returning a Config seeded from DefaultConfig(). The CLI layer is
// expected to apply flag overrides on top of the result; flags always
// take precedence over both the file and the environment.
func LoadDefaults(path string) (*Config, error) {
	k := koanf.New(".")
	defaults := DefaultConfig()

	defaultMap := map[string]any{
		"mtu":           defaults.MTU,
		"resolution":    "m",
		"loop":          defaults.Loop,
		"output.format": defaults.OutputFormat,
		"pcap.scale":    defaults.PCAPScale,
	}
	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return nil, fmt.Errorf("config: set default %s: %w", key, err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("config: load env overrides: %w", err)
	}

	cfg := DefaultConfig()
	cfg.MTU = k.Int("mtu")
	cfg.Loop = k.Int("loop")
	cfg.OutputFormat = k.String("output.format")
	cfg.PCAPScale = k.Float64("pcap.scale")

	res, err := ParseResolution(k.String("resolution"))
	if err != nil {
		return nil, err
	}
	cfg.Resolution = res

	return cfg, nil
}

// envKeyMapper transforms TCPPUMP_MTU -> mtu, TCPPUMP_OUTPUT_FORMAT ->
// output.format.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}
