// Command tcppump sends or records Ethernet frames built from inline
// packet expressions, script files, or replayed PCAP traces.
//
// It wires the core pipeline (config -> compiler -> filter -> resolver
// -> scheduler) to a real interface or a file backend: an errgroup
// bound to a signal-aware context for clean shutdown, and a
// structured slog logger.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/amartin755/tcppump/internal/backend"
	"github.com/amartin755/tcppump/internal/compiler"
	"github.com/amartin755/tcppump/internal/config"
	"github.com/amartin755/tcppump/internal/filter"
	"github.com/amartin755/tcppump/internal/item"
	"github.com/amartin755/tcppump/internal/macaddr"
	"github.com/amartin755/tcppump/internal/netio"
	"github.com/amartin755/tcppump/internal/resolver"
	"github.com/amartin755/tcppump/internal/scheduler"
	"github.com/amartin755/tcppump/internal/stats"
	appversion "github.com/amartin755/tcppump/internal/version"
)

// setupError marks a failure that happens before any frame is ever
// processed (flag/config validation, interface open) so main can map
// it to exit code -1, as spec.md's CLI table requires; every other
// error is a parse/runtime failure and maps to -2.
type setupError struct{ err error }

func (e *setupError) Error() string { return e.err.Error() }
func (e *setupError) Unwrap() error { return e.err }

func wrapSetup(err error) error {
	if err == nil {
		return nil
	}
	return &setupError{err: err}
}

var (
	flagInterface      string
	flagMyIP4          string
	flagMyIP6          string
	flagMyMAC          string
	flagMTU            int
	flagRandSMAC       bool
	flagRandDMAC       bool
	flagOverwriteDMAC  string
	flagPredictableMAC bool
	flagScript         bool
	flagPCAP           string
	flagLoop           int
	flagDelay          int64
	flagResolution     string
	flagOutput         string
	flagFormat         string
	flagARP            bool
	flagConfigFile     string
	flagMetricsAddr    string
	flagLogLevel       string
	flagLogFormat      string
)

var rootCmd = &cobra.Command{
	Use:   "tcppump [flags] PACKET...",
	Short: "tcppump sends or records hand-built Ethernet frames",
	Long: "tcppump assembles Ethernet frames from inline packet expressions, " +
		"script files (-s), or PCAP traces (--pcap) and either transmits them " +
		"on a raw interface or writes them to a file in one of four formats.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRoot,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&flagInterface, "interface", "i", "", "raw interface to bind; mutually exclusive with pure file output")
	flags.StringVar(&flagMyIP4, "myip4", "", "override interface-derived source IPv4")
	flags.StringVar(&flagMyIP6, "myip6", "", "override interface-derived source IPv6")
	flags.StringVar(&flagMyMAC, "mymac", "", "override interface-derived source MAC")
	flags.IntVar(&flagMTU, "mtu", 0, "override interface MTU (68..1048576)")
	flags.BoolVar(&flagRandSMAC, "rand-smac", false, "randomize source MAC per frame")
	flags.BoolVar(&flagRandDMAC, "rand-dmac", false, "randomize destination MAC per frame")
	flags.StringVar(&flagOverwriteDMAC, "overwrite-dmac", "", "rewrite every destination MAC to this value")
	flags.BoolVar(&flagPredictableMAC, "predictable-random", false, "use a deterministic MAC generator instead of crypto/rand (testing only)")
	flags.BoolVarP(&flagScript, "script", "s", false, "treat positional arguments as script files")
	flags.StringVar(&flagPCAP, "pcap", "", "treat positional arguments as PCAP files; optional delay scale factor")
	flags.Lookup("pcap").NoOptDefVal = "1.0"
	flags.IntVarP(&flagLoop, "loop", "l", 1, "repeat the sequence N times; 0 = infinite")
	flags.Int64VarP(&flagDelay, "delay", "d", 0, "default inter-packet delay, in the configured resolution")
	flags.StringVarP(&flagResolution, "resolution", "t", "m", "time unit: u|m|c|s (default ms)")
	flags.StringVarP(&flagOutput, "write", "w", "", "write to file (or - for stdout) instead of the interface")
	flags.StringVarP(&flagFormat, "format", "F", "", "output format for -w: pcap|text|hexstream|hexdump")
	flags.BoolVarP(&flagARP, "arp", "a", false, "resolve destination MACs for unresolved IPv4 targets via ARP")
	flags.StringVar(&flagConfigFile, "config", "", "optional YAML defaults file")
	flags.StringVar(&flagMetricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address (disabled if empty)")
	flags.StringVar(&flagLogLevel, "log-level", "info", "log level: debug|info|warn|error")
	flags.StringVar(&flagLogFormat, "log-format", "text", "log format: text|json")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print tcppump's build version",
	RunE: func(cmd *cobra.Command, _ []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), appversion.Full("tcppump"))
		return nil
	},
}

func main() {
	os.Exit(run())
}

func run() int {
	if err := rootCmd.Execute(); err != nil {
		var se *setupError
		if errors.As(err, &se) {
			fmt.Fprintln(os.Stderr, "Error:", se.err)
			return -1
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		return -2
	}
	return 0
}

// newLogger builds a structured logger with a JSON or text handler.
// tcppump is a one-shot process, not a daemon, so there is no SIGHUP
// reload of the level.
func newLogger(format, level string) *slog.Logger {
	lvl := new(slog.LevelVar)
	switch level {
	case "debug":
		lvl.Set(slog.LevelDebug)
	case "warn":
		lvl.Set(slog.LevelWarn)
	case "error":
		lvl.Set(slog.LevelError)
	default:
		lvl.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func runRoot(cmd *cobra.Command, args []string) error {
	logger := newLogger(flagLogFormat, flagLogLevel)

	cfg, err := config.LoadDefaults(flagConfigFile)
	if err != nil {
		return wrapSetup(err)
	}
	if err := applyFlags(cfg); err != nil {
		return wrapSetup(err)
	}

	reg := prometheus.NewRegistry()
	collector := stats.NewCollector(reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	if flagMetricsAddr != "" {
		srv := stats.NewServer(flagMetricsAddr, reg)
		g.Go(func() error { return stats.ListenAndServe(gCtx, srv) })
	}

	g.Go(func() error {
		return runPump(gCtx, cfg, collector, args, logger)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// applyFlags overlays the parsed CLI flags onto cfg, which already
// carries file/env defaults from config.LoadDefaults. Flags always
// win, per SPEC_FULL's config layering.
func applyFlags(cfg *config.Config) error {
	cfg.Interface = flagInterface

	if flagMTU != 0 {
		if err := cfg.SetMTU(flagMTU); err != nil {
			return err
		}
	}

	var mac net.HardwareAddr
	var ip4, ip6 netip.Addr
	if flagMyMAC != "" {
		m, err := macaddr.Parse(flagMyMAC)
		if err != nil {
			return fmt.Errorf("--mymac: %w", err)
		}
		mac = m
	}
	if flagMyIP4 != "" {
		a, err := netip.ParseAddr(flagMyIP4)
		if err != nil {
			return fmt.Errorf("--myip4: %w", err)
		}
		ip4 = a
	}
	if flagMyIP6 != "" {
		a, err := netip.ParseAddr(flagMyIP6)
		if err != nil {
			return fmt.Errorf("--myip6: %w", err)
		}
		ip6 = a
	}
	if err := cfg.SetSourceIdentity(mac, ip4, ip6); err != nil {
		return err
	}

	if flagOverwriteDMAC != "" {
		m, err := macaddr.Parse(flagOverwriteDMAC)
		if err != nil {
			return fmt.Errorf("--overwrite-dmac: %w", err)
		}
		cfg.OverwriteDstMAC = m
	}

	if cmdFlagChanged("resolution") {
		res, err := config.ParseResolution(flagResolution)
		if err != nil {
			return err
		}
		cfg.Resolution = res
	}
	cfg.DefaultDelay = flagDelay
	if cmdFlagChanged("loop") {
		cfg.Loop = flagLoop
	}
	cfg.RandSrcMAC = flagRandSMAC
	cfg.RandDstMAC = flagRandDMAC
	cfg.PredictableRandom = flagPredictableMAC
	cfg.EnableARPResolution = flagARP
	cfg.OutputPath = flagOutput
	if flagFormat != "" {
		cfg.OutputFormat = flagFormat
	}

	return config.Validate(cfg)
}

// runPump runs the full pipeline once config has been validated:
// compile the requested input dialect, apply the one-shot filter,
// resolve ARP targets if requested, then drive the result through the
// scheduler against either a real interface or a file backend.
func runPump(ctx context.Context, cfg *config.Config, collector *stats.Collector, args []string, logger *slog.Logger) error {
	// A bound interface is opened up front whenever one is configured,
	// independent of whether frames ultimately go to the wire or to a
	// file: ARP resolution needs its receive path either way.
	var iface netio.Interface
	if cfg.Interface != "" {
		sock, err := netio.NewRawSocket(cfg.Interface)
		if err != nil {
			return wrapSetup(err)
		}
		sendOnly := !cfg.EnableARPResolution
		if err := sock.Open(sendOnly); err != nil {
			return wrapSetup(fmt.Errorf("open %s: %w", cfg.Interface, err))
		}
		defer sock.Close() //nolint:errcheck
		iface = sock

		// Only identities not already set by --mymac/--myip4/--myip6
		// are taken from the interface.
		var mac net.HardwareAddr
		var ip4, ip6 netip.Addr
		if cfg.MAC == nil {
			mac = iface.MAC()
		}
		if !cfg.IPv4.IsValid() {
			ip4 = iface.IPv4()
		}
		if !cfg.IPv6.IsValid() {
			ip6 = iface.IPv6()
		}
		_ = cfg.SetSourceIdentity(mac, ip4, ip6)
		// --mtu always wins; absent that, the bound interface's own MTU
		// overrides the config-file/default fallback.
		if flagMTU == 0 {
			_ = cfg.SetMTU(iface.MTU())
		}
	}

	var out netio.Interface
	switch {
	case cfg.OutputPath != "":
		w, err := backend.Open(cfg.OutputFormat, cfg.OutputPath)
		if err != nil {
			return wrapSetup(err)
		}
		sink := &fileSink{w: w}
		if iface != nil {
			sink.mac, sink.ip4, sink.ip6, sink.mtu = cfg.MAC, cfg.IPv4, cfg.IPv6, cfg.MTU
		}
		defer sink.Close() //nolint:errcheck
		out = sink
	case iface != nil:
		out = iface
	default:
		return wrapSetup(config.ErrNoDestination)
	}

	seq, err := compileInput(args, cfg)
	if err != nil {
		return err
	}

	f := &filter.Filter{OverwriteDst: cfg.OverwriteDstMAC}
	f.Apply(seq)

	if cfg.EnableARPResolution {
		if iface == nil {
			return wrapSetup(config.ErrBothIfaceAndArp)
		}
		cache := resolver.NewCache()
		r := resolver.New(iface, cache, cfg.MAC, cfg.IPv4)
		if err := r.Resolve(ctx, seq); err != nil {
			collector.RecordResolutionFailure()
			return err
		}
		collector.SetARPCacheSize(cache.Len())
	}

	var gen macaddr.Generator = macaddr.SecureGenerator{}
	if cfg.PredictableRandom {
		gen = macaddr.NewCounterGenerator(cfg.MAC)
	}

	sched := &scheduler.Scheduler{
		Iface:    out,
		Realtime: iface != nil,
		Repeat:   cfg.Loop,
	}
	if cfg.RandSrcMAC || cfg.RandDstMAC {
		sched.Preprocessor = &filter.Preprocessor{
			Gen:     gen,
			RandSrc: cfg.RandSrcMAC,
			RandDst: cfg.RandDstMAC,
		}
	}

	start := time.Now()
	if err := sched.Run(ctx, seq); err != nil {
		return err
	}

	packets, bytes, duration := out.SendStatistic()
	if duration == 0 {
		duration = time.Since(start)
	}
	collector.RecordRun(packets, bytes, duration)
	logger.Info("tcppump finished", slog.Uint64("packets", packets), slog.Uint64("bytes", bytes), slog.Duration("duration", duration))
	return nil
}

func compileInput(args []string, cfg *config.Config) (*item.Sequence, error) {
	switch {
	case flagScript:
		return compiler.CompileScript(args, cfg)
	case cmdFlagChanged("pcap"):
		scale, err := parsePCAPScale(flagPCAP)
		if err != nil {
			return nil, err
		}
		return compiler.CompilePCAP(args, scale, cfg)
	default:
		return compiler.CompilePackets(args, cfg)
	}
}

func cmdFlagChanged(name string) bool {
	f := rootCmd.Flags().Lookup(name)
	return f != nil && f.Changed
}

func parsePCAPScale(raw string) (float64, error) {
	if raw == "" {
		return 1.0, nil
	}
	var scale float64
	if _, err := fmt.Sscanf(raw, "%g", &scale); err != nil {
		return 0, fmt.Errorf("--pcap: invalid scale %q", raw)
	}
	return scale, nil
}

// fileSink adapts a backend.Writer to netio.Interface so the
// Scheduler can drive file output the same way it drives a live
// interface, without caring which one it has. A file sink never
// receives anything: ReceivePacket always reports ErrTimeout, so a Wait
// item never matches and lasts until its own timeout elapses, or until
// cancellation when it has none.
type fileSink struct {
	w   backend.Writer
	mac net.HardwareAddr
	ip4 netip.Addr
	ip6 netip.Addr
	mtu int
}

func (s *fileSink) Open(bool) error { return nil }
func (s *fileSink) Close() error    { return s.w.Close() }

func (s *fileSink) SendPacket(b []byte, sendTime time.Duration) error {
	return s.w.WriteFrame(b, sendTime)
}

func (s *fileSink) PrepareSendQueue(int, int64, bool) error { return nil }
func (s *fileSink) FlushSendQueue() error                   { return nil }

func (s *fileSink) SendStatistic() (uint64, uint64, time.Duration) {
	packets, bytes := s.w.Stats()
	return packets, bytes, 0
}

func (s *fileSink) MAC() net.HardwareAddr { return s.mac }
func (s *fileSink) IPv4() netip.Addr      { return s.ip4 }
func (s *fileSink) IPv6() netip.Addr      { return s.ip6 }
func (s *fileSink) MTU() int              { return s.mtu }

func (s *fileSink) ReceivePacket([]byte, netio.BPFProgram, time.Time) (int, error) {
	return 0, netio.ErrTimeout
}

func (s *fileSink) AddReceiveFilter(string) error { return nil }
