package config_test

import (
	"net"
	"net/netip"
	"testing"

	"github.com/amartin755/tcppump/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.MTU != 1500 {
		t.Errorf("MTU = %d, want 1500", cfg.MTU)
	}
	if cfg.Resolution != config.ResolutionMilliseconds {
		t.Errorf("Resolution = %v, want ResolutionMilliseconds", cfg.Resolution)
	}
	if cfg.Loop != 1 {
		t.Errorf("Loop = %d, want 1", cfg.Loop)
	}
	if cfg.OutputFormat != "pcap" {
		t.Errorf("OutputFormat = %q, want %q", cfg.OutputFormat, "pcap")
	}
}

func TestParseResolution(t *testing.T) {
	t.Parallel()

	cases := map[string]config.Resolution{
		"u": config.ResolutionMicroseconds,
		"m": config.ResolutionMilliseconds,
		"":  config.ResolutionMilliseconds,
		"c": config.ResolutionCentiseconds,
		"s": config.ResolutionSeconds,
	}
	for in, want := range cases {
		got, err := config.ParseResolution(in)
		if err != nil {
			t.Fatalf("ParseResolution(%q) returned error: %v", in, err)
		}
		if got != want {
			t.Errorf("ParseResolution(%q) = %v, want %v", in, got, want)
		}
	}

	if _, err := config.ParseResolution("x"); err == nil {
		t.Error("ParseResolution(\"x\") should have failed")
	}
}

func TestFreezeRejectsFurtherMutation(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	if cfg.Frozen() {
		t.Fatal("a fresh Config should not be frozen")
	}

	if err := cfg.SetMTU(9000); err != nil {
		t.Fatalf("SetMTU before Freeze: %v", err)
	}

	cfg.Freeze()
	if !cfg.Frozen() {
		t.Fatal("Frozen() should report true after Freeze()")
	}

	if err := cfg.SetMTU(1000); err != config.ErrFrozen {
		t.Errorf("SetMTU after Freeze = %v, want ErrFrozen", err)
	}

	mac, _ := net.ParseMAC("aa:bb:cc:dd:ee:ff")
	if err := cfg.SetSourceIdentity(mac, netip.Addr{}, netip.Addr{}); err != config.ErrFrozen {
		t.Errorf("SetSourceIdentity after Freeze = %v, want ErrFrozen", err)
	}
}

func TestSetMTUValidatesRange(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	if err := cfg.SetMTU(67); err != config.ErrInvalidMTU {
		t.Errorf("SetMTU(67) = %v, want ErrInvalidMTU", err)
	}
	if err := cfg.SetMTU(1048577); err != config.ErrInvalidMTU {
		t.Errorf("SetMTU(1048577) = %v, want ErrInvalidMTU", err)
	}
	if err := cfg.SetMTU(68); err != nil {
		t.Errorf("SetMTU(68) should succeed, got %v", err)
	}
}

func TestValidateRequiresADestination(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	if err := config.Validate(cfg); err != config.ErrNoDestination {
		t.Errorf("Validate with no interface/output = %v, want ErrNoDestination", err)
	}

	cfg.Interface = "eth0"
	if err := config.Validate(cfg); err != nil {
		t.Errorf("Validate with an interface set: %v", err)
	}
}

func TestValidateRejectsARPWithoutInterface(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.OutputPath = "-"
	cfg.EnableARPResolution = true
	if err := config.Validate(cfg); err != config.ErrBothIfaceAndArp {
		t.Errorf("Validate = %v, want ErrBothIfaceAndArp", err)
	}
}

func TestValidateRejectsUnknownFormat(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Interface = "eth0"
	cfg.OutputFormat = "bogus"
	if err := config.Validate(cfg); err == nil {
		t.Error("Validate should reject an unknown output format")
	}
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadDefaults("")
	if err != nil {
		t.Fatalf("LoadDefaults(\"\"): %v", err)
	}
	if cfg.MTU != 1500 {
		t.Errorf("MTU = %d, want 1500", cfg.MTU)
	}
	if cfg.Resolution != config.ResolutionMilliseconds {
		t.Errorf("Resolution = %v, want ResolutionMilliseconds", cfg.Resolution)
	}
}
