package stats_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/amartin755/tcppump/internal/stats"
)

func TestNewCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := stats.NewCollector(reg)

	if c.PacketsSent == nil {
		t.Error("PacketsSent is nil")
	}
	if c.BytesSent == nil {
		t.Error("BytesSent is nil")
	}
	if c.RunDuration == nil {
		t.Error("RunDuration is nil")
	}
	if c.ARPCacheSize == nil {
		t.Error("ARPCacheSize is nil")
	}
	if c.ResolutionFailure == nil {
		t.Error("ResolutionFailure is nil")
	}
}

func TestRecordRunUpdatesCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := stats.NewCollector(reg)

	c.RecordRun(3, 180, 2*time.Second)
	c.SetARPCacheSize(4)
	c.RecordResolutionFailure()

	var m dto.Metric
	if err := c.PacketsSent.Write(&m); err != nil {
		t.Fatal(err)
	}
	if got := m.GetCounter().GetValue(); got != 3 {
		t.Errorf("PacketsSent = %v, want 3", got)
	}

	m = dto.Metric{}
	if err := c.BytesSent.Write(&m); err != nil {
		t.Fatal(err)
	}
	if got := m.GetCounter().GetValue(); got != 180 {
		t.Errorf("BytesSent = %v, want 180", got)
	}

	m = dto.Metric{}
	if err := c.RunDuration.Write(&m); err != nil {
		t.Fatal(err)
	}
	if got := m.GetGauge().GetValue(); got != 2 {
		t.Errorf("RunDuration = %v, want 2", got)
	}

	m = dto.Metric{}
	if err := c.ARPCacheSize.Write(&m); err != nil {
		t.Fatal(err)
	}
	if got := m.GetGauge().GetValue(); got != 4 {
		t.Errorf("ARPCacheSize = %v, want 4", got)
	}

	m = dto.Metric{}
	if err := c.ResolutionFailure.Write(&m); err != nil {
		t.Fatal(err)
	}
	if got := m.GetCounter().GetValue(); got != 1 {
		t.Errorf("ResolutionFailure = %v, want 1", got)
	}
}
