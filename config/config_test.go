package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kabili207/lnatest/core"
	"github.com/kabili207/lnatest/record"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Transport != TransportIP {
		t.Errorf("Transport: expected ip, got %s", cfg.Transport)
	}
	if cfg.IP != "192.168.1.100" || cfg.Port != 4403 {
		t.Errorf("endpoint: got %s:%d", cfg.IP, cfg.Port)
	}
	if cfg.Topology != TopologyRelay {
		t.Errorf("Topology: expected relay, got %s", cfg.Topology)
	}
	if cfg.Cycles != 2 {
		t.Errorf("Cycles: expected 2, got %d", cfg.Cycles)
	}
	if cfg.PhaseDuration() != 450*time.Second {
		t.Errorf("PhaseDuration: expected 7m30s, got %s", cfg.PhaseDuration())
	}
	if cfg.Interval() != 30*time.Second {
		t.Errorf("Interval: expected 30s, got %s", cfg.Interval())
	}
	if cfg.OutputPath != "results.csv" || cfg.OutputFormat != record.FormatCSV {
		t.Errorf("output: got %s (%s)", cfg.OutputPath, cfg.OutputFormat)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestTiming_WithDefaults(t *testing.T) {
	got := Timing{Settle: time.Millisecond, Attempts: 3}.WithDefaults()
	want := DefaultTiming()
	want.Settle = time.Millisecond
	want.Attempts = 3
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("WithDefaults mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(DefaultTiming(), Timing{}.WithDefaults()); diff != "" {
		t.Errorf("zero Timing mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"default", func(c *Config) {}, true},
		{"zero phase duration", func(c *Config) { c.PhaseDurationMS = 0 }, false},
		{"negative phase duration", func(c *Config) { c.PhaseDurationMS = -1 }, false},
		{"unknown transport", func(c *Config) { c.Transport = "bluetooth" }, false},
		{"ip without host", func(c *Config) { c.IP = "" }, false},
		{"port out of range", func(c *Config) { c.Port = 70000 }, false},
		{"serial without port", func(c *Config) { c.Transport = TransportSerial }, false},
		{"serial with port", func(c *Config) { c.Transport = TransportSerial; c.SerialPort = "/dev/ttyUSB0" }, true},
		{"unknown topology", func(c *Config) { c.Topology = "mesh" }, false},
		{"unknown lna control", func(c *Config) { c.LNAControl = "both" }, false},
		{"bad roof id", func(c *Config) { c.RoofNodeID = "!zz" }, false},
		{"good node ids", func(c *Config) { c.RoofNodeID = "!0000002a"; c.MountainNodeID = "0x2B"; c.LocalNodeID = "44" }, true},
		{"negative cycles", func(c *Config) { c.Cycles = -1 }, false},
		{"zero cycles", func(c *Config) { c.Cycles = 0 }, true},
		{"negative interval", func(c *Config) { c.IntervalMS = -5 }, false},
		{"zero interval", func(c *Config) { c.IntervalMS = 0 }, true},
		{"json output", func(c *Config) { c.OutputFormat = record.FormatJSON }, true},
		{"unknown output", func(c *Config) { c.OutputFormat = "xml" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate() error = %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestControlTarget(t *testing.T) {
	const roof, mtn, target = core.NodeID(0x2A), core.NodeID(0x2B), core.NodeID(0x2C)

	tests := []struct {
		name     string
		topology Topology
		control  LNAControl
		want     core.NodeID
		ok       bool
	}{
		{"relay roof", TopologyRelay, LNARoof, roof, true},
		{"relay mountain", TopologyRelay, LNAMountain, mtn, true},
		{"relay unset control defaults to roof", TopologyRelay, "", roof, true},
		{"relay disabled", TopologyRelay, LNADisabled, 0, false},
		{"direct ignores roof selection", TopologyDirect, LNARoof, target, true},
		{"direct mountain selection", TopologyDirect, LNAMountain, target, true},
		{"direct disabled", TopologyDirect, LNADisabled, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Topology = tt.topology
			cfg.LNAControl = tt.control
			cfg.RoofNodeID = "!0000002a"
			cfg.MountainNodeID = "43"
			cfg.TargetNodeID = "0x2c"

			got, ok := cfg.ControlTarget()
			if ok != tt.ok || got != tt.want {
				t.Errorf("ControlTarget() = (%v, %v), want (%v, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestControlTarget_Unconfigured(t *testing.T) {
	cfg := Default()
	if _, ok := cfg.ControlTarget(); ok {
		t.Error("ControlTarget() should report false without a roof id")
	}
}

func TestTracerouteDestination(t *testing.T) {
	cfg := Default()
	cfg.MountainNodeID = "!0000002b"
	cfg.TargetNodeID = "!0000002c"

	if got, ok := cfg.TracerouteDestination(); !ok || got != 0x2B {
		t.Errorf("relay destination = (%v, %v), want mountain", got, ok)
	}

	cfg.Topology = TopologyDirect
	if got, ok := cfg.TracerouteDestination(); !ok || got != 0x2C {
		t.Errorf("direct destination = (%v, %v), want target", got, ok)
	}
}

func TestSaveAndLoad(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "lnatest.yaml")

	cfg := Default()
	cfg.Transport = TransportSerial
	cfg.SerialPort = "/dev/ttyACM0"
	cfg.RoofNodeID = "!0000002a"
	cfg.LNAControl = LNAMountain
	cfg.Timing.Settle = 750 * time.Millisecond
	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.Metrics.Address = ":9464"

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "partial.yaml")
	data := "topology: direct\ntarget_node_id: \"!deadbeef\"\ntiming:\n  response_wait: 5s\n"
	if err := os.WriteFile(configPath, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Topology != TopologyDirect || cfg.TargetNodeID != "!deadbeef" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Timing.ResponseWait != 5*time.Second {
		t.Errorf("ResponseWait = %s, want 5s", cfg.Timing.ResponseWait)
	}
	if cfg.Timing.Settle != 5*time.Second || cfg.Port != 4403 {
		t.Errorf("defaults lost: settle=%s port=%d", cfg.Timing.Settle, cfg.Port)
	}
}

func TestLoadNonexistent(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("Expected error for nonexistent file")
	}
}

func TestLoadInvalid(t *testing.T) {
	dir := t.TempDir()

	badYAML := filepath.Join(dir, "bad.yaml")
	os.WriteFile(badYAML, []byte("cycles: [not a number"), 0644)
	if _, err := Load(badYAML); err == nil {
		t.Error("Expected error for invalid YAML")
	}

	badValue := filepath.Join(dir, "zero.yaml")
	os.WriteFile(badValue, []byte("phase_duration_ms: 0\n"), 0644)
	if _, err := Load(badValue); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Load() error = %v, want ErrInvalidConfig", err)
	}
}
