// Package config provides the run configuration and its YAML file format.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kabili207/lnatest/core"
	"github.com/kabili207/lnatest/record"
)

// TransportMode selects how the local radio is reached.
type TransportMode string

const (
	TransportIP     TransportMode = "ip"
	TransportSerial TransportMode = "serial"
)

// Topology describes how the node under test relates to the local radio.
type Topology string

const (
	// TopologyRelay tests a roof node relaying between the local radio and
	// a far mountain node.
	TopologyRelay Topology = "relay"
	// TopologyDirect tests a single target node reached directly.
	TopologyDirect Topology = "direct"
)

// LNAControl selects whose amplifier is toggled between phases.
type LNAControl string

const (
	LNADisabled LNAControl = "disabled"
	LNARoof     LNAControl = "roof"
	LNAMountain LNAControl = "mountain"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config is the configuration of a single test run. It is not modified
// once the run starts.
type Config struct {
	// Connection
	Transport  TransportMode `yaml:"transport"`
	IP         string        `yaml:"ip"`
	Port       int           `yaml:"port"`
	SerialPort string        `yaml:"serial_port"`
	BaudRate   int           `yaml:"baud_rate"`

	// Topology. Node ids accept "!hex", "0xhex" or decimal; empty means
	// not configured.
	Topology       Topology   `yaml:"topology"`
	LNAControl     LNAControl `yaml:"lna_control"`
	LocalNodeID    string     `yaml:"local_node_id"`
	RoofNodeID     string     `yaml:"roof_node_id"`
	MountainNodeID string     `yaml:"mountain_node_id"`
	TargetNodeID   string     `yaml:"target_node_id"`

	// Test parameters
	Cycles          int   `yaml:"cycles"`
	PhaseDurationMS int64 `yaml:"phase_duration_ms"`
	IntervalMS      int64 `yaml:"interval_ms"`

	// Output
	OutputPath   string        `yaml:"output_path"`
	OutputFormat record.Format `yaml:"output_format"`

	Timing  Timing        `yaml:"timing"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// Timing bounds every wait in the amplifier toggle protocol and the
// measurement loop.
type Timing struct {
	Settle       time.Duration `yaml:"settle"`        // after each toggle, before measuring
	VerifySettle time.Duration `yaml:"verify_settle"` // between a write and its read-back
	OwnerWait    time.Duration `yaml:"owner_wait"`    // local identity lookup
	ResponseWait time.Duration `yaml:"response_wait"` // per admin request
	RetryDelay   time.Duration `yaml:"retry_delay"`
	Attempts     int           `yaml:"attempts"`
	Tick         time.Duration `yaml:"tick"`
}

// MQTTConfig enables the optional MQTT progress relay.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // empty disables MQTT
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	UseTLS      bool   `yaml:"use_tls"`
	TopicPrefix string `yaml:"topic_prefix"`
	Retain      bool   `yaml:"retain"`
}

// MetricsConfig enables the optional Prometheus endpoint.
type MetricsConfig struct {
	Address string `yaml:"address"` // e.g., ":9464"; empty disables
}

// DefaultTiming returns the default protocol timing.
func DefaultTiming() Timing {
	return Timing{
		Settle:       5 * time.Second,
		VerifySettle: 2 * time.Second,
		OwnerWait:    3 * time.Second,
		ResponseWait: 30 * time.Second,
		RetryDelay:   1 * time.Second,
		Attempts:     10,
		Tick:         1 * time.Second,
	}
}

// WithDefaults returns t with every unset field replaced by its default.
func (t Timing) WithDefaults() Timing {
	d := DefaultTiming()
	if t.Settle <= 0 {
		t.Settle = d.Settle
	}
	if t.VerifySettle <= 0 {
		t.VerifySettle = d.VerifySettle
	}
	if t.OwnerWait <= 0 {
		t.OwnerWait = d.OwnerWait
	}
	if t.ResponseWait <= 0 {
		t.ResponseWait = d.ResponseWait
	}
	if t.RetryDelay <= 0 {
		t.RetryDelay = d.RetryDelay
	}
	if t.Attempts <= 0 {
		t.Attempts = d.Attempts
	}
	if t.Tick <= 0 {
		t.Tick = d.Tick
	}
	return t
}

// Default returns a configuration with default values.
func Default() *Config {
	return &Config{
		Transport:       TransportIP,
		IP:              "192.168.1.100",
		Port:            4403,
		BaudRate:        115200,
		Topology:        TopologyRelay,
		LNAControl:      LNARoof,
		Cycles:          2,
		PhaseDurationMS: 450000, // 7.5 minutes per phase
		IntervalMS:      30000,
		OutputPath:      "results.csv",
		OutputFormat:    record.FormatCSV,
		Timing:          DefaultTiming(),
	}
}

// Load reads configuration from a YAML file. Fields absent from the file
// keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportIP:
		if c.IP == "" {
			return invalid("ip is required for ip transport")
		}
		if c.Port <= 0 || c.Port > 65535 {
			return invalid("port out of range: %d", c.Port)
		}
	case TransportSerial:
		if c.SerialPort == "" {
			return invalid("serial_port is required for serial transport")
		}
		if c.BaudRate < 0 {
			return invalid("baud_rate must be >= 0")
		}
	default:
		return invalid("unknown transport: %q", c.Transport)
	}

	switch c.Topology {
	case TopologyRelay, TopologyDirect:
	default:
		return invalid("unknown topology: %q", c.Topology)
	}

	switch c.LNAControl {
	case LNADisabled, LNARoof, LNAMountain, "":
	default:
		return invalid("unknown lna_control: %q", c.LNAControl)
	}

	for _, n := range []struct{ name, id string }{
		{"local_node_id", c.LocalNodeID},
		{"roof_node_id", c.RoofNodeID},
		{"mountain_node_id", c.MountainNodeID},
		{"target_node_id", c.TargetNodeID},
	} {
		if n.id == "" {
			continue
		}
		if _, err := core.ParseNodeID(n.id); err != nil {
			return invalid("%s: %v", n.name, err)
		}
	}

	if c.PhaseDurationMS <= 0 {
		return invalid("phase_duration_ms must be > 0")
	}
	if c.Cycles < 0 {
		return invalid("cycles must be >= 0")
	}
	if c.IntervalMS < 0 {
		return invalid("interval_ms must be >= 0")
	}

	switch c.OutputFormat {
	case record.FormatCSV, record.FormatJSON, "":
	default:
		return invalid("unknown output_format: %q", c.OutputFormat)
	}

	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// PhaseDuration returns the length of one measurement phase.
func (c *Config) PhaseDuration() time.Duration {
	return time.Duration(c.PhaseDurationMS) * time.Millisecond
}

// Interval returns the traceroute interval.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalMS) * time.Millisecond
}

// Roof returns the configured roof node.
func (c *Config) Roof() (core.NodeID, bool) {
	return core.ParseOptionalNodeID(c.RoofNodeID)
}

// Mountain returns the configured mountain node.
func (c *Config) Mountain() (core.NodeID, bool) {
	return core.ParseOptionalNodeID(c.MountainNodeID)
}

// Target returns the configured direct-topology target node.
func (c *Config) Target() (core.NodeID, bool) {
	return core.ParseOptionalNodeID(c.TargetNodeID)
}

// Local returns the configured local node.
func (c *Config) Local() (core.NodeID, bool) {
	return core.ParseOptionalNodeID(c.LocalNodeID)
}

// ControlTarget resolves whose amplifier is toggled. It reports false when
// control is disabled or the selected node is not configured.
func (c *Config) ControlTarget() (core.NodeID, bool) {
	if c.LNAControl == LNADisabled {
		return 0, false
	}
	if c.Topology == TopologyDirect {
		return c.Target()
	}
	if c.LNAControl == LNAMountain {
		return c.Mountain()
	}
	return c.Roof()
}

// TracerouteDestination returns the node traceroutes are sent to: the
// mountain node under Relay, the target node under Direct.
func (c *Config) TracerouteDestination() (core.NodeID, bool) {
	if c.Topology == TopologyDirect {
		return c.Target()
	}
	return c.Mountain()
}
