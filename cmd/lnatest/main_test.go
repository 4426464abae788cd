package main

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"

	"github.com/kabili207/lnatest/config"
	"github.com/kabili207/lnatest/device/engine"
	"github.com/kabili207/lnatest/record"
	"github.com/kabili207/lnatest/transport"
)

func TestProgressLine(t *testing.T) {
	tests := []struct {
		name string
		p    engine.ProgressState
		want string
	}{
		{
			name: "start",
			p:    engine.ProgressState{Phase: engine.PhaseOff, Status: "Cycle 1/2: Setting LNA OFF"},
			want: "[----------]   0.0% | LNA OFF | Cycle 1/2: Setting LNA OFF",
		},
		{
			name: "running with eta",
			p:    engine.ProgressState{TotalProgress: 0.45, Phase: engine.PhaseOn, Status: "Measuring", ETASeconds: 90},
			want: "[####------]  45.0% | LNA ON | Measuring | ETA 1m30s",
		},
		{
			name: "done",
			p:    engine.ProgressState{TotalProgress: 1, Phase: engine.PhaseDone, Status: "Test Completed"},
			want: "[##########] 100.0% | Test Completed",
		},
		{
			name: "clamped",
			p:    engine.ProgressState{TotalProgress: 1.7},
			want: "[##########] 100.0%",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := progressLine(tt.p, 10); got != tt.want {
				t.Errorf("progressLine() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConsole_LogRedrawsBar(t *testing.T) {
	var buf bytes.Buffer
	c := newConsole(&buf)

	c.Log("before")
	c.Progress(engine.ProgressState{TotalProgress: 0.5, Status: "half"})
	c.Log("during")
	c.Finish()

	out := buf.String()
	bar := progressLine(engine.ProgressState{TotalProgress: 0.5, Status: "half"}, barWidth)
	if !strings.Contains(out, "before\n") {
		t.Errorf("missing first log line in %q", out)
	}
	if !strings.Contains(out, "during\n"+bar) {
		t.Errorf("bar not redrawn after log line: %q", out)
	}
	if !strings.HasSuffix(out, bar+"\n") {
		t.Errorf("Finish() did not end the bar line: %q", out)
	}
}

func TestForwarder_DisabledDropsSilently(t *testing.T) {
	f := newForwarder()
	f.progress(engine.ProgressState{})
	f.log("line")
	if len(f.queue) != 0 {
		t.Errorf("queue length = %d, want 0", len(f.queue))
	}
	if n := f.failed.Load(); n != 0 {
		t.Errorf("failed = %d, want 0", n)
	}
}

func TestForwarder_FullQueueCountsDrops(t *testing.T) {
	f := newForwarder()
	f.enabled.Store(true)
	for i := 0; i < queueSize+3; i++ {
		f.log("line")
	}
	if n := f.failed.Load(); n != 3 {
		t.Errorf("failed = %d, want 3", n)
	}
}

// stalledPublisher blocks every publish until release is closed.
type stalledPublisher struct {
	release chan struct{}

	mu      sync.Mutex
	samples int
}

func (p *stalledPublisher) wait() error {
	<-p.release
	return nil
}

func (p *stalledPublisher) PublishProgress(any) error { return p.wait() }
func (p *stalledPublisher) PublishLog(string) error   { return p.wait() }

func (p *stalledPublisher) Append(record.Record) error {
	err := p.wait()
	p.mu.Lock()
	p.samples++
	p.mu.Unlock()
	return err
}

func TestForwarder_StalledPublisherDoesNotBlockSink(t *testing.T) {
	pub := &stalledPublisher{release: make(chan struct{})}
	f := newForwarder()
	f.enable(pub)

	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		f.run(done)
		close(finished)
	}()

	const total = queueSize + 10
	sink := f.Sink()
	appended := make(chan struct{})
	go func() {
		for i := 0; i < total; i++ {
			if err := sink.Append(record.Record{Cycle: i}); err != nil {
				t.Errorf("Append() error = %v", err)
			}
		}
		close(appended)
	}()

	select {
	case <-appended:
	case <-time.After(2 * time.Second):
		t.Fatal("Append blocked on a stalled publisher")
	}
	if f.failed.Load() == 0 {
		t.Error("expected overflow drops to be counted")
	}

	close(pub.release)
	close(done)
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("forwarder did not drain after release")
	}

	pub.mu.Lock()
	delivered := pub.samples
	pub.mu.Unlock()
	if got := uint64(delivered) + f.failed.Load(); got != total {
		t.Errorf("delivered %d + dropped %d = %d, want %d", delivered, f.failed.Load(), got, total)
	}
}

func TestLogTransportEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	handler := logTransportEvents(logger)

	tests := []struct {
		event transport.Event
		level string
		want  string
	}{
		{transport.EventConnected, "INFO", "Radio connected"},
		{transport.EventDisconnected, "INFO", "Radio disconnected"},
		{transport.EventRebooted, "WARN", "Radio rebooted"},
		{transport.EventError, "ERROR", "Radio link failed"},
	}
	for _, tt := range tests {
		t.Run(tt.event.String(), func(t *testing.T) {
			buf.Reset()
			handler(nil, tt.event)
			out := buf.String()
			if !strings.Contains(out, "level="+tt.level) || !strings.Contains(out, tt.want) {
				t.Errorf("log output = %q, want level %s and %q", out, tt.level, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{" warn ", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", 0, true},
	}
	for _, tt := range tests {
		got, err := parseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// flagSet mirrors the run command's flags for applyFlags.
func flagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	fs.StringVar(&transportFl, "transport", "", "")
	fs.StringVar(&ipAddr, "ip", "", "")
	fs.IntVar(&port, "port", 0, "")
	fs.StringVar(&serialPort, "serial", "", "")
	fs.IntVar(&baudRate, "baud", 0, "")
	fs.StringVar(&targetID, "target", "", "")
	fs.StringVar(&roofID, "roof", "", "")
	fs.StringVar(&mountainID, "mountain", "", "")
	fs.StringVar(&localID, "local", "", "")
	fs.StringVar(&topology, "topology", "", "")
	fs.StringVar(&lnaControl, "lna-control", "", "")
	fs.Int64Var(&durationSec, "duration", 0, "")
	fs.IntVar(&cycles, "cycles", 0, "")
	fs.Int64Var(&intervalSec, "interval", 0, "")
	fs.StringVar(&outputPath, "output", "", "")
	fs.StringVar(&outputFmt, "format", "", "")
	fs.StringVar(&mqttBroker, "mqtt-broker", "", "")
	fs.StringVar(&mqttPrefix, "mqtt-prefix", "", "")
	fs.StringVar(&metricsAddr, "metrics-addr", "", "")
	return fs
}

func TestApplyFlags(t *testing.T) {
	fs := flagSet()
	err := fs.Parse([]string{
		"--serial", "/dev/ttyACM0",
		"--topology", "direct",
		"--target", "!0000002a",
		"--duration", "60",
		"--interval", "0",
		"--cycles", "0",
		"--format", "json",
		"--output", "out.jsonl",
	})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	cfg := config.Default()
	applyFlags(fs, cfg)

	want := config.Default()
	want.Transport = config.TransportSerial
	want.SerialPort = "/dev/ttyACM0"
	want.Topology = config.TopologyDirect
	want.TargetNodeID = "!0000002a"
	want.PhaseDurationMS = 60000
	want.IntervalMS = 0
	want.Cycles = 0
	want.OutputFormat = record.FormatJSON
	want.OutputPath = "out.jsonl"

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestApplyFlags_UnsetKeepsFile(t *testing.T) {
	fs := flagSet()
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	cfg := config.Default()
	cfg.IP = "10.0.0.5"
	cfg.Cycles = 5
	applyFlags(fs, cfg)

	if cfg.IP != "10.0.0.5" || cfg.Cycles != 5 || cfg.Transport != config.TransportIP {
		t.Errorf("unset flags changed config: %+v", cfg)
	}
}

func TestApplyFlags_ExplicitTransportWins(t *testing.T) {
	fs := flagSet()
	if err := fs.Parse([]string{"--serial", "/dev/ttyUSB0", "--transport", "ip"}); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	cfg := config.Default()
	applyFlags(fs, cfg)
	if cfg.Transport != config.TransportIP {
		t.Errorf("Transport = %q, want ip", cfg.Transport)
	}
}
