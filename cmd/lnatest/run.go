package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/kabili207/lnatest/config"
	"github.com/kabili207/lnatest/core/logrelay"
	"github.com/kabili207/lnatest/device/engine"
	"github.com/kabili207/lnatest/record"
	"github.com/kabili207/lnatest/record/mqtt"
	"github.com/kabili207/lnatest/transport"
	"github.com/kabili207/lnatest/transport/serial"
	"github.com/kabili207/lnatest/transport/tcp"
)

const shutdownTimeout = 5 * time.Second

func runTest(cmd *cobra.Command, args []string) error {
	// Load config
	var cfg *config.Config
	if cfgFile != "" {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	} else {
		cfg = config.Default()
	}

	// Override with CLI flags
	applyFlags(cmd.Flags(), cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := parseLevel(logLevel)
	if err != nil {
		return err
	}

	out := newConsole(cmd.OutOrStdout())
	fwd := newForwarder()
	logger := newLogger(level, logJSON, out, fwd)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink, err := record.Open(cfg.OutputPath, cfg.OutputFormat)
	if err != nil {
		return err
	}
	if cfg.MQTT.Broker != "" {
		pub := mqtt.New(mqtt.Config{
			Broker:      cfg.MQTT.Broker,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			UseTLS:      cfg.MQTT.UseTLS,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Retain:      cfg.MQTT.Retain,
			Logger:      logger,
		})
		fwd.enable(pub)
		if err := pub.Start(); err != nil {
			pub.Stop()
			sink.Close()
			return fmt.Errorf("mqtt: %w", err)
		}
		defer pub.Stop()
		logger.Info("Publishing progress", "topic", pub.Topic(mqtt.TopicProgress))
		sink = record.Multi{sink, fwd.Sink()}
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Warn("Closing output", "error", err)
		}
	}()

	eng := engine.New(*cfg, newTransport(cfg, logger), engine.Options{
		Sink:     sink,
		Identity: identityKey,
		Logger:   logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	g.Go(func() error {
		defer close(done)
		return eng.Run(gctx, func(p engine.ProgressState) {
			out.Progress(p)
			fwd.progress(p)
		})
	})

	if cfg.Metrics.Address != "" {
		srv := newMetricsServer(cfg.Metrics.Address, eng)
		logger.Info("Serving metrics", "addr", cfg.Metrics.Address)
		g.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-done:
			case <-gctx.Done():
			}
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	if fwd.enabled.Load() {
		g.Go(func() error {
			fwd.run(done)
			return nil
		})
	}

	err = g.Wait()
	out.Finish()
	if n := fwd.failed.Load(); n > 0 {
		logger.Warn("MQTT messages not delivered", "count", n)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Results written to %s\n", cfg.OutputPath)
	return nil
}

// applyFlags copies explicitly set flags over the loaded configuration.
func applyFlags(fs *pflag.FlagSet, cfg *config.Config) {
	set := fs.Changed
	if set("transport") {
		cfg.Transport = config.TransportMode(transportFl)
	}
	if set("ip") {
		cfg.IP = ipAddr
	}
	if set("port") {
		cfg.Port = port
	}
	if set("serial") {
		cfg.SerialPort = serialPort
		// A serial port without an explicit transport implies serial.
		if !set("transport") {
			cfg.Transport = config.TransportSerial
		}
	}
	if set("baud") {
		cfg.BaudRate = baudRate
	}
	if set("target") {
		cfg.TargetNodeID = targetID
	}
	if set("roof") {
		cfg.RoofNodeID = roofID
	}
	if set("mountain") {
		cfg.MountainNodeID = mountainID
	}
	if set("local") {
		cfg.LocalNodeID = localID
	}
	if set("topology") {
		cfg.Topology = config.Topology(topology)
	}
	if set("lna-control") {
		cfg.LNAControl = config.LNAControl(lnaControl)
	}
	if set("duration") {
		cfg.PhaseDurationMS = durationSec * 1000
	}
	if set("cycles") {
		cfg.Cycles = cycles
	}
	if set("interval") {
		cfg.IntervalMS = intervalSec * 1000
	}
	if set("output") {
		cfg.OutputPath = outputPath
	}
	if set("format") {
		cfg.OutputFormat = record.Format(outputFmt)
	}
	if set("mqtt-broker") {
		cfg.MQTT.Broker = mqttBroker
	}
	if set("mqtt-prefix") {
		cfg.MQTT.TopicPrefix = mqttPrefix
	}
	if set("metrics-addr") {
		cfg.Metrics.Address = metricsAddr
	}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// newLogger builds the process logger. Console output shares the terminal
// with the progress line, so lines are relayed through it; JSON output goes
// straight to stderr. Either way lines are also forwarded to MQTT.
func newLogger(level slog.Level, jsonOut bool, out *console, fwd *forwarder) *slog.Logger {
	var inner slog.Handler
	relay := fwd.log
	if jsonOut {
		inner = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		relay = func(line string) {
			out.Log(line)
			fwd.log(line)
		}
	}
	return slog.New(logrelay.New(inner, relay, &logrelay.Options{Level: level}))
}

func newTransport(cfg *config.Config, logger *slog.Logger) transport.Transport {
	var t interface {
		transport.Transport
		SetStateHandler(fn transport.StateHandler)
	}
	if cfg.Transport == config.TransportSerial {
		t = serial.New(serial.Config{
			Port:     cfg.SerialPort,
			BaudRate: cfg.BaudRate,
			Logger:   logger,
		})
	} else {
		t = tcp.New(tcp.Config{
			Host:   cfg.IP,
			Port:   cfg.Port,
			Logger: logger,
		})
	}
	t.SetStateHandler(logTransportEvents(logger))
	return t
}

// logTransportEvents reports link state changes. A reboot mid-run resets
// the radio's admin sessions and may have reverted the amplifier setting.
func logTransportEvents(logger *slog.Logger) transport.StateHandler {
	log := logger.WithGroup("radio")
	return func(_ transport.Transport, e transport.Event) {
		switch e {
		case transport.EventConnected:
			log.Info("Radio connected")
		case transport.EventDisconnected:
			log.Info("Radio disconnected")
		case transport.EventRebooted:
			log.Warn("Radio rebooted during run, results after this point may be unreliable")
		case transport.EventError:
			log.Error("Radio link failed")
		}
	}
}

func newMetricsServer(addr string, eng *engine.Engine) *http.Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		engine.NewCollector(eng),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
