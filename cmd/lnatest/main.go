// lnatest - Meshtastic LNA A/B test
//
// Measures whether a node's receive amplifier (sx126x boosted gain) improves
// link quality. Each cycle runs one phase with the amplifier off and one
// with it on, sending periodic traceroutes and averaging the per-hop SNR
// readings of each phase.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kabili207/lnatest/config"
	"github.com/kabili207/lnatest/transport/serial"
)

var (
	version = "0.3.0"

	cfgFile     string
	transportFl string
	ipAddr      string
	port        int
	serialPort  string
	baudRate    int
	targetID    string
	roofID      string
	mountainID  string
	localID     string
	topology    string
	lnaControl  string
	durationSec int64
	cycles      int
	intervalSec int64
	outputPath  string
	outputFmt   string
	identityKey string
	mqttBroker  string
	mqttPrefix  string
	metricsAddr string
	logLevel    string
	logJSON     bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lnatest",
		Short: "Meshtastic LNA A/B test",
		Long: `lnatest - Meshtastic LNA A/B test

Alternates a node's receive amplifier between off and on, sends periodic
traceroutes through it and compares the average SNR of each phase.

Examples:
  # Relay test: toggle the roof node, trace to the mountain node
  lnatest run --ip 192.168.1.100 --roof '!a1b2c3d4' --mountain '!e5f6a7b8'

  # Direct test over USB serial, 5 minute phases
  lnatest run --transport serial --serial /dev/ttyUSB0 \
    --topology direct --target '!a1b2c3d4' --duration 300

  # Use a config file and publish progress to MQTT
  lnatest run -c lnatest.yaml --mqtt-broker tcp://localhost:1883

  # Write a default config file
  lnatest config init lnatest.yaml`,
		SilenceUsage: true,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the A/B test",
		Args:  cobra.NoArgs,
		RunE:  runTest,
	}

	// Flags
	f := runCmd.Flags()
	f.StringVarP(&cfgFile, "config", "c", "", "Config file (YAML)")
	f.StringVarP(&transportFl, "transport", "t", "", "Transport: ip, serial")
	f.StringVar(&ipAddr, "ip", "", "Radio IP address")
	f.IntVar(&port, "port", 0, "Radio TCP port")
	f.StringVar(&serialPort, "serial", "", "Serial port (e.g., /dev/ttyUSB0)")
	f.IntVar(&baudRate, "baud", 0, "Serial baud rate")
	f.StringVar(&targetID, "target", "", "Target node id (direct topology)")
	f.StringVar(&roofID, "roof", "", "Roof node id (relay topology)")
	f.StringVar(&mountainID, "mountain", "", "Mountain node id (relay topology)")
	f.StringVar(&localID, "local", "", "Local node id (learned from the radio if empty)")
	f.StringVar(&topology, "topology", "", "Topology: relay, direct")
	f.StringVar(&lnaControl, "lna-control", "", "Amplifier to toggle: disabled, roof, mountain")
	f.Int64VarP(&durationSec, "duration", "d", 0, "Phase duration in seconds")
	f.IntVarP(&cycles, "cycles", "n", 0, "Number of OFF/ON cycles")
	f.Int64Var(&intervalSec, "interval", 0, "Traceroute interval in seconds (0 disables)")
	f.StringVarP(&outputPath, "output", "o", "", "Output file")
	f.StringVar(&outputFmt, "format", "", "Output format: csv, json")
	f.StringVar(&identityKey, "identity", "", "Base64 X25519 private key for admin requests")
	f.StringVar(&mqttBroker, "mqtt-broker", "", "Publish progress to MQTT broker (e.g., tcp://localhost:1883)")
	f.StringVar(&mqttPrefix, "mqtt-prefix", "", "MQTT topic prefix")
	f.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on address (e.g., :9464)")
	f.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	f.BoolVar(&logJSON, "log-json", false, "Write JSON logs to stderr instead of the console")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage config files",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write a config file with default values",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "lnatest.yaml"
			if len(args) > 0 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := config.Default().Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	})

	rootCmd.AddCommand(runCmd, configCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "ports",
		Short: "List serial ports",
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := serial.ListPorts()
			if err != nil {
				return err
			}
			if len(ports) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No serial ports found")
				return nil
			}
			for _, p := range ports {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	})

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("lnatest v%s\n", version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
