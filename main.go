package main

import (
	"flag"
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// appRunner abstracts the App so run can be tested with a mock
type appRunner interface {
	ApplyOptions(opts AppOptions)
	RunSolveOnly()
	RunSimulate()
	RunService()
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if err == flag.ErrHelp {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer, app appRunner) error {
	flags := flag.NewFlagSet("hybridsam", flag.ContinueOnError)
	flags.SetOutput(out)

	configFile := flags.String("config", "config.yaml", "Path to configuration file")
	solveOnly := flags.Bool("solve", false, "Solve measurement JSON exports and exit (test mode)")
	simulate := flags.Bool("simulate", false, "Run a synthetic switching-chain scenario and exit")
	simulateSteps := flags.Int("simulate-steps", 10, "Number of chain steps for --simulate")
	simulateSeed := flags.Int64("simulate-seed", 42, "Random seed for --simulate")
	maxHypotheses := flags.Int("max-hypotheses", 0, "Override engine.max_hypotheses from config")
	dataDir := flags.String("data-dir", ".", "Directory containing JSON exports for solve mode")
	mqttMode := flags.Bool("mqtt", false, "Run MQTT service mode for live measurement ingest")
	httpMode := flags.Bool("http", false, "Enable HTTP server for estimates")
	httpPort := flags.Int("http-port", 8080, "HTTP server port (default 8080)")

	if err := flags.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "hybridsam version: %s\n", Version)

	app.ApplyOptions(AppOptions{
		DataDir:       *dataDir,
		ConfigFile:    *configFile,
		SimulateSteps: *simulateSteps,
		SimulateSeed:  *simulateSeed,
		MaxHypotheses: *maxHypotheses,
		HttpPort:      *httpPort,
		MqttMode:      *mqttMode,
		HttpMode:      *httpMode,
	})

	if *solveOnly {
		app.RunSolveOnly()
		return nil
	}

	if *simulate {
		app.RunSimulate()
		return nil
	}

	if *mqttMode || *httpMode {
		app.RunService()
		return nil
	}

	fmt.Fprintln(out, "hybridsam service starting...")
	fmt.Fprintln(out, "Use --solve to batch-solve MeasurementBatch-*.json exports")
	fmt.Fprintln(out, "Use --simulate to run a synthetic switching-chain scenario")
	fmt.Fprintln(out, "Use --mqtt to run MQTT service mode")
	fmt.Fprintln(out, "Use --http to run HTTP server mode")
	fmt.Fprintln(out, "Use --mqtt --http to run both MQTT and HTTP together")
	fmt.Fprintln(out, "\nConfiguration:")
	fmt.Fprintln(out, "  config.yaml - MQTT broker, robots, and engine tuning")
	return nil
}
