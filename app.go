package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/kwv/hybridsam/hybrid"
)

// App encapsulates the application state and dependencies
type App struct {
	Config     *hybrid.Config
	Tracker    *hybrid.EstimateTracker
	MQTTClient *hybrid.MQTTClient
	Publisher  *hybrid.Publisher

	// CLI Flags (effectively dependencies)
	DataDir       string
	ConfigFile    string
	SimulateSteps int
	SimulateSeed  int64
	MaxHypotheses int
	HttpPort      int
	MqttMode      bool
	HttpMode      bool
}

// AppOptions carries the parsed CLI flags into the App
type AppOptions struct {
	DataDir       string
	ConfigFile    string
	SimulateSteps int
	SimulateSeed  int64
	MaxHypotheses int
	HttpPort      int
	MqttMode      bool
	HttpMode      bool
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.DataDir = opts.DataDir
	a.ConfigFile = opts.ConfigFile
	a.SimulateSteps = opts.SimulateSteps
	a.SimulateSeed = opts.SimulateSeed
	a.MaxHypotheses = opts.MaxHypotheses
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
}

// engineConfig returns the engine tuning, letting the CLI flag override the
// config file
func (a *App) engineConfig() hybrid.EngineConfig {
	engine := hybrid.EngineConfig{MaxHypotheses: 8, PruneEvery: 1}
	if a.Config != nil {
		engine = a.Config.Engine
	}
	if a.MaxHypotheses > 0 {
		engine.MaxHypotheses = a.MaxHypotheses
	}
	return engine
}

// RunSolveOnly finds measurement batch exports, solves them, and prints the
// MAP estimates
func (a *App) RunSolveOnly() {
	pattern := filepath.Join(a.DataDir, "MeasurementBatch-*.json")
	files, err := filepath.Glob(pattern)
	if err != nil {
		log.Fatalf("Error finding batch files: %v", err)
	}

	if len(files) == 0 {
		// Try current directory
		files, _ = filepath.Glob("MeasurementBatch-*.json")
	}

	if len(files) == 0 {
		log.Fatal("No MeasurementBatch-*.json files found")
	}

	sort.Strings(files)
	fmt.Printf("Found %d measurement batch(es)\n\n", len(files))

	tracker := hybrid.NewEstimateTracker(a.engineConfig())
	for _, file := range files {
		a.solveAndPrint(tracker, file)
	}
}

func (a *App) solveAndPrint(tracker *hybrid.EstimateTracker, path string) {
	fmt.Printf("=== %s ===\n", filepath.Base(path))

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("ERROR: %v\n\n", err)
		return
	}
	batch, err := hybrid.DecodeBatch(data)
	if err != nil {
		fmt.Printf("ERROR: %v\n\n", err)
		return
	}

	hv, err := tracker.ApplyBatch(batch.Robot, batch)
	if err != nil {
		fmt.Printf("ERROR: %v\n\n", err)
		return
	}

	fmt.Printf("Robot: %s (%d measurements)\n", batch.Robot, len(batch.Measurements))
	printEstimate(hv)
	fmt.Println()
}

// printEstimate dumps a hybrid solution with keys in sorted order
func printEstimate(hv hybrid.HybridValues) {
	modes := hv.Discrete()
	if len(modes) > 0 {
		names := make([]string, 0, len(modes))
		byName := make(map[string]int, len(modes))
		for k, v := range modes {
			names = append(names, k.String())
			byName[k.String()] = v
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, n := range names {
			parts = append(parts, fmt.Sprintf("%s=%d", n, byName[n]))
		}
		fmt.Printf("Modes: %s\n", strings.Join(parts, " "))
	}

	states := hv.Continuous()
	names := make([]string, 0, len(states))
	byName := make(map[string][]float64, len(states))
	for k, v := range states {
		names = append(names, k.String())
		byName[k.String()] = v
	}
	sort.Strings(names)
	for _, n := range names {
		vals := byName[n]
		if len(vals) == 1 {
			fmt.Printf("  %s = %.4f\n", n, vals[0])
		} else {
			fmt.Printf("  %s = %.4v\n", n, vals)
		}
	}
}

// RunSimulate generates a mode-switching chain scenario, feeds it to the
// incremental solver one step at a time, and reports recovery of the true
// mode sequence
func (a *App) RunSimulate() {
	steps := a.SimulateSteps
	if steps < 1 {
		steps = 10
	}
	rng := rand.New(rand.NewSource(a.SimulateSeed))

	fmt.Printf("Simulating a %d-step switching chain (seed %d)\n\n", steps, a.SimulateSeed)

	// Ground truth: each step either holds (mode 0) or slips by -1 (mode 1).
	trueModes := make([]int, steps)
	truth := make([]float64, steps+1)
	for i := 0; i < steps; i++ {
		trueModes[i] = rng.Intn(2)
		delta := 0.0
		if trueModes[i] == 1 {
			delta = -1.0
		}
		truth[i+1] = truth[i] + delta
	}

	const (
		priorSigma = 0.1
		odomSigma  = 0.2
	)

	tracker := hybrid.NewEstimateTracker(a.engineConfig())
	const robotID = "sim"

	for i := 0; i < steps; i++ {
		batch := &hybrid.MeasurementBatch{Robot: robotID}
		if i == 0 {
			batch.Measurements = append(batch.Measurements, hybrid.Measurement{
				Type: "prior", Index: 0, Value: truth[0], Sigma: priorSigma,
			})
		}
		batch.Measurements = append(batch.Measurements,
			hybrid.Measurement{
				Type: "switch", From: i, To: i + 1, Mode: i + 1,
				Deltas: []float64{0, -1}, Sigma: odomSigma,
			},
			hybrid.Measurement{
				Type: "prior", Index: i + 1,
				Value: truth[i+1] + rng.NormFloat64()*priorSigma,
				Sigma: priorSigma,
			})

		hv, err := tracker.ApplyBatch(robotID, batch)
		if err != nil {
			log.Fatalf("Step %d failed: %v", i+1, err)
		}
		if i == steps-1 {
			fmt.Println("Final estimate:")
			printEstimate(hv)
		}
	}

	hv, _ := tracker.Estimate(robotID)
	correct := 0
	for i := 0; i < steps; i++ {
		if hv.Discrete()[hybrid.M(i+1)] == trueModes[i] {
			correct++
		}
	}
	fmt.Printf("\nRecovered %d/%d true modes\n", correct, steps)
	fmt.Printf("Retained hypotheses: %d\n", len(tracker.Hypotheses(robotID)))
}

// RunService starts the MQTT ingest loop and the HTTP endpoints
func (a *App) RunService() {
	fmt.Println("Starting hybridsam service...")

	resolvedConfig := a.ConfigFile
	if a.DataDir != "." && resolvedConfig == "config.yaml" {
		resolvedConfig = filepath.Join(a.DataDir, "config.yaml")
	}

	config, err := hybrid.LoadConfig(resolvedConfig)
	if err != nil {
		log.Fatalf("Failed to load config: %v (looked at %s)", err, resolvedConfig)
	}
	a.Config = config
	log.Printf("Loaded config from %s", resolvedConfig)

	a.Tracker = hybrid.NewEstimateTracker(a.engineConfig())

	if a.MqttMode {
		batchHandler := func(robotID string, batch *hybrid.MeasurementBatch, err error) {
			if err != nil {
				log.Printf("Error receiving batch for %s: %v", robotID, err)
				return
			}

			hv, err := a.Tracker.ApplyBatch(robotID, batch)
			if err != nil {
				log.Printf("Error solving batch for %s: %v", robotID, err)
				return
			}

			if a.Publisher != nil {
				if err := a.Publisher.PublishEstimate(robotID, hv); err != nil {
					log.Printf("Error publishing estimate for %s: %v", robotID, err)
				}
			}
		}

		mqttClient, err := hybrid.InitMQTT(config, batchHandler)
		if err != nil {
			log.Fatalf("Failed to initialize MQTT: %v", err)
		}
		a.MQTTClient = mqttClient

		if mqttClient == nil {
			log.Fatal("MQTT broker not configured in config.yaml")
		}

		a.Publisher = hybrid.NewPublisher(mqttClient.Client())
		fmt.Println("MQTT estimate publisher initialized")
	}

	if a.HttpMode {
		httpServer := newHTTPServer(a.Tracker)
		go func() {
			addr := fmt.Sprintf("0.0.0.0:%d", a.HttpPort)
			log.Printf("[HTTP] Starting server on %s", addr)
			if err := http.ListenAndServe(addr, httpServer); err != nil {
				log.Fatalf("[HTTP] Server error: %v", err)
			}
		}()
	}

	fmt.Println("\nService Running")
	fmt.Println("===============")

	if a.MqttMode {
		fmt.Println("\nMQTT:")
		fmt.Println("  Subscribed topics:")
		for _, rc := range config.Robots {
			fmt.Printf("    - %s (%s)\n", rc.Topic, rc.ID)
		}
		publishPrefix := config.MQTT.PublishPrefix
		if publishPrefix == "" {
			publishPrefix = "hybridsam"
		}
		fmt.Printf("  Publishing to: %s/{robotID}\n", publishPrefix)
		fmt.Printf("  Combined estimates: %s/estimates\n", publishPrefix)
	}

	if a.HttpMode {
		fmt.Printf("\nHTTP endpoints (port %d):\n", a.HttpPort)
		fmt.Println("  GET /health           - Health check")
		fmt.Println("  GET /estimate.json    - Latest MAP estimates per robot")
		fmt.Println("  GET /hypotheses.json  - Retained discrete hypotheses")
	}

	fmt.Println("\nPress Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan

	fmt.Println("\nShutting down service...")
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	fmt.Println("Service stopped")
}

// WriteBatchExport writes a batch as a MeasurementBatch-*.json export, the
// format RunSolveOnly reads back
func WriteBatchExport(dir string, seq int, batch *hybrid.MeasurementBatch) error {
	data, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling batch: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("MeasurementBatch-%s-%04d.json", batch.Robot, seq))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing batch export: %w", err)
	}
	return nil
}
