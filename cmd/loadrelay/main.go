package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/phoenix-ops/loadrelay/pkg/loadgen"
	"github.com/phoenix-ops/loadrelay/pkg/relay"
	"github.com/phoenix-ops/loadrelay/pkg/report"
	"github.com/phoenix-ops/loadrelay/pkg/scenario"
	"github.com/phoenix-ops/loadrelay/pkg/target"
)

func main() {
	var (
		preset       string
		scenarioFile string
		users        int
		durationSec  int
		rampUpSec    int
		seed         int64
		targetURL    string
		alertURL     string
		outputFile   string
		metricsAddr  string
		queueCap     int
		maxRetries   int
		jsonOutput   bool
	)

	flag.StringVar(&preset, "preset", "", "Scenario preset: "+fmt.Sprint(scenario.PresetNames()))
	flag.StringVar(&scenarioFile, "scenario", "", "Path to scenario JSON/YAML file (overrides -preset)")
	flag.IntVar(&users, "users", 0, "Override virtual user count")
	flag.IntVar(&durationSec, "duration", 0, "Override run duration in seconds")
	flag.IntVar(&rampUpSec, "rampup", -1, "Override ramp-up window in seconds")
	flag.Int64Var(&seed, "seed", 0, "Random seed (0 = seed from clock)")
	flag.StringVar(&targetURL, "target", "http://127.0.0.1:8080", "Base URL of the target API")
	flag.StringVar(&alertURL, "alerts", "http://127.0.0.1:8080/api/alert", "Alert-ingestion endpoint URL")
	flag.StringVar(&outputFile, "out", "", "Write the JSON report artifact to this path")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address (e.g. :9100)")
	flag.IntVar(&queueCap, "queue-capacity", relay.DefaultCapacity, "Alert relay queue capacity")
	flag.IntVar(&maxRetries, "max-retries", relay.DefaultMaxRetries, "Alert delivery retries after the initial attempt")
	flag.BoolVar(&jsonOutput, "json", false, "Print the report as JSON instead of text")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	scn, err := resolveScenario(preset, scenarioFile)
	if err != nil {
		logger.Fatal("failed to resolve scenario", zap.Error(err))
	}
	if users > 0 {
		scn.VirtualUsers = users
	}
	if durationSec > 0 {
		scn.Duration = time.Duration(durationSec) * time.Second
	}
	if rampUpSec >= 0 {
		scn.RampUp = time.Duration(rampUpSec) * time.Second
	}
	if seed != 0 {
		scn.Seed = seed
	}
	if scn.Name == "" {
		scn.Name = "custom"
	}

	if metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Warn("metrics listener stopped", zap.Error(err))
			}
		}()
	}

	queue := relay.NewQueue(relay.Config{
		Capacity:   queueCap,
		MaxRetries: maxRetries,
	}, relay.NewHTTPDeliverer(alertURL, relay.DefaultAttemptTimeout), logger.Named("relay"))
	queue.Start()

	sched, err := loadgen.New(loadgen.Config{
		Target: target.NewClient(targetURL, target.DefaultCallTimeout),
		Queue:  queue,
		Logger: logger.Named("loadgen"),
	})
	if err != nil {
		logger.Fatal("failed to build scheduler", zap.Error(err))
	}

	// Ctrl-C flips the run into cooperative shutdown; user loops finish
	// their current iteration, then the relay drains.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rep, err := sched.Run(ctx, scn)
	if err != nil {
		logger.Fatal("run failed", zap.Error(err))
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	queue.Stop(drainCtx)
	drainCancel()

	// Pick up the final relay accounting after the drain.
	rep.Alerts = queue.Stats()

	if outputFile != "" {
		if err := report.WriteFile(outputFile, rep); err != nil {
			logger.Fatal("failed to write report artifact", zap.Error(err))
		}
		fmt.Printf("Report written to %s\n", outputFile)
	}

	if jsonOutput {
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			logger.Fatal("failed to marshal report", zap.Error(err))
		}
		fmt.Println(string(data))
	} else {
		fmt.Println(report.Render(rep))
	}
}

func resolveScenario(preset, file string) (scenario.Scenario, error) {
	if file != "" {
		return scenario.Load(file)
	}
	if preset != "" {
		return scenario.FromPreset(preset)
	}
	// Default demo scenario, small enough to run against a local testbed.
	return scenario.Scenario{
		Name:         "default",
		VirtualUsers: 5,
		Duration:     30 * time.Second,
		RampUp:       5 * time.Second,
	}, nil
}
