package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gridsim/gridsim/sim/broker"
	"github.com/gridsim/gridsim/sim/monitor"
)

var (
	// CLI flags for the scenario runner
	scenarioPath string  // Path to the scenario YAML file
	until        int64   // Simulation horizon (in seconds), overrides the scenario
	rtFactor     float64 // Real-time factor, overrides the scenario
	logLevel     string  // Log verbosity level
	outDir       string  // Directory for monitor CSV output, overrides the scenario
	brokerAddr   string  // Listen address of the broker API, overrides the scenario
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "gridsim",
	Short: "Discrete-event co-simulator for microgrids",
}

// runCmd executes a scenario using parameters from CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a microgrid scenario",
	Run: func(cmd *cobra.Command, args []string) {
		// Set up logging
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		if scenarioPath == "" {
			logrus.Fatalf("Scenario file not provided. Exiting simulation.")
		}

		sc, err := LoadScenario(scenarioPath)
		if err != nil {
			logrus.Fatalf("unable to read scenario: %v", err)
		}
		if cmd.Flags().Changed("until") {
			sc.Until = until
		}
		if cmd.Flags().Changed("rt-factor") {
			sc.RtFactor = rtFactor
		}
		if cmd.Flags().Changed("out") {
			if sc.Monitor == nil {
				sc.Monitor = &MonitorSpec{}
			}
			sc.Monitor.Out = outDir
		}
		if cmd.Flags().Changed("broker-addr") {
			if sc.Broker == nil {
				sc.Broker = &BrokerSpec{}
			}
			sc.Broker.Addr = brokerAddr
		}

		env, err := BuildEnvironment(sc, filepath.Dir(scenarioPath))
		if err != nil {
			logrus.Fatalf("unable to build environment: %v", err)
		}

		var mon *monitor.Monitor
		if sc.Monitor != nil {
			mon, err = monitor.New(sc.Monitor.Out)
			if err != nil {
				logrus.Fatalf("unable to set up monitor: %v", err)
			}
			if err := env.AddController(mon, sc.Monitor.StepSize); err != nil {
				logrus.Fatalf("unable to attach monitor: %v", err)
			}
		}

		if sc.Broker != nil {
			b := broker.New(env.Microgrids(), sc.Broker.History)
			if err := env.AddController(b, sc.Broker.StepSize); err != nil {
				logrus.Fatalf("unable to attach broker: %v", err)
			}
			if sc.Broker.Addr != "" {
				srv := broker.NewServer(b, sc.Broker.Addr)
				srv.Start()
				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := srv.Shutdown(ctx); err != nil {
						logrus.Warnf("broker shutdown: %v", err)
					}
				}()
				logrus.Infof("Broker API listening on %s", sc.Broker.Addr)
			}
		}

		// Log configuration
		logrus.Infof("Starting simulation with %d microgrid(s), until=%ds, rt_factor=%v",
			len(sc.Microgrids), sc.Until, sc.RtFactor)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		startTime := time.Now() // Get current time (start)

		if err := env.Run(ctx, sc.Until, sc.RtFactor); err != nil {
			logrus.Fatalf("simulation failed: %v", err)
		}

		if mon != nil {
			for _, mg := range env.Microgrids() {
				s, err := mon.Summarize(mg.Name(), mg.StepSize())
				if err != nil {
					logrus.Warnf("no summary for microgrid %q: %v", mg.Name(), err)
					continue
				}
				logrus.Infof("%s: %d steps, p_grid mean=%.2fW [%.2f, %.2f], grid energy in=%.1fWh out=%.1fWh",
					mg.Name(), s.Steps, s.PGridMean, s.PGridMin, s.PGridMax, s.GridEnergyIn, s.GridEnergyOut)
			}
		}

		logrus.Infof("Simulation complete in %v.", time.Since(startTime).Round(time.Millisecond))
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {

	runCmd.Flags().StringVar(&scenarioPath, "scenario", "", "Path to the scenario YAML file")
	runCmd.Flags().Int64Var(&until, "until", 0, "Simulation horizon in seconds (0 uses the scenario value)")
	runCmd.Flags().Float64Var(&rtFactor, "rt-factor", 0, "Real-time factor (0 = as fast as possible, 1 = wall clock)")
	runCmd.Flags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().StringVar(&outDir, "out", "", "Directory for monitor CSV output")
	runCmd.Flags().StringVar(&brokerAddr, "broker-addr", "", "Listen address of the broker HTTP API")

	// Attach `run` as a subcommand to `root`
	rootCmd.AddCommand(runCmd)
}
