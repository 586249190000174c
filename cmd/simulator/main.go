package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"feedmesh/internal/config"
	"feedmesh/internal/logger"
	"feedmesh/simulator"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		cfg      simulator.SimConfig
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "simulator",
		Short: "Runs several replicas with random agents on an in-process bus",
		RunE: func(cmd *cobra.Command, args []string) error {
			lg := logger.New(config.LogConfig{Level: logLevel})
			defer lg.Close()
			log := lg.WithField("component", "simulator")
			cfg.Logger = log

			// Log configuration
			log.WithFields(logrus.Fields{
				"replicas":        cfg.NumReplicas,
				"simulation_time": cfg.SimulationTime,
				"step_interval":   cfg.StepInterval,
				"disconnect_rate": cfg.DisconnectRate,
				"reconnect_rate":  cfg.ReconnectRate,
				"zipf_s":          cfg.ZipfS,
			}).Info("Starting simulation")

			sim := simulator.NewSimulator(cfg)
			defer sim.Close()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			ctx, cancelRun := context.WithTimeout(ctx, cfg.SimulationTime)
			defer cancelRun()

			if err := sim.Run(ctx); err != nil {
				return err
			}

			// Let in-flight events land before comparing replicas.
			time.Sleep(500 * time.Millisecond)
			checkCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			divergent, err := sim.Divergent(checkCtx)
			if err != nil {
				log.WithError(err).Warn("Could not compare replicas")
			}

			m := sim.GetMetrics()
			log.WithFields(logrus.Fields{
				"replicas":    m.TotalReplicas,
				"connected":   m.ConnectedReplicas,
				"steps":       m.Steps,
				"posts":       m.Posts,
				"votes":       m.Votes,
				"comments":    m.Comments,
				"idles":       m.Idles,
				"disconnects": m.Disconnects,
				"reconnects":  m.Reconnects,
				"dropped":     m.Dropped,
				"divergent":   divergent,
			}).Info("Simulation completed")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&cfg.NumReplicas, "replicas", 3, "Number of replicas")
	flags.DurationVar(&cfg.SimulationTime, "time", time.Minute, "Simulation time")
	flags.DurationVar(&cfg.StepInterval, "step", 2*time.Second, "Agent decision interval")
	flags.DurationVar(&cfg.PingInterval, "ping", 5*time.Second, "Liveness ping interval")
	flags.Float64Var(&cfg.DisconnectRate, "disconnect-rate", 0.01, "Per-second chance a replica drops off the bus")
	flags.Float64Var(&cfg.ReconnectRate, "reconnect-rate", 0.05, "Per-second chance a dropped replica rejoins")
	flags.Float64Var(&cfg.ZipfS, "zipf", 1.07, "Zipf parameter for target selection")
	flags.Int64Var(&cfg.Seed, "seed", 0, "Random seed, 0 for time-based")
	flags.StringVar(&cfg.DataDir, "data-dir", "", "Directory for replica databases, temporary when empty")
	flags.StringVar(&logLevel, "log-level", "info", "Log level")
	return cmd
}
