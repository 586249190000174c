package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"feedmesh/internal/agent"
	"feedmesh/internal/broadcast"
	"feedmesh/internal/config"
	"feedmesh/internal/database"
	"feedmesh/internal/engine"
	"feedmesh/internal/handlers"
	"feedmesh/internal/logger"
	"feedmesh/internal/middleware"
	"feedmesh/internal/render"
	"feedmesh/internal/utils"
	"feedmesh/internal/websocket"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "replica",
		Short: "Local-first feed replica",
		Long:  "Runs one feed replica: durable store, replication channel, HTTP API and an optional autonomous agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(v)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("host", "", "HTTP listen host")
	flags.Int("port", 0, "HTTP listen port")
	flags.String("id", "", "Replica identifier")
	flags.String("storage", "", "Storage backend: sqlite, postgres or mongo")
	flags.String("db-path", "", "sqlite database file")
	flags.String("db-uri", "", "postgres DSN or mongo URI")
	flags.String("channel", "", "Replication channel: relay or local")
	flags.String("relay", "", "Relay WebSocket URL")
	flags.String("scope", "", "Broadcast scope shared by the replicas")
	flags.Bool("agent", false, "Run the autonomous agent")
	flags.String("decider", "", "Agent decision source: random or gemini")
	flags.String("log-level", "", "Log level")

	for key, flag := range map[string]string{
		"server.host":       "host",
		"server.port":       "port",
		"replica.id":        "id",
		"storage.type":      "storage",
		"storage.path":      "db-path",
		"storage.uri":       "db-uri",
		"channel.type":      "channel",
		"channel.relay_url": "relay",
		"channel.scope":     "scope",
		"agent.enabled":     "agent",
		"agent.decider":     "decider",
		"log.level":         "log-level",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	lg := logger.New(cfg.Log)
	defer lg.Close()
	log := lg.Component(cfg.Replica.ID, "replica")

	log.WithFields(logrus.Fields{
		"storage": cfg.Storage.Type,
		"channel": cfg.Channel.Type,
		"scope":   cfg.Channel.Scope,
		"agent":   cfg.Agent.Enabled,
	}).Info("Starting replica")

	ch, closeChannel, err := openChannel(ctx, cfg, lg.Component(cfg.Replica.ID, "channel"))
	if err != nil {
		return err
	}
	defer closeChannel()

	metrics := utils.NewMetricsCollector()
	system := actor.NewActorSystem()
	storageCfg := cfg.Storage
	eng := engine.NewEngine(system, func(ctx context.Context) (database.Store, error) {
		return database.Open(ctx, storageCfg)
	}, ch, engine.Options{
		ReplicaID:      cfg.Replica.ID,
		FeedWindow:     cfg.Replica.FeedWindow,
		LogCapacity:    cfg.Replica.LogCapacity,
		PingInterval:   cfg.Replica.PingInterval,
		RequestTimeout: cfg.Replica.RequestTimeout,
		Retention:      cfg.Replica.Retention,
		BytesPerObject: cfg.Replica.BytesPerObject,
		Metrics:        metrics,
		Logger:         lg.Component(cfg.Replica.ID, "engine"),
	})
	defer eng.Stop()

	renderer, err := render.New(0)
	if err != nil {
		return err
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := websocket.NewHub(lg.Component(cfg.Replica.ID, "stream"))
	go hub.Run(hubCtx)

	server := handlers.NewServer(eng, renderer, hub, lg.Component(cfg.Replica.ID, "http"))
	server.RequestTimeout = cfg.Replica.RequestTimeout
	stopStream := server.StartStream()
	defer stopStream()

	if cfg.Agent.Enabled {
		decider, err := newDecider(ctx, cfg.Agent)
		if err != nil {
			return err
		}
		runner := agent.NewRunner(eng, decider, agent.NewProfile(rand.New(rand.NewSource(time.Now().UnixNano()))), agent.RunnerOptions{
			Interval:     cfg.Agent.Interval,
			ObserveLimit: cfg.Replica.RecentLimit,
			Logger:       lg.Component(cfg.Replica.ID, "agent"),
		})
		go func() {
			select {
			case <-eng.Ready():
				runner.Run(ctx)
			case <-ctx.Done():
			}
		}()
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: server.Router(middleware.DefaultCORSConfig(cfg.AllowedOrigins), cfg.Server.MetricsEnabled),
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", httpServer.Addr).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// openChannel joins the configured replication channel. A local channel is a
// bus with this replica as its only member.
func openChannel(ctx context.Context, cfg *config.Config, log *logrus.Entry) (broadcast.Channel, func(), error) {
	switch cfg.Channel.Type {
	case "local":
		member := broadcast.NewLocalBus(log).Join(cfg.Replica.ID)
		return member, func() { member.Close() }, nil
	default:
		ws, err := broadcast.NewWSChannel(cfg.Channel.RelayURL, cfg.Channel.Scope, log)
		if err != nil {
			return nil, nil, err
		}
		ws.Start(ctx)
		return ws, func() { ws.Close() }, nil
	}
}

func newDecider(ctx context.Context, cfg *config.AgentConfig) (agent.Decider, error) {
	if cfg.Decider == "gemini" {
		return agent.NewGeminiDecider(ctx, cfg.APIKey, cfg.Model)
	}
	return agent.NewRandomDecider(0, 0), nil
}
