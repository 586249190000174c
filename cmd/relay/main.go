package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"feedmesh/internal/config"
	"feedmesh/internal/logger"
	"feedmesh/internal/middleware"
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
		Use:   "relay",
		Short: "Host-local broadcast relay for feed replicas",
		Long:  "Forwards every frame a replica sends to all other replicas connected with the same scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			config.SetDefaults(v)
			v.SetDefault("relay.listen", "127.0.0.1:7070")
			v.SetEnvPrefix("FEED")
			v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
			v.AutomaticEnv()

			lg := logger.New(config.LogConfig{
				Level:  v.GetString("log.level"),
				Format: v.GetString("log.format"),
				Path:   v.GetString("log.path"),
			})
			defer lg.Close()
			log := lg.WithField("component", "relay")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			hub := websocket.NewHub(log)
			go hub.Run(ctx)

			r := mux.NewRouter()
			r.Use(middleware.AccessLog(log, nil))
			r.Methods(http.MethodGet).Path("/relay").HandlerFunc(websocket.ServeRelay(hub))
			r.Methods(http.MethodGet).Path("/health").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, `{"status":"ok"}`)
			})

			srv := &http.Server{Addr: v.GetString("relay.listen"), Handler: r}
			errCh := make(chan error, 1)
			go func() {
				log.WithField("addr", srv.Addr).Info("Relay listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				return err
			}
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().String("listen", "", "Address to listen on")
	cmd.Flags().String("log-level", "", "Log level")
	if err := v.BindPFlag("relay.listen", cmd.Flags().Lookup("listen")); err != nil {
		panic(err)
	}
	if err := v.BindPFlag("log.level", cmd.Flags().Lookup("log-level")); err != nil {
		panic(err)
	}
	return cmd
}
