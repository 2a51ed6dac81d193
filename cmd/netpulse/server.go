package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/netpulse/netpulse/pkg/api"
	"github.com/netpulse/netpulse/pkg/config"
	"github.com/netpulse/netpulse/pkg/events"
	"github.com/netpulse/netpulse/pkg/log"
	"github.com/netpulse/netpulse/pkg/manager"
	"github.com/netpulse/netpulse/pkg/metrics"
	"github.com/netpulse/netpulse/pkg/reconciler"
	"github.com/netpulse/netpulse/pkg/store"
)

const shutdownGrace = 15 * time.Second

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the controller: REST API, dispatcher, and background sweeps",
	RunE:  runServer,
}

func init() {
	serverCmd.Flags().StringP("config", "c", "", "Path to config file (YAML)")
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := log.WithComponent("server")
	metrics.SetVersion(Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewRedisStore(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer st.Close()

	mgr, err := manager.New(cfg, st)
	if err != nil {
		return err
	}

	// Tap the cluster-wide job event channel so transitions made by
	// workers on other machines show up in the controller log.
	broker := events.NewBroker(st)
	if err := broker.Start(ctx); err != nil {
		return fmt.Errorf("failed to start event broker: %w", err)
	}
	defer broker.Stop()
	go logJobEvents(broker.Subscribe())

	rec := reconciler.New(cfg, st, mgr)
	rec.Start()
	defer rec.Stop()

	coll := reconciler.NewCollector(cfg, st)
	coll.Start()
	defer coll.Stop()

	srv := api.NewServer(cfg, mgr)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	logger.Info().Str("version", Version).Msg("controller started")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api shutdown failed")
	}
	return nil
}

// logJobEvents drains one broker subscription into the log. The channel
// closes when the broker stops.
func logJobEvents(sub events.Subscriber) {
	logger := log.WithComponent("events")
	for event := range sub {
		line := logger.Info().
			Str("job_id", event.JobID).
			Str("queue", event.Queue).
			Str("status", string(event.Status))
		if event.Worker != "" {
			line = line.Str("worker", event.Worker)
		}
		if event.ErrorType != "" {
			line = line.Str("error_type", event.ErrorType)
		}
		line.Msg("job event")
	}
}

// loadConfig builds the effective configuration from the --config flag
// and the environment, then initializes logging from it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	log.Init(cfg.LogInit())
	return cfg, nil
}
