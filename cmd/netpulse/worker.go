package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/netpulse/netpulse/pkg/store"
	"github.com/netpulse/netpulse/pkg/worker"
)

var nodeWorkerCmd = &cobra.Command{
	Use:   "node-worker",
	Short: "Run this machine's node worker",
	Long: `Run the node worker that owns this machine's pinned device sessions.

One node worker runs per machine, guarded by a file lock. It consumes the
node's control queue, launches a pinned worker per bound device, and
advertises its remaining capacity to dispatchers.`,
	RunE: runNodeWorker,
}

var fifoWorkerCmd = &cobra.Command{
	Use:   "fifo-worker",
	Short: "Run a shared-queue worker for stateless drivers",
	RunE:  runFIFOWorker,
}

func init() {
	nodeWorkerCmd.Flags().StringP("config", "c", "", "Path to config file (YAML)")
	nodeWorkerCmd.Flags().String("hostname", "", "Override the node identity (default: OS hostname)")
	fifoWorkerCmd.Flags().StringP("config", "c", "", "Path to config file (YAML)")
	rootCmd.AddCommand(nodeWorkerCmd)
	rootCmd.AddCommand(fifoWorkerCmd)
}

func runNodeWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if hostname, _ := cmd.Flags().GetString("hostname"); hostname != "" {
		cfg.Worker.Hostname = hostname
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewRedisStore(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer st.Close()

	w, err := worker.NewNodeWorker(cfg, st)
	if err != nil {
		return err
	}
	return w.Run(ctx)
}

func runFIFOWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewRedisStore(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer st.Close()

	w, err := worker.NewFIFOWorker(cfg, st)
	if err != nil {
		return err
	}
	return w.Run(ctx)
}
