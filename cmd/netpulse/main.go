package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/netpulse/netpulse/pkg/client"
)

// Build metadata, stamped through ldflags by the release pipeline.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "netpulse",
	Short: "NetPulse - distributed command runner for network devices",
	Long: `NetPulse dispatches commands and configuration to network devices
through a pool of workers that hold device sessions open between jobs.

The same binary runs every role: the controller (server), the per-machine
node worker that owns pinned device sessions, the shared fifo worker for
stateless drivers, and the operator CLI.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"NetPulse version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("server", envOr("NETPULSE_SERVER", "http://127.0.0.1:9000"),
		"Controller base URL (env NETPULSE_SERVER)")
	rootCmd.PersistentFlags().String("api-key", os.Getenv("NETPULSE_API_KEY"),
		"API key (env NETPULSE_API_KEY)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(healthCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("NetPulse version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check controller health",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := apiClient(cmd)
		if err := c.Health(cmd.Context()); err != nil {
			return fmt.Errorf("controller unhealthy: %v", err)
		}
		fmt.Println("ok")
		return nil
	},
}

// apiClient builds a REST client from the persistent flags.
func apiClient(cmd *cobra.Command) *client.Client {
	server, _ := cmd.Flags().GetString("server")
	apiKey, _ := cmd.Flags().GetString("api-key")
	return client.NewClient(server, apiKey)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
