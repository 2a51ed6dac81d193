package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/netpulse/netpulse/pkg/client"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Inspect and stop workers",
}

var workerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		queue, _ := cmd.Flags().GetString("queue")
		node, _ := cmd.Flags().GetString("node")
		host, _ := cmd.Flags().GetString("host")

		workers, err := apiClient(cmd).ListWorkers(cmd.Context(), client.WorkerQuery{
			Queue: queue,
			Node:  node,
			Host:  host,
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSTATE\tQUEUES\tLAST HEARTBEAT\tDONE\tFAILED")
		for _, info := range workers {
			state := "alive"
			if info.DeathDate != nil {
				state = "dead"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n",
				info.Name, state, strings.Join(info.Queues, ","),
				info.LastHeartbeat.Local().Format(time.RFC3339),
				info.JobsDone, info.JobsFailed)
		}
		return w.Flush()
	},
}

var workerKillCmd = &cobra.Command{
	Use:   "kill",
	Short: "Send a shutdown to one worker or a whole queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		queue, _ := cmd.Flags().GetString("queue")
		if name == "" && queue == "" {
			return fmt.Errorf("pass --name or --queue")
		}

		killed, err := apiClient(cmd).KillWorkers(cmd.Context(), name, queue)
		if err != nil {
			return err
		}
		if len(killed) == 0 {
			fmt.Println("no matching workers")
			return nil
		}
		fmt.Printf("✓ shutdown sent to %s\n", strings.Join(killed, ", "))
		return nil
	},
}

func init() {
	workerListCmd.Flags().String("queue", "", "Filter by consumed queue")
	workerListCmd.Flags().String("node", "", "Filter by node")
	workerListCmd.Flags().String("host", "", "Filter to the pinned worker of a host")

	workerKillCmd.Flags().String("name", "", "Worker name to stop")
	workerKillCmd.Flags().String("queue", "", "Stop every consumer of this queue")

	workerCmd.AddCommand(workerListCmd)
	workerCmd.AddCommand(workerKillCmd)
	rootCmd.AddCommand(workerCmd)
}
