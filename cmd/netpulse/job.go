package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/netpulse/netpulse/pkg/client"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect and cancel jobs",
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		queue, _ := cmd.Flags().GetString("queue")
		status, _ := cmd.Flags().GetString("status")
		node, _ := cmd.Flags().GetString("node")
		host, _ := cmd.Flags().GetString("host")

		jobs, err := apiClient(cmd).ListJobs(cmd.Context(), client.JobQuery{
			Queue:  queue,
			Status: status,
			Node:   node,
			Host:   host,
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tQUEUE\tHOST\tWORKER\tCREATED")
		for _, job := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				job.JobID, job.Status, job.Queue, job.Host, job.Worker,
				job.CreatedAt.Local().Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var jobGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Print one job record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := apiClient(cmd).GetJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(job, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var jobCancelCmd = &cobra.Command{
	Use:   "cancel [ID...]",
	Short: "Cancel queued jobs by id, queue, or host",
	RunE: func(cmd *cobra.Command, args []string) error {
		queue, _ := cmd.Flags().GetString("queue")
		host, _ := cmd.Flags().GetString("host")
		if len(args) == 0 && queue == "" && host == "" {
			return fmt.Errorf("pass job ids, --queue, or --host")
		}

		canceled, err := apiClient(cmd).CancelJobs(cmd.Context(), client.CancelQuery{
			IDs:   args,
			Queue: queue,
			Host:  host,
		})
		if err != nil {
			return err
		}
		if len(canceled) == 0 {
			fmt.Println("nothing to cancel")
			return nil
		}
		fmt.Printf("✓ canceled %s\n", strings.Join(canceled, ", "))
		return nil
	},
}

func init() {
	jobListCmd.Flags().String("queue", "", "Filter by queue name")
	jobListCmd.Flags().String("status", "", "Filter by status (queued, started, finished, failed, canceled)")
	jobListCmd.Flags().String("node", "", "Filter by owning node")
	jobListCmd.Flags().String("host", "", "Filter by target device host")

	jobCancelCmd.Flags().String("queue", "", "Cancel every queued job on a queue")
	jobCancelCmd.Flags().String("host", "", "Cancel every queued job for a host")

	jobCmd.AddCommand(jobListCmd)
	jobCmd.AddCommand(jobGetCmd)
	jobCmd.AddCommand(jobCancelCmd)
	rootCmd.AddCommand(jobCmd)
}
