package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/netpulse/netpulse/pkg/client"
	"github.com/netpulse/netpulse/pkg/types"
)

var executeCmd = &cobra.Command{
	Use:   "execute",
	Short: "Dispatch a request file to one or many devices",
	Long: `Dispatch an execution request read from a YAML file.

A file with a devices list is dispatched as a bulk request; otherwise it
must carry connection_args for a single device.

Examples:
  # One device
  netpulse execute -f request.yaml

  # Dispatch and wait for the result
  netpulse execute -f request.yaml --wait`,
	RunE: runExecute,
}

var testConnectionCmd = &cobra.Command{
	Use:   "test-connection",
	Short: "Probe a device connection through the controller",
	RunE: func(cmd *cobra.Command, args []string) error {
		filename, _ := cmd.Flags().GetString("file")
		data, err := os.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("failed to read file: %v", err)
		}
		var req types.ExecutionRequest
		if err := yaml.Unmarshal(data, &req); err != nil {
			return fmt.Errorf("failed to parse YAML: %v", err)
		}

		info, err := apiClient(cmd).TestConnection(cmd.Context(), &req)
		if err != nil {
			return err
		}
		fmt.Printf("✓ %s via %s (%s)\n", info.Host, info.Transport, info.Driver)
		if info.Prompt != "" {
			fmt.Printf("  prompt:   %s\n", info.Prompt)
		}
		fmt.Printf("  duration: %.3fs\n", info.Duration)
		return nil
	},
}

func init() {
	executeCmd.Flags().StringP("file", "f", "", "YAML request file (required)")
	executeCmd.Flags().Bool("wait", false, "Poll until jobs finish and print their results")
	executeCmd.Flags().Duration("wait-timeout", 5*time.Minute, "How long --wait polls before giving up")
	_ = executeCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(executeCmd)

	testConnectionCmd.Flags().StringP("file", "f", "", "YAML request file (required)")
	_ = testConnectionCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(testConnectionCmd)
}

func runExecute(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %v", err)
	}

	var batch types.BatchExecutionRequest
	if err := yaml.Unmarshal(data, &batch); err != nil {
		return fmt.Errorf("failed to parse YAML: %v", err)
	}

	c := apiClient(cmd)
	ctx := cmd.Context()
	wait, _ := cmd.Flags().GetBool("wait")
	timeout, _ := cmd.Flags().GetDuration("wait-timeout")

	if len(batch.Devices) > 0 {
		resp, err := c.ExecuteBulk(ctx, &batch)
		if err != nil {
			return err
		}
		for _, job := range resp.Succeeded {
			fmt.Printf("✓ %s queued as %s on %s\n", job.Host, job.JobID, job.Queue)
		}
		for _, item := range resp.Failed {
			fmt.Printf("✗ %s: %s\n", item.Host, item.Reason)
		}
		if wait {
			for _, job := range resp.Succeeded {
				if err := waitAndPrint(ctx, c, job.JobID, timeout); err != nil {
					return err
				}
			}
		}
		if len(resp.Failed) > 0 {
			return fmt.Errorf("%d device(s) failed to dispatch", len(resp.Failed))
		}
		return nil
	}

	job, err := c.Execute(ctx, &batch.ExecutionRequest)
	if err != nil {
		return err
	}
	fmt.Printf("✓ queued as %s on %s\n", job.JobID, job.Queue)
	if wait {
		return waitAndPrint(ctx, c, job.JobID, timeout)
	}
	return nil
}

// waitAndPrint polls the job until it reaches a terminal status, then
// prints the full record. A failed job fails the command too.
func waitAndPrint(ctx context.Context, c *client.Client, id string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		job, err := c.GetJob(ctx, id)
		if err != nil {
			return err
		}
		if job.Status.Terminal() {
			out, err := json.MarshalIndent(job, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			if job.Status == types.JobStatusFailed {
				return fmt.Errorf("job %s failed", id)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for job %s (last status %s)", id, job.Status)
		case <-ticker.C:
		}
	}
}
