package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var waitForRun bool

func init() {
	runCmd.Flags().BoolVar(&waitForRun, "wait", false, "wait for the run to finish and print its report")
}

// runCmd starts a pipeline run
var runCmd = &cobra.Command{
	Use:   "run <code-context>",
	Short: "Start a pipeline run for a change set",
	Long: `Start a pipeline run for the given code context (typically a commit SHA).

Examples:
  # Fire and forget
  conduct run 4f2a91c

  # Block until the run finishes and print the outcome report
  conduct run 4f2a91c --wait`,
	Args: cobra.ExactArgs(1),
	RunE: runStart,
}

// statusCmd shows the outcome report of a run
var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show the outcome report of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return printJSON("/api/v1/runs/" + args[0] + "/report")
	},
}

// cancelCmd cancels a live run
var cancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Cancel a live run",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

// StartRunRequest matches internal/httpapi StartRunRequest
type StartRunRequest struct {
	CodeContext string `json:"code_context"`
}

// runSummary is the subset of the run record the CLI reports.
type runSummary struct {
	ID          string `json:"id"`
	State       string `json:"state"`
	Reason      string `json:"reason"`
	FailedStage string `json:"failed_stage"`
}

func runStart(cmd *cobra.Command, args []string) error {
	payload, err := json.Marshal(StartRunRequest{CodeContext: args[0]})
	if err != nil {
		return err
	}

	resp, err := httpClient.Post(serverURL+"/api/v1/runs", "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to reach conductd at %s: %w", serverURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body)
	}

	var run runSummary
	if err := json.Unmarshal(body, &run); err != nil {
		return err
	}
	fmt.Printf("Run started: %s\n", run.ID)

	if !waitForRun {
		return nil
	}
	return waitAndReport(run.ID)
}

// waitAndReport polls the run until it reaches a terminal state, then
// prints its outcome report.
func waitAndReport(runID string) error {
	terminal := map[string]bool{
		"succeeded": true, "blocked": true, "failed": true,
		"rolled_back": true, "cancelled": true,
	}

	for {
		var run runSummary
		if err := getJSON("/api/v1/runs/"+runID, &run); err != nil {
			return err
		}
		if terminal[run.State] {
			fmt.Printf("Run %s: %s", runID, run.State)
			if run.Reason != "" {
				fmt.Printf(" (%s)", run.Reason)
			}
			fmt.Println()
			return printJSON("/api/v1/runs/" + runID + "/report")
		}
		time.Sleep(time.Second)
	}
}

func runCancel(cmd *cobra.Command, args []string) error {
	resp, err := httpClient.Post(serverURL+"/api/v1/runs/"+args[0]+"/cancel", "application/json", nil)
	if err != nil {
		return fmt.Errorf("failed to reach conductd at %s: %w", serverURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body)
	}
	fmt.Printf("Cancellation requested for run %s\n", args[0])
	return nil
}
