// Package main implements the conduct CLI for operating a conductd daemon.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the conductd HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "conduct",
	Short: "CLI for conductd pipeline operations",
	Long: `conduct is a command-line interface for a running conductd daemon.
It starts and inspects pipeline runs, records gate feedback, and
validates pipeline files before deployment.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9820", "conductd server URL")
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(feedbackCmd)
	rootCmd.AddCommand(rulesCmd)
}

// healthCmd checks daemon health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check conductd daemon health",
	Long: `Check the health status of the conductd daemon.

Examples:
  # Check health
  conduct health

  # Check health on a different server
  conduct health --server http://localhost:8080`,
	RunE: runHealth,
}

// HealthResponse matches internal/httpapi HealthResponse
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

func runHealth(cmd *cobra.Command, args []string) error {
	var health HealthResponse
	if err := getJSON("/health", &health); err != nil {
		return err
	}

	fmt.Printf("Status:  %s\n", health.Status)
	fmt.Printf("Service: %s\n", health.Service)
	return nil
}

// rulesCmd shows the active gate rules
var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Show the active gate rule version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printJSON("/api/v1/rules")
	},
}

// httpClient is shared by all commands.
var httpClient = &http.Client{Timeout: 30 * time.Second}

// getJSON GETs a daemon endpoint and decodes the JSON response.
func getJSON(path string, out any) error {
	resp, err := httpClient.Get(serverURL + path)
	if err != nil {
		return fmt.Errorf("failed to reach conductd at %s: %w", serverURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body)
	}
	return json.Unmarshal(body, out)
}

// printJSON GETs a daemon endpoint and pretty-prints the JSON response.
func printJSON(path string) error {
	var raw json.RawMessage
	if err := getJSON(path, &raw); err != nil {
		return err
	}

	var buf map[string]any
	if err := json.Unmarshal(raw, &buf); err != nil {
		fmt.Println(string(raw))
		return nil
	}
	pretty, err := json.MarshalIndent(buf, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))
	return nil
}
