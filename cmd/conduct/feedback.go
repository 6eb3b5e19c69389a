package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

var (
	feedbackFindingID string
	feedbackKind      string
	feedbackVerdict   string
	feedbackReason    string
)

func init() {
	feedbackCmd.Flags().StringVar(&feedbackFindingID, "finding", "", "finding ID the correction concerns (required)")
	feedbackCmd.Flags().StringVar(&feedbackKind, "kind", "", "finding kind, e.g. sql_injection (required)")
	feedbackCmd.Flags().StringVar(&feedbackVerdict, "verdict", "", "original gate verdict (pass, warn, escalate, block)")
	feedbackCmd.Flags().StringVar(&feedbackReason, "reason", "", "free-text justification")
	_ = feedbackCmd.MarkFlagRequired("finding")
	_ = feedbackCmd.MarkFlagRequired("kind")
}

// feedbackCmd records a verdict correction
var feedbackCmd = &cobra.Command{
	Use:   "feedback <false_positive|false_negative|confirmed>",
	Short: "Record a human correction of a gate verdict",
	Long: `Record a human correction of a gate verdict. Corrections feed the
learner that revises gate rules.

Examples:
  # The gate blocked on noise
  conduct feedback false_positive --finding f-81 --kind sql_injection --verdict block

  # The gate let a real issue through
  conduct feedback false_negative --finding f-82 --kind xss --verdict pass --reason "shipped to prod"`,
	Args: cobra.ExactArgs(1),
	RunE: runFeedback,
}

// FeedbackRequest matches internal/feedback Record
type FeedbackRequest struct {
	FindingID       string `json:"finding_id"`
	FindingKind     string `json:"finding_kind"`
	OriginalVerdict string `json:"original_verdict,omitempty"`
	Correction      string `json:"correction"`
	Reason          string `json:"reason,omitempty"`
}

func runFeedback(cmd *cobra.Command, args []string) error {
	payload, err := json.Marshal(FeedbackRequest{
		FindingID:       feedbackFindingID,
		FindingKind:     feedbackKind,
		OriginalVerdict: feedbackVerdict,
		Correction:      args[0],
		Reason:          feedbackReason,
	})
	if err != nil {
		return err
	}

	resp, err := httpClient.Post(serverURL+"/api/v1/feedback", "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to reach conductd at %s: %w", serverURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body)
	}

	var stored struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &stored); err != nil {
		return err
	}
	fmt.Printf("Feedback recorded: %s\n", stored.ID)
	return nil
}
