package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/leadfeed/internal/client"
	"github.com/dgnsrekt/leadfeed/internal/lead"
)

func submitCmd() *cobra.Command {
	var (
		file       string
		key        string
		scenarioID string
		repeat     int
	)

	cmd := &cobra.Command{
		Use:   "submit --file lead.json",
		Short: "Submit a lead through the retrying client",
		Long: `Submit a lead. Transient failures are retried with backoff and every
attempt carries the same idempotency key, so the backend records the lead
at most once.

Examples:
  # Submit from a file
  leadfeed submit --file lead.json

  # Submit twice with the same key; the second answer is deduplicated
  leadfeed submit --file lead.json --repeat 2

  # Read the payload from stdin
  cat lead.json | leadfeed submit --file -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sub, err := readSubmission(file)
			if err != nil {
				return err
			}
			if key != "" {
				sub.IdempotencyKey = key
			}
			if repeat < 1 {
				repeat = 1
			}
			return runSubmit(cmd.Context(), sub, scenarioID, repeat)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "submission JSON file, - for stdin")
	cmd.Flags().StringVar(&key, "key", "", "idempotency key (generated when empty)")
	cmd.Flags().StringVar(&scenarioID, "scenario", "", "value for the X-Scenario-Id header")
	cmd.Flags().IntVar(&repeat, "repeat", 1, "number of times to send the same submission")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readSubmission(path string) (*lead.Submission, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading submission: %w", err)
	}

	var sub lead.Submission
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("parsing submission: %w", err)
	}
	return &sub, nil
}

func runSubmit(ctx context.Context, sub *lead.Submission, scenarioID string, repeat int) error {
	api := newHTTPClient(scenarioID)

	observe := func(n client.RetryNotice) {
		fmt.Printf("retrying (%d/%d) in %s: %s\n", n.Attempt, n.MaxAttempts, n.Delay.Round(time.Millisecond), n.Reason)
	}

	for i := 1; i <= repeat; i++ {
		out, err := api.Submit(ctx, sub, observe)
		if err != nil {
			report(ctx, api, client.Event{
				EventType: "async_failure",
				Details: map[string]any{
					"operation":      "submit",
					"reason":         client.FailureReason(err),
					"attempts":       out.Attempts,
					"idempotencyKey": sub.IdempotencyKey,
				},
			})

			var ve *client.ValidationError
			if errors.As(err, &ve) {
				for group, fields := range ve.Errors {
					for field, msg := range fields {
						fmt.Printf("%s.%s: %s\n", group, field, msg)
					}
				}
			}
			return err
		}

		report(ctx, api, client.Event{
			EventType: "lead_submitted",
			Details: map[string]any{
				"trackingId":   out.TrackingID,
				"attempts":     out.Attempts,
				"deduplicated": out.Deduplicated,
			},
		})

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(struct {
			client.SubmitOutcome
			IdempotencyKey string `json:"idempotencyKey"`
		}{out, sub.IdempotencyKey}); err != nil {
			return err
		}
	}
	return nil
}

// report sends a client event; failures are only logged.
func report(ctx context.Context, api *client.HTTPClient, ev client.Event) {
	if err := api.ReportEvent(ctx, ev); err != nil {
		logger.Debug("client event not delivered", zap.String("eventType", ev.EventType), zap.Error(err))
	}
}
