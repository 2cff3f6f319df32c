package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"brokerage-mail-ingestor/internal/logging"
	"brokerage-mail-ingestor/internal/models"
)

var (
	reconcileOlderThan time.Duration
	reconcileLimit     int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one ingestion cycle and print the summary as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runIngestion(cmd, cfg)
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Re-run classification and case linking for records stuck in status new",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		summary := a.ingestor.Reconcile(cmd.Context(), reconcileOlderThan, reconcileLimit)
		if err := printSummary(cmd, summary); err != nil {
			return err
		}
		if !summary.Success {
			return fmt.Errorf("reconciliation failed")
		}
		return nil
	},
}

func init() {
	reconcileCmd.Flags().DurationVar(&reconcileOlderThan, "older-than", time.Hour, "only records created before this age")
	reconcileCmd.Flags().IntVar(&reconcileLimit, "limit", 50, "maximum number of records")
}

// runIngestion runs one cycle. With ingestion disabled it prints the empty summary
// without touching the database or the mailbox.
func runIngestion(cmd *cobra.Command, cfg *models.Config) error {
	if !cfg.Ingestion.Enabled {
		logging.Log.Info("IMAP ingestion disabled by feature flag")
		return printSummary(cmd, models.NewRunSummary())
	}

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	summary := a.ingestor.RunCycle(cmd.Context())
	if err := printSummary(cmd, summary); err != nil {
		return err
	}
	if !summary.Success {
		return fmt.Errorf("ingestion cycle failed")
	}
	return nil
}

func printSummary(cmd *cobra.Command, summary models.RunSummary) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
