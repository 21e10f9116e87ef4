package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"conventionflow/broadcast"
	"conventionflow/db"
	"conventionflow/resync"
)

func main() {
	var limit int

	cmd := &cobra.Command{
		Use:          "resync",
		Short:        "Replay partner broadcast for the convention backlog",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of backlog rows to process")
	if err := cmd.MarkFlagRequired("limit"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, limit int) error {
	ctx := cmd.Context()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	pool, err := db.NewPool(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		return fmt.Errorf("bootstrap database pool: %w", err)
	}
	defer pool.Close()

	flags := broadcast.FeatureFlags{
		EnableStandardFormatBroadcastToPartner: os.Getenv("ENABLE_STANDARD_FORMAT_BROADCAST_TO_PARTNER") == "true",
		EnableBroadcastToMissionLocale:         os.Getenv("ENABLE_BROADCAST_TO_MISSION_LOCALE") == "true",
		EnableBroadcastToCapEmploi:             os.Getenv("ENABLE_BROADCAST_TO_CAP_EMPLOI") == "true",
		EnableBroadcastToConseilDepartemental:  os.Getenv("ENABLE_BROADCAST_TO_CONSEIL_DEPARTEMENTAL") == "true",
	}

	ledger := broadcast.NewLedger(pool)
	backlog := resync.NewRepository(pool)
	gateway := broadcast.NewPartnerGateway(broadcast.PartnerGatewayConfig{
		LegacyURL:    os.Getenv("PARTNER_LEGACY_URL"),
		StandardURL:  os.Getenv("PARTNER_STANDARD_URL"),
		APIKey:       os.Getenv("PARTNER_API_KEY"),
		Timeout:      30 * time.Second,
		AllowedKinds: flags.AllowedAgencyKinds(),
	}, ledger, backlog, logger)

	orchestrator := broadcast.NewOrchestrator(gateway, flags, logger)
	loader := broadcast.NewRequestLoader(pool)

	job := resync.NewJob(backlog, loader, orchestrator, logger)
	report, err := job.Run(ctx, limit)
	if err != nil {
		return err
	}

	// Row-level failures are part of the report, not a process failure.
	logger.Info("resync report", "success", report.Success)
	for id, reason := range report.Skips {
		logger.Info("convention skipped", "convention_id", id, "reason", reason)
	}
	for id, rowErr := range report.Errors {
		logger.Error("convention errored", "convention_id", id, "error", rowErr)
	}

	return nil
}
