package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/gsc-tracker/internal/clock/system"
	"github.com/JakeFAU/gsc-tracker/internal/logging"
	"github.com/JakeFAU/gsc-tracker/internal/retention"
	"github.com/JakeFAU/gsc-tracker/internal/server"
)

// openStore is replaced in tests.
var openStore = server.OpenStore

func newPurgeCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "purge-trash",
		Short: "Permanently deletes clusters and links trashed past the retention period",
		Long: `Removes every cluster and link that has been in the trash longer than
trash.retention_days, together with their stored performance rows. Meant to
run from a scheduler such as Cloud Scheduler or cron.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPurgeCommand(cmd, days)
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "override trash.retention_days for this run")
	return cmd
}

func runPurgeCommand(cmd *cobra.Command, days int) error {
	cfg, err := resolveConfig(cmd.Context())
	if err != nil {
		return err
	}
	if days < 0 {
		return fmt.Errorf("--days must be >= 0")
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	st, closeStore, err := openStore(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 5*time.Second)
		defer cancel()
		if cerr := closeStore(ctx); cerr != nil {
			logger.Warn("store close failed", zap.Error(cerr))
		}
	}()

	keep := cfg.TrashRetention()
	if days > 0 {
		keep = time.Duration(days) * 24 * time.Hour
	}
	res, err := retention.New(st, system.New(), keep, logger.Named("retention")).Sweep(cmd.Context())
	logger.Info("trash purge finished",
		zap.Int("clusters", res.Clusters),
		zap.Int("links", res.Links),
		zap.Duration("retention", keep),
		zap.Error(err),
	)
	if encErr := json.NewEncoder(cmd.OutOrStdout()).Encode(res); encErr != nil {
		return encErr
	}
	return err
}
