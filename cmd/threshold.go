package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"procodus.dev/energy-replay/internal/store"
)

var thresholdCmd = &cobra.Command{
	Use:   "threshold",
	Short: "Compute and store peak thresholds",
	Long: `Compute the peak threshold of each building from its full history and
store it, replacing any previous value. The stored rows are printed as JSON.`,
	RunE: runThreshold,
}

func init() {
	rootCmd.AddCommand(thresholdCmd)

	thresholdCmd.Flags().IntSlice("building-id", []int{74}, "building ids (repeatable or comma separated)")
}

func runThreshold(cmd *cobra.Command, _ []string) error {
	logger := GetLogger()

	ids, err := cmd.Flags().GetIntSlice("building-id")
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id <= 0 {
			return fmt.Errorf("invalid building id %d", id)
		}
	}

	db, err := store.Open(storeConfig(logger))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	enc := json.NewEncoder(os.Stdout)
	var errs error
	for _, id := range ids {
		threshold, err := db.EnsureThreshold(ctx, id)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("building %d: %w", id, err))
			continue
		}
		if threshold == nil {
			logger.Warn("building has no history, threshold not stored", "building_id", id)
			continue
		}
		if err := enc.Encode(threshold); err != nil {
			return fmt.Errorf("failed to print threshold: %w", err)
		}
	}

	return errs
}
