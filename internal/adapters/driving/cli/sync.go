package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/corpus-sync/internal/core/ports/driving"
)

var syncCmd = &cobra.Command{
	Use:   "sync [connector-id]",
	Short: "Synchronise documents from connectors",
	Long: `Triggers document synchronisation from configured connectors.
If a connector ID is provided, only that connector is synchronised.
Otherwise, all connectors are synchronised.

Interrupted syncs resume from their last checkpoint on the next run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	if syncOrchestrator == nil {
		return errors.New("sync service not configured")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if len(args) > 0 {
		connectorID := args[0]
		cmd.Printf("Synchronising connector: %s...\n", connectorID)

		if err := syncWithProgress(ctx, cmd, syncOrchestrator, connectorID); err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		cmd.Printf("Connector %s synchronised successfully.\n", connectorID)
		return nil
	}

	cmd.Println("Synchronising all connectors...")

	if err := syncOrchestrator.SyncAll(ctx); err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	cmd.Println("All connectors synchronised successfully.")
	return nil
}

// syncWithProgress runs sync while displaying progress updates.
func syncWithProgress(
	ctx context.Context,
	cmd *cobra.Command,
	syncOrch driving.SyncOrchestrator,
	connectorID string,
) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- syncOrch.Sync(ctx, connectorID)
	}()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	lastCount := 0
	for {
		select {
		case err := <-errCh:
			// Final status is best effort.
			status, statusErr := syncOrch.Status(ctx, connectorID)
			if statusErr == nil && status != nil && status.DocumentsProcessed > 0 {
				cmd.Printf("\rProcessed %d documents (%d errors)\n",
					status.DocumentsProcessed, status.ErrorCount)
			}
			return err
		case <-ticker.C:
			status, statusErr := syncOrch.Status(ctx, connectorID)
			if statusErr == nil && status != nil && status.DocumentsProcessed > lastCount {
				cmd.Printf("\rProcessing... %d documents", status.DocumentsProcessed)
				lastCount = status.DocumentsProcessed
			}
		}
	}
}
