package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [connector-id]",
	Short: "Show sync status",
	Long: `Shows the sync status of a connector, or of all connectors if no
ID is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if syncOrchestrator == nil {
		return errors.New("sync service not configured")
	}
	if connectorStore == nil {
		return errors.New("connector store not configured")
	}

	ctx := context.Background()

	if len(args) > 0 {
		return printStatus(ctx, cmd, args[0])
	}

	connectors, err := connectorStore.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list connectors: %w", err)
	}
	if len(connectors) == 0 {
		cmd.Println("No connectors configured.")
		return nil
	}

	for i := range connectors {
		if err := printStatus(ctx, cmd, connectors[i].ID); err != nil {
			return err
		}
		cmd.Println()
	}
	return nil
}

func printStatus(ctx context.Context, cmd *cobra.Command, connectorID string) error {
	connector, err := connectorStore.Get(ctx, connectorID)
	if err != nil {
		return fmt.Errorf("failed to get connector: %w", err)
	}

	cmd.Printf("%s (%s)\n", connector.Name, connector.ID)
	cmd.Printf("  Provider: %s\n", connector.ProviderType)
	cmd.Printf("  Status:   %s\n", connector.Status)
	if connector.StatusMessage != "" {
		cmd.Printf("  Message:  %s\n", connector.StatusMessage)
	}

	status, err := syncOrchestrator.Status(ctx, connectorID)
	if err == nil && status != nil && status.Running {
		cmd.Printf("  Sync in progress: %d documents (%d errors)\n",
			status.DocumentsProcessed, status.ErrorCount)
	}

	if connector.LastSyncAt != nil {
		cmd.Printf("  Last sync: %s (%d documents)\n",
			connector.LastSyncAt.Format("2006-01-02 15:04:05"), connector.DocsAnalyzed)
	}
	return nil
}
