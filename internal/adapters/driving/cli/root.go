// Package cli implements the command-line interface.
package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/corpus-sync/internal/core/ports/driven"
	"github.com/custodia-labs/corpus-sync/internal/core/ports/driving"
	"github.com/custodia-labs/corpus-sync/internal/logger"
)

// version is set at build time via ldflags.
var version = "dev"

// Services injected by the composition root before Execute.
var (
	syncOrchestrator driving.SyncOrchestrator
	connectorStore   driven.ConnectorStore
	providerFactory  driven.ProviderFactory
)

// Persistent flags.
var (
	verboseFlag bool
	dataDirFlag string
)

var rootCmd = &cobra.Command{
	Use:   "corpus-sync",
	Short: "Synchronise documents from external sources",
	Long: `corpus-sync pulls documents and their access permissions from
configured sources (Google Drive, SharePoint) into a local corpus.

Syncs are resumable: progress is checkpointed as items stream in, so an
interrupted sync continues where it left off instead of starting over.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(verboseFlag)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(
		&verboseFlag, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(
		&dataDirFlag, "data-dir", "", "Override the data directory")
}

// Dependencies carries the services the commands need.
type Dependencies struct {
	SyncOrchestrator driving.SyncOrchestrator
	ConnectorStore   driven.ConnectorStore
	ProviderFactory  driven.ProviderFactory
	Version          string
}

// Initialize wires the commands to their services. Must be called
// before Execute.
func Initialize(deps Dependencies) {
	syncOrchestrator = deps.SyncOrchestrator
	connectorStore = deps.ConnectorStore
	providerFactory = deps.ProviderFactory
	if deps.Version != "" {
		version = deps.Version
	}
}

// DataDir scans args for the --data-dir flag so the composition root
// can open storage before Execute. Execute re-parses and reports any
// flag errors properly.
func DataDir(args []string) string {
	for i, arg := range args {
		if arg == "--data-dir" && i+1 < len(args) {
			return args[i+1]
		}
		if v, ok := strings.CutPrefix(arg, "--data-dir="); ok {
			return v
		}
	}
	return ""
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with the given context so a
// signal can cancel in-flight syncs.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
