// Command corpus-sync synchronises documents and permissions from
// external sources into a local corpus.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	configfile "github.com/custodia-labs/corpus-sync/internal/adapters/driven/config/file"
	"github.com/custodia-labs/corpus-sync/internal/adapters/driven/ingest"
	"github.com/custodia-labs/corpus-sync/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/corpus-sync/internal/adapters/driving/cli"
	"github.com/custodia-labs/corpus-sync/internal/core/ports/driven"
	"github.com/custodia-labs/corpus-sync/internal/core/services"
	"github.com/custodia-labs/corpus-sync/internal/providers/googledrive"
	"github.com/custodia-labs/corpus-sync/internal/providers/sharepoint"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	settingsStore, err := configfile.NewSettingsStore("")
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}
	settings := settingsStore.Settings()

	// --data-dir wins over the config file.
	dataDir := cli.DataDir(os.Args[1:])
	if dataDir == "" {
		dataDir = settings.DataDir
	}

	store, err := sqlite.NewStore(dataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	factory := services.NewProviderFactory()
	factory.Register(googledrive.ProviderType, func() driven.Provider {
		return googledrive.New()
	})
	factory.Register(sharepoint.ProviderType, func() driven.Provider {
		return sharepoint.New()
	})

	orchestrator := services.NewSyncOrchestrator(
		store.ConnectorStore(),
		store.CheckpointStore(),
		factory,
		ingest.NewLogPublisher(),
		services.WithPersistEvery(settings.PersistEvery),
		services.WithMaxConcurrentSyncs(settings.MaxConcurrentSyncs),
		services.WithRetryPolicy(services.RetryPolicy{
			MaxRetries:  uint64(settings.MaxRetries),
			BaseBackoff: services.DefaultRetryPolicy.BaseBackoff,
		}),
	)

	cli.Initialize(cli.Dependencies{
		SyncOrchestrator: orchestrator,
		ConnectorStore:   store.ConnectorStore(),
		ProviderFactory:  factory,
		Version:          version,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return cli.ExecuteContext(ctx)
}
