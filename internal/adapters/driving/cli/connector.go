package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/custodia-labs/corpus-sync/internal/core/domain"
)

var connectorCmd = &cobra.Command{
	Use:   "connector",
	Short: "Manage connectors",
	Long: `Add, list, and remove connectors.

A connector binds a provider type to its credentials and sync scope.

Examples:
  # Add a Google Drive connector
  corpus-sync connector add google_drive --name "Engineering Drive" \
    -c service_account_key=@key.json \
    -c user_emails=alice@example.com,bob@example.com

  # Add a SharePoint connector
  corpus-sync connector add sharepoint --name "Intranet" \
    -c tenant_id=xxx -c client_id=yyy -c client_secret=zzz

  # List configured connectors
  corpus-sync connector list`,
}

var connectorAddCmd = &cobra.Command{
	Use:   "add [provider-type]",
	Short: "Add a new connector",
	Args:  cobra.ExactArgs(1),
	RunE:  runConnectorAdd,
}

var connectorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured connectors",
	RunE:  runConnectorList,
}

var connectorShowCmd = &cobra.Command{
	Use:   "show [connector-id]",
	Short: "Show a connector's details",
	Args:  cobra.ExactArgs(1),
	RunE:  runConnectorShow,
}

var connectorRemoveCmd = &cobra.Command{
	Use:   "remove [connector-id]",
	Short: "Remove a connector and its checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runConnectorRemove,
}

// Flags for connector add.
var (
	connectorAddName   string
	connectorAddConfig []string
)

func init() {
	connectorAddCmd.Flags().StringVar(
		&connectorAddName, "name", "", "Human-readable name for the connector")
	connectorAddCmd.Flags().StringArrayVarP(
		&connectorAddConfig, "config", "c", nil, "Provider config as key=value (repeatable)")

	connectorCmd.AddCommand(connectorAddCmd)
	connectorCmd.AddCommand(connectorListCmd)
	connectorCmd.AddCommand(connectorShowCmd)
	connectorCmd.AddCommand(connectorRemoveCmd)
	rootCmd.AddCommand(connectorCmd)
}

func runConnectorAdd(cmd *cobra.Command, args []string) error {
	if connectorStore == nil {
		return errors.New("connector store not configured")
	}
	if providerFactory == nil {
		return errors.New("provider factory not configured")
	}

	providerType := args[0]
	supported := providerFactory.SupportedTypes()
	if !slices.Contains(supported, providerType) {
		return fmt.Errorf("unknown provider type %q (supported: %s)",
			providerType, strings.Join(supported, ", "))
	}

	config, err := parseConfigFlags(connectorAddConfig)
	if err != nil {
		return err
	}

	name := connectorAddName
	if name == "" {
		name = providerType
	}

	now := time.Now()
	connector := domain.Connector{
		ID:           uuid.NewString(),
		Name:         name,
		ProviderType: providerType,
		Config:       config,
		Status:       domain.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := connectorStore.Save(context.Background(), connector); err != nil {
		return fmt.Errorf("failed to save connector: %w", err)
	}

	cmd.Printf("Connector added: %s\n", connector.ID)
	cmd.Printf("  Name:     %s\n", connector.Name)
	cmd.Printf("  Provider: %s\n", connector.ProviderType)
	cmd.Println("\nRun 'corpus-sync sync " + connector.ID + "' to start syncing.")
	return nil
}

func runConnectorList(cmd *cobra.Command, _ []string) error {
	if connectorStore == nil {
		return errors.New("connector store not configured")
	}

	connectors, err := connectorStore.List(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list connectors: %w", err)
	}

	if len(connectors) == 0 {
		cmd.Println("No connectors configured.")
		cmd.Println("Run 'corpus-sync connector add' to add one.")
		return nil
	}

	cmd.Println("Configured connectors:")
	cmd.Println()
	for i := range connectors {
		printConnector(cmd, &connectors[i])
		cmd.Println()
	}
	cmd.Printf("Total: %d connectors\n", len(connectors))
	return nil
}

func runConnectorShow(cmd *cobra.Command, args []string) error {
	if connectorStore == nil {
		return errors.New("connector store not configured")
	}

	connector, err := connectorStore.Get(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get connector: %w", err)
	}

	printConnector(cmd, connector)

	if len(connector.Config) > 0 {
		cmd.Println("\n  Config:")
		keys := make([]string, 0, len(connector.Config))
		for k := range connector.Config {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			cmd.Printf("    %s: %s\n", k, redactConfigValue(k, connector.Config[k]))
		}
	}
	return nil
}

func runConnectorRemove(cmd *cobra.Command, args []string) error {
	if connectorStore == nil {
		return errors.New("connector store not configured")
	}

	id := args[0]
	if err := connectorStore.Delete(context.Background(), id); err != nil {
		return fmt.Errorf("failed to remove connector: %w", err)
	}

	cmd.Printf("Connector removed: %s\n", id)
	return nil
}

func printConnector(cmd *cobra.Command, c *domain.Connector) {
	cmd.Printf("  %s\n", c.ID)
	cmd.Printf("    Name:     %s\n", c.Name)
	cmd.Printf("    Provider: %s\n", c.ProviderType)
	cmd.Printf("    Status:   %s\n", c.Status)
	if c.StatusMessage != "" {
		cmd.Printf("    Message:  %s\n", c.StatusMessage)
	}
	if c.LastSyncAt != nil {
		cmd.Printf("    Last sync: %s (%d documents)\n",
			c.LastSyncAt.Format("2006-01-02 15:04:05"), c.DocsAnalyzed)
	}
}

// parseConfigFlags turns repeated key=value flags into provider config.
// A value of the form @path is replaced with the file's contents, which
// is how service account keys are normally supplied.
func parseConfigFlags(pairs []string) (domain.ProviderConfig, error) {
	config := make(domain.ProviderConfig, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid config flag %q, expected key=value", pair)
		}
		if path, ok := strings.CutPrefix(value, "@"); ok {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("reading config value for %s: %w", key, err)
			}
			value = string(data)
		}
		config[key] = value
	}
	return config, nil
}

// redactConfigValue hides credential values in output.
func redactConfigValue(key, value string) string {
	switch key {
	case "service_account_key", "client_secret":
		return "(redacted)"
	}
	return value
}
