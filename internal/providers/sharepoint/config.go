package sharepoint

import (
	"fmt"
	"strconv"

	"github.com/custodia-labs/corpus-sync/internal/core/domain"
)

// ProviderType is the registry identifier for this provider.
const ProviderType = "sharepoint"

// DefaultMaxFileSize caps downloaded file content (50MB).
const DefaultMaxFileSize = 50 * 1024 * 1024

// Config holds SharePoint provider configuration.
type Config struct {
	// TenantID is the Azure AD tenant.
	TenantID string
	// ClientID identifies the app registration.
	ClientID string
	// ClientSecret is the app registration's client secret.
	ClientSecret string
	// SiteSearch narrows site discovery to a search term; "*" discovers
	// every site.
	SiteSearch string
	// MaxFileSize is the largest file content fetched, in bytes.
	MaxFileSize int64
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		SiteSearch:  "*",
		MaxFileSize: DefaultMaxFileSize,
	}
}

// ParseConfig extracts provider configuration from a connector's
// key-value config. Unknown keys are ignored.
func ParseConfig(cfg domain.ProviderConfig) (*Config, error) {
	out := DefaultConfig()

	out.TenantID = cfg["tenant_id"]
	out.ClientID = cfg["client_id"]
	out.ClientSecret = cfg["client_secret"]
	if out.TenantID == "" || out.ClientID == "" || out.ClientSecret == "" {
		return nil, fmt.Errorf("%w: tenant_id, client_id and client_secret are required", domain.ErrInvalidInput)
	}

	if val := cfg["site_search"]; val != "" {
		out.SiteSearch = val
	}

	if val := cfg["max_file_size"]; val != "" {
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: max_file_size must be a positive integer", domain.ErrInvalidInput)
		}
		out.MaxFileSize = n
	}

	return out, nil
}
