package googledrive

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/custodia-labs/corpus-sync/internal/core/domain"
)

// ProviderType is the registry identifier for this provider.
const ProviderType = "google_drive"

// DefaultMaxResults is the page size for Drive listing requests.
const DefaultMaxResults = 100

// DefaultMaxFileSize caps downloaded file content (50MB).
const DefaultMaxFileSize = 50 * 1024 * 1024

// Config holds Google Drive provider configuration.
type Config struct {
	// ServiceAccountKey is the service account credentials JSON.
	ServiceAccountKey string
	// UserEmails are the principals to impersonate and crawl.
	UserEmails []string
	// FolderIDs limits the folder crawl stage to specific folders
	// (optional; empty skips the folder crawl).
	FolderIDs []string
	// MimeTypeFilter limits syncing to specific MIME types (optional).
	MimeTypeFilter []string
	// MaxResults is the page size for API requests.
	MaxResults int64
	// MaxFileSize is the largest file content fetched, in bytes.
	MaxFileSize int64
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxResults:  DefaultMaxResults,
		MaxFileSize: DefaultMaxFileSize,
	}
}

// ParseConfig extracts provider configuration from a connector's
// key-value config. Unknown keys are ignored.
func ParseConfig(cfg domain.ProviderConfig) (*Config, error) {
	out := DefaultConfig()

	out.ServiceAccountKey = cfg["service_account_key"]
	if out.ServiceAccountKey == "" {
		return nil, fmt.Errorf("%w: service_account_key is required", domain.ErrInvalidInput)
	}

	if val := cfg["user_emails"]; val != "" {
		out.UserEmails = splitList(val)
	}
	if len(out.UserEmails) == 0 {
		return nil, fmt.Errorf("%w: user_emails is required", domain.ErrInvalidInput)
	}

	if val := cfg["folder_ids"]; val != "" {
		out.FolderIDs = splitList(val)
	}

	if val := cfg["mime_types"]; val != "" {
		out.MimeTypeFilter = splitList(val)
	}

	if val := cfg["max_results"]; val != "" {
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: max_results must be a positive integer", domain.ErrInvalidInput)
		}
		out.MaxResults = n
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

// MatchesMimeFilter checks whether a MIME type passes the configured
// filter. An empty filter passes everything.
func (c *Config) MatchesMimeFilter(mimeType string) bool {
	if len(c.MimeTypeFilter) == 0 {
		return true
	}
	for _, filter := range c.MimeTypeFilter {
		if mimeType == filter {
			return true
		}
	}
	return false
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
