package sharepoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/corpus-sync/internal/core/domain"
)

func validConfig() domain.ProviderConfig {
	return domain.ProviderConfig{
		"tenant_id":     "tenant-1",
		"client_id":     "app-1",
		"client_secret": "secret",
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig(validConfig())

	require.NoError(t, err)
	assert.Equal(t, "tenant-1", cfg.TenantID)
	assert.Equal(t, "*", cfg.SiteSearch)
	assert.Equal(t, int64(DefaultMaxFileSize), cfg.MaxFileSize)
}

func TestParseConfig_Overrides(t *testing.T) {
	raw := validConfig()
	raw["site_search"] = "engineering"
	raw["max_file_size"] = "1024"

	cfg, err := ParseConfig(raw)

	require.NoError(t, err)
	assert.Equal(t, "engineering", cfg.SiteSearch)
	assert.Equal(t, int64(1024), cfg.MaxFileSize)
}

func TestParseConfig_MissingCredentials(t *testing.T) {
	for _, key := range []string{"tenant_id", "client_id", "client_secret"} {
		raw := validConfig()
		delete(raw, key)

		_, err := ParseConfig(raw)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, key)
	}
}

func TestParseConfig_InvalidMaxFileSize(t *testing.T) {
	raw := validConfig()
	raw["max_file_size"] = "zero"

	_, err := ParseConfig(raw)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
