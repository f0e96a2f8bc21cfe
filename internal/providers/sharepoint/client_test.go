package sharepoint

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/corpus-sync/internal/core/domain"
)

func TestClient_GetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sites", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"value":[{"id":"site-1","displayName":"Engineering","webUrl":"https://sp/eng"}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.Client(), srv.URL)
	var page sitePage
	require.NoError(t, client.GetJSON(context.Background(), "/sites", &page))

	require.Len(t, page.Value, 1)
	assert.Equal(t, "site-1", page.Value[0].ID)
	assert.Equal(t, "Engineering", page.Value[0].DisplayName)
}

func TestClient_ResolvePassesAbsoluteURLs(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient(srv.Client(), "https://unreachable.example.com")
	var out map[string]any
	require.NoError(t, client.GetJSON(context.Background(), srv.URL+"/delta", &out))
	assert.Equal(t, 1, hits)
}

func TestClient_StatusClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		category domain.ErrorCategory
	}{
		{"unauthorized", http.StatusUnauthorized, domain.CategoryAuthentication},
		{"forbidden", http.StatusForbidden, domain.CategoryAuthentication},
		{"throttled", http.StatusTooManyRequests, domain.CategoryRateLimit},
		{"unavailable", http.StatusServiceUnavailable, domain.CategoryRateLimit},
		{"delta expired", http.StatusGone, domain.CategoryCheckpoint},
		{"server error", http.StatusInternalServerError, domain.CategoryDownload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			client := NewClient(srv.Client(), srv.URL)
			var out map[string]any
			err := client.GetJSON(context.Background(), "/whatever", &out)
			require.Error(t, err)
			assert.True(t, domain.CategoryIs(err, tt.category))
		})
	}
}

func TestClient_RetryAfterHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "15")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(srv.Client(), srv.URL)
	var out map[string]any
	err := client.GetJSON(context.Background(), "/whatever", &out)

	require.Error(t, err)
	assert.Equal(t, 15*time.Second, domain.RetryAfterHint(err))
}

func TestClient_GetContentSizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	client := NewClient(srv.Client(), srv.URL)

	_, err := client.GetContent(context.Background(), "/content", "big.bin", 1024)
	require.Error(t, err)
	assert.True(t, domain.CategoryIs(err, domain.CategoryFileTooLarge))

	data, err := client.GetContent(context.Background(), "/content", "ok.bin", 4096)
	require.NoError(t, err)
	assert.Len(t, data, 2048)
}

func TestRetryAfterHeader(t *testing.T) {
	assert.Equal(t, defaultRetryAfter, retryAfterHeader(http.Header{}))
	assert.Equal(t, 30*time.Second, retryAfterHeader(http.Header{"Retry-After": []string{"30"}}))

	at := time.Now().Add(90 * time.Second).UTC()
	hint := retryAfterHeader(http.Header{"Retry-After": []string{at.Format(http.TimeFormat)}})
	assert.Greater(t, hint, time.Minute)
	assert.LessOrEqual(t, hint, 90*time.Second)
}
