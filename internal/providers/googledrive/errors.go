package googledrive

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/custodia-labs/corpus-sync/internal/core/domain"
)

// defaultRetryAfter is the backoff applied to a 429 without a
// Retry-After header.
const defaultRetryAfter = 60 * time.Second

// classifyError converts a Google API error into a typed sync error so
// the orchestrator can decide retry policy without string parsing.
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}

	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return domain.NewDownloadError(op, err)
	}

	switch gerr.Code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.NewAuthenticationError(op, err)
	case http.StatusTooManyRequests:
		return domain.NewRateLimitError(op, retryAfterHeader(gerr), err)
	case http.StatusGone:
		// Changes token expired: the stored sync state is no longer
		// usable and needs a full resync.
		return domain.NewCheckpointError(op+": changes token expired", err)
	default:
		return domain.NewDownloadError(op, err)
	}
}

// classifyPermissionError is classifyError for permission lookups,
// which map transient failures to the permission-fetch category.
func classifyPermissionError(op string, err error) error {
	if err == nil {
		return nil
	}
	classified := classifyError(op, err)
	var serr *domain.SyncError
	if errors.As(classified, &serr) && serr.Category == domain.CategoryDownload {
		return domain.NewPermissionFetchError(op, err)
	}
	return classified
}

// retryAfterHeader extracts the Retry-After hint from a 429 response.
func retryAfterHeader(gerr *googleapi.Error) time.Duration {
	val := gerr.Header.Get("Retry-After")
	if val == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(val); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(val); err == nil {
		if until := time.Until(at); until > 0 {
			return until
		}
	}
	return defaultRetryAfter
}
