package sharepoint

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/custodia-labs/corpus-sync/internal/core/domain"
)

// DefaultBaseURL is the Microsoft Graph v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// defaultRetryAfter is the backoff applied to a throttled response
// without a Retry-After header.
const defaultRetryAfter = 60 * time.Second

// Client is a thin Microsoft Graph REST client. The base URL is
// swappable for tests.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a Graph client using the given HTTP client, which
// is expected to inject bearer tokens (see newAuthenticatedClient).
func NewClient(httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{httpClient: httpClient, baseURL: strings.TrimRight(baseURL, "/")}
}

// newAuthenticatedClient builds an HTTP client that obtains app-only
// tokens via the OAuth2 client credentials flow.
func newAuthenticatedClient(ctx context.Context, cfg *Config) *http.Client {
	creds := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.TenantID),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	return creds.Client(ctx)
}

// resolve turns a path into an absolute URL. Delta and next links are
// already absolute and pass through unchanged.
func (c *Client) resolve(pathOrURL string) string {
	if strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://") {
		return pathOrURL
	}
	return c.baseURL + pathOrURL
}

// GetJSON performs a GET request and decodes the JSON response body.
func (c *Client) GetJSON(ctx context.Context, pathOrURL string, out any) error {
	resp, err := c.get(ctx, pathOrURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.NewDownloadError("decode graph response", err)
	}
	return nil
}

// GetContent performs a GET request and returns the raw body, refusing
// payloads over the limit.
func (c *Client) GetContent(ctx context.Context, pathOrURL, name string, limit int64) ([]byte, error) {
	resp, err := c.get(ctx, pathOrURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, domain.NewDownloadError("read content "+name, err)
	}
	if int64(len(data)) > limit {
		return nil, domain.NewFileTooLargeError(name, int64(len(data)), limit)
	}
	return data, nil
}

func (c *Client) get(ctx context.Context, pathOrURL string) (*http.Response, error) {
	url := c.resolve(pathOrURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, domain.NewDownloadError("create graph request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewDownloadError("graph request "+pathOrURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, classifyStatus(pathOrURL, resp)
	}
	return resp, nil
}

// classifyStatus maps a non-200 Graph response to a typed sync error.
func classifyStatus(op string, resp *http.Response) error {
	msg := fmt.Sprintf("%s: graph returned %d", op, resp.StatusCode)
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.NewAuthenticationError(msg, nil)
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return domain.NewRateLimitError(msg, retryAfterHeader(resp.Header), nil)
	case http.StatusGone:
		// Delta token expired: the stored link is unusable.
		return domain.NewCheckpointError(msg+" (delta link expired)", nil)
	default:
		return domain.NewDownloadError(msg, nil)
	}
}

// retryAfterHeader extracts the Retry-After hint from a throttled
// response.
func retryAfterHeader(header http.Header) time.Duration {
	val := header.Get("Retry-After")
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

// Graph response shapes, limited to the fields the crawl needs.

type sitePage struct {
	Value    []graphSite `json:"value"`
	NextLink string      `json:"@odata.nextLink"`
}

type graphSite struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	WebURL      string `json:"webUrl"`
}

type drivePage struct {
	Value    []graphDrive `json:"value"`
	NextLink string       `json:"@odata.nextLink"`
}

type graphDrive struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type deltaPage struct {
	Value     []driveItem `json:"value"`
	NextLink  string      `json:"@odata.nextLink"`
	DeltaLink string      `json:"@odata.deltaLink"`
}

type driveItem struct {
	ID                   string            `json:"id"`
	Name                 string            `json:"name"`
	Size                 int64             `json:"size"`
	WebURL               string            `json:"webUrl"`
	LastModifiedDateTime time.Time         `json:"lastModifiedDateTime"`
	File                 *itemFileFacet    `json:"file"`
	Folder               *itemFolderFacet  `json:"folder"`
	Deleted              *itemDeletedFacet `json:"deleted"`
	ParentReference      *parentReference  `json:"parentReference"`
}

type itemFileFacet struct {
	MimeType string      `json:"mimeType"`
	Hashes   *itemHashes `json:"hashes"`
}

type itemHashes struct {
	QuickXorHash string `json:"quickXorHash"`
	SHA1Hash     string `json:"sha1Hash"`
}

type itemFolderFacet struct {
	ChildCount int64 `json:"childCount"`
}

type itemDeletedFacet struct {
	State string `json:"state"`
}

type parentReference struct {
	ID      string `json:"id"`
	DriveID string `json:"driveId"`
}

type permissionPage struct {
	Value    []graphPermission `json:"value"`
	NextLink string            `json:"@odata.nextLink"`
}

type graphPermission struct {
	Link                  *permissionLink `json:"link"`
	GrantedToV2           *identitySet    `json:"grantedToV2"`
	GrantedToIdentitiesV2 []identitySet   `json:"grantedToIdentitiesV2"`
}

type permissionLink struct {
	Scope string `json:"scope"`
}

type identitySet struct {
	User  *identity `json:"user"`
	Group *identity `json:"group"`
}

type identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}
