package googledrive

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/custodia-labs/corpus-sync/internal/core/domain"
)

// driveScopes are the OAuth scopes needed for crawling and permission
// lookups.
var driveScopes = []string{drive.DriveReadonlyScope}

// serviceAccountKey is the subset of the credentials JSON we validate.
type serviceAccountKey struct {
	Type        string `json:"type"`
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
}

// validateServiceAccountKey checks the credentials JSON is a plausible
// service account key before any network call.
func validateServiceAccountKey(keyData []byte) error {
	var key serviceAccountKey
	if err := json.Unmarshal(keyData, &key); err != nil {
		return domain.NewAuthenticationError("parse service account key", err)
	}
	if key.Type != "service_account" {
		return domain.NewAuthenticationError(
			fmt.Sprintf("invalid service account key type %q", key.Type), nil)
	}
	if key.ClientEmail == "" || key.PrivateKey == "" {
		return domain.NewAuthenticationError("service account key missing client_email or private_key", nil)
	}
	return nil
}

// newDriveService builds a Drive API client impersonating the given
// user via domain-wide delegation.
func newDriveService(ctx context.Context, keyData []byte, impersonateUser string) (*drive.Service, error) {
	if !strings.Contains(impersonateUser, "@") {
		return nil, domain.NewAuthenticationError(
			fmt.Sprintf("impersonation subject %q is not an email address", impersonateUser), nil)
	}

	creds, err := google.CredentialsFromJSONWithParams(ctx, keyData, google.CredentialsParams{
		Scopes:  driveScopes,
		Subject: impersonateUser,
	})
	if err != nil {
		return nil, domain.NewAuthenticationError("load service account credentials", err)
	}

	svc, err := drive.NewService(ctx, option.WithTokenSource(creds.TokenSource))
	if err != nil {
		return nil, domain.NewAuthenticationError("create drive service", err)
	}
	return svc, nil
}
