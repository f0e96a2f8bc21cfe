package googledrive

import (
	"context"
	"io"
	"time"

	"google.golang.org/api/drive/v3"

	"github.com/custodia-labs/corpus-sync/internal/core/domain"
)

// Google Workspace MIME types that must be exported rather than
// downloaded.
const (
	MimeTypeGoogleDoc    = "application/vnd.google-apps.document"
	MimeTypeGoogleSheet  = "application/vnd.google-apps.spreadsheet"
	MimeTypeGoogleSlides = "application/vnd.google-apps.presentation"
	MimeTypeFolder       = "application/vnd.google-apps.folder"
	MimeTypeShortcut     = "application/vnd.google-apps.shortcut"
)

// Export formats for Google Workspace files.
const (
	ExportMimeText = "text/plain"
	ExportMimeCSV  = "text/csv"
)

// MaxExportSize is the maximum size for exported Workspace content
// (10MB, the Drive export API's own ceiling).
const MaxExportSize = 10 * 1024 * 1024

// fileFields is the partial-response selector for listing requests.
const fileFields = "id, name, mimeType, size, md5Checksum, modifiedTime, webViewLink, parents, trashed"

// exportMimeFor returns the export target for a Workspace MIME type,
// or "" when the file downloads as-is.
func exportMimeFor(mimeType string) string {
	switch mimeType {
	case MimeTypeGoogleDoc, MimeTypeGoogleSlides:
		return ExportMimeText
	case MimeTypeGoogleSheet:
		return ExportMimeCSV
	default:
		return ""
	}
}

// ShouldSyncFile checks whether a listed file is eligible for syncing.
// Folders, shortcuts and trashed files never are.
func ShouldSyncFile(file *drive.File, cfg *Config) bool {
	if file.MimeType == MimeTypeFolder || file.MimeType == MimeTypeShortcut {
		return false
	}
	if file.Trashed {
		return false
	}
	return cfg.MatchesMimeFilter(file.MimeType)
}

// fileToMetadata converts a Drive file into provider-neutral metadata.
func fileToMetadata(file *drive.File) domain.FileMetadata {
	meta := domain.FileMetadata{
		ID:          file.Id,
		Name:        file.Name,
		MIMEType:    file.MimeType,
		Size:        file.Size,
		ContentHash: file.Md5Checksum,
		WebURL:      file.WebViewLink,
	}
	if len(file.Parents) > 0 {
		meta.ParentID = file.Parents[0]
	}
	if file.ModifiedTime != "" {
		if at, err := time.Parse(time.RFC3339, file.ModifiedTime); err == nil {
			meta.ModifiedAt = &at
		}
	}
	if file.DriveId != "" {
		meta.Extra = map[string]any{"drive_id": file.DriveId}
	}
	return meta
}

// permissionsToAccess maps a Drive permission list to an access
// descriptor. "anyone" and "domain" grants are treated as public;
// unknown permission types grant nothing.
func permissionsToAccess(perms []*drive.Permission) domain.ExternalAccess {
	var emails, groups []string
	public := false

	for _, perm := range perms {
		if perm.Deleted {
			continue
		}
		switch perm.Type {
		case "user":
			if perm.EmailAddress != "" {
				emails = append(emails, perm.EmailAddress)
			}
		case "group":
			if perm.EmailAddress != "" {
				groups = append(groups, perm.EmailAddress)
			}
		case "anyone", "domain":
			public = true
		}
	}

	if public {
		access := domain.PublicAccess()
		if len(emails) > 0 || len(groups) > 0 {
			access = domain.MergeAccess(access, domain.AccessForUsersAndGroups(emails, groups))
		}
		return access
	}
	return domain.AccessForUsersAndGroups(emails, groups)
}

// fetchContent downloads or exports a file's content, enforcing size
// limits before any bytes move.
func fetchContent(ctx context.Context, svc *drive.Service, file domain.FileMetadata, cfg *Config) ([]byte, string, error) {
	if exportMime := exportMimeFor(file.MIMEType); exportMime != "" {
		resp, err := svc.Files.Export(file.ID, exportMime).Context(ctx).Download()
		if err != nil {
			return nil, "", classifyError("export "+file.ID, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, MaxExportSize+1))
		if err != nil {
			return nil, "", domain.NewDownloadError("read export "+file.ID, err)
		}
		if int64(len(data)) > MaxExportSize {
			return nil, "", domain.NewFileTooLargeError(file.Name, int64(len(data)), MaxExportSize)
		}
		return data, exportMime, nil
	}

	if file.Size > cfg.MaxFileSize {
		return nil, "", domain.NewFileTooLargeError(file.Name, file.Size, cfg.MaxFileSize)
	}

	resp, err := svc.Files.Get(file.ID).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, "", classifyError("download "+file.ID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, cfg.MaxFileSize+1))
	if err != nil {
		return nil, "", domain.NewDownloadError("read content "+file.ID, err)
	}
	if int64(len(data)) > cfg.MaxFileSize {
		return nil, "", domain.NewFileTooLargeError(file.Name, int64(len(data)), cfg.MaxFileSize)
	}
	return data, file.MIMEType, nil
}
