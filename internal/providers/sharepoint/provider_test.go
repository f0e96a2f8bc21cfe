package sharepoint

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/corpus-sync/internal/core/domain"
	"github.com/custodia-labs/corpus-sync/internal/core/services"
)

// newTestProvider wires a provider directly against a fake Graph
// server, bypassing the client credentials flow.
func newTestProvider(srv *httptest.Server) *Provider {
	p := NewWithBaseURL(srv.URL)
	p.cfg = DefaultConfig()
	p.cfg.TenantID = "tenant-1"
	p.cfg.ClientID = "app-1"
	p.cfg.ClientSecret = "secret"
	p.client = NewClient(srv.Client(), srv.URL)
	p.retry = services.RetryPolicy{MaxRetries: 1, BaseBackoff: time.Millisecond}
	return p
}

// fakeGraph serves a two-site tenant: site-1 holds drive d1 with two
// documents (one oversized), site-2 holds drive d2 with one document.
func fakeGraph(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	writeJSON := func(w http.ResponseWriter, body string) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}

	mux.HandleFunc("/sites", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"value":[
			{"id":"site-1","displayName":"Engineering","webUrl":"https://sp/eng"},
			{"id":"site-2","displayName":"Sales","webUrl":"https://sp/sales"}]}`)
	})
	mux.HandleFunc("/sites/site-1/drives", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"value":[{"id":"d1","name":"Documents"}]}`)
	})
	mux.HandleFunc("/sites/site-2/drives", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"value":[{"id":"d2","name":"Documents"}]}`)
	})

	mux.HandleFunc("/drives/d1/root/delta", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			writeJSON(w, fmt.Sprintf(`{"value":[
				{"id":"doc-2","name":"huge.bin","size":9999999,
				 "file":{"mimeType":"application/octet-stream"},
				 "parentReference":{"id":"root","driveId":"d1"}}],
				"@odata.deltaLink":%q}`, srv.URL+"/drives/d1/root/delta?token=final-d1"))
			return
		}
		writeJSON(w, fmt.Sprintf(`{"value":[
			{"id":"folder-1","name":"Specs","folder":{"childCount":2}},
			{"id":"doc-1","name":"plan.docx","size":64,"webUrl":"https://sp/eng/plan.docx",
			 "lastModifiedDateTime":"2026-03-14T09:30:00Z",
			 "file":{"mimeType":"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			         "hashes":{"quickXorHash":"qx1"}},
			 "parentReference":{"id":"root","driveId":"d1"}}],
			"@odata.nextLink":%q}`, srv.URL+"/drives/d1/root/delta?page=2"))
	})
	mux.HandleFunc("/drives/d2/root/delta", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, fmt.Sprintf(`{"value":[
			{"id":"doc-3","name":"forecast.xlsx","size":128,
			 "file":{"mimeType":"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
			 "parentReference":{"id":"root","driveId":"d2"}}],
			"@odata.deltaLink":%q}`, srv.URL+"/drives/d2/root/delta?token=final-d2"))
	})

	mux.HandleFunc("/drives/d1/items/doc-1/content", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plan contents"))
	})
	mux.HandleFunc("/drives/d2/items/doc-3/content", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("forecast contents"))
	})

	mux.HandleFunc("/drives/d1/items/doc-1/permissions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"value":[
			{"grantedToV2":{"user":{"email":"alice@example.com"}}},
			{"grantedToV2":{"group":{"id":"group-eng"}}}]}`)
	})
	mux.HandleFunc("/drives/d2/items/doc-3/permissions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"value":[{"link":{"scope":"anonymous"}}]}`)
	})

	return srv
}

func collectItems(t *testing.T, items <-chan domain.SyncItem, errs <-chan error) ([]domain.SyncItem, []error) {
	t.Helper()
	var out []domain.SyncItem
	var itemErrs []error
	for items != nil || errs != nil {
		select {
		case item, ok := <-items:
			if !ok {
				items = nil
				continue
			}
			out = append(out, item)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			itemErrs = append(itemErrs, err)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out consuming sync stream")
		}
	}
	return out, itemErrs
}

func TestSync_FullCrawlFIFO(t *testing.T) {
	srv := fakeGraph(t)
	p := newTestProvider(srv)
	p.cfg.MaxFileSize = 1024 // doc-2 is oversized

	cp := domain.NewSharePointCheckpoint()
	items, errs := p.Sync(context.Background(), nil, cp)
	got, itemErrs := collectItems(t, items, errs)

	require.Empty(t, itemErrs)
	require.Len(t, got, 2)

	// Sites crawl in discovery order: engineering first, then sales.
	first := got[0].(*domain.DownloadedFile)
	assert.Equal(t, "doc-1", first.ID)
	assert.Equal(t, []byte("plan contents"), first.Content)
	assert.Equal(t, "qx1", first.ContentHash)
	assert.Equal(t, time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC), first.ModifiedAt.UTC())
	assert.True(t, first.Access.CanAccess("alice@example.com", nil))
	assert.True(t, first.Access.CanAccess("bob@example.com", []string{"group-eng"}))
	assert.False(t, first.Access.IsPublic)

	second := got[1].(*domain.DownloadedFile)
	assert.Equal(t, "doc-3", second.ID)
	assert.True(t, second.Access.IsPublic)

	// The oversized file was skipped without touching the error count.
	assert.Equal(t, 0, cp.ErrorCount)
	assert.Equal(t, 2, cp.DocumentsProcessed)
	assert.True(t, cp.RetrievedIDs.Has("doc-1"))
	assert.True(t, cp.RetrievedIDs.Has("doc-3"))
	assert.False(t, cp.RetrievedIDs.Has("doc-2"))

	// Queues drained; the last drive's delta link survives for
	// incremental runs.
	assert.Empty(t, cp.SitesToProcess)
	assert.Nil(t, cp.CurrentSite)
	assert.Empty(t, cp.DrivesToProcess)
	assert.Contains(t, cp.DeltaLink, "token=final-d2")
}

func TestSync_SecondPassIsIncremental(t *testing.T) {
	srv := fakeGraph(t)
	p := newTestProvider(srv)
	p.cfg.MaxFileSize = 1024

	cp := domain.NewSharePointCheckpoint()
	items, errs := p.Sync(context.Background(), nil, cp)
	collectItems(t, items, errs)

	srvMux := http.NewServeMux()
	// The delta link replays: doc-3 updated, doc-4 created, doc-1 deleted.
	deltaSrv := httptest.NewServer(srvMux)
	t.Cleanup(deltaSrv.Close)
	srvMux.HandleFunc("/delta", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(fmt.Sprintf(`{"value":[
			{"id":"doc-3","name":"forecast.xlsx","size":140,
			 "file":{"mimeType":"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
			 "parentReference":{"id":"root","driveId":"d2"}},
			{"id":"doc-4","name":"notes.txt","size":10,"file":{"mimeType":"text/plain"},
			 "parentReference":{"id":"root","driveId":"d2"}},
			{"id":"doc-1","name":"plan.docx","deleted":{"state":"deleted"}}],
			"@odata.deltaLink":%q}`, deltaSrv.URL+"/delta?token=next")))
	})
	srvMux.HandleFunc("/drives/d2/items/doc-3/content", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("updated forecast"))
	})
	srvMux.HandleFunc("/drives/d2/items/doc-4/content", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("notes"))
	})
	srvMux.HandleFunc("/drives/d2/items/doc-3/permissions", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value":[]}`))
	})
	srvMux.HandleFunc("/drives/d2/items/doc-4/permissions", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value":[]}`))
	})

	cp.DeltaLink = deltaSrv.URL + "/delta"
	p.client = NewClient(deltaSrv.Client(), deltaSrv.URL)

	items, errs = p.Sync(context.Background(), nil, cp)
	got, itemErrs := collectItems(t, items, errs)

	require.Empty(t, itemErrs)
	require.Len(t, got, 3)

	updated := got[0].(*domain.DownloadedFile)
	assert.Equal(t, "doc-3", updated.ID)
	assert.Equal(t, []byte("updated forecast"), updated.Content)

	created := got[1].(*domain.DownloadedFile)
	assert.Equal(t, "doc-4", created.ID)

	deleted := got[2].(*domain.DeletedFile)
	assert.Equal(t, "doc-1", deleted.ID)

	// The delete invalidated doc-1 so a re-create would emit again;
	// doc-3's update did not double-count.
	assert.False(t, cp.RetrievedIDs.Has("doc-1"))
	assert.Equal(t, 3, cp.DocumentsProcessed)
	assert.Contains(t, cp.DeltaLink, "token=next")
}

func TestSync_ResumeSkipsDedupedIDs(t *testing.T) {
	srv := fakeGraph(t)
	p := newTestProvider(srv)
	p.cfg.MaxFileSize = 1024

	// Simulate a crashed session that already emitted doc-1 and was
	// mid-crawl on d1.
	cp := domain.NewSharePointCheckpoint()
	cp.EnqueueSites(domain.SiteDescriptor{ID: "site-2", Name: "Sales"})
	cp.CurrentSite = &domain.SiteDescriptor{ID: "site-1", Name: "Engineering"}
	cp.CurrentDrive = "d1"
	cp.MarkFileRetrieved("doc-1")

	items, errs := p.Sync(context.Background(), nil, cp)
	got, itemErrs := collectItems(t, items, errs)

	require.Empty(t, itemErrs)
	require.Len(t, got, 1)
	assert.Equal(t, "doc-3", got[0].(*domain.DownloadedFile).ID)
}

func TestSync_WrongCheckpointVariant(t *testing.T) {
	srv := fakeGraph(t)
	p := newTestProvider(srv)

	items, errs := p.Sync(context.Background(), nil, domain.NewDriveCheckpoint())
	got, itemErrs := collectItems(t, items, errs)

	assert.Empty(t, got)
	require.Len(t, itemErrs, 1)
	assert.True(t, domain.CategoryIs(itemErrs[0], domain.CategoryCheckpoint))
}

func TestGetChanges_RequiresDeltaLink(t *testing.T) {
	srv := fakeGraph(t)
	p := newTestProvider(srv)

	changes, errs := p.GetChanges(context.Background(), nil, domain.NewSharePointCheckpoint())

	for range changes {
	}
	err := <-errs
	require.Error(t, err)
	assert.True(t, domain.CategoryIs(err, domain.CategoryCheckpoint))
}

func TestGetChanges_StreamsFromDeltaLink(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	mux.HandleFunc("/delta", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(fmt.Sprintf(`{"value":[
			{"id":"doc-9","name":"new.txt","size":5,"file":{"mimeType":"text/plain"},
			 "parentReference":{"id":"root","driveId":"d1"}},
			{"id":"doc-8","name":"old.txt","deleted":{"state":"deleted"}}],
			"@odata.deltaLink":%q}`, srv.URL+"/delta?token=n")))
	})

	p := newTestProvider(srv)
	cp := domain.NewSharePointCheckpoint()
	cp.DeltaLink = srv.URL + "/delta"
	cp.MarkFileRetrieved("doc-8")

	changes, errs := p.GetChanges(context.Background(), nil, cp)
	var got []domain.FileChange
	for change := range changes {
		got = append(got, change)
	}
	require.NoError(t, <-errs)

	require.Len(t, got, 2)
	assert.Equal(t, domain.ActionCreate, got[0].Action)
	assert.Equal(t, "doc-9", got[0].ID)
	require.NotNil(t, got[0].Metadata)
	assert.Equal(t, "d1", got[0].Metadata.Extra["drive_id"])
	assert.Equal(t, domain.ActionDelete, got[1].Action)
	assert.Nil(t, got[1].Metadata)
}

func TestPermissionsToAccess(t *testing.T) {
	access := permissionsToAccess([]graphPermission{
		{GrantedToV2: &identitySet{User: &identity{Email: "alice@example.com"}}},
		{GrantedToIdentitiesV2: []identitySet{
			{User: &identity{Email: "bob@example.com"}},
			{Group: &identity{ID: "group-1"}},
		}},
	})

	assert.False(t, access.IsPublic)
	assert.True(t, access.CanAccess("alice@example.com", nil))
	assert.True(t, access.CanAccess("bob@example.com", nil))
	assert.True(t, access.CanAccess("carol@example.com", []string{"group-1"}))
}

func TestPermissionsToAccess_LinkScopes(t *testing.T) {
	assert.True(t, permissionsToAccess([]graphPermission{
		{Link: &permissionLink{Scope: "anonymous"}},
	}).IsPublic)
	assert.True(t, permissionsToAccess([]graphPermission{
		{Link: &permissionLink{Scope: "organization"}},
	}).IsPublic)
	assert.False(t, permissionsToAccess([]graphPermission{
		{Link: &permissionLink{Scope: "users"}},
	}).IsPublic)
	assert.Equal(t, domain.EmptyAccess(), permissionsToAccess(nil))
}

func TestItemToMetadata(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	meta := itemToMetadata("d1", driveItem{
		ID:                   "doc-1",
		Name:                 "plan.docx",
		Size:                 64,
		WebURL:               "https://sp/plan.docx",
		LastModifiedDateTime: at,
		File:                 &itemFileFacet{MimeType: "application/msword", Hashes: &itemHashes{QuickXorHash: "qx"}},
		ParentReference:      &parentReference{ID: "root", DriveID: "d1"},
	})

	assert.Equal(t, "doc-1", meta.ID)
	assert.Equal(t, "application/msword", meta.MIMEType)
	assert.Equal(t, "qx", meta.ContentHash)
	assert.Equal(t, "root", meta.ParentID)
	assert.Equal(t, "d1", meta.Extra["drive_id"])
	require.NotNil(t, meta.ModifiedAt)
	assert.Equal(t, at, *meta.ModifiedAt)
}
