package memory

import (
	"context"
	"testing"

	"github.com/R3E-Network/geoharvest/internal/app/domain/journal"
	"github.com/R3E-Network/geoharvest/internal/app/domain/layer"
	"github.com/R3E-Network/geoharvest/internal/app/domain/link"
	"github.com/R3E-Network/geoharvest/internal/app/domain/remote"
	"github.com/R3E-Network/geoharvest/internal/errors"
)

func TestServiceUniqueness(t *testing.T) {
	store := New()
	ctx := context.Background()

	svc, err := store.CreateService(ctx, remote.Service{Name: "a", BaseURL: "http://a/wms", Type: remote.TypeWMS})
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	if svc.ID == "" || svc.CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamps, got %+v", svc)
	}

	if _, err := store.CreateService(ctx, remote.Service{Name: "b", BaseURL: "http://a/wms"}); !errors.IsConflict(err) {
		t.Fatalf("expected conflict on duplicate base url, got %v", err)
	}

	got, err := store.GetServiceByURL(ctx, "http://a/wms")
	if err != nil || got.ID != svc.ID {
		t.Fatalf("lookup by url: %v %+v", err, got)
	}

	if _, err := store.GetService(ctx, "missing"); !errors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestServiceHeadersAreCopied(t *testing.T) {
	store := New()
	ctx := context.Background()

	headers := map[string]string{"Authorization": "Basic abc"}
	svc, err := store.CreateService(ctx, remote.Service{Name: "a", BaseURL: "u", Headers: headers})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	headers["Authorization"] = "changed"

	got, _ := store.GetService(ctx, svc.ID)
	if got.Headers["Authorization"] != "Basic abc" {
		t.Fatalf("store shares caller map: %v", got.Headers)
	}
}

func TestLayerDuplicateKey(t *testing.T) {
	store := New()
	ctx := context.Background()

	l := layer.Layer{ServiceID: "1", Name: "roads", Store: "svc", Workspace: layer.RemoteWorkspace}
	created, err := store.CreateLayer(ctx, l)
	if err != nil {
		t.Fatalf("create layer: %v", err)
	}
	if _, err := store.CreateLayer(ctx, l); !errors.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}

	found, err := store.FindLayer(ctx, l.Key())
	if err != nil || found.ID != created.ID {
		t.Fatalf("find layer: %v %+v", err, found)
	}

	created.ThumbnailURL = "http://thumbs/1.png"
	updated, err := store.UpdateLayer(ctx, created)
	if err != nil || updated.ThumbnailURL != "http://thumbs/1.png" {
		t.Fatalf("update layer: %v %+v", err, updated)
	}

	other, _ := store.ListLayers(ctx, "2")
	if len(other) != 0 {
		t.Fatalf("expected no layers for service 2, got %d", len(other))
	}
}

func TestGetOrCreateLink(t *testing.T) {
	store := New()
	ctx := context.Background()

	lnk := link.Link{ResourceID: "7", Name: "Legend", URL: "http://legend", Mime: "image/png"}
	first, created, err := store.GetOrCreateLink(ctx, lnk)
	if err != nil || !created {
		t.Fatalf("first get-or-create: created=%v err=%v", created, err)
	}
	second, created, err := store.GetOrCreateLink(ctx, lnk)
	if err != nil || created || second.ID != first.ID {
		t.Fatalf("second get-or-create should reuse row: created=%v err=%v", created, err)
	}

	if _, err := store.ReplaceLink(ctx, link.Link{ResourceID: "7", Name: "Thumbnail", URL: "a"}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if _, err := store.ReplaceLink(ctx, link.Link{ResourceID: "7", Name: "Thumbnail", URL: "b"}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	links, _ := store.ListLinks(ctx, "7")
	if len(links) != 2 {
		t.Fatalf("expected legend + one thumbnail, got %d", len(links))
	}
	if links[1].URL != "b" {
		t.Fatalf("expected replaced thumbnail url, got %q", links[1].URL)
	}
}

func TestJournalPaging(t *testing.T) {
	store := New()
	ctx := context.Background()

	for _, title := range []string{"one", "two", "three"} {
		if _, err := store.CreateJournalEntry(ctx, journal.Entry{Title: title}); err != nil {
			t.Fatalf("create entry: %v", err)
		}
	}

	page, total, err := store.ListJournalEntries(ctx, 2, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 || len(page) != 2 {
		t.Fatalf("unexpected page total=%d len=%d", total, len(page))
	}

	page, _, _ = store.ListJournalEntries(ctx, 20, 5)
	if len(page) != 0 {
		t.Fatalf("expected empty page past the end, got %d", len(page))
	}

	if _, err := store.CreateJournalEntry(ctx, journal.Entry{}); !errors.IsValidationError(err) {
		t.Fatalf("expected validation error for empty title, got %v", err)
	}
}
