package storage

import (
	"context"

	"github.com/R3E-Network/geoharvest/internal/app/domain/journal"
	"github.com/R3E-Network/geoharvest/internal/app/domain/layer"
	"github.com/R3E-Network/geoharvest/internal/app/domain/link"
	"github.com/R3E-Network/geoharvest/internal/app/domain/remote"
)

// ServiceStore persists registered remote services.
type ServiceStore interface {
	CreateService(ctx context.Context, svc remote.Service) (remote.Service, error)
	UpdateService(ctx context.Context, svc remote.Service) (remote.Service, error)
	GetService(ctx context.Context, id string) (remote.Service, error)
	GetServiceByURL(ctx context.Context, baseURL string) (remote.Service, error)
	ListServices(ctx context.Context) ([]remote.Service, error)
}

// LayerStore persists harvested layers.
type LayerStore interface {
	CreateLayer(ctx context.Context, l layer.Layer) (layer.Layer, error)
	UpdateLayer(ctx context.Context, l layer.Layer) (layer.Layer, error)
	GetLayer(ctx context.Context, id string) (layer.Layer, error)
	FindLayer(ctx context.Context, key layer.Key) (layer.Layer, error)
	ListLayers(ctx context.Context, serviceID string) ([]layer.Layer, error)
}

// LinkStore persists layer links.
type LinkStore interface {
	// GetOrCreateLink returns the link matching lnk.Key(), creating it from
	// lnk when absent. The boolean reports whether a row was created.
	GetOrCreateLink(ctx context.Context, lnk link.Link) (link.Link, bool, error)
	// ReplaceLink overwrites every link with the same resource and name.
	ReplaceLink(ctx context.Context, lnk link.Link) (link.Link, error)
	ListLinks(ctx context.Context, resourceID string) ([]link.Link, error)
}

// JournalStore reads diary entries.
type JournalStore interface {
	ListJournalEntries(ctx context.Context, limit, offset int) ([]journal.Entry, int, error)
	GetJournalEntry(ctx context.Context, id string) (journal.Entry, error)
	CreateJournalEntry(ctx context.Context, e journal.Entry) (journal.Entry, error)
}
