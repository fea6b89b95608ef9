// Package serviceprocessors wraps remote map services. A Handler parses the
// remote description, resolves PKI routes and harvests single resources
// into layer records with their links and thumbnail.
package serviceprocessors

import (
	"context"
	"fmt"
	"strings"

	"github.com/R3E-Network/geoharvest/internal/app/domain/layer"
	"github.com/R3E-Network/geoharvest/internal/app/domain/remote"
	"github.com/R3E-Network/geoharvest/internal/app/storage"
	"github.com/R3E-Network/geoharvest/internal/errors"
	"github.com/R3E-Network/geoharvest/internal/httputil"
	"github.com/R3E-Network/geoharvest/internal/remote/geoserver"
	"github.com/R3E-Network/geoharvest/internal/remote/pki"
	"github.com/R3E-Network/geoharvest/pkg/logger"
)

// Handler is a parsed remote service.
type Handler interface {
	URL() string
	Name() string
	Title() string
	Type() remote.Type
	IndexingMethod() remote.IndexingMethod
	PKIURL() string
	PKIProxyURL() string

	// Resources lists the harvestable layers of the service.
	Resources(ctx context.Context) ([]Resource, error)
	Resource(ctx context.Context, id string) (Resource, error)
	// CreateService builds the service record. It is not persisted.
	CreateService(ctx context.Context, owner string) (remote.Service, error)
	// HarvestResource creates the layer for resource id together with its
	// service link, legend link and thumbnail.
	HarvestResource(ctx context.Context, id string, svc remote.Service) (layer.Layer, error)
}

// Resource is a harvestable remote layer.
type Resource struct {
	ID       string
	Name     string
	Title    string
	Abstract string
	Keywords []string
	// BBox is ordered minx, miny, maxx, maxy.
	BBox       []float64
	SRS        string
	CRSOptions []string
	LegendURL  string
}

// ThumbnailStore persists thumbnail images and returns their public URL.
type ThumbnailStore interface {
	Save(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Cascader publishes remote WMS layers through the local GeoServer.
type Cascader interface {
	EnsureWMSStore(ctx context.Context, workspace, store, capabilitiesURL string) error
	PublishWMSLayer(ctx context.Context, workspace, store, name string) (geoserver.Resource, error)
}

// Deps are the collaborators shared by every handler.
type Deps struct {
	HTTP       *httputil.Client
	PKI        *pki.Router
	Layers     storage.LayerStore
	Links      storage.LinkStore
	Thumbnails ThumbnailStore
	GeoServer  Cascader
	Log        *logger.Logger

	// SiteURL is the public site root; the proxy endpoint hangs off it.
	SiteURL string
	// DefaultMapCRS decides between indexing and cascading WMS services.
	DefaultMapCRS string
	// CascadeWorkspace is the GeoServer workspace for cascaded layers.
	CascadeWorkspace string
	// GeoServerOWSURL is the public OWS endpoint of cascaded layers.
	GeoServerOWSURL string
}

func (d Deps) proxyBase() string {
	if d.SiteURL == "" {
		return ""
	}
	return strings.TrimRight(d.SiteURL, "/") + "/proxy/"
}

func (d Deps) logger(component string) *logger.Logger {
	if d.Log == nil {
		return logger.NewDefault(component)
	}
	return d.Log.Component(component)
}

// Options configure a single handler.
type Options struct {
	Headers map[string]string
	Deps
}

// New builds the handler for a service type.
func New(ctx context.Context, typ remote.Type, rawURL string, opts Options) (Handler, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, errors.RequiredError("url")
	}
	switch typ {
	case remote.TypeRESTMap, remote.TypeRESTImg:
		return NewArcHandler(ctx, typ, rawURL, opts)
	case remote.TypeWMS:
		return NewWMSHandler(ctx, rawURL, opts)
	case remote.TypeGeoNode:
		return NewGeoNodeHandler(ctx, rawURL, opts)
	default:
		return nil, errors.NewValidationError("type", fmt.Sprintf("unsupported service type %q", typ))
	}
}

// Guess picks a service type from the URL.
func Guess(rawURL string) remote.Type {
	switch {
	case strings.Contains(rawURL, "/MapServer"):
		return remote.TypeRESTMap
	case strings.Contains(rawURL, "/ImageServer"):
		return remote.TypeRESTImg
	default:
		return remote.TypeWMS
	}
}
