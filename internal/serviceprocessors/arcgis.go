package serviceprocessors

import (
	"context"
	"path"
	"strconv"
	"strings"

	"github.com/R3E-Network/geoharvest/internal/app/domain/layer"
	"github.com/R3E-Network/geoharvest/internal/app/domain/link"
	"github.com/R3E-Network/geoharvest/internal/app/domain/remote"
	"github.com/R3E-Network/geoharvest/internal/errors"
	"github.com/R3E-Network/geoharvest/internal/remote/arcgis"
)

// ArcHandler handles ESRI:ArcGIS:MapServer and ESRI:ArcGIS:ImageServer
// services. Layers are always indexed.
type ArcHandler struct {
	base
	client *arcgis.Client
	parsed *arcgis.Service
	extent arcgis.Extent
	srs    string
}

var _ Handler = (*ArcHandler)(nil)

// NewArcHandler parses the service at rawURL.
func NewArcHandler(ctx context.Context, typ remote.Type, rawURL string, opts Options) (*ArcHandler, error) {
	kind := arcgis.MapServer
	if typ == remote.TypeRESTImg {
		kind = arcgis.ImageServer
	}

	h := &ArcHandler{base: newBase(typ, opts, "arcgis-handler")}
	h.client = arcgis.NewClient(h.http)

	parsed, err := h.client.Fetch(ctx, rawURL, kind)
	if err != nil {
		return nil, err
	}
	h.parsed = parsed
	h.extent, h.srs = arcgis.GetESRIExtent(parsed)
	h.title = esriTitle(rawURL, parsed.MapName)
	h.version = parsed.Version

	h.setURL(parsed.URL)
	h.method = remote.Indexed
	return h, nil
}

// esriTitle derives a readable title from the service folder/name.
func esriTitle(rawURL, mapName string) string {
	serviceName := arcgis.GetESRIServiceName(rawURL)
	base := path.Base(path.Clean(serviceName))
	var title string
	if base == "." || base == "/" {
		title = mapName
	} else {
		title = strings.TrimSpace(strings.ReplaceAll(base, "_", " "))
	}
	if title == "" {
		title = serviceName
	}
	return title
}

// Extent is the service envelope and its SRS.
func (h *ArcHandler) Extent() (arcgis.Extent, string) {
	return h.extent, h.srs
}

func (h *ArcHandler) Resources(_ context.Context) ([]Resource, error) {
	layers := h.parsed.AllLayers()
	out := make([]Resource, 0, len(layers))
	for _, l := range layers {
		out = append(out, h.toResource(l))
	}
	return out, nil
}

func (h *ArcHandler) Resource(ctx context.Context, id string) (Resource, error) {
	layerID, err := strconv.Atoi(id)
	if err != nil {
		return Resource{}, errors.NewNotFoundError("resource", id)
	}
	l, ok := h.parsed.FindLayer(layerID)
	if !ok {
		return Resource{}, errors.NewNotFoundError("resource", id)
	}

	if h.parsed.Kind == arcgis.MapServer && (l.Description == "" || !l.Extent.Valid()) {
		detail, err := h.client.FetchLayer(ctx, h.parsed, layerID)
		if err != nil {
			h.log.WithError(err).WithField("resource", id).Debug("layer detail unavailable")
		} else {
			merged := *l
			if merged.Description == "" {
				merged.Description = detail.Description
			}
			if !merged.Extent.Valid() {
				merged.Extent = detail.Extent
			}
			l = &merged
		}
	}
	return h.toResource(l), nil
}

func (h *ArcHandler) toResource(l *arcgis.Layer) Resource {
	extent, srs := arcgis.LayerExtent(h.parsed, l)
	return Resource{
		ID:       strconv.Itoa(l.ID),
		Name:     l.Name,
		Title:    l.Name,
		Abstract: l.Description,
		BBox:     []float64{extent.XMin, extent.YMin, extent.XMax, extent.YMax},
		SRS:      srs,
	}
}

func (h *ArcHandler) CreateService(_ context.Context, owner string) (remote.Service, error) {
	svc := h.serviceRecord(owner)
	if strings.TrimSpace(h.parsed.Description) != "" {
		svc.Abstract = h.parsed.Description
	}
	svc.OnlineResource = h.url
	return svc, nil
}

func (h *ArcHandler) HarvestResource(ctx context.Context, id string, svc remote.Service) (layer.Layer, error) {
	return h.harvest(ctx, h, id, svc)
}

func (h *ArcHandler) layerFields(_ context.Context, res Resource) (layer.Layer, string, error) {
	keyword := "ArcGIS REST MapServer"
	if h.typ == remote.TypeRESTImg {
		keyword = "ArcGIS REST ImageServer"
	}
	return ArcGISFields(res, h.name, keyword, h.log), h.url, nil
}

func (h *ArcHandler) legendLink(_ layer.Layer, svc remote.Service) link.Link {
	return link.Link{
		Name:      "Legend",
		URL:       strings.TrimRight(svc.ServiceURL(), "/") + "/legend?f=json",
		Extension: "json",
		Mime:      "application/json",
		LinkType:  "json",
	}
}
