package serviceprocessors

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/geoharvest/internal/app/domain/layer"
	"github.com/R3E-Network/geoharvest/internal/app/domain/link"
	"github.com/R3E-Network/geoharvest/internal/app/domain/remote"
	"github.com/R3E-Network/geoharvest/internal/errors"
	"github.com/R3E-Network/geoharvest/internal/httputil"
	"github.com/R3E-Network/geoharvest/internal/remote/wms"
)

const defaultMapCRS = "EPSG:3857"

// WMSHandler handles OGC WMS services and GeoNode instances. Services that
// offer the site's map projection are indexed, others are cascaded through
// GeoServer.
type WMSHandler struct {
	base
	client *wms.Client
	caps   *wms.Capabilities
}

var _ Handler = (*WMSHandler)(nil)

// NewWMSHandler parses the capabilities of the WMS at rawURL.
func NewWMSHandler(ctx context.Context, rawURL string, opts Options) (*WMSHandler, error) {
	h := &WMSHandler{base: newBase(remote.TypeWMS, opts, "wms-handler")}
	if err := h.init(ctx, rawURL); err != nil {
		return nil, err
	}
	return h, nil
}

// NewGeoNodeHandler locates the OWS endpoint of a GeoNode site and then
// behaves like a WMS handler.
func NewGeoNodeHandler(ctx context.Context, rawURL string, opts Options) (*WMSHandler, error) {
	h := &WMSHandler{base: newBase(remote.TypeGeoNode, opts, "geonode-handler")}
	owsURL, err := probeGeoNodeWMS(ctx, h.http, rawURL)
	if err != nil {
		return nil, fmt.Errorf("probe geonode %s: %w", rawURL, err)
	}
	h.log.Debugf("geonode ows endpoint: %s", owsURL)
	if err := h.init(ctx, owsURL); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *WMSHandler) init(ctx context.Context, rawURL string) error {
	h.proxyBase = h.deps.proxyBase()
	h.client = wms.NewClient(h.http)

	caps, err := h.client.GetCapabilities(ctx, rawURL)
	if err != nil {
		return err
	}
	h.caps = caps
	h.version = caps.Version

	contents := caps.Contents()
	if len(contents) == 0 {
		return errors.NewValidationError("url", "service publishes no named layers")
	}
	crs := h.deps.DefaultMapCRS
	if crs == "" {
		crs = defaultMapCRS
	}
	if contents[0].HasCRS(crs) {
		h.method = remote.Indexed
	} else {
		h.method = remote.Cascaded
	}

	cleaned, err := wms.BaseURL(rawURL)
	if err != nil {
		return err
	}
	h.setURL(cleaned.String())
	h.title = strings.TrimSpace(caps.Service.Title)
	return nil
}

// probeGeoNodeWMS asks a GeoNode site for its OWS endpoint. Sites without
// the endpoint API are assumed to serve OWS at /geoserver/ows.
func probeGeoNodeWMS(ctx context.Context, client *httputil.Client, rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", errors.NewValidationError("url", "must be absolute")
	}
	origin := u.Scheme + "://" + u.Host

	resp, err := client.Get(ctx, origin+"/api/ows_endpoints/")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		body, err := httputil.ReadAllStrict(resp.Body, 1<<20)
		if err == nil {
			var endpoint string
			gjson.GetBytes(body, "data").ForEach(func(_, v gjson.Result) bool {
				if v.Get("type").String() == "OGC:OWS" {
					endpoint = v.Get("url").String()
					return false
				}
				return true
			})
			if endpoint != "" {
				return endpoint + "?" + u.RawQuery, nil
			}
		}
	}
	return origin + "/geoserver/ows", nil
}

func (h *WMSHandler) Resources(_ context.Context) ([]Resource, error) {
	contents := h.caps.Contents()
	out := make([]Resource, 0, len(contents))
	for _, meta := range contents {
		out = append(out, toWMSResource(meta))
	}
	return out, nil
}

func (h *WMSHandler) Resource(_ context.Context, id string) (Resource, error) {
	meta, ok := h.caps.Layer(id)
	if !ok {
		return Resource{}, errors.NewNotFoundError("resource", id)
	}
	return toWMSResource(meta), nil
}

func toWMSResource(meta wms.LayerMeta) Resource {
	res := Resource{
		ID:         meta.Name,
		Name:       meta.Name,
		Title:      meta.Title,
		Abstract:   meta.Abstract,
		Keywords:   meta.Keywords,
		BBox:       meta.BoundingBoxWGS84,
		SRS:        "EPSG:4326",
		CRSOptions: meta.CRSOptions,
	}
	for _, style := range meta.Styles {
		if style.LegendURL != "" {
			res.LegendURL = style.LegendURL
			break
		}
	}
	return res
}

func (h *WMSHandler) CreateService(_ context.Context, owner string) (remote.Service, error) {
	svc := h.serviceRecord(owner)
	if abstract := strings.TrimSpace(h.caps.Service.Abstract); abstract != "" {
		svc.Abstract = abstract
	}
	svc.Keywords = h.caps.Service.Keywords()
	svc.OnlineResource = h.caps.Service.OnlineResource.Href
	return svc, nil
}

// Capabilities exposes the parsed capabilities document.
func (h *WMSHandler) Capabilities() *wms.Capabilities {
	return h.caps
}

func (h *WMSHandler) HarvestResource(ctx context.Context, id string, svc remote.Service) (layer.Layer, error) {
	return h.harvest(ctx, h, id, svc)
}

func (h *WMSHandler) layerFields(ctx context.Context, res Resource) (layer.Layer, string, error) {
	if h.method == remote.Indexed {
		return IndexedWMSFields(res, h.name, h.log), h.url, nil
	}

	if h.deps.GeoServer == nil {
		return layer.Layer{}, "", fmt.Errorf("%w: cascading %q requires a GeoServer", errors.ErrUnavailable, res.Name)
	}
	workspace := h.deps.CascadeWorkspace
	capsURL, err := wms.CapabilitiesURL(h.url, h.version)
	if err != nil {
		return layer.Layer{}, "", err
	}
	h.log.WithField("resource", res.Name).Debug("importing cascaded layer")
	if err := h.deps.GeoServer.EnsureWMSStore(ctx, workspace, h.name, capsURL); err != nil {
		return layer.Layer{}, "", err
	}
	published, err := h.deps.GeoServer.PublishWMSLayer(ctx, workspace, h.name, res.Name)
	if err != nil {
		return layer.Layer{}, "", err
	}
	return CascadedWMSFields(published, h.log), h.deps.GeoServerOWSURL, nil
}

func (h *WMSHandler) legendLink(l layer.Layer, svc remote.Service) link.Link {
	return h.wmsLegendLink(l, svc)
}
