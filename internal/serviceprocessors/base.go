package serviceprocessors

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/R3E-Network/geoharvest/internal/app/domain/layer"
	"github.com/R3E-Network/geoharvest/internal/app/domain/link"
	"github.com/R3E-Network/geoharvest/internal/app/domain/remote"
	"github.com/R3E-Network/geoharvest/internal/errors"
	"github.com/R3E-Network/geoharvest/internal/httputil"
	"github.com/R3E-Network/geoharvest/pkg/logger"
)

const (
	maxNameLength = 255

	legendOptions  = "fontAntiAliasing:true;fontSize:12;forceLabels:on"
	notProvided    = "Not provided"
	thumbnailLabel = "Thumbnail"
)

// base carries the state every handler shares and runs the harvest
// workflow.
type base struct {
	url         string
	name        string
	title       string
	pkiURL      string
	pkiProxyURL string
	proxyBase   string
	version     string
	typ         remote.Type
	method      remote.IndexingMethod
	headers     map[string]string

	http *httputil.Client
	deps Deps
	log  *logger.Logger
}

func newBase(typ remote.Type, opts Options, component string) base {
	client := opts.HTTP
	if client == nil {
		client = httputil.NewClient(httputil.ClientConfig{})
	}
	headers := make(map[string]string, len(opts.Headers))
	names := make([]string, 0, len(opts.Headers))
	for k, v := range opts.Headers {
		headers[k] = v
		names = append(names, k)
	}
	sort.Strings(names)

	log := opts.logger(component)
	log.Debugf("passed headers = %v", names)

	return base{
		typ:     typ,
		headers: headers,
		http:    client.WithHeaders(headers),
		deps:    opts.Deps,
		log:     log,
	}
}

func (b *base) URL() string                           { return b.url }
func (b *base) Name() string                          { return b.name }
func (b *base) Title() string                         { return b.title }
func (b *base) Type() remote.Type                     { return b.typ }
func (b *base) IndexingMethod() remote.IndexingMethod { return b.method }
func (b *base) PKIURL() string                        { return b.pkiURL }
func (b *base) PKIProxyURL() string                   { return b.pkiProxyURL }

// setURL stores the parsed service URL, resolving PKI routes, and derives
// the service name from the result.
func (b *base) setURL(parsed string) {
	b.url, b.pkiURL, b.pkiProxyURL = b.deps.PKI.Rewrite(parsed)
	b.name = truncate(Slugify(b.url), maxNameLength)
}

func (b *base) serviceRecord(owner string) remote.Service {
	title := b.title
	if title == "" {
		title = b.name
	}
	headers := make(map[string]string, len(b.headers))
	for k, v := range b.headers {
		headers[k] = v
	}
	return remote.Service{
		Name:         b.name,
		Type:         b.typ,
		Method:       b.method,
		BaseURL:      b.url,
		ProxyBase:    b.proxyBase,
		PKIURL:       b.pkiURL,
		PKIProxyURL:  b.pkiProxyURL,
		Version:      b.version,
		Title:        title,
		Abstract:     notProvided,
		Owner:        owner,
		MetadataOnly: true,
		Headers:      headers,
	}
}

// harvester is implemented by the concrete handlers.
type harvester interface {
	Resource(ctx context.Context, id string) (Resource, error)
	// layerFields maps a resource and returns the URL the layer is served
	// from.
	layerFields(ctx context.Context, res Resource) (layer.Layer, string, error)
	legendLink(l layer.Layer, svc remote.Service) link.Link
}

func (b *base) harvest(ctx context.Context, h harvester, id string, svc remote.Service) (layer.Layer, error) {
	if b.deps.Layers == nil {
		return layer.Layer{}, fmt.Errorf("harvest %s: no layer store configured", id)
	}

	res, err := h.Resource(ctx, id)
	if err != nil {
		return layer.Layer{}, fmt.Errorf("resource %q cannot be harvested: %w", id, err)
	}
	log := b.log.WithFields(map[string]interface{}{"service": svc.Name, "resource": id})
	log.Debugf("layer meta: %+v", res)

	fields, owsURL, err := h.layerFields(ctx, res)
	if err != nil {
		return layer.Layer{}, fmt.Errorf("map resource %q: %w", id, err)
	}

	if _, err := b.deps.Layers.FindLayer(ctx, fields.Key()); err == nil {
		return layer.Layer{}, fmt.Errorf("resource %q has already been harvested: %w", id, errors.ErrConflict)
	} else if !errors.IsNotFound(err) {
		return layer.Layer{}, err
	}

	fields.ServiceID = svc.ID
	fields.OWSURL = owsURL
	fields.IsApproved = true
	fields.IsPublished = true

	created, err := b.deps.Layers.CreateLayer(ctx, fields)
	if err != nil {
		return layer.Layer{}, fmt.Errorf("create layer for %q: %w", id, err)
	}
	log = log.WithField("layer_id", created.ID)

	if err := b.createServiceLink(ctx, created, svc); err != nil {
		log.WithError(err).Warn("could not create service link")
	}
	if err := b.createLegendLink(ctx, h, created, svc); err != nil {
		log.WithError(err).Warn("could not create legend link")
	}
	updated, err := b.createThumbnail(ctx, created, svc)
	if err != nil {
		log.WithError(err).Warn("could not create thumbnail")
	}
	if updated.ID != "" {
		created = updated
	}

	log.Info("harvested resource")
	return created, nil
}

func (b *base) createServiceLink(ctx context.Context, l layer.Layer, svc remote.Service) error {
	if b.deps.Links == nil || l.OWSURL == "" {
		return nil
	}
	label := svc.Type.Label()
	_, _, err := b.deps.Links.GetOrCreateLink(ctx, link.Link{
		ResourceID: l.ID,
		Name:       label,
		URL:        l.OWSURL,
		Extension:  "html",
		Mime:       "text/html",
		LinkType:   label,
	})
	return err
}

func (b *base) createLegendLink(ctx context.Context, h harvester, l layer.Layer, svc remote.Service) error {
	if b.deps.Links == nil {
		return nil
	}
	lnk := h.legendLink(l, svc)
	if lnk.URL == "" {
		return nil
	}
	lnk.ResourceID = l.ID
	b.log.Debugf("legend_url: %s", lnk.URL)
	_, _, err := b.deps.Links.GetOrCreateLink(ctx, lnk)
	return err
}

// wmsLegendLink builds a GetLegendGraphic request against the remote
// service. PKI services need the options escaped and the URL proxied.
func (b *base) wmsLegendLink(l layer.Layer, svc remote.Service) link.Link {
	options := legendOptions
	if b.pkiURL != "" {
		options = url.QueryEscape(options)
	}
	params := kvp{
		{"service", "WMS"},
		{"version", b.version},
		{"request", "GetLegendGraphic"},
		{"format", "image/png"},
		{"width", "20"},
		{"height", "20"},
		{"layer", l.Name},
		{"legend_options", options},
	}
	legendURL := withQuery(svc.ServiceURL(), params)
	if b.pkiURL != "" {
		legendURL = b.deps.PKI.ProxyRoute(legendURL)
	}
	return link.Link{
		Name:      "Legend",
		URL:       legendURL,
		Extension: "png",
		Mime:      "image/png",
		LinkType:  "image",
	}
}

// thumbnailParams is the WMS GetMap request used for thumbnails.
func (b *base) thumbnailParams(l layer.Layer) kvp {
	return kvp{
		{"service", "WMS"},
		{"version", b.version},
		{"request", "GetMap"},
		{"layers", l.Alternate},
		{"bbox", l.BBoxString()},
		{"srs", "EPSG:4326"},
		{"width", "200"},
		{"height", "150"},
		{"format", "image/png"},
	}
}

// ThumbnailURLs returns the URL recorded as the remote thumbnail and the
// URL the image is actually fetched from.
func (b *base) ThumbnailURLs(l layer.Layer, svc remote.Service) (remoteURL, createURL string) {
	params := b.thumbnailParams(l)
	remoteURL = withQuery(svc.ServiceURL(), params)
	createBase := b.pkiURL
	if createBase == "" {
		createBase = l.OWSURL
	}
	return remoteURL, withQuery(createBase, params)
}

func (b *base) createThumbnail(ctx context.Context, l layer.Layer, svc remote.Service) (layer.Layer, error) {
	remoteURL, createURL := b.ThumbnailURLs(l, svc)
	b.log.Debugf("thumbnail_remote_url: %s", remoteURL)
	b.log.Debugf("thumbnail_create_url: %s", createURL)

	if b.deps.Thumbnails == nil {
		return l, nil
	}

	data, contentType, err := b.http.GetBytes(ctx, createURL)
	if err != nil {
		return l, fmt.Errorf("fetch thumbnail: %w", err)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return l, fmt.Errorf("thumbnail response has content type %q", contentType)
	}

	key := fmt.Sprintf("layer-%s-thumb.png", l.ID)
	publicURL, err := b.deps.Thumbnails.Save(ctx, key, data, contentType)
	if err != nil {
		return l, fmt.Errorf("store thumbnail: %w", err)
	}
	b.log.WithField("layer_id", l.ID).Debugf("stored thumbnail %s (%s)", key, humanize.Bytes(uint64(len(data))))

	withThumb := l
	withThumb.ThumbnailURL = publicURL
	updated, err := b.deps.Layers.UpdateLayer(ctx, withThumb)
	if err != nil {
		return l, fmt.Errorf("update thumbnail url: %w", err)
	}

	if b.deps.Links != nil {
		if _, _, err := b.deps.Links.GetOrCreateLink(ctx, link.Link{
			ResourceID: l.ID,
			Name:       "Remote " + thumbnailLabel,
			URL:        remoteURL,
			Extension:  "png",
			Mime:       "image/png",
			LinkType:   "image",
		}); err != nil {
			return updated, err
		}
		if _, err := b.deps.Links.ReplaceLink(ctx, link.Link{
			ResourceID: l.ID,
			Name:       thumbnailLabel,
			URL:        publicURL,
			Extension:  "png",
			Mime:       "image/png",
			LinkType:   "image",
		}); err != nil {
			return updated, err
		}
	}
	return updated, nil
}
