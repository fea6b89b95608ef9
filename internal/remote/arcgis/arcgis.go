// Package arcgis reads ArcGIS REST MapServer and ImageServer descriptions.
package arcgis

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/geoharvest/internal/errors"
	"github.com/R3E-Network/geoharvest/internal/httputil"
)

// Kind distinguishes MapServer from ImageServer endpoints.
type Kind string

const (
	MapServer   Kind = "MapServer"
	ImageServer Kind = "ImageServer"
)

// Extent is an envelope in the given spatial reference.
type Extent struct {
	XMin, YMin, XMax, YMax float64
	WKID                   int
	LatestWKID             int
}

// Valid reports whether the envelope has been populated.
func (e *Extent) Valid() bool {
	return e != nil && (e.XMin != 0 || e.YMin != 0 || e.XMax != 0 || e.YMax != 0)
}

// Layer is a (possibly nested) layer of a service.
type Layer struct {
	ID          int
	Name        string
	Description string
	ParentID    int
	Extent      *Extent
	SubLayers   []*Layer
}

// Service is a parsed MapServer or ImageServer description.
type Service struct {
	Kind          Kind
	URL           string
	Version       string
	MapName       string
	Description   string
	Extent        *Extent
	FullExtent    *Extent
	InitialExtent *Extent
	SpatialRef    *Extent

	// Layers holds the top-level layers; sub-layers hang off them.
	Layers []*Layer
}

// AllLayers flattens the layer tree depth first.
func (s *Service) AllLayers() []*Layer {
	var out []*Layer
	var walk func([]*Layer)
	walk = func(layers []*Layer) {
		for _, l := range layers {
			out = append(out, l)
			walk(l.SubLayers)
		}
	}
	walk(s.Layers)
	return out
}

// FindLayer returns the layer with the given id.
func (s *Service) FindLayer(id int) (*Layer, bool) {
	for _, l := range s.AllLayers() {
		if l.ID == id {
			return l, true
		}
	}
	return nil, false
}

// Client fetches service descriptions.
type Client struct {
	http *httputil.Client
}

// NewClient wraps an HTTP client. Any headers configured on it are sent
// with every request.
func NewClient(client *httputil.Client) *Client {
	if client == nil {
		client = httputil.NewClient(httputil.ClientConfig{})
	}
	return &Client{http: client}
}

// FetchMapService parses a MapServer endpoint.
func (c *Client) FetchMapService(ctx context.Context, rawURL string) (*Service, error) {
	return c.Fetch(ctx, rawURL, MapServer)
}

// FetchImageService parses an ImageServer endpoint.
func (c *Client) FetchImageService(ctx context.Context, rawURL string) (*Service, error) {
	return c.Fetch(ctx, rawURL, ImageServer)
}

// Fetch requests <url>?f=json and parses the description.
func (c *Client) Fetch(ctx context.Context, rawURL string, kind Kind) (*Service, error) {
	base, err := ServiceURL(rawURL)
	if err != nil {
		return nil, err
	}
	body, _, err := c.http.GetBytes(ctx, base+"?f=json")
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", base, err)
	}
	return Parse(body, base, kind)
}

// FetchLayer reads the detail document of one layer, which carries the
// description and extent the service summary omits.
func (c *Client) FetchLayer(ctx context.Context, svc *Service, id int) (*Layer, error) {
	body, _, err := c.http.GetBytes(ctx, fmt.Sprintf("%s/%d?f=json", svc.URL, id))
	if err != nil {
		return nil, fmt.Errorf("fetch layer %d: %w", id, err)
	}
	if err := checkError(body); err != nil {
		return nil, err
	}
	doc := gjson.ParseBytes(body)
	return &Layer{
		ID:          int(doc.Get("id").Int()),
		Name:        doc.Get("name").String(),
		Description: doc.Get("description").String(),
		ParentID:    parentID(doc.Get("parentLayer.id")),
		Extent:      parseExtent(doc.Get("extent")),
	}, nil
}

// Parse decodes a service description. base is the normalised service URL.
func Parse(body []byte, base string, kind Kind) (*Service, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: %s did not return JSON", errors.ErrUnavailable, base)
	}
	if err := checkError(body); err != nil {
		return nil, err
	}

	doc := gjson.ParseBytes(body)
	svc := &Service{
		Kind:          kind,
		URL:           base,
		Version:       doc.Get("currentVersion").String(),
		MapName:       doc.Get("mapName").String(),
		Description:   firstNonEmpty(doc.Get("serviceDescription").String(), doc.Get("description").String()),
		Extent:        parseExtent(doc.Get("extent")),
		FullExtent:    parseExtent(doc.Get("fullExtent")),
		InitialExtent: parseExtent(doc.Get("initialExtent")),
		SpatialRef:    parseSpatialRef(doc.Get("spatialReference")),
	}
	if svc.MapName == "" {
		svc.MapName = doc.Get("name").String()
	}

	if kind == ImageServer {
		name := svc.MapName
		if name == "" {
			name = path.Base(GetESRIServiceName(base))
		}
		svc.Layers = []*Layer{{
			ID:          0,
			Name:        name,
			Description: svc.Description,
			ParentID:    -1,
			Extent:      svc.Extent,
		}}
		return svc, nil
	}

	byID := map[int]*Layer{}
	var order []*Layer
	doc.Get("layers").ForEach(func(_, value gjson.Result) bool {
		l := &Layer{
			ID:          int(value.Get("id").Int()),
			Name:        value.Get("name").String(),
			Description: value.Get("description").String(),
			ParentID:    parentID(value.Get("parentLayerId")),
			Extent:      parseExtent(value.Get("extent")),
		}
		byID[l.ID] = l
		order = append(order, l)
		return true
	})
	for _, l := range order {
		if parent, ok := byID[l.ParentID]; ok && l.ParentID >= 0 {
			parent.SubLayers = append(parent.SubLayers, l)
			continue
		}
		svc.Layers = append(svc.Layers, l)
	}
	return svc, nil
}

// GetESRIExtent picks the service envelope and its SRS. extent is
// preferred over fullExtent and initialExtent. latestWkid wins over wkid and
// the SRS defaults to EPSG:4326.
func GetESRIExtent(svc *Service) (Extent, string) {
	var extent Extent
	for _, candidate := range []*Extent{svc.Extent, svc.FullExtent, svc.InitialExtent} {
		if candidate.Valid() {
			extent = *candidate
			break
		}
	}
	return extent, srsOf(&extent, svc.SpatialRef)
}

// LayerExtent returns the layer envelope, falling back to the service's.
func LayerExtent(svc *Service, l *Layer) (Extent, string) {
	if l != nil && l.Extent.Valid() {
		return *l.Extent, srsOf(l.Extent, svc.SpatialRef)
	}
	return GetESRIExtent(svc)
}

func srsOf(extent, fallback *Extent) string {
	for _, ref := range []*Extent{extent, fallback} {
		if ref == nil {
			continue
		}
		if ref.LatestWKID > 0 {
			return "EPSG:" + strconv.Itoa(ref.LatestWKID)
		}
		if ref.WKID > 0 {
			return "EPSG:" + strconv.Itoa(ref.WKID)
		}
	}
	return "EPSG:4326"
}

var serviceNamePattern = regexp.MustCompile(`rest/services/(.*)/(?:MapServer|ImageServer)`)

// GetESRIServiceName returns the folder/name part of a REST service URL, or
// the URL itself when it does not look like one.
func GetESRIServiceName(rawURL string) string {
	match := serviceNamePattern.FindStringSubmatch(rawURL)
	if len(match) < 2 || match[1] == "" {
		return rawURL
	}
	return match[1]
}

// ServiceURL normalises a service URL: the query and trailing slashes are
// dropped.
func ServiceURL(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", errors.NewValidationError("url", err.Error())
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", errors.NewValidationError("url", "must be absolute")
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return strings.TrimRight(parsed.String(), "/"), nil
}

func checkError(body []byte) error {
	envelope := gjson.GetBytes(body, "error")
	if !envelope.Exists() {
		return nil
	}
	msg := envelope.Get("message").String()
	if details := envelope.Get("details"); details.IsArray() && len(details.Array()) > 0 {
		parts := make([]string, 0, len(details.Array()))
		for _, d := range details.Array() {
			parts = append(parts, d.String())
		}
		msg += " (" + strings.Join(parts, "; ") + ")"
	}
	return fmt.Errorf("%w: arcgis error %d: %s", errors.ErrUnavailable, envelope.Get("code").Int(), msg)
}

func parseExtent(v gjson.Result) *Extent {
	if !v.Exists() || !v.IsObject() {
		return nil
	}
	e := parseSpatialRef(v.Get("spatialReference"))
	if e == nil {
		e = &Extent{}
	}
	e.XMin = v.Get("xmin").Float()
	e.YMin = v.Get("ymin").Float()
	e.XMax = v.Get("xmax").Float()
	e.YMax = v.Get("ymax").Float()
	return e
}

func parseSpatialRef(v gjson.Result) *Extent {
	if !v.Exists() {
		return nil
	}
	return &Extent{
		WKID:       int(v.Get("wkid").Int()),
		LatestWKID: int(v.Get("latestWkid").Int()),
	}
}

func parentID(v gjson.Result) int {
	if !v.Exists() {
		return -1
	}
	return int(v.Int())
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
