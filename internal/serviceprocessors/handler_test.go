package serviceprocessors

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/geoharvest/internal/app/domain/link"
	"github.com/R3E-Network/geoharvest/internal/app/domain/remote"
	"github.com/R3E-Network/geoharvest/internal/app/storage/memory"
	"github.com/R3E-Network/geoharvest/internal/errors"
	"github.com/R3E-Network/geoharvest/internal/remote/geoserver"
	"github.com/R3E-Network/geoharvest/internal/remote/pki"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func capabilitiesXML(crs ...string) string {
	var crsXML strings.Builder
	for _, c := range crs {
		fmt.Fprintf(&crsXML, "<CRS>%s</CRS>", c)
	}
	return fmt.Sprintf(`<?xml version="1.0"?>
<WMS_Capabilities version="1.3.0">
  <Service><Name>WMS</Name><Title>Remote Maps</Title><Abstract></Abstract>
    <KeywordList><Keyword>maps</Keyword></KeywordList></Service>
  <Capability>
    <Layer>
      <Title>Root</Title>%s
      <Layer>
        <Name>roads</Name>
        <Title>Roads</Title>
        <Abstract>Road network</Abstract>
        <KeywordList><Keyword>transport</Keyword></KeywordList>
        <EX_GeographicBoundingBox>
          <westBoundLongitude>-1.5</westBoundLongitude>
          <eastBoundLongitude>1.5</eastBoundLongitude>
          <southBoundLatitude>50</southBoundLatitude>
          <northBoundLatitude>52</northBoundLatitude>
        </EX_GeographicBoundingBox>
      </Layer>
    </Layer>
  </Capability>
</WMS_Capabilities>`, crsXML.String())
}

// remoteServer fakes a WMS/ArcGIS host. GetCapabilities returns caps,
// GetMap returns a PNG and ArcGIS paths return the configured JSON.
type remoteServer struct {
	mu       sync.Mutex
	caps     string
	arcJSON  map[string]string
	requests []string
}

func (s *remoteServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, r.URL.String())
	s.mu.Unlock()

	switch strings.ToLower(r.URL.Query().Get("request")) {
	case "getcapabilities":
		w.Header().Set("Content-Type", "text/xml")
		w.Write([]byte(s.caps))
		return
	case "getmap":
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngBytes)
		return
	}
	if body, ok := s.arcJSON[r.URL.Path]; ok {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
		return
	}
	http.NotFound(w, r)
}

type fakeThumbs struct {
	mu    sync.Mutex
	saved map[string][]byte
}

func (f *fakeThumbs) Save(_ context.Context, key string, data []byte, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saved == nil {
		f.saved = map[string][]byte{}
	}
	f.saved[key] = data
	return "http://site/thumbs/" + key, nil
}

type fakeCascader struct {
	stores    []string
	published []string
}

func (f *fakeCascader) EnsureWMSStore(_ context.Context, workspace, store, capsURL string) error {
	f.stores = append(f.stores, workspace+"/"+store+"@"+capsURL)
	return nil
}

func (f *fakeCascader) PublishWMSLayer(_ context.Context, workspace, store, name string) (geoserver.Resource, error) {
	f.published = append(f.published, name)
	return geoserver.Resource{
		Name: name, Workspace: workspace, Store: store, Title: "Cascaded " + name,
		NativeBBox: []float64{-1, 1, 50, 52}, CRS: "EPSG:4326",
	}, nil
}

type failingThumbs struct{}

func (failingThumbs) Save(context.Context, string, []byte, string) (string, error) {
	return "", fmt.Errorf("bucket is read-only")
}

// failingLinks rejects every link write.
type failingLinks struct{}

func (failingLinks) GetOrCreateLink(context.Context, link.Link) (link.Link, bool, error) {
	return link.Link{}, false, fmt.Errorf("links table locked")
}

func (failingLinks) ReplaceLink(context.Context, link.Link) (link.Link, error) {
	return link.Link{}, fmt.Errorf("links table locked")
}

func (failingLinks) ListLinks(context.Context, string) ([]link.Link, error) {
	return nil, fmt.Errorf("links table locked")
}

func newDeps(store *memory.Store, thumbs *fakeThumbs, siteURL string) Deps {
	deps := Deps{
		Layers:           store,
		Links:            store,
		SiteURL:          siteURL,
		CascadeWorkspace: "cascaded",
	}
	if thumbs != nil {
		deps.Thumbnails = thumbs
	}
	return deps
}

func linkByName(links []link.Link, name string) (link.Link, bool) {
	for _, l := range links {
		if l.Name == name {
			return l, true
		}
	}
	return link.Link{}, false
}

func TestWMSHandlerIndexedHarvest(t *testing.T) {
	remoteSrv := &remoteServer{caps: capabilitiesXML("EPSG:4326", "EPSG:3857")}
	server := httptest.NewServer(remoteSrv)
	defer server.Close()

	store := memory.New()
	thumbs := &fakeThumbs{}
	ctx := context.Background()

	h, err := New(ctx, remote.TypeWMS, server.URL+"/wms?request=GetCapabilities", Options{
		Headers: map[string]string{"X-Key": "k"},
		Deps:    newDeps(store, thumbs, "http://site.example.org/"),
	})
	require.NoError(t, err)

	assert.Equal(t, server.URL+"/wms", h.URL())
	assert.Equal(t, Slugify(server.URL+"/wms"), h.Name())
	assert.Equal(t, remote.Indexed, h.IndexingMethod())
	assert.Empty(t, h.PKIURL())

	svc, err := h.CreateService(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Remote Maps", svc.Title)
	assert.Equal(t, "Not provided", svc.Abstract)
	assert.Equal(t, "http://site.example.org/proxy/", svc.ProxyBase)
	assert.Equal(t, "k", svc.Headers["X-Key"])
	svc, err = store.CreateService(ctx, svc)
	require.NoError(t, err)

	resources, err := h.Resources(ctx)
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, "roads", resources[0].ID)

	l, err := h.HarvestResource(ctx, "roads", svc)
	require.NoError(t, err)
	assert.Equal(t, svc.ID, l.ServiceID)
	assert.Equal(t, svc.Name, l.Store)
	assert.Equal(t, server.URL+"/wms", l.OWSURL)
	assert.True(t, l.IsApproved)
	assert.True(t, l.IsPublished)
	assert.Equal(t, "http://site/thumbs/layer-"+l.ID+"-thumb.png", l.ThumbnailURL)
	assert.Equal(t, pngBytes, thumbs.saved["layer-"+l.ID+"-thumb.png"])

	links, err := store.ListLinks(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, links, 4)

	serviceLink, ok := linkByName(links, "OGC:WMS")
	require.True(t, ok)
	assert.Equal(t, l.OWSURL, serviceLink.URL)

	legend, ok := linkByName(links, "Legend")
	require.True(t, ok)
	assert.Equal(t, server.URL+"/wms?service=WMS&version=1.3.0&request=GetLegendGraphic&format=image/png"+
		"&width=20&height=20&layer=roads&legend_options=fontAntiAliasing:true;fontSize:12;forceLabels:on", legend.URL)
	assert.Equal(t, "image", legend.LinkType)

	remoteThumb, ok := linkByName(links, "Remote Thumbnail")
	require.True(t, ok)
	assert.Equal(t, server.URL+"/wms?service=WMS&version=1.3.0&request=GetMap&layers=roads"+
		"&bbox=-1.500000000000000,50.000000000000000,1.500000000000000,52.000000000000000"+
		"&srs=EPSG:4326&width=200&height=150&format=image/png", remoteThumb.URL)

	_, err = h.HarvestResource(ctx, "roads", svc)
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
	assert.Contains(t, err.Error(), `resource "roads" has already been harvested`)

	_, err = h.HarvestResource(ctx, "missing", svc)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	assert.Contains(t, err.Error(), `resource "missing" cannot be harvested`)
}

func TestWMSHandlerCascadedHarvest(t *testing.T) {
	remoteSrv := &remoteServer{caps: capabilitiesXML("EPSG:4326")}
	server := httptest.NewServer(remoteSrv)
	defer server.Close()

	store := memory.New()
	cascader := &fakeCascader{}
	deps := newDeps(store, &fakeThumbs{}, "http://site.example.org/")
	deps.GeoServer = cascader
	deps.GeoServerOWSURL = server.URL + "/geoserver/ows"
	ctx := context.Background()

	h, err := NewWMSHandler(ctx, server.URL+"/wms", Options{Deps: deps})
	require.NoError(t, err)
	assert.Equal(t, remote.Cascaded, h.IndexingMethod())

	svc, _ := h.CreateService(ctx, "alice")
	svc, err = store.CreateService(ctx, svc)
	require.NoError(t, err)

	l, err := h.HarvestResource(ctx, "roads", svc)
	require.NoError(t, err)
	assert.Equal(t, "cascaded", l.Workspace)
	assert.Equal(t, "cascaded:roads", l.Alternate)
	assert.Equal(t, "Cascaded roads", l.Title)
	assert.Equal(t, server.URL+"/geoserver/ows", l.OWSURL)
	assert.NotEmpty(t, l.ThumbnailURL)

	require.Len(t, cascader.stores, 1)
	assert.Contains(t, cascader.stores[0], "cascaded/"+h.Name()+"@")
	assert.Equal(t, []string{"roads"}, cascader.published)
}

func TestWMSHandlerCascadedWithoutGeoServer(t *testing.T) {
	server := httptest.NewServer(&remoteServer{caps: capabilitiesXML("EPSG:4326")})
	defer server.Close()

	store := memory.New()
	ctx := context.Background()
	h, err := NewWMSHandler(ctx, server.URL+"/wms", Options{Deps: newDeps(store, nil, "")})
	require.NoError(t, err)

	svc, _ := h.CreateService(ctx, "")
	svc, _ = store.CreateService(ctx, svc)
	_, err = h.HarvestResource(ctx, "roads", svc)
	require.Error(t, err)
	assert.True(t, errors.IsUnavailable(err))
}

func TestWMSHandlerPKIRoute(t *testing.T) {
	remoteSrv := &remoteServer{caps: capabilitiesXML("EPSG:3857")}
	server := httptest.NewServer(remoteSrv)
	defer server.Close()

	store := memory.New()
	deps := newDeps(store, &fakeThumbs{}, server.URL)
	deps.PKI = pki.NewRouter(server.URL)
	ctx := context.Background()

	route := server.URL + "/pki/remote.example.org/wms"
	h, err := NewWMSHandler(ctx, route, Options{Deps: deps})
	require.NoError(t, err)

	assert.Equal(t, "https://remote.example.org/wms", h.URL())
	assert.Equal(t, route, h.PKIURL())
	assert.Equal(t, server.URL+"/proxy/?url="+url.QueryEscape("https://remote.example.org/wms"), h.PKIProxyURL())

	svc, _ := h.CreateService(ctx, "")
	svc, err = store.CreateService(ctx, svc)
	require.NoError(t, err)

	l, err := h.HarvestResource(ctx, "roads", svc)
	require.NoError(t, err)
	// The thumbnail is fetched through the PKI route.
	assert.NotEmpty(t, l.ThumbnailURL)

	links, _ := store.ListLinks(ctx, l.ID)
	legend, ok := linkByName(links, "Legend")
	require.True(t, ok)
	escapedOptions := url.QueryEscape(legendOptions)
	inner := "https://remote.example.org/wms?service=WMS&version=1.3.0&request=GetLegendGraphic&format=image/png" +
		"&width=20&height=20&layer=roads&legend_options=" + escapedOptions
	assert.Equal(t, server.URL+"/proxy/?url="+url.QueryEscape(inner), legend.URL)
}

func TestGeoNodeHandlerProbesEndpoint(t *testing.T) {
	remoteSrv := &remoteServer{caps: capabilitiesXML("EPSG:3857")}
	mux := http.NewServeMux()
	var serverURL string
	mux.HandleFunc("/api/ows_endpoints/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"data": [{"type": "OGC:WMS", "url": "%[1]s/wms"}, {"type": "OGC:OWS", "url": "%[1]s/geoserver/ows"}]}`, serverURL)
	})
	mux.Handle("/", remoteSrv)
	server := httptest.NewServer(mux)
	defer server.Close()
	serverURL = server.URL

	h, err := New(context.Background(), remote.TypeGeoNode, server.URL+"/layers/?map=x", Options{
		Deps: newDeps(memory.New(), nil, "http://site/"),
	})
	require.NoError(t, err)
	assert.Equal(t, remote.TypeGeoNode, h.Type())
	assert.Equal(t, server.URL+"/geoserver/ows?map=x", h.URL())
}

func TestGeoNodeHandlerFallsBackToGeoServerOWS(t *testing.T) {
	server := httptest.NewServer(&remoteServer{caps: capabilitiesXML("EPSG:3857")})
	defer server.Close()

	h, err := NewGeoNodeHandler(context.Background(), server.URL+"/", Options{Deps: newDeps(memory.New(), nil, "")})
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/geoserver/ows", h.URL())
}

const arcMapJSON = `{
  "currentVersion": 10.81,
  "mapName": "Layers",
  "serviceDescription": "Roads and rivers",
  "spatialReference": {"wkid": 4326},
  "fullExtent": {"xmin": -10, "ymin": -5, "xmax": 10, "ymax": 5, "spatialReference": {"wkid": 4326}},
  "layers": [
    {"id": 0, "name": "Roads", "parentLayerId": -1},
    {"id": 1, "name": "Rivers", "parentLayerId": -1}
  ]
}`

func TestArcHandlerHarvest(t *testing.T) {
	const servicePath = "/arcgis/rest/services/Transport/Road_Network/MapServer"
	remoteSrv := &remoteServer{arcJSON: map[string]string{
		servicePath:        arcMapJSON,
		servicePath + "/0": `{"id": 0, "name": "Roads", "description": "Primary roads", "extent": {"xmin": 1, "ymin": 2, "xmax": 3, "ymax": 4, "spatialReference": {"latestWkid": 3857}}}`,
	}}
	server := httptest.NewServer(remoteSrv)
	defer server.Close()

	store := memory.New()
	ctx := context.Background()
	h, err := New(ctx, Guess(server.URL+servicePath), server.URL+servicePath, Options{
		Deps: newDeps(store, &fakeThumbs{}, ""),
	})
	require.NoError(t, err)

	assert.Equal(t, remote.TypeRESTMap, h.Type())
	assert.Equal(t, "Road Network", h.Title())
	assert.Equal(t, remote.Indexed, h.IndexingMethod())
	assert.Equal(t, server.URL+servicePath, h.URL())

	arc := h.(*ArcHandler)
	extent, srs := arc.Extent()
	assert.Equal(t, -10.0, extent.XMin)
	assert.Equal(t, "EPSG:4326", srs)

	resources, err := h.Resources(ctx)
	require.NoError(t, err)
	require.Len(t, resources, 2)

	svc, err := h.CreateService(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "Roads and rivers", svc.Abstract)
	assert.Equal(t, "10.81", svc.Version)
	svc, err = store.CreateService(ctx, svc)
	require.NoError(t, err)

	l, err := h.HarvestResource(ctx, "0", svc)
	require.NoError(t, err)
	assert.Equal(t, "0-roads", l.Typename)
	assert.Equal(t, "Primary roads", l.Abstract)
	assert.Equal(t, "EPSG:3857", l.SRID)
	assert.Equal(t, "1.000000000000000", l.BBoxX0)
	assert.Equal(t, []string{"ESRI", "ArcGIS REST MapServer", "Roads"}, l.Keywords)

	links, _ := store.ListLinks(ctx, l.ID)
	legend, ok := linkByName(links, "Legend")
	require.True(t, ok)
	assert.Equal(t, server.URL+servicePath+"/legend?f=json", legend.URL)
	_, ok = linkByName(links, "ESRI:ArcGIS:MapServer")
	assert.True(t, ok)

	_, err = h.HarvestResource(ctx, "9", svc)
	assert.True(t, errors.IsNotFound(err))
}

func TestNewRejectsUnknownType(t *testing.T) {
	_, err := New(context.Background(), remote.Type("CSW"), "http://h/csw", Options{})
	assert.True(t, errors.IsValidationError(err))

	_, err = New(context.Background(), remote.TypeWMS, " ", Options{})
	assert.True(t, errors.IsValidationError(err))
}

func TestHarvestSurvivesLinkAndThumbnailFailures(t *testing.T) {
	server := httptest.NewServer(&remoteServer{caps: capabilitiesXML("EPSG:3857")})
	defer server.Close()

	store := memory.New()
	ctx := context.Background()
	deps := newDeps(store, nil, "http://site.example.org/")
	deps.Thumbnails = failingThumbs{}
	deps.Links = failingLinks{}

	h, err := NewWMSHandler(ctx, server.URL+"/wms", Options{Deps: deps})
	require.NoError(t, err)
	svc, err := h.CreateService(ctx, "")
	require.NoError(t, err)
	svc, err = store.CreateService(ctx, svc)
	require.NoError(t, err)

	l, err := h.HarvestResource(ctx, "roads", svc)
	require.NoError(t, err)
	require.NotEmpty(t, l.ID)
	assert.Empty(t, l.ThumbnailURL)

	stored, err := store.GetLayer(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "roads", stored.Name)
	assert.Empty(t, stored.ThumbnailURL)

	links, err := store.ListLinks(ctx, l.ID)
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestHarvestReturnsThumbnailWhenLinkWriteFails(t *testing.T) {
	server := httptest.NewServer(&remoteServer{caps: capabilitiesXML("EPSG:3857")})
	defer server.Close()

	store := memory.New()
	thumbs := &fakeThumbs{}
	ctx := context.Background()
	deps := newDeps(store, thumbs, "http://site.example.org/")
	deps.Links = failingLinks{}

	h, err := NewWMSHandler(ctx, server.URL+"/wms", Options{Deps: deps})
	require.NoError(t, err)
	svc, err := h.CreateService(ctx, "")
	require.NoError(t, err)
	svc, err = store.CreateService(ctx, svc)
	require.NoError(t, err)

	l, err := h.HarvestResource(ctx, "roads", svc)
	require.NoError(t, err)

	stored, err := store.GetLayer(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "http://site/thumbs/layer-"+l.ID+"-thumb.png", stored.ThumbnailURL)
	assert.Equal(t, stored.ThumbnailURL, l.ThumbnailURL)
}
