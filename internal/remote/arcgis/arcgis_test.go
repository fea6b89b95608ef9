package arcgis

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/geoharvest/internal/errors"
	"github.com/R3E-Network/geoharvest/internal/httputil"
)

const mapServerJSON = `{
  "currentVersion": 10.81,
  "mapName": "Layers",
  "serviceDescription": "Transport network",
  "spatialReference": {"wkid": 102100, "latestWkid": 3857},
  "initialExtent": {"xmin": 1, "ymin": 2, "xmax": 3, "ymax": 4, "spatialReference": {"wkid": 102100}},
  "fullExtent": {"xmin": -10, "ymin": -20, "xmax": 10, "ymax": 20, "spatialReference": {"wkid": 4326}},
  "layers": [
    {"id": 0, "name": "Transport", "parentLayerId": -1, "subLayerIds": [1, 2]},
    {"id": 1, "name": "Roads", "parentLayerId": 0},
    {"id": 2, "name": "Rail", "parentLayerId": 0},
    {"id": 3, "name": "Boundaries", "parentLayerId": -1}
  ]
}`

func TestFetchMapService(t *testing.T) {
	var gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Token")
		assert.Equal(t, "json", r.URL.Query().Get("f"))
		assert.Equal(t, "/arcgis/rest/services/Transport/MapServer", r.URL.Path)
		w.Write([]byte(mapServerJSON))
	}))
	defer server.Close()

	client := NewClient(httputil.NewClient(httputil.ClientConfig{Headers: map[string]string{"X-Token": "t"}}))
	svc, err := client.FetchMapService(context.Background(), server.URL+"/arcgis/rest/services/Transport/MapServer/?f=pjson")
	require.NoError(t, err)

	assert.Equal(t, "t", gotHeader)
	assert.Equal(t, server.URL+"/arcgis/rest/services/Transport/MapServer", svc.URL)
	assert.Equal(t, "10.81", svc.Version)
	assert.Equal(t, "Layers", svc.MapName)
	assert.Equal(t, "Transport network", svc.Description)

	require.Len(t, svc.Layers, 2)
	assert.Len(t, svc.Layers[0].SubLayers, 2)
	assert.Len(t, svc.AllLayers(), 4)

	rail, ok := svc.FindLayer(2)
	require.True(t, ok)
	assert.Equal(t, "Rail", rail.Name)

	extent, srs := GetESRIExtent(svc)
	assert.Equal(t, -10.0, extent.XMin)
	assert.Equal(t, "EPSG:4326", srs)
}

func TestFetchImageServiceExposesSingleLayer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"currentVersion": 10.5, "name": "Elevation/DEM", "description": "DEM",
			"extent": {"xmin": 0, "ymin": 0, "xmax": 5, "ymax": 5, "spatialReference": {"wkid": 4326, "latestWkid": 4326}}}`))
	}))
	defer server.Close()

	svc, err := NewClient(nil).FetchImageService(context.Background(), server.URL+"/arcgis/rest/services/Elevation/DEM/ImageServer")
	require.NoError(t, err)
	require.Len(t, svc.Layers, 1)
	assert.Equal(t, 0, svc.Layers[0].ID)
	assert.Equal(t, "Elevation/DEM", svc.Layers[0].Name)
	assert.Equal(t, "DEM", svc.Layers[0].Description)
}

func TestFetchErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": {"code": 499, "message": "Token Required", "details": []}}`))
	}))
	defer server.Close()

	_, err := NewClient(nil).FetchMapService(context.Background(), server.URL+"/rest/services/A/MapServer")
	require.Error(t, err)
	assert.True(t, errors.IsUnavailable(err))
	assert.Contains(t, err.Error(), "Token Required")
}

func TestGetESRIServiceName(t *testing.T) {
	cases := map[string]string{
		"http://h/arcgis/rest/services/Folder/My_Service/MapServer": "Folder/My_Service",
		"http://h/arcgis/rest/services/DEM/ImageServer":             "DEM",
		"http://h/not/a/service":                                    "http://h/not/a/service",
	}
	for in, want := range cases {
		assert.Equal(t, want, GetESRIServiceName(in), in)
	}
}

func TestGetESRIExtentPrefersLatestWKID(t *testing.T) {
	svc := &Service{
		Extent:     &Extent{XMin: 1, XMax: 2, WKID: 102100, LatestWKID: 3857},
		FullExtent: &Extent{XMin: 5, XMax: 6, WKID: 4326},
	}
	extent, srs := GetESRIExtent(svc)
	assert.Equal(t, 1.0, extent.XMin)
	assert.Equal(t, "EPSG:3857", srs)

	_, srs = GetESRIExtent(&Service{})
	assert.Equal(t, "EPSG:4326", srs)
}

func TestServiceURLRejectsRelative(t *testing.T) {
	_, err := ServiceURL("/rest/services/A/MapServer")
	assert.True(t, errors.IsValidationError(err))
}
