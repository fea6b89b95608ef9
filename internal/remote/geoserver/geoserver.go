// Package geoserver is a minimal GeoServer REST client for cascading remote
// WMS layers.
package geoserver

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/geoharvest/internal/errors"
	"github.com/R3E-Network/geoharvest/internal/httputil"
)

// Resource is a published cascaded layer.
type Resource struct {
	Name      string
	Workspace string
	Store     string
	Title     string
	Abstract  string
	Keywords  []string
	// NativeBBox is ordered minx, maxx, miny, maxy.
	NativeBBox []float64
	CRS        string
}

// Client talks to the GeoServer REST API.
type Client struct {
	base string
	http *httputil.Client
}

// NewClient creates a client for the GeoServer at baseURL (for example
// http://localhost:8080/geoserver/) authenticating with user and password.
func NewClient(baseURL, user, password string, client *httputil.Client) *Client {
	if client == nil {
		client = httputil.NewClient(httputil.ClientConfig{})
	}
	if user != "" {
		client = client.WithBasicAuth(user, password)
	}
	return &Client{base: strings.TrimRight(baseURL, "/") + "/rest", http: client}
}

// EnsureWorkspace creates the workspace when it does not exist.
func (c *Client) EnsureWorkspace(ctx context.Context, workspace string) error {
	exists, err := c.exists(ctx, c.path("workspaces", workspace)+".json")
	if err != nil || exists {
		return err
	}
	body := map[string]interface{}{"workspace": map[string]string{"name": workspace}}
	return c.send(ctx, http.MethodPost, c.path("workspaces"), body)
}

// EnsureWMSStore creates a cascading WMS store pointing at capabilitiesURL
// unless one with that name already exists.
func (c *Client) EnsureWMSStore(ctx context.Context, workspace, store, capabilitiesURL string) error {
	if err := c.EnsureWorkspace(ctx, workspace); err != nil {
		return fmt.Errorf("ensure workspace %s: %w", workspace, err)
	}
	exists, err := c.exists(ctx, c.path("workspaces", workspace, "wmsstores", store)+".json")
	if err != nil || exists {
		return err
	}
	body := map[string]interface{}{
		"wmsStore": map[string]interface{}{
			"name":            store,
			"type":            "WMS",
			"enabled":         true,
			"capabilitiesURL": capabilitiesURL,
		},
	}
	if err := c.send(ctx, http.MethodPost, c.path("workspaces", workspace, "wmsstores"), body); err != nil {
		return fmt.Errorf("create wms store %s: %w", store, err)
	}
	return nil
}

// PublishWMSLayer publishes the remote layer name through the store and
// returns its resource description. Already published layers are returned
// as they are.
func (c *Client) PublishWMSLayer(ctx context.Context, workspace, store, name string) (Resource, error) {
	layerURL := c.path("workspaces", workspace, "wmsstores", store, "wmslayers", name) + ".json"
	exists, err := c.exists(ctx, layerURL)
	if err != nil {
		return Resource{}, err
	}
	if !exists {
		body := map[string]interface{}{
			"wmsLayer": map[string]interface{}{
				"name":       name,
				"nativeName": name,
				"enabled":    true,
			},
		}
		if err := c.send(ctx, http.MethodPost, c.path("workspaces", workspace, "wmsstores", store, "wmslayers"), body); err != nil {
			return Resource{}, fmt.Errorf("publish %s: %w", name, err)
		}
	}

	data, _, err := c.http.GetBytes(ctx, layerURL)
	if err != nil {
		return Resource{}, fmt.Errorf("read %s: %w", name, err)
	}
	return parseResource(data, workspace, store)
}

func parseResource(data []byte, workspace, store string) (Resource, error) {
	doc := gjson.GetBytes(data, "wmsLayer")
	if !doc.Exists() {
		return Resource{}, fmt.Errorf("%w: unexpected geoserver layer document", errors.ErrUnavailable)
	}
	res := Resource{
		Name:      doc.Get("name").String(),
		Workspace: workspace,
		Store:     store,
		Title:     doc.Get("title").String(),
		Abstract:  doc.Get("abstract").String(),
	}
	doc.Get("keywords.string").ForEach(func(_, kw gjson.Result) bool {
		res.Keywords = append(res.Keywords, kw.String())
		return true
	})

	bbox := doc.Get("nativeBoundingBox")
	if !bbox.Exists() {
		bbox = doc.Get("latLonBoundingBox")
	}
	res.NativeBBox = []float64{
		bbox.Get("minx").Float(),
		bbox.Get("maxx").Float(),
		bbox.Get("miny").Float(),
		bbox.Get("maxy").Float(),
	}
	// crs is either a plain string or {"@class": ..., "$": "EPSG:..."}.
	crs := bbox.Get("crs")
	if crs.IsObject() {
		res.CRS = crs.Map()["$"].String()
	} else {
		res.CRS = crs.String()
	}
	if res.CRS == "" {
		res.CRS = doc.Get("srs").String()
	}
	return res, nil
}

func (c *Client) path(parts ...string) string {
	escaped := make([]string, 0, len(parts))
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	return c.base + "/" + strings.Join(escaped, "/")
}

func (c *Client) exists(ctx context.Context, target string) (bool, error) {
	resp, err := c.http.Get(ctx, target)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if err := httputil.CheckStatus(resp); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) send(ctx context.Context, method, target string, body interface{}) error {
	resp, err := c.http.Do(ctx, method, target, body, "application/json")
	if err != nil {
		return err
	}
	return httputil.DecodeResponse(resp, nil)
}
