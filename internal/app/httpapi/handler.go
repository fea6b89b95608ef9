// Package httpapi exposes the application services over HTTP.
package httpapi

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	app "github.com/R3E-Network/geoharvest/internal/app"
	"github.com/R3E-Network/geoharvest/internal/app/domain/layer"
	"github.com/R3E-Network/geoharvest/internal/app/domain/link"
	"github.com/R3E-Network/geoharvest/internal/app/domain/remote"
	"github.com/R3E-Network/geoharvest/internal/app/metrics"
	"github.com/R3E-Network/geoharvest/internal/app/services/harvest"
	"github.com/R3E-Network/geoharvest/internal/errors"
	"github.com/R3E-Network/geoharvest/internal/middleware"
	"github.com/R3E-Network/geoharvest/internal/templatetags"
	"github.com/R3E-Network/geoharvest/pkg/logger"
)

// Options configure the HTTP surface.
type Options struct {
	JWTSecret        string
	AllowedOrigins   []string
	RateLimit        int
	RateBurst        int
	RemoteContentURL string
	Log              *logger.Logger
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app  *app.Application
	page *template.Template
	log  *logger.Logger
}

// NewHandler returns the routed API wrapped in tracing, metrics, CORS,
// authentication and rate limiting.
func NewHandler(application *app.Application, opts Options) (http.Handler, error) {
	log := opts.Log
	if log == nil {
		log = logger.NewDefault("http")
	}
	page, err := parsePage(templatetags.Tags{RemoteContentURL: opts.RemoteContentURL})
	if err != nil {
		return nil, err
	}
	h := &handler{app: application, page: page, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/services", h.registerService).Methods(http.MethodPost)
	r.HandleFunc("/services", h.listServices).Methods(http.MethodGet)
	r.HandleFunc("/services/{id}", h.getService).Methods(http.MethodGet)
	r.HandleFunc("/services/{id}/resources", h.serviceResources).Methods(http.MethodGet)
	r.HandleFunc("/services/{id}/resources/{rid}/harvest", h.harvestResource).Methods(http.MethodPost)
	r.HandleFunc("/services/{id}/harvest", h.harvestAll).Methods(http.MethodPost)

	r.HandleFunc("/layers", h.listLayers).Methods(http.MethodGet)
	r.HandleFunc("/layers/{id}", h.getLayer).Methods(http.MethodGet)
	r.HandleFunc("/layers/{id}/links", h.layerLinks).Methods(http.MethodGet)

	r.HandleFunc("/api/journals/", h.journals)
	r.HandleFunc("/api/journals", h.journals)
	r.HandleFunc("/api/journals/{id}/", h.journal)
	r.HandleFunc("/api/journals/{id}", h.journal)

	r.HandleFunc("/thumbs/{key}", h.thumbnail).Methods(http.MethodGet)
	r.HandleFunc("/", h.index).Methods(http.MethodGet)

	var out http.Handler = r
	out = middleware.NewRateLimiter(opts.RateLimit, opts.RateBurst, log.Component("ratelimit")).Handler(out)
	out = middleware.NewAuthMiddleware(opts.JWTSecret, log.Component("auth")).Handler(out)
	out = middleware.NewCORS(opts.AllowedOrigins)(out)
	out = metrics.InstrumentHandler(out)
	out = middleware.NewTracingMiddleware(log).Handler(out)
	return out, nil
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

type serviceResponse struct {
	ID             string                `json:"id"`
	Name           string                `json:"name"`
	Type           remote.Type           `json:"type"`
	Method         remote.IndexingMethod `json:"method"`
	BaseURL        string                `json:"base_url"`
	ProxyBase      string                `json:"proxy_base,omitempty"`
	PKIURL         string                `json:"pki_url,omitempty"`
	PKIProxyURL    string                `json:"pki_proxy_url,omitempty"`
	Version        string                `json:"version,omitempty"`
	Title          string                `json:"title"`
	Abstract       string                `json:"abstract"`
	Keywords       []string              `json:"keywords"`
	OnlineResource string                `json:"online_resource,omitempty"`
	Owner          string                `json:"owner,omitempty"`
	MetadataOnly   bool                  `json:"metadata_only"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

func toServiceResponse(svc remote.Service) serviceResponse {
	keywords := svc.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	return serviceResponse{
		ID:             svc.ID,
		Name:           svc.Name,
		Type:           svc.Type,
		Method:         svc.Method,
		BaseURL:        svc.BaseURL,
		ProxyBase:      svc.ProxyBase,
		PKIURL:         svc.PKIURL,
		PKIProxyURL:    svc.PKIProxyURL,
		Version:        svc.Version,
		Title:          svc.Title,
		Abstract:       svc.Abstract,
		Keywords:       keywords,
		OnlineResource: svc.OnlineResource,
		Owner:          svc.Owner,
		MetadataOnly:   svc.MetadataOnly,
		CreatedAt:      svc.CreatedAt,
		UpdatedAt:      svc.UpdatedAt,
	}
}

type layerResponse struct {
	ID           string    `json:"id"`
	ServiceID    string    `json:"service_id"`
	Name         string    `json:"name"`
	Store        string    `json:"store"`
	StoreType    string    `json:"storeType"`
	Workspace    string    `json:"workspace"`
	Typename     string    `json:"typename"`
	Alternate    string    `json:"alternate"`
	Title        string    `json:"title"`
	Abstract     string    `json:"abstract"`
	BBoxX0       string    `json:"bbox_x0"`
	BBoxX1       string    `json:"bbox_x1"`
	BBoxY0       string    `json:"bbox_y0"`
	BBoxY1       string    `json:"bbox_y1"`
	SRID         string    `json:"srid"`
	Keywords     []string  `json:"keywords"`
	OWSURL       string    `json:"ows_url"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	IsApproved   bool      `json:"is_approved"`
	IsPublished  bool      `json:"is_published"`
	CreatedAt    time.Time `json:"created_at"`
}

func toLayerResponse(l layer.Layer) layerResponse {
	keywords := l.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	return layerResponse{
		ID:           l.ID,
		ServiceID:    l.ServiceID,
		Name:         l.Name,
		Store:        l.Store,
		StoreType:    l.StoreType,
		Workspace:    l.Workspace,
		Typename:     l.Typename,
		Alternate:    l.Alternate,
		Title:        l.Title,
		Abstract:     l.Abstract,
		BBoxX0:       l.BBoxX0,
		BBoxX1:       l.BBoxX1,
		BBoxY0:       l.BBoxY0,
		BBoxY1:       l.BBoxY1,
		SRID:         l.SRID,
		Keywords:     keywords,
		OWSURL:       l.OWSURL,
		ThumbnailURL: l.ThumbnailURL,
		IsApproved:   l.IsApproved,
		IsPublished:  l.IsPublished,
		CreatedAt:    l.CreatedAt,
	}
}

type linkResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	Extension string `json:"extension"`
	Mime      string `json:"mime"`
	LinkType  string `json:"link_type"`
}

func toLinkResponse(l link.Link) linkResponse {
	return linkResponse{ID: l.ID, Name: l.Name, URL: l.URL, Extension: l.Extension, Mime: l.Mime, LinkType: l.LinkType}
}

type resourceResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Title     string    `json:"title"`
	Abstract  string    `json:"abstract"`
	Keywords  []string  `json:"keywords"`
	BBox      []float64 `json:"bbox"`
	SRS       string    `json:"srs"`
	Harvested bool      `json:"harvested"`
}

func (h *handler) registerService(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		URL     string            `json:"url"`
		Type    string            `json:"type"`
		Owner   string            `json:"owner"`
		Headers map[string]string `json:"headers"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	owner := payload.Owner
	if owner == "" {
		owner = middleware.UserID(r.Context())
	}

	svc, err := h.app.Harvest.Register(r.Context(), harvest.RegisterRequest{
		URL:     payload.URL,
		Type:    remote.Type(payload.Type),
		Owner:   owner,
		Headers: payload.Headers,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toServiceResponse(svc))
}

func (h *handler) listServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.app.Harvest.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]serviceResponse, 0, len(services))
	for _, svc := range services {
		out = append(out, toServiceResponse(svc))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) getService(w http.ResponseWriter, r *http.Request) {
	svc, err := h.app.Harvest.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toServiceResponse(svc))
}

func (h *handler) serviceResources(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.app.Harvest.Resources(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]resourceResponse, 0, len(statuses))
	for _, st := range statuses {
		keywords := st.Keywords
		if keywords == nil {
			keywords = []string{}
		}
		out = append(out, resourceResponse{
			ID:        st.ID,
			Name:      st.Name,
			Title:     st.Title,
			Abstract:  st.Abstract,
			Keywords:  keywords,
			BBox:      st.BBox,
			SRS:       st.SRS,
			Harvested: st.Harvested,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) harvestResource(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	l, err := h.app.Harvest.Harvest(r.Context(), vars["id"], vars["rid"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLayerResponse(l))
}

func (h *handler) harvestAll(w http.ResponseWriter, r *http.Request) {
	result, err := h.app.Harvest.HarvestAll(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	layers := make([]layerResponse, 0, len(result.Layers))
	for _, l := range result.Layers {
		layers = append(layers, toLayerResponse(l))
	}
	failures := make(map[string]string, len(result.Errors))
	for id, err := range result.Errors {
		failures[id] = err.Error()
	}
	writeJSON(w, http.StatusOK, map[string]any{"layers": layers, "errors": failures})
}

func (h *handler) listLayers(w http.ResponseWriter, r *http.Request) {
	layers, err := h.app.Harvest.Layers(r.Context(), r.URL.Query().Get("service"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]layerResponse, 0, len(layers))
	for _, l := range layers {
		out = append(out, toLayerResponse(l))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) getLayer(w http.ResponseWriter, r *http.Request) {
	l, err := h.app.Harvest.Layer(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLayerResponse(l))
}

func (h *handler) layerLinks(w http.ResponseWriter, r *http.Request) {
	links, err := h.app.Harvest.Links(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]linkResponse, 0, len(links))
	for _, l := range links {
		out = append(out, toLinkResponse(l))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) thumbnail(w http.ResponseWriter, r *http.Request) {
	if h.app.Thumbnails == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("thumbnails are not stored"))
		return
	}
	rc, contentType, err := h.app.Thumbnails.Open(r.Context(), mux.Vars(r)["key"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer rc.Close()
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	if _, err := io.Copy(w, rc); err != nil {
		h.log.WithError(err).Warn("write thumbnail")
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// writeServiceError derives the status from the error kind.
func writeServiceError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errors.HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error(), "code": errors.Code(err)})
}
