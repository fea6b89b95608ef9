package httpapi

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"github.com/R3E-Network/geoharvest/internal/app/domain/layer"
	"github.com/R3E-Network/geoharvest/internal/app/domain/remote"
	"github.com/R3E-Network/geoharvest/internal/templatetags"
)

//go:embed templates/*.html
var templateFS embed.FS

func parsePage(tags templatetags.Tags) (*template.Template, error) {
	return template.New("index.html").Funcs(tags.FuncMap()).ParseFS(templateFS, "templates/index.html")
}

type indexService struct {
	remote.Service
	Layers []layer.Layer
}

// index renders the catalogue of registered services and their layers.
func (h *handler) index(w http.ResponseWriter, r *http.Request) {
	services, err := h.app.Harvest.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	data := make([]indexService, 0, len(services))
	for _, svc := range services {
		layers, err := h.app.Harvest.Layers(r.Context(), svc.ID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		data = append(data, indexService{Service: svc, Layers: layers})
	}

	var buf bytes.Buffer
	if err := h.page.Execute(&buf, map[string]any{"Services": data}); err != nil {
		h.log.WithError(err).Error("render index")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
