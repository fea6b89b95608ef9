package serviceprocessors

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/R3E-Network/geoharvest/internal/app/domain/layer"
	"github.com/R3E-Network/geoharvest/internal/app/domain/remote"
	"github.com/R3E-Network/geoharvest/internal/remote/geoserver"
	"github.com/R3E-Network/geoharvest/pkg/logger"
)

const maxKeywordLength = 100

// DecimalEncode renders each bbox element rounded to two places with
// fifteen decimals. Non-numeric elements are skipped and the result is
// padded with "0" to four elements.
func DecimalEncode(bbox []string, log *logger.Logger) []string {
	out := make([]string, 0, 4)
	for _, raw := range bbox {
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			if log != nil {
				log.Debugf("found non-numeric value in bbox: %s", raw)
			}
			continue
		}
		// FormatFloat rounds exact ties to even.
		rounded, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 2, 64), 64)
		out = append(out, fmt.Sprintf("%.15f", rounded))
	}
	if len(out) < 4 {
		if log != nil {
			log.Errorf("did not find enough elements in bbox: %v", bbox)
		}
		for len(out) < 4 {
			out = append(out, "0")
		}
	}
	return out
}

func floatsToStrings(values []float64) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strconv.FormatFloat(v, 'f', -1, 64))
	}
	return out
}

// IndexedWMSFields maps a capabilities layer onto a layer record that is
// served straight from the remote service.
func IndexedWMSFields(res Resource, store string, log *logger.Logger) layer.Layer {
	bbox := DecimalEncode(floatsToStrings(res.BBox), log)
	keywords := make([]string, 0, len(res.Keywords))
	for _, kw := range res.Keywords {
		keywords = append(keywords, truncate(kw, maxKeywordLength))
	}
	return layer.Layer{
		Name:      res.Name,
		Store:     store,
		StoreType: layer.RemoteStoreType,
		Workspace: layer.RemoteWorkspace,
		Typename:  res.Name,
		Alternate: res.Name,
		Title:     res.Title,
		Abstract:  res.Abstract,
		BBoxX0:    bbox[0],
		BBoxX1:    bbox[2],
		BBoxY0:    bbox[1],
		BBoxY1:    bbox[3],
		SRID:      "EPSG:4326",
		Keywords:  keywords,
	}
}

// CascadedWMSFields maps a layer published through GeoServer. The native
// bbox arrives as minx, maxx, miny, maxy.
func CascadedWMSFields(res geoserver.Resource, log *logger.Logger) layer.Layer {
	bbox := DecimalEncode(floatsToStrings(res.NativeBBox), log)
	qualified := res.Workspace + ":" + res.Name
	srid := res.CRS
	if srid == "" {
		srid = "EPSG:4326"
	}
	return layer.Layer{
		Name:      res.Name,
		Workspace: res.Workspace,
		Store:     res.Store,
		Typename:  qualified,
		Alternate: qualified,
		StoreType: layer.RemoteStoreType,
		Title:     res.Title,
		Abstract:  res.Abstract,
		BBoxX0:    bbox[0],
		BBoxX1:    bbox[1],
		BBoxY0:    bbox[2],
		BBoxY1:    bbox[3],
		SRID:      srid,
	}
}

func arcgisLayerName(res Resource) string {
	return Slugify(fmt.Sprintf("%s-%s", res.ID, ToASCII(res.Title)))
}

// LayerName is the name a resource of a service of type typ is stored
// under once harvested.
func LayerName(typ remote.Type, res Resource) string {
	if typ.IsESRI() {
		return arcgisLayerName(res)
	}
	return res.Name
}

// ArcGISFields maps an ArcGIS layer. The bbox is ordered xmin, ymin, xmax,
// ymax.
func ArcGISFields(res Resource, store, serviceKeyword string, log *logger.Logger) layer.Layer {
	bbox := DecimalEncode(floatsToStrings(res.BBox), log)
	typename := arcgisLayerName(res)
	return layer.Layer{
		Name:      typename,
		Store:     store,
		StoreType: layer.RemoteStoreType,
		Workspace: layer.RemoteWorkspace,
		Typename:  typename,
		Alternate: typename,
		Title:     res.Title,
		Abstract:  res.Abstract,
		BBoxX0:    bbox[0],
		BBoxX1:    bbox[2],
		BBoxY0:    bbox[1],
		BBoxY1:    bbox[3],
		SRID:      res.SRS,
		Keywords:  []string{"ESRI", serviceKeyword, res.Title},
	}
}
