// Package wms reads OGC WMS GetCapabilities documents.
package wms

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// Capabilities is the subset of a WMS 1.1.1 or 1.3.0 capabilities document
// needed to harvest layers.
type Capabilities struct {
	XMLName    xml.Name
	Version    string      `xml:"version,attr"`
	Service    ServiceInfo `xml:"Service"`
	Capability struct {
		Request struct {
			GetMap struct {
				Format  []string `xml:"Format"`
				DCPType struct {
					HTTP struct {
						Get struct {
							OnlineResource onlineResource `xml:"OnlineResource"`
						} `xml:"Get"`
					} `xml:"HTTP"`
				} `xml:"DCPType"`
			} `xml:"GetMap"`
		} `xml:"Request"`
		Layer *xmlLayer `xml:"Layer"`
	} `xml:"Capability"`
}

// ServiceInfo is the service identification block.
type ServiceInfo struct {
	Name        string `xml:"Name"`
	Title       string `xml:"Title"`
	Abstract    string `xml:"Abstract"`
	KeywordList struct {
		Keyword []string `xml:"Keyword"`
	} `xml:"KeywordList"`
	OnlineResource onlineResource `xml:"OnlineResource"`
}

// Keywords returns the trimmed, non-empty service keywords.
func (s ServiceInfo) Keywords() []string {
	return cleanKeywords(s.KeywordList.Keyword)
}

type onlineResource struct {
	Href string `xml:"href,attr"`
}

type xmlLayer struct {
	Name        string `xml:"Name"`
	Title       string `xml:"Title"`
	Abstract    string `xml:"Abstract"`
	KeywordList struct {
		Keyword []string `xml:"Keyword"`
	} `xml:"KeywordList"`
	CRS []string `xml:"CRS"`
	SRS []string `xml:"SRS"`

	// 1.3.0
	EXGeographicBoundingBox *struct {
		West  string `xml:"westBoundLongitude"`
		East  string `xml:"eastBoundLongitude"`
		South string `xml:"southBoundLatitude"`
		North string `xml:"northBoundLatitude"`
	} `xml:"EX_GeographicBoundingBox"`
	// 1.1.1
	LatLonBoundingBox *struct {
		MinX string `xml:"minx,attr"`
		MinY string `xml:"miny,attr"`
		MaxX string `xml:"maxx,attr"`
		MaxY string `xml:"maxy,attr"`
	} `xml:"LatLonBoundingBox"`

	Style []struct {
		Name      string `xml:"Name"`
		Title     string `xml:"Title"`
		LegendURL []struct {
			Format         string         `xml:"Format"`
			OnlineResource onlineResource `xml:"OnlineResource"`
		} `xml:"LegendURL"`
	} `xml:"Style"`

	Layers []*xmlLayer `xml:"Layer"`
}

// Style is a named layer style with its legend graphic, if any.
type Style struct {
	Name      string
	Title     string
	LegendURL string
}

// LayerMeta describes one named layer.
type LayerMeta struct {
	Name     string
	Title    string
	Abstract string
	Keywords []string
	// BoundingBoxWGS84 is ordered minx, miny, maxx, maxy.
	BoundingBoxWGS84 []float64
	CRSOptions       []string
	Styles           []Style
}

// HasCRS reports whether the layer can be requested in crs.
func (l LayerMeta) HasCRS(crs string) bool {
	for _, option := range l.CRSOptions {
		if strings.EqualFold(option, crs) {
			return true
		}
	}
	return false
}

// Parse decodes a capabilities document.
func Parse(data []byte) (*Capabilities, error) {
	var caps Capabilities
	if err := xml.Unmarshal(data, &caps); err != nil {
		return nil, fmt.Errorf("parse capabilities: %w", err)
	}
	switch caps.XMLName.Local {
	case "WMS_Capabilities", "WMT_MS_Capabilities":
	case "ServiceExceptionReport":
		return nil, fmt.Errorf("service exception: %s", exceptionText(data))
	default:
		return nil, fmt.Errorf("parse capabilities: unexpected root element %q", caps.XMLName.Local)
	}
	if caps.Capability.Layer == nil {
		return nil, fmt.Errorf("parse capabilities: no layers")
	}
	return &caps, nil
}

// GetMapURL is the advertised GetMap endpoint.
func (c *Capabilities) GetMapURL() string {
	return c.Capability.Request.GetMap.DCPType.HTTP.Get.OnlineResource.Href
}

// Contents flattens the layer tree into named layers in document order.
// CRS options and bounding boxes are inherited from parent layers.
func (c *Capabilities) Contents() []LayerMeta {
	var out []LayerMeta
	var walk func(l *xmlLayer, crs []string, bbox []float64)
	walk = func(l *xmlLayer, crs []string, bbox []float64) {
		crs = mergeCRS(crs, l.CRS, l.SRS)
		if own := l.bbox(); own != nil {
			bbox = own
		}
		if strings.TrimSpace(l.Name) != "" {
			meta := LayerMeta{
				Name:             strings.TrimSpace(l.Name),
				Title:            strings.TrimSpace(l.Title),
				Abstract:         strings.TrimSpace(l.Abstract),
				Keywords:         cleanKeywords(l.KeywordList.Keyword),
				BoundingBoxWGS84: append([]float64(nil), bbox...),
				CRSOptions:       append([]string(nil), crs...),
			}
			for _, s := range l.Style {
				style := Style{Name: s.Name, Title: s.Title}
				if len(s.LegendURL) > 0 {
					style.LegendURL = s.LegendURL[0].OnlineResource.Href
				}
				meta.Styles = append(meta.Styles, style)
			}
			out = append(out, meta)
		}
		for _, child := range l.Layers {
			walk(child, crs, bbox)
		}
	}
	if c.Capability.Layer != nil {
		walk(c.Capability.Layer, nil, nil)
	}
	return out
}

// Layer returns the named layer.
func (c *Capabilities) Layer(name string) (LayerMeta, bool) {
	for _, meta := range c.Contents() {
		if meta.Name == name {
			return meta, true
		}
	}
	return LayerMeta{}, false
}

func (l *xmlLayer) bbox() []float64 {
	if b := l.EXGeographicBoundingBox; b != nil {
		if values, ok := parseFloats(b.West, b.South, b.East, b.North); ok {
			return values
		}
	}
	if b := l.LatLonBoundingBox; b != nil {
		if values, ok := parseFloats(b.MinX, b.MinY, b.MaxX, b.MaxY); ok {
			return values
		}
	}
	return nil
}

func parseFloats(raw ...string) ([]float64, bool) {
	out := make([]float64, 0, len(raw))
	for _, r := range raw {
		v, err := strconv.ParseFloat(strings.TrimSpace(r), 64)
		if err != nil {
			return nil, false
		}
		out = append(out, v)
	}
	return out, true
}

func mergeCRS(inherited []string, lists ...[]string) []string {
	out := append([]string(nil), inherited...)
	seen := make(map[string]struct{}, len(out))
	for _, crs := range out {
		seen[strings.ToUpper(crs)] = struct{}{}
	}
	for _, list := range lists {
		for _, entry := range list {
			// 1.1.1 servers sometimes pack several codes into one element.
			for _, crs := range strings.Fields(entry) {
				key := strings.ToUpper(crs)
				if _, ok := seen[key]; ok {
					continue
				}
				seen[key] = struct{}{}
				out = append(out, crs)
			}
		}
	}
	return out
}

func cleanKeywords(in []string) []string {
	var out []string
	for _, kw := range in {
		if trimmed := strings.TrimSpace(kw); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func exceptionText(data []byte) string {
	var report struct {
		Exceptions []string `xml:"ServiceException"`
	}
	if err := xml.Unmarshal(data, &report); err != nil || len(report.Exceptions) == 0 {
		return "unknown error"
	}
	return strings.TrimSpace(strings.Join(report.Exceptions, "; "))
}
