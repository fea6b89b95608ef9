package remote

import "time"

// Type identifies the protocol spoken by a remote service.
type Type string

const (
	TypeWMS     Type = "WMS"
	TypeGeoNode Type = "GN_WMS"
	TypeRESTMap Type = "REST_MAP"
	TypeRESTImg Type = "REST_IMG"
)

// Label is the link type recorded for layers harvested from the service.
func (t Type) Label() string {
	switch t {
	case TypeWMS, TypeGeoNode:
		return "OGC:WMS"
	case TypeRESTMap:
		return "ESRI:ArcGIS:MapServer"
	case TypeRESTImg:
		return "ESRI:ArcGIS:ImageServer"
	default:
		return string(t)
	}
}

// Valid reports whether t is a supported service type.
func (t Type) Valid() bool {
	switch t {
	case TypeWMS, TypeGeoNode, TypeRESTMap, TypeRESTImg:
		return true
	}
	return false
}

// IsESRI reports whether t is an ArcGIS REST service.
func (t Type) IsESRI() bool {
	return t == TypeRESTMap || t == TypeRESTImg
}

// IndexingMethod says whether layers are indexed in place or cascaded
// through the local GeoServer.
type IndexingMethod string

const (
	Indexed  IndexingMethod = "I"
	Cascaded IndexingMethod = "C"
)

// Service is a registered remote service.
type Service struct {
	ID             string
	Name           string
	Type           Type
	Method         IndexingMethod
	BaseURL        string
	ProxyBase      string
	PKIURL         string
	PKIProxyURL    string
	Version        string
	Title          string
	Abstract       string
	Keywords       []string
	OnlineResource string
	Owner          string
	ParentID       string
	MetadataOnly   bool
	Headers        map[string]string `json:"-"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ServiceURL is the URL layers of this service are requested from.
func (s Service) ServiceURL() string {
	return s.BaseURL
}
