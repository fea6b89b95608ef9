package layer

import (
	"strings"
	"time"
)

const (
	RemoteStoreType = "remoteStore"
	RemoteWorkspace = "remoteWorkspace"
)

// Layer is a harvested remote layer.
type Layer struct {
	ID           string
	ServiceID    string
	Name         string
	Store        string
	StoreType    string
	Workspace    string
	Typename     string
	Alternate    string
	Title        string
	Abstract     string
	BBoxX0       string
	BBoxX1       string
	BBoxY0       string
	BBoxY1       string
	SRID         string
	Keywords     []string
	OWSURL       string
	ThumbnailURL string
	IsApproved   bool
	IsPublished  bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// BBoxString renders the bounding box as x0,y0,x1,y1.
func (l Layer) BBoxString() string {
	return strings.Join([]string{l.BBoxX0, l.BBoxY0, l.BBoxX1, l.BBoxY1}, ",")
}

// Key identifies a layer for duplicate detection.
type Key struct {
	Name      string
	Store     string
	Workspace string
}

func (l Layer) Key() Key {
	return Key{Name: l.Name, Store: l.Store, Workspace: l.Workspace}
}
