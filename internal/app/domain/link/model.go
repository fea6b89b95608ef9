package link

// Link is a URL attached to a harvested layer.
type Link struct {
	ID         string
	ResourceID string
	Name       string
	URL        string
	Extension  string
	Mime       string
	LinkType   string
}

// Key is the identity used by get-or-create.
type Key struct {
	ResourceID string
	URL        string
	Name       string
}

func (l Link) Key() Key {
	return Key{ResourceID: l.ResourceID, URL: l.URL, Name: l.Name}
}
