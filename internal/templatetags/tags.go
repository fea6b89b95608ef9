// Package templatetags holds the helpers available to the catalogue
// templates.
package templatetags

import (
	"fmt"
	"html/template"
	"net/url"
	"strings"
)

// unsafeURL replaces hrefs with schemes other than http and https, matching
// the placeholder html/template uses.
const unsafeURL = "#ZgotmplZ"

// Tags binds the helpers to site settings.
type Tags struct {
	RemoteContentURL string
}

// FuncMap exposes the helpers as remote_content and link.
func (t Tags) FuncMap() template.FuncMap {
	return template.FuncMap{
		"remote_content": t.RemoteContent,
		"link":           Link,
	}
}

// RemoteContent joins path onto the remote content URL.
func (t Tags) RemoteContent(path string) string {
	return fmt.Sprintf("%s/%s", t.RemoteContentURL, path)
}

// Link renders an anchor. opts are, in order, width, height and CSS class;
// empty values are left out.
func Link(href, name string, opts ...string) template.HTML {
	var width, height, class string
	if len(opts) > 0 {
		width = opts[0]
	}
	if len(opts) > 1 {
		height = opts[1]
	}
	if len(opts) > 2 {
		class = opts[2]
	}

	var b strings.Builder
	b.WriteString(`<a href="`)
	b.WriteString(template.HTMLEscapeString(safeHref(href)))
	b.WriteString(`"`)
	if class != "" {
		fmt.Fprintf(&b, ` class="%s"`, template.HTMLEscapeString(class))
	}
	var style []string
	if width != "" {
		style = append(style, "width: "+cssLength(width))
	}
	if height != "" {
		style = append(style, "height: "+cssLength(height))
	}
	if len(style) > 0 {
		fmt.Fprintf(&b, ` style="%s;"`, template.HTMLEscapeString(strings.Join(style, "; ")))
	}
	b.WriteString(">")
	b.WriteString(template.HTMLEscapeString(name))
	b.WriteString("</a>")
	return template.HTML(b.String())
}

// safeHref keeps relative URLs and absolute http(s) URLs.
func safeHref(href string) string {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return unsafeURL
	}
	switch strings.ToLower(u.Scheme) {
	case "", "http", "https":
		return href
	}
	return unsafeURL
}

// cssLength appends px to bare numbers.
func cssLength(v string) string {
	v = strings.TrimSpace(v)
	if strings.Trim(v, "0123456789.") == "" {
		return v + "px"
	}
	return v
}
