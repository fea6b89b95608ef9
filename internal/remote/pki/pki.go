// Package pki rewrites URLs of remote services that are reached through the
// site's PKI route.
//
// A PKI route has the form <site>/pki/<host>/<path>?<query> and stands for
// https://<host>/<path>?<query>. The proxy route is <site>/proxy/?url=<url>.
package pki

import (
	"net/url"
	"strings"
)

// Router holds the site base URL the routes hang off.
type Router struct {
	site string
}

// NewRouter creates a router rooted at siteURL.
func NewRouter(siteURL string) *Router {
	return &Router{site: strings.TrimRight(siteURL, "/") + "/"}
}

func (r *Router) prefix() string {
	return r.site + "pki/"
}

// HasPKIPrefix reports whether rawURL is a PKI route. A nil router never
// matches.
func (r *Router) HasPKIPrefix(rawURL string) bool {
	if r == nil {
		return false
	}
	return strings.HasPrefix(rawURL, r.prefix()) && len(rawURL) > len(r.prefix())
}

// PKIRouteReverse turns a PKI route back into the remote https URL. URLs
// without the prefix are returned unchanged.
func (r *Router) PKIRouteReverse(rawURL string) string {
	if !r.HasPKIPrefix(rawURL) {
		return rawURL
	}
	return "https://" + strings.TrimPrefix(rawURL, r.prefix())
}

// ProxyRoute wraps rawURL in the site's proxy endpoint.
func (r *Router) ProxyRoute(rawURL string) string {
	if r == nil {
		return rawURL
	}
	return r.site + "proxy/?url=" + url.QueryEscape(rawURL)
}

// PKIToProxyRoute maps a PKI route to the proxy route of its remote URL.
func (r *Router) PKIToProxyRoute(rawURL string) string {
	return r.ProxyRoute(r.PKIRouteReverse(rawURL))
}

// Rewrite applies the handler convention: when rawURL is a PKI route it
// returns the reversed remote URL, the original PKI URL and its proxy
// route. Otherwise it returns rawURL and two empty strings.
func (r *Router) Rewrite(rawURL string) (remoteURL, pkiURL, pkiProxyURL string) {
	if !r.HasPKIPrefix(rawURL) {
		return rawURL, "", ""
	}
	return r.PKIRouteReverse(rawURL), rawURL, r.PKIToProxyRoute(rawURL)
}
