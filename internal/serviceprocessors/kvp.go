package serviceprocessors

import "strings"

// kvp is an ordered list of request parameters joined without escaping,
// the way remote map servers expect GetMap style requests.
type kvp [][2]string

func (p kvp) String() string {
	parts := make([]string, 0, len(p))
	for _, pair := range p {
		parts = append(parts, pair[0]+"="+pair[1])
	}
	return strings.Join(parts, "&")
}

func withQuery(base string, params kvp) string {
	switch {
	case strings.HasSuffix(base, "?"), strings.HasSuffix(base, "&"):
		return base + params.String()
	case strings.Contains(base, "?"):
		return base + "&" + params.String()
	default:
		return base + "?" + params.String()
	}
}
