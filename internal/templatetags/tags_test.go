package templatetags

import (
	"bytes"
	"html/template"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteContent(t *testing.T) {
	tags := Tags{RemoteContentURL: "https://cdn.example.org/content"}
	assert.Equal(t, "https://cdn.example.org/content/img/logo.png", tags.RemoteContent("img/logo.png"))
}

func TestLink(t *testing.T) {
	assert.Equal(t, template.HTML(`<a href="/about">About</a>`), Link("/about", "About"))
	assert.Equal(t, template.HTML(`<a href="/a" class="btn" style="width: 20px; height: 50%;">A</a>`),
		Link("/a", "A", "20", "50%", "btn"))
	assert.Equal(t, template.HTML(`<a href="/a" style="height: 10px;">A</a>`), Link("/a", "A", "", "10"))
	assert.Equal(t, template.HTML(`<a href="/q?a=1&amp;b=2">&lt;b&gt;</a>`), Link("/q?a=1&b=2", "<b>"))
}

func TestLinkNeutralisesUnsafeSchemes(t *testing.T) {
	for _, href := range []string{"javascript:alert(1)", " JavaScript:alert(1)", "data:text/html,x", "vbscript:msgbox"} {
		assert.Equal(t, template.HTML(`<a href="#ZgotmplZ">x</a>`), Link(href, "x"), href)
	}
	assert.Equal(t, template.HTML(`<a href="https://h/a">x</a>`), Link("https://h/a", "x"))
	assert.Equal(t, template.HTML(`<a href="http://h/a">x</a>`), Link("http://h/a", "x"))
	assert.Equal(t, template.HTML(`<a href="layers/1">x</a>`), Link("layers/1", "x"))
}

func TestFuncMapInTemplate(t *testing.T) {
	tags := Tags{RemoteContentURL: "http://rc"}
	tmpl, err := template.New("t").Funcs(tags.FuncMap()).
		Parse(`<img src="{{remote_content "x.png"}}">{{link "/s" "Services" "" "" "nav"}}`)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, tmpl.Execute(&buf, nil))
	assert.Equal(t, `<img src="http://rc/x.png"><a href="/s" class="nav">Services</a>`, buf.String())
}
