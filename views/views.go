// Package views renders the site's pages and fragments. The .templ files are
// compiled by `templ generate`; the generated *_templ.go files are checked in.
package views

//go:generate go run github.com/a-h/templ/cmd/templ@v0.3.960 generate

import (
	"strconv"
	"time"

	"github.com/a-h/templ"

	"github.com/eringen/aether/imagegen"
)

// jsonLD wraps a marshalled Schema.org document in its script tag.
func jsonLD(doc string) templ.Component {
	return templ.Raw(`<script type="application/ld+json">` + doc + `</script>`)
}

func isCurrent(cur *imagegen.Record, id string) bool {
	return cur != nil && cur.ID == id
}

func year() string {
	return strconv.Itoa(time.Now().Year())
}

func copyright(p Page) string {
	if p.Copy != nil && p.Copy.Footer.Copyright != "" {
		return p.Copy.Footer.Copyright
	}
	return p.Site.Name
}
