package mime

import (
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policyOnce sync.Once
	htmlPolicy *bluemonday.Policy
)

// emailPolicy allows the formatting marketing mail relies on while removing
// scripts, forms and event handlers. Links open in a new tab without referrer.
func emailPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		p := bluemonday.UGCPolicy()
		p.AllowAttrs("style").Globally()
		p.AllowAttrs("class").Globally()
		p.AllowAttrs("align", "valign", "bgcolor", "width", "height", "border",
			"cellpadding", "cellspacing").OnElements("table", "tr", "td", "th", "tbody", "img")
		p.AllowAttrs("color", "face", "size").OnElements("font")
		p.AllowElements("font", "center")
		p.AllowURLSchemes("http", "https", "mailto", "cid")
		p.AllowImages()
		p.RequireNoReferrerOnLinks(true)
		p.AddTargetBlankToFullyQualifiedLinks(true)
		p.AllowStyles("color", "background-color", "font-size", "font-weight",
			"font-family", "text-align", "text-decoration", "padding", "margin",
			"width", "max-width", "border").Globally()
		htmlPolicy = p
	})
	return htmlPolicy
}

// SanitizeHTML returns body HTML that is safe to render in a browser.
func SanitizeHTML(body string) string {
	return emailPolicy().Sanitize(body)
}

// StrictText removes all markup, for contexts that must not render HTML.
func StrictText(s string) string {
	return bluemonday.StrictPolicy().Sanitize(s)
}
