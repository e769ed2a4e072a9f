// Package diff compares a freshly fetched page against the stored snapshot.
// Subpage mode yields newly discovered links; single-page mode yields a
// changed flag based on flattened body text, so markup churn alone never
// counts as a change.
package diff

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Links extracts every anchor target from the markup, resolved to absolute
// URLs against the page's own URL. Fragment-only and unparsable targets are
// dropped; duplicates are kept out.
func Links(html, baseURL string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		base = nil
	}

	seen := make(map[string]bool)
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			return
		}
		resolved := href
		if base != nil {
			ref, err := url.Parse(href)
			if err != nil {
				return
			}
			resolved = base.ResolveReference(ref).String()
		}
		if seen[resolved] {
			return
		}
		seen[resolved] = true
		links = append(links, resolved)
	})
	return links
}

// NewLinks returns the links present in newHTML but absent from oldHTML.
// A first-ever fetch (empty oldHTML) treats every discovered link as new.
func NewLinks(oldHTML, newHTML, baseURL string) []string {
	current := Links(newHTML, baseURL)
	if oldHTML == "" {
		return current
	}
	previous := make(map[string]bool)
	for _, link := range Links(oldHTML, baseURL) {
		previous[link] = true
	}
	var fresh []string
	for _, link := range current {
		if !previous[link] {
			fresh = append(fresh, link)
		}
	}
	return fresh
}

// TextChanged compares flattened body text of the old and new snapshot.
// A site with no prior snapshot reads as changed, matching the behavior of
// treating an unknown baseline as differing content.
func TextChanged(hadSnapshot bool, oldText, newText string) bool {
	if !hadSnapshot {
		return true
	}
	return flatten(oldText) != flatten(newText)
}

func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
