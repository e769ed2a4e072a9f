// Package extract turns raw markup or API payloads into normalized
// (title, body text, summary) triples, optionally guided by per-site
// selector overrides.
package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// SummaryLength bounds the summary to the first N characters of body text.
const SummaryLength = 1000

// Content is the normalized extraction result for one page.
type Content struct {
	Title   string
	Body    string
	Summary string
	// ImageURL is the page's preview image from og:image/twitter:image,
	// empty when the page declares none.
	ImageURL string
}

// Config carries the per-site selector overrides, one DSL rule per line.
type Config struct {
	TitleRules string
	BodyRules  string
}

// Extractor parses markup with goquery and applies selector overrides.
type Extractor struct {
	logger *zap.Logger
}

// New constructs an Extractor.
func New(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

// navKeywords flag class/id values that mark navigation-like regions.
var navKeywords = []string{"menu", "nav", "breadcrumb", "pagination", "footer"}

// navRoles are ARIA roles stripped from body text.
var navRoles = map[string]bool{
	"navigation":  true,
	"contentinfo": true,
	"menubar":     true,
}

// Extract returns the title, flattened body text and summary for the given
// markup. Selector rules are evaluated in order; the first rule yielding
// non-empty text wins. Selector failures are logged and skipped.
func (e *Extractor) Extract(html string, cfg Config) Content {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		e.logger.Warn("parse html failed", zap.Error(err))
		return Content{}
	}

	title := detectTitle(doc)
	image := detectImage(doc)
	stripChrome(doc)
	body := bodyText(doc)

	if cfg.TitleRules != "" {
		if override := e.applyRules(html, doc, cfg.TitleRules); override != "" {
			title = override
		}
	}
	if cfg.BodyRules != "" {
		if override := e.applyRules(html, doc, cfg.BodyRules); override != "" {
			body = override
		}
	}

	return Content{
		Title:    title,
		Body:     body,
		Summary:  Summarize(body),
		ImageURL: image,
	}
}

// detectImage returns the preview image URL from og:image or twitter:image.
func detectImage(doc *goquery.Document) string {
	for _, name := range []string{"og:image", "twitter:image"} {
		sel := doc.Find(`meta[property="` + name + `"], meta[name="` + name + `"]`).First()
		if content, ok := sel.Attr("content"); ok {
			if u := strings.TrimSpace(content); u != "" {
				return u
			}
		}
	}
	return ""
}

// Summarize returns the bounded summary prefix of a body text.
func Summarize(body string) string {
	runes := []rune(body)
	if len(runes) <= SummaryLength {
		return body
	}
	return string(runes[:SummaryLength])
}

// detectTitle walks the preference ladder: first non-empty h1..h4, then
// role=heading, then og:title/twitter:title meta, then the title tag.
func detectTitle(doc *goquery.Document) string {
	for _, level := range []string{"h1", "h2", "h3", "h4"} {
		var found string
		doc.Find(level).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			if text := normalizeSpace(sel.Text()); text != "" {
				found = text
				return false
			}
			return true
		})
		if found != "" {
			return found
		}
	}

	var found string
	doc.Find(`[role="heading"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if text := normalizeSpace(sel.Text()); text != "" {
			found = text
			return false
		}
		return true
	})
	if found != "" {
		return found
	}

	for _, name := range []string{"og:title", "twitter:title"} {
		sel := doc.Find(`meta[property="` + name + `"], meta[name="` + name + `"]`).First()
		if content, ok := sel.Attr("content"); ok {
			if text := normalizeSpace(content); text != "" {
				return text
			}
		}
	}

	return normalizeSpace(doc.Find("title").First().Text())
}

// stripChrome removes script/style/noscript and navigation-like regions so
// they never leak into body text or change detection.
func stripChrome(doc *goquery.Document) {
	doc.Find("script, style, noscript, nav, footer, aside").Remove()

	doc.Find("[class], [id], [role]").Each(func(_ int, sel *goquery.Selection) {
		if role, ok := sel.Attr("role"); ok && navRoles[strings.ToLower(role)] {
			sel.Remove()
			return
		}
		marker := strings.ToLower(sel.AttrOr("class", "") + " " + sel.AttrOr("id", ""))
		for _, kw := range navKeywords {
			if strings.Contains(marker, kw) {
				sel.Remove()
				return
			}
		}
	})
}

// bodyText flattens the remaining text, preferring paragraph content inside
// main/article containers when present.
func bodyText(doc *goquery.Document) string {
	container := doc.Find("main").First()
	if container.Length() == 0 {
		container = doc.Find("article").First()
	}
	if container.Length() == 0 {
		container = doc.Selection
	}

	var parts []string
	container.Find("p").Each(func(_ int, sel *goquery.Selection) {
		if text := normalizeSpace(sel.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}
	return normalizeSpace(container.Text())
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
