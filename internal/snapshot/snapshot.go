// Package snapshot implements the versioned serialization of a site's
// last-known state. Snapshots exist purely for diffing; they are replaced
// wholesale after each successful run.
package snapshot

import (
	"encoding/json"
	"strings"
)

// Version identifies the current serialization format.
const Version = 3

// Subpage is one discovered sub-resource captured during a run.
type Subpage struct {
	URL   string `json:"url"`
	HTML  string `json:"html"`
	Title string `json:"title,omitempty"`
	Text  string `json:"text,omitempty"`
}

// Snapshot is the decoded form of a stored payload. A nil-equivalent
// MainHTML (empty string with Empty true) means the site was never fetched.
type Snapshot struct {
	MainHTML  string
	MainTitle string
	MainText  string
	Subpages  []Subpage
	// Empty marks payloads that decoded to no content at all.
	Empty bool
}

// Extractor backfills titles and text for legacy payloads that predate the
// main_text field. It receives raw HTML and returns (title, bodyText).
type Extractor func(html string) (string, string)

type payload struct {
	Version   int       `json:"version"`
	MainHTML  string    `json:"main_html"`
	MainTitle string    `json:"main_title,omitempty"`
	MainText  string    `json:"main_text,omitempty"`
	Subpages  []Subpage `json:"subpages"`
}

// Build serializes a snapshot in the current format. Subpages without a URL
// are dropped; HTML may be empty so a listing item whose detail fetch failed
// still counts as seen on the next diff.
func Build(snap Snapshot) (string, error) {
	out := payload{
		Version:   Version,
		MainHTML:  snap.MainHTML,
		MainTitle: strings.TrimSpace(snap.MainTitle),
		MainText:  snap.MainText,
		Subpages:  make([]Subpage, 0, len(snap.Subpages)),
	}
	for _, sub := range snap.Subpages {
		if sub.URL == "" {
			continue
		}
		sub.Title = strings.TrimSpace(sub.Title)
		out.Subpages = append(out.Subpages, sub)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Parse decodes a stored payload, tolerating every legacy variant:
//   - empty payload: never-fetched site
//   - bare string (including non-JSON text): raw main HTML only
//   - dict with main_html but no main_text: text backfilled via extract
//   - dict whose subpages is a url->html (or url->{html,title}) map
//
// extract may be nil, in which case missing titles/text stay empty.
func Parse(raw string, extract Extractor) Snapshot {
	if strings.TrimSpace(raw) == "" {
		return Snapshot{Empty: true}
	}

	var generic any
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		// Legacy snapshots stored the main HTML verbatim.
		return fromHTML(raw, extract)
	}

	switch v := generic.(type) {
	case string:
		return fromHTML(v, extract)
	case map[string]any:
		if _, hasMain := v["main_html"]; hasMain {
			return fromDict(v, extract)
		}
		if _, hasSubs := v["subpages"]; hasSubs {
			return fromDict(v, extract)
		}
	}
	// JSON but not a recognized shape; keep it as raw HTML so diffing still
	// sees a prior state.
	return fromHTML(raw, extract)
}

func fromHTML(html string, extract Extractor) Snapshot {
	snap := Snapshot{MainHTML: html}
	if extract != nil {
		snap.MainTitle, snap.MainText = extract(html)
	}
	return snap
}

func fromDict(dict map[string]any, extract Extractor) Snapshot {
	snap := Snapshot{}
	if s, ok := dict["main_html"].(string); ok {
		snap.MainHTML = s
	}
	if s, ok := dict["main_title"].(string); ok {
		snap.MainTitle = strings.TrimSpace(s)
	}
	if s, ok := dict["main_text"].(string); ok {
		snap.MainText = s
	}
	snap.Subpages = decodeSubpages(dict["subpages"], extract)
	if extract != nil && snap.MainHTML != "" {
		title, text := extract(snap.MainHTML)
		if snap.MainTitle == "" {
			snap.MainTitle = title
		}
		if snap.MainText == "" {
			snap.MainText = text
		}
	}
	if snap.MainHTML == "" && len(snap.Subpages) == 0 {
		snap.Empty = true
	}
	return snap
}

func decodeSubpages(raw any, extract Extractor) []Subpage {
	var out []Subpage
	add := func(url, html, title, text string) {
		if url == "" {
			return
		}
		sub := Subpage{URL: url, HTML: html, Title: strings.TrimSpace(title), Text: text}
		if extract != nil && html != "" && (sub.Title == "" || sub.Text == "") {
			t, body := extract(html)
			if sub.Title == "" {
				sub.Title = t
			}
			if sub.Text == "" {
				sub.Text = body
			}
		}
		out = append(out, sub)
	}

	switch v := raw.(type) {
	case map[string]any:
		// Earliest dict layout: url -> html, or url -> {html, title}.
		for url, item := range v {
			switch entry := item.(type) {
			case string:
				add(url, entry, "", "")
			case map[string]any:
				html, _ := entry["html"].(string)
				title, _ := entry["title"].(string)
				text, _ := entry["text"].(string)
				add(url, html, title, text)
			}
		}
	case []any:
		for _, item := range v {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			url, _ := entry["url"].(string)
			html, _ := entry["html"].(string)
			title, _ := entry["title"].(string)
			text, _ := entry["text"].(string)
			add(url, html, title, text)
		}
	}
	return out
}
