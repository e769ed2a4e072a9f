package extract

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// APIConfig drives list extraction from JSON API payloads: ListPath points at
// the item array, TitlePath/URLPath are dot paths relative to each item.
// When URLTemplate is set it wins over URLPath; `{path}` placeholders are
// substituted from the item. DetailBase is prefixed onto relative URLs.
type APIConfig struct {
	ListPath    string
	TitlePath   string
	URLPath     string
	URLTemplate string
	DetailBase  string
}

// APIItem is one entry discovered in a JSON API payload.
type APIItem struct {
	Title string
	URL   string
}

// ExtractAPIItems decodes a JSON payload and walks the configured paths to
// produce pseudo-links for subpage-mode diffing.
func ExtractAPIItems(payload string, cfg APIConfig) ([]APIItem, error) {
	var decoded any
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return nil, fmt.Errorf("decode api payload: %w", err)
	}

	listNode := decoded
	if cfg.ListPath != "" {
		listNode = walkPath(decoded, cfg.ListPath)
	}
	list, ok := listNode.([]any)
	if !ok {
		return nil, fmt.Errorf("api list path %q did not resolve to an array", cfg.ListPath)
	}

	items := make([]APIItem, 0, len(list))
	for _, entry := range list {
		item := APIItem{
			Title: stringAt(entry, cfg.TitlePath),
		}
		if cfg.URLTemplate != "" {
			item.URL = renderTemplate(cfg.URLTemplate, entry)
		} else {
			item.URL = stringAt(entry, cfg.URLPath)
		}
		if item.URL != "" && cfg.DetailBase != "" && !strings.Contains(item.URL, "://") {
			item.URL = strings.TrimRight(cfg.DetailBase, "/") + "/" + strings.TrimLeft(item.URL, "/")
		}
		if item.URL == "" {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// walkPath follows a dot-separated path through maps and array indexes.
func walkPath(node any, path string) any {
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			continue
		}
		switch v := node.(type) {
		case map[string]any:
			node = v[part]
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil
			}
			node = v[idx]
		default:
			return nil
		}
	}
	return node
}

func stringAt(node any, path string) string {
	if path == "" {
		return ""
	}
	switch v := walkPath(node, path).(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// renderTemplate substitutes `{path}` placeholders from the item.
func renderTemplate(tmpl string, item any) string {
	var out strings.Builder
	rest := tmpl
	for {
		start := strings.Index(rest, "{")
		if start < 0 {
			out.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}")
		if end < 0 {
			out.WriteString(rest)
			break
		}
		out.WriteString(rest[:start])
		out.WriteString(stringAt(item, rest[start+1:start+end]))
		rest = rest[start+end+1:]
	}
	return out.String()
}
