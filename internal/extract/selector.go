package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"go.uber.org/zap"
)

// Rule is one parsed selector override. Kind is one of id, class, name, css
// or xpath; bare lines default to css.
type Rule struct {
	Kind  string
	Value string
}

// ParseRules splits a selector config into rules, one per line. Blank lines
// and lines starting with # are ignored.
func ParseRules(config string) []Rule {
	var rules []Rule
	for _, line := range strings.Split(config, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		kind := "css"
		value := line
		for _, prefix := range []string{"id=", "class=", "name=", "css=", "xpath="} {
			if strings.HasPrefix(line, prefix) {
				kind = strings.TrimSuffix(prefix, "=")
				value = strings.TrimSpace(strings.TrimPrefix(line, prefix))
				break
			}
		}
		if value == "" {
			continue
		}
		rules = append(rules, Rule{Kind: kind, Value: value})
	}
	return rules
}

// cssSelector translates the shorthand rule kinds into a CSS selector.
func (r Rule) cssSelector() string {
	switch r.Kind {
	case "id":
		return "#" + r.Value
	case "class":
		return "." + r.Value
	case "name":
		return fmt.Sprintf(`[name=%q]`, r.Value)
	default:
		return r.Value
	}
}

// applyRules evaluates rules in order against the document and returns the
// first non-empty text. Invalid selectors are skipped, never fatal.
func (e *Extractor) applyRules(rawHTML string, doc *goquery.Document, config string) string {
	for _, rule := range ParseRules(config) {
		var text string
		var err error
		if rule.Kind == "xpath" {
			text, err = evalXPath(rawHTML, rule.Value)
		} else {
			text, err = evalCSS(doc, rule.cssSelector())
		}
		if err != nil {
			e.logger.Warn("selector rule skipped",
				zap.String("kind", rule.Kind),
				zap.String("value", rule.Value),
				zap.Error(err))
			continue
		}
		if text != "" {
			return text
		}
	}
	return ""
}

func evalCSS(doc *goquery.Document, selector string) (text string, err error) {
	// goquery panics on malformed selectors; treat that as a skipped rule.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invalid css selector: %v", r)
		}
	}()
	sel := doc.Find(selector)
	if sel.Length() == 0 {
		return "", nil
	}
	return normalizeSpace(sel.First().Text()), nil
}

func evalXPath(rawHTML, expr string) (string, error) {
	compiled, err := xpath.Compile(expr)
	if err != nil {
		return "", fmt.Errorf("invalid xpath %q: %w", expr, err)
	}
	root, err := htmlquery.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", fmt.Errorf("parse html for xpath: %w", err)
	}
	node := htmlquery.QuerySelector(root, compiled)
	if node == nil {
		return "", nil
	}
	return normalizeSpace(htmlquery.InnerText(node)), nil
}
