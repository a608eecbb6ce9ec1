package sources

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	multiSpacePattern   = regexp.MustCompile(`[ \t]{2,}`)
)

// maxRawPayload caps the text kept as raw_payload.
const maxRawPayload = 20000

// HTMLToText flattens an HTML document into readable text. Block elements
// become line breaks so name windows do not bleed across unrelated cards
// more than the layout already does.
func HTMLToText(htmlContent string) string {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return htmlContent
	}
	var sb strings.Builder
	extractText(doc, &sb, 0)
	return cleanText(sb.String())
}

func extractText(n *html.Node, sb *strings.Builder, depth int) {
	if depth > 200 {
		return
	}

	switch n.Type {
	case html.TextNode:
		text := strings.TrimSpace(n.Data)
		if text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "nav", "footer", "header":
			return
		case "br":
			sb.WriteString("\n")
		case "p", "div", "li", "tr", "section", "article", "h1", "h2", "h3", "h4", "h5", "h6":
			sb.WriteString("\n")
		case "img":
			if alt := getAttr(n, "alt"); alt != "" {
				sb.WriteString(alt)
				sb.WriteString(" ")
			}
			return
		}
		// aria-label often carries star ratings ("4.5 star rating").
		if label := getAttr(n, "aria-label"); label != "" {
			sb.WriteString(label)
			sb.WriteString(" ")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, sb, depth+1)
	}

	if n.Type == html.ElementNode {
		switch n.Data {
		case "p", "div", "li", "tr", "section", "article", "h1", "h2", "h3", "h4", "h5", "h6":
			sb.WriteString("\n")
		}
	}
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func cleanText(s string) string {
	s = multiSpacePattern.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = multiNewlinePattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// truncateRaw keeps raw payloads bounded.
func truncateRaw(s string) string {
	if len(s) <= maxRawPayload {
		return s
	}
	return s[:maxRawPayload] + "\n[...truncated...]"
}

// form is a discovered HTML form.
type form struct {
	Action string
	Method string
	Fields map[string]string
}

// findForm returns the first form in the document that has at least one of
// the wanted input names, with its hidden and pre-filled field values.
func findForm(htmlContent string, wanted []string) (*form, bool) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, false
	}

	var found *form
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && n.Data == "form" {
			f := &form{
				Action: getAttr(n, "action"),
				Method: strings.ToUpper(getAttr(n, "method")),
				Fields: make(map[string]string),
			}
			collectInputs(n, f.Fields)
			for _, w := range wanted {
				if _, ok := f.Fields[w]; ok {
					found = f
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return found, found != nil
}

func collectInputs(n *html.Node, fields map[string]string) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "input":
			name := getAttr(n, "name")
			typ := strings.ToLower(getAttr(n, "type"))
			if name != "" && typ != "submit" && typ != "button" && typ != "checkbox" && typ != "radio" {
				fields[name] = getAttr(n, "value")
			}
		case "select", "textarea":
			if name := getAttr(n, "name"); name != "" {
				fields[name] = ""
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectInputs(c, fields)
	}
}
