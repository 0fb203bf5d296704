package normalize

import (
	"strings"

	"golang.org/x/net/html"
)

// CleanMarkup turns pseudo-HTML provider text into plain lines: <br> variants
// become newlines, every other tag is dropped, entities are decoded, lines
// are trimmed and blank lines removed.
func CleanMarkup(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return collapseLines(s)
	}
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return collapseLines(s)
	}
	var sb strings.Builder
	walkText(doc, &sb)
	return collapseLines(sb.String())
}

func walkText(n *html.Node, sb *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		return
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "head":
			return
		case "br":
			sb.WriteByte('\n')
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkText(c, sb)
	}
	if n.Type == html.ElementNode {
		switch n.Data {
		case "p", "div", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6":
			sb.WriteByte('\n')
		}
	}
}

func collapseLines(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, ln := range lines {
		if ln = strings.TrimSpace(ln); ln != "" {
			out = append(out, ln)
		}
	}
	return strings.Join(out, "\n")
}
