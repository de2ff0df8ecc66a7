package extract

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// FromHTML extracts a page for the explicit page scan: the values of every
// input, textarea and selected option as "name: value " tokens, followed by
// the visible text.
func FromHTML(r io.Reader) string {
	doc, err := html.Parse(r)
	if err != nil {
		return ""
	}

	var fields []Field
	var text []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			case atom.Input:
				if f, ok := inputField(n); ok {
					fields = append(fields, f)
				}
				return
			case atom.Textarea:
				fields = append(fields, Field{Name: fieldName(n), Value: nodeText(n)})
				return
			case atom.Select:
				for _, v := range selectedOptions(n) {
					fields = append(fields, Field{Name: fieldName(n), Value: v})
				}
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.Join(strings.Fields(n.Data), " "); t != "" {
				text = append(text, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	parts := make([]string, 0, 2)
	if s := FromFormFields(fields); s != "" {
		parts = append(parts, s)
	}
	if len(text) > 0 {
		parts = append(parts, strings.Join(text, Separator))
	}
	return strings.Join(parts, Separator)
}

func inputField(n *html.Node) (Field, bool) {
	switch strings.ToLower(attr(n, "type")) {
	case "submit", "button", "reset", "image", "file":
		return Field{}, false
	case "checkbox", "radio":
		if !hasAttr(n, "checked") {
			return Field{}, false
		}
	}
	return Field{Name: fieldName(n), Value: attr(n, "value")}, true
}

func selectedOptions(sel *html.Node) []string {
	var out []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Option && hasAttr(n, "selected") {
			v, ok := attrOK(n, "value")
			if !ok {
				v = nodeText(n)
			}
			out = append(out, v)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(sel)
	return out
}

// fieldName prefers name, then id, matching how forms label submitted values.
func fieldName(n *html.Node) string {
	if v := attr(n, "name"); v != "" {
		return v
	}
	if v := attr(n, "id"); v != "" {
		return v
	}
	return n.Data
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return strings.TrimSpace(b.String())
}

func attr(n *html.Node, key string) string {
	v, _ := attrOK(n, key)
	return v
}

func attrOK(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func hasAttr(n *html.Node, key string) bool {
	_, ok := attrOK(n, key)
	return ok
}
