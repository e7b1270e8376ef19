// Package sanitize renders untrusted message bodies safe for inclusion in
// email markup. HTML bodies are reduced to a fixed tag/attribute allowlist
// with everything else stripped (not escaped); plain bodies are escaped.
// Both paths auto-link bare URLs.
package sanitize

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Deliberately no h1/h2, to stop people shouting.
var allowedTags = map[string]bool{
	"font":       true, // IRC-style font coloring
	"del":        true, // For markdown
	"h3":         true,
	"h4":         true,
	"h5":         true,
	"h6":         true,
	"blockquote": true,
	"p":          true,
	"a":          true,
	"ul":         true,
	"ol":         true,
	"nl":         true,
	"li":         true,
	"b":          true,
	"i":          true,
	"u":          true,
	"strong":     true,
	"em":         true,
	"strike":     true,
	"code":       true,
	"hr":         true,
	"br":         true,
	"div":        true,
	"table":      true,
	"thead":      true,
	"caption":    true,
	"tbody":      true,
	"tr":         true,
	"th":         true,
	"td":         true,
	"pre":        true,
}

// allowedAttrs maps a tag to the attributes it may keep; tags not listed
// keep nothing.
var allowedAttrs = map[string]map[string]bool{
	"font": {"color": true},
	"a":    {"href": true, "name": true, "target": true},
}

// HTML sanitizes a raw rich-text body down to the allowlist and links any
// bare URLs, returning markup that is safe to inject into an email body.
func HTML(raw string) string {
	// Parse as a body-context fragment. A full-document parse would hoist
	// script, style, and title into <head>, losing their text instead of
	// unwrapping it.
	root := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(raw), root)
	if err != nil {
		// Unparseable input is treated as plain text.
		return Text(raw)
	}
	for _, n := range nodes {
		root.AppendChild(n)
	}

	// First pass: filter attributes on allowed elements and collect the
	// rest for unwrapping. Mutating the tree during Each would confuse
	// the walk, so unwrap afterwards.
	var disallowed []*html.Node
	goquery.NewDocumentFromNode(root).Find("*").Each(func(_ int, s *goquery.Selection) {
		node := s.Get(0)
		tag := strings.ToLower(node.Data)
		if !allowedTags[tag] {
			disallowed = append(disallowed, node)
			return
		}
		keep := allowedAttrs[tag]
		attrs := node.Attr[:0]
		for _, a := range node.Attr {
			if a.Namespace == "" && keep[strings.ToLower(a.Key)] {
				attrs = append(attrs, a)
			}
		}
		node.Attr = attrs
	})
	// Reverse document order, so nested disallowed elements are
	// unwrapped before their ancestors.
	for i := len(disallowed) - 1; i >= 0; i-- {
		unwrap(disallowed[i])
	}

	linkifyTree(root)

	return renderChildren(root, raw)
}

// Text escapes any markup in a raw plain-text body and links bare URLs.
func Text(raw string) string {
	container := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	container.AppendChild(&html.Node{Type: html.TextNode, Data: raw})
	linkifyTree(container)
	return renderChildren(container, raw)
}

// unwrap removes a node from the tree while keeping its children in place.
func unwrap(node *html.Node) {
	parent := node.Parent
	if parent == nil {
		return
	}
	for node.FirstChild != nil {
		child := node.FirstChild
		node.RemoveChild(child)
		parent.InsertBefore(child, node)
	}
	parent.RemoveChild(node)
}

// renderChildren serializes the children of root. Text nodes come out
// entity-escaped.
func renderChildren(root *html.Node, raw string) string {
	var buf bytes.Buffer
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return html.EscapeString(raw)
		}
	}
	return buf.String()
}
