package sanitize

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Bare URLs in text. Trailing punctuation that is usually sentence
// punctuation rather than part of the URL is trimmed afterwards.
var urlPattern = regexp.MustCompile(`(?:https?://|www\.)[^\s<>"']+`)

// linkifyTree wraps bare URLs in text nodes with anchor elements. Text
// already inside a link or inside preformatted/code blocks is left alone.
func linkifyTree(node *html.Node) {
	if node.Type == html.ElementNode {
		switch strings.ToLower(node.Data) {
		case "a", "pre", "code":
			return
		}
	}
	child := node.FirstChild
	for child != nil {
		next := child.NextSibling
		if child.Type == html.TextNode {
			linkifyText(child)
		} else {
			linkifyTree(child)
		}
		child = next
	}
}

// linkifyText replaces one text node with a sequence of text and anchor
// nodes, one anchor per detected URL.
func linkifyText(text *html.Node) {
	matches := urlPattern.FindAllStringIndex(text.Data, -1)
	if len(matches) == 0 {
		return
	}

	parent := text.Parent
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		u := strings.TrimRight(text.Data[start:end], ".,;:!?)")
		end = start + len(u)
		if u == "" {
			continue
		}
		if start > last {
			parent.InsertBefore(&html.Node{Type: html.TextNode, Data: text.Data[last:start]}, text)
		}
		href := u
		if strings.HasPrefix(u, "www.") {
			href = "http://" + u
		}
		link := &html.Node{
			Type:     html.ElementNode,
			Data:     "a",
			DataAtom: atom.A,
			Attr:     []html.Attribute{{Key: "href", Val: href}},
		}
		link.AppendChild(&html.Node{Type: html.TextNode, Data: u})
		parent.InsertBefore(link, text)
		last = end
	}
	if last < len(text.Data) {
		parent.InsertBefore(&html.Node{Type: html.TextNode, Data: text.Data[last:]}, text)
	}
	parent.RemoveChild(text)
}
