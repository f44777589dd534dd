package extract

import (
	"strings"

	"golang.org/x/net/html"
)

// HiddenAttr marks elements the capturing browser measured with zero height.
const HiddenAttr = "data-zc-hidden"

// skippedTags never contribute visible text.
var skippedTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"head":     true,
	"select":   true,
}

// collapseSpace trims s and folds every whitespace run into one space.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// isHiddenElement reports whether n itself is hidden from the player.
func isHiddenElement(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	if skippedTags[n.Data] {
		return true
	}
	for _, a := range n.Attr {
		switch a.Key {
		case "hidden", HiddenAttr:
			return true
		case "style":
			style := strings.ToLower(strings.ReplaceAll(a.Val, " ", ""))
			if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
				return true
			}
		case "type":
			if n.Data == "input" && strings.EqualFold(a.Val, "hidden") {
				return true
			}
		}
	}
	return false
}

// isVisible reports whether n and all of its ancestors are visible.
func isVisible(n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if isHiddenElement(cur) {
			return false
		}
	}
	return true
}

// eachVisibleText calls fn for every text node outside hidden subtrees,
// in document order, until fn returns false.
func eachVisibleText(root *html.Node, fn func(text string) bool) {
	var walk func(n *html.Node) bool
	walk = func(n *html.Node) bool {
		if isHiddenElement(n) {
			return true
		}
		if n.Type == html.TextNode {
			if !fn(n.Data) {
				return false
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !walk(c) {
				return false
			}
		}
		return true
	}
	walk(root)
}

// visibleText joins all visible text under root into one collapsed string.
func visibleText(root *html.Node) string {
	var b strings.Builder
	eachVisibleText(root, func(text string) bool {
		b.WriteString(text)
		b.WriteByte(' ')
		return true
	})
	return collapseSpace(b.String())
}
