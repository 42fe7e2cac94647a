// Package gate rewrites HTML documents so their set of live tracking scripts
// matches the current consent decision, without a page reload.
//
// The DOM contract: a consent-gated script ships inert:
//
//	<script type="text/plain" data-consent-category="analytics" data-src="...">
//
// The placeholder is the permanent declaration. Activation materialises an
// executable twin right after it, tied back by a correlation ID; deactivation
// removes the twin and clears the markers. The placeholder survives every
// pass, so the live node is always reconstructible from it.
package gate

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Attribute names of the gating contract.
const (
	AttrCategory = "data-consent-category"
	AttrSrc      = "data-src"
	AttrEnabled  = "data-consent-enabled"
	AttrID       = "data-consent-id"
	AttrInjected = "data-consent-injected"

	// InertType neutralises a script: browsers do not execute text/plain.
	InertType = "text/plain"
)

// Document wraps a parsed HTML tree. The gate re-walks it on every pass;
// nothing is cached, so nodes injected between passes are picked up.
type Document struct {
	root *html.Node
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("gate: parse: %w", err)
	}
	return &Document{root: root}, nil
}

// ParseBytes parses an in-memory HTML document.
func ParseBytes(data []byte) (*Document, error) {
	return Parse(bytes.NewReader(data))
}

// Render serialises the document.
func (d *Document) Render(w io.Writer) error {
	if err := html.Render(w, d.root); err != nil {
		return fmt.Errorf("gate: render: %w", err)
	}
	return nil
}

// HTML returns the serialised document as a string.
func (d *Document) HTML() (string, error) {
	var sb strings.Builder
	if err := d.Render(&sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Root exposes the underlying tree for callers that post-process it.
func (d *Document) Root() *html.Node {
	return d.root
}

// gatedScripts walks the tree and collects inert placeholders: script
// elements with the inert type and a category annotation.
func (d *Document) gatedScripts() []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Script {
			if attrVal(n, "type") == InertType && hasAttr(n, AttrCategory) {
				out = append(out, n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.root)
	return out
}

// injectedByID collects live nodes carrying the given correlation ID.
func (d *Document) injectedByID(id string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Script {
			if hasAttr(n, AttrInjected) && attrVal(n, AttrID) == id {
				out = append(out, n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.root)
	return out
}

// ---------- attribute helpers ----------

func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

// textContent concatenates the text children of a node.
func textContent(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}
