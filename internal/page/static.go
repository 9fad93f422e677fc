// internal/page/static.go
package page

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// StaticPage answers selector queries against a parsed HTML document
// without a browser. A static document has no layout, so every bounding
// rectangle is zero and distance ties resolve to document order.
type StaticPage struct {
	doc *goquery.Document
	url string
}

// NewStaticPage parses HTML content into a queryable page. url is the
// document location, used to resolve relative image sources.
func NewStaticPage(html, url string) (*StaticPage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	return &StaticPage{doc: doc, url: url}, nil
}

// URL returns the document location.
func (p *StaticPage) URL() string {
	return p.url
}

// Query returns all elements matching selector, in document order.
func (p *StaticPage) Query(ctx context.Context, selector string) ([]Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return collectElements(p.doc.Find(selector), selector), nil
}

// QueryScoped queries within the nearest form enclosing anchor, falling
// back to the document body.
func (p *StaticPage) QueryScoped(ctx context.Context, anchor Element, selector string) ([]Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	anchorSel := p.doc.Find(anchor.Selector).Eq(anchor.Index)
	if anchorSel.Length() == 0 {
		return nil, fmt.Errorf("anchor element not found: %s[%d]", anchor.Selector, anchor.Index)
	}

	scope := anchorSel.Closest("form")
	if scope.Length() == 0 {
		scope = p.doc.Find("body")
	}

	return collectElements(scope.Find(selector), selector), nil
}

// collectElements converts a goquery selection into element handles.
func collectElements(sel *goquery.Selection, selector string) []Element {
	elements := make([]Element, 0, sel.Length())
	sel.Each(func(i int, s *goquery.Selection) {
		attrs := make(map[string]string)
		tag := ""
		if node := s.Get(0); node != nil {
			tag = node.Data
			for _, a := range node.Attr {
				attrs[a.Key] = a.Val
			}
		}
		elements = append(elements, Element{
			Selector:   selector,
			Index:      i,
			Tag:        tag,
			Attributes: attrs,
		})
	})
	return elements
}
