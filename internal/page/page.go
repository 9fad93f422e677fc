// Package page defines the minimal page-inspection surface the detection
// and extraction code needs: query elements by CSS selector, read their
// bounding rectangles and attributes, and capture image pixels. Keeping
// the surface this small lets the detection heuristic run unchanged
// against a live browser, a statically parsed document, or a test double.
package page

import "context"

// Rect is an element bounding rectangle in viewport coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Element is a handle to a page element. The handle is positional: the
// element is re-resolved as match number Index of Selector, so it stays
// valid as long as the document structure does not change underneath it.
type Element struct {
	Selector   string            `json:"selector"`
	Index      int               `json:"index"`
	Tag        string            `json:"tag"`
	Rect       Rect              `json:"rect"`
	Attributes map[string]string `json:"attributes"`
}

// Attr returns an attribute value, or the empty string when absent.
func (e Element) Attr(name string) string {
	if e.Attributes == nil {
		return ""
	}
	return e.Attributes[name]
}

// Querier answers CSS-selector queries against a page.
type Querier interface {
	// Query returns all elements matching selector, in document order.
	Query(ctx context.Context, selector string) ([]Element, error)

	// QueryScoped returns all elements matching selector within the
	// nearest form enclosing anchor, or within the document body when no
	// form encloses it. Results are in document order.
	QueryScoped(ctx context.Context, anchor Element, selector string) ([]Element, error)
}

// Capture is the result of rasterizing an image element. Either DataURL is
// set, or Tainted is set and Source carries the image URL for a direct
// fetch.
type Capture struct {
	DataURL string `json:"dataUrl,omitempty"`
	Tainted bool   `json:"tainted,omitempty"`
	Source  string `json:"src,omitempty"`
	Reason  string `json:"error,omitempty"`
}

// Capturer rasterizes image elements into encoded pixel buffers.
type Capturer interface {
	CaptureImage(ctx context.Context, img Element) (*Capture, error)
}

// Filler writes a value into an input element and emits the change
// notifications page-side validation listens for.
type Filler interface {
	FillInput(ctx context.Context, input Element, value string) error
}
