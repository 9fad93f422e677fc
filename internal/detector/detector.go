// Package detector locates a captcha image and its paired input field on a
// page using attribute-substring heuristics and spatial proximity. The
// heuristic is best-effort: on many pages it finds nothing, and that is an
// accepted outcome rather than an error.
package detector

import (
	"context"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/valpere/captchafill/internal/page"
)

// imageSelectors is a priority ranking: the first selector yielding any
// match wins, even when a later one would be a better semantic fit.
var imageSelectors = []string{
	`img[title*="captcha"]`,
	`img[src*="captcha"]`,
	`img[alt*="captcha"]`,
	`img[id*="captcha"]`,
	`img[class*="captcha"]`,
	`img[aria-label*="captcha"]`,
}

// inputSelectors mirrors the image ranking; the last two entries are
// shape-based fallbacks for pages that do not label the field at all.
var inputSelectors = []string{
	`input[id*="captcha"]`,
	`input[name*="captcha"]`,
	`input[class*="captcha"]`,
	`input[placeholder*="captcha"]`,
	`input[aria-label*="captcha"]`,
	`input[type="text"][maxlength="6"]`,
	`input[type="text"][pattern="[a-zA-Z0-9]{4,6}"]`,
}

// Candidate pairs a located captcha image with its input field. Candidates
// are discovered fresh on every pass and discarded once the solve attempt
// completes.
type Candidate struct {
	Image page.Element
	Input page.Element
}

// Detector runs the detection heuristic against a page.
type Detector struct {
	logger *zap.Logger
}

// New creates a detector.
func New(logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{logger: logger}
}

// Detect scans the page for a captcha candidate. It returns the candidate
// and true, or nil and false when nothing captcha-shaped is on the page.
// Query failures are treated as "not found": detection never fails a solve
// attempt on its own.
func (d *Detector) Detect(ctx context.Context, q page.Querier) (*Candidate, bool) {
	img, ok := d.findImage(ctx, q)
	if !ok {
		d.logger.Info("no captcha image found on page")
		return nil, false
	}

	input, ok := d.findInput(ctx, q, img)
	if !ok {
		d.logger.Info("captcha image found but no input field",
			zap.String("image_selector", img.Selector))
		return nil, false
	}

	d.logger.Debug("captcha candidate detected",
		zap.String("image_selector", img.Selector),
		zap.String("input_selector", input.Selector),
		zap.Int("input_index", input.Index))

	return &Candidate{Image: img, Input: input}, true
}

// findImage tries the image selectors in priority order and takes the
// first match of the first selector that yields anything.
func (d *Detector) findImage(ctx context.Context, q page.Querier) (page.Element, bool) {
	for _, sel := range imageSelectors {
		matches, err := q.Query(ctx, sel)
		if err != nil {
			d.logger.Debug("image query failed", zap.String("selector", sel), zap.Error(err))
			continue
		}
		if len(matches) > 0 {
			return matches[0], true
		}
	}
	return page.Element{}, false
}

// findInput searches the image's form scope (or the document body) for an
// input field, picking the match nearest to the image.
func (d *Detector) findInput(ctx context.Context, q page.Querier, img page.Element) (page.Element, bool) {
	for _, sel := range inputSelectors {
		matches, err := q.QueryScoped(ctx, img, sel)
		if err != nil {
			d.logger.Debug("input query failed", zap.String("selector", sel), zap.Error(err))
			continue
		}
		if len(matches) > 0 {
			return nearest(img, matches), true
		}
	}
	return page.Element{}, false
}

// nearest picks the element with the smallest Euclidean distance between
// bounding-rectangle top-left corners. The sort is stable, so ties resolve
// to query order.
func nearest(img page.Element, inputs []page.Element) page.Element {
	sorted := make([]page.Element, len(inputs))
	copy(sorted, inputs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return distance(img.Rect, sorted[i].Rect) < distance(img.Rect, sorted[j].Rect)
	})
	return sorted[0]
}

func distance(a, b page.Rect) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
