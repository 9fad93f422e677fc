// internal/browser/scripts.go
package browser

// reasonContextUnavailable is the capture script's marker for a page whose
// canvas cannot produce a 2D context at all.
const reasonContextUnavailable = "canvas context unavailable"

// queryScript lists matches for a selector in document order, carrying the
// viewport bounding rectangle and all attributes of each element. The
// selector is interpolated with %q.
const queryScript = `(function(sel) {
	return Array.from(document.querySelectorAll(sel)).map(function(el, i) {
		var r = el.getBoundingClientRect();
		var attrs = {};
		for (var j = 0; j < el.attributes.length; j++) {
			attrs[el.attributes[j].name] = el.attributes[j].value;
		}
		return {
			selector: sel,
			index: i,
			tag: el.tagName.toLowerCase(),
			rect: {x: r.left, y: r.top, width: r.width, height: r.height},
			attributes: attrs
		};
	});
})(%q)`

// queryScopedScript is queryScript scoped to the nearest form enclosing an
// anchor element, falling back to the document body. Interpolated with the
// anchor selector (%q), anchor index (%d) and the query selector (%q).
const queryScopedScript = `(function(aSel, aIdx, sel) {
	var anchor = document.querySelectorAll(aSel)[aIdx];
	if (!anchor) { return {error: 'anchor element not found'}; }
	var scope = anchor.closest('form') || document.body;
	var elements = Array.from(scope.querySelectorAll(sel)).map(function(el, i) {
		var r = el.getBoundingClientRect();
		var attrs = {};
		for (var j = 0; j < el.attributes.length; j++) {
			attrs[el.attributes[j].name] = el.attributes[j].value;
		}
		return {
			selector: sel,
			index: i,
			tag: el.tagName.toLowerCase(),
			rect: {x: r.left, y: r.top, width: r.width, height: r.height},
			attributes: attrs
		};
	});
	return {elements: elements};
})(%q, %d, %q)`

// captureScript draws an image element onto an off-screen canvas sized to
// its natural pixel dimensions and serializes it to a PNG data URL. A
// cross-origin taint surfaces as {tainted, src}; a missing 2D context is a
// setup-level failure. Interpolated with the image selector (%q) and
// index (%d).
const captureScript = `(function(sel, idx) {
	var img = document.querySelectorAll(sel)[idx];
	if (!img) { return {error: 'image element not found'}; }
	var canvas = document.createElement('canvas');
	canvas.width = img.naturalWidth || img.width;
	canvas.height = img.naturalHeight || img.height;
	var ctx = canvas.getContext('2d');
	if (!ctx) { return {error: '` + reasonContextUnavailable + `'}; }
	ctx.drawImage(img, 0, 0);
	try {
		return {dataUrl: canvas.toDataURL('image/png')};
	} catch (e) {
		return {tainted: true, src: img.src};
	}
})(%q, %d)`

// fillScript sets an input's value and dispatches input and change events
// so framework bindings and page validation pick the value up.
// Interpolated with the input selector (%q), index (%d) and value (%q).
const fillScript = `(function(sel, idx, value) {
	var input = document.querySelectorAll(sel)[idx];
	if (!input) { return false; }
	input.value = value;
	input.dispatchEvent(new Event('input', {bubbles: true}));
	input.dispatchEvent(new Event('change', {bubbles: true}));
	return true;
})(%q, %d, %q)`
