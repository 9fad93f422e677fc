// Package extractor turns a located captcha image element into a base64
// data URL. The primary path is an in-page canvas capture; when the canvas
// is tainted by cross-origin pixels the image source is fetched directly
// and re-encoded.
package extractor

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/valpere/captchafill/internal/page"
	"github.com/valpere/captchafill/internal/utils"
)

// Extractor produces encoded pixel buffers from image elements.
type Extractor struct {
	http   *resty.Client
	logger *zap.Logger
}

// New creates an extractor.
func New(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		http:   resty.New(),
		logger: logger,
	}
}

// Extract rasterizes img through the capturer and returns a data URL.
// baseURL is the page location, used to resolve a relative image source on
// the cross-origin fallback path. The attempt fails without fallback when
// the raster surface cannot be created at all.
func (e *Extractor) Extract(ctx context.Context, cap page.Capturer, img page.Element, baseURL string) (string, error) {
	capture, err := cap.CaptureImage(ctx, img)
	if err != nil {
		return "", err
	}

	if !capture.Tainted {
		if capture.DataURL == "" {
			return "", utils.NewError(utils.ErrCodeExtractionFailed, "capture produced no image data")
		}
		return capture.DataURL, nil
	}

	src := capture.Source
	if src == "" {
		src = img.Attr("src")
	}
	if src == "" {
		return "", utils.NewError(utils.ErrCodeExtractionFailed,
			"cross-origin read blocked and image has no source URL")
	}

	e.logger.Debug("canvas tainted, fetching image source directly", zap.String("src", src))
	return e.fetchAsDataURL(ctx, src, baseURL)
}

// fetchAsDataURL downloads the image source and encodes the body as a data
// URL. Decodable images are normalized to PNG; anything else passes
// through under its reported content type.
func (e *Extractor) fetchAsDataURL(ctx context.Context, src, baseURL string) (string, error) {
	target, err := resolveURL(baseURL, src)
	if err != nil {
		return "", utils.WrapError(utils.ErrCodeExtractionFailed, "invalid image source URL", err)
	}

	resp, err := e.http.R().SetContext(ctx).Get(target)
	if err != nil {
		return "", utils.WrapError(utils.ErrCodeExtractionFailed,
			"cross-origin read blocked, fallback fetch failed", err)
	}
	if !resp.IsSuccess() {
		return "", utils.NewErrorf(utils.ErrCodeExtractionFailed,
			"cross-origin read blocked, fallback fetch returned HTTP %d", resp.StatusCode())
	}

	body := resp.Body()
	if len(body) == 0 {
		return "", utils.NewError(utils.ErrCodeExtractionFailed, "fallback fetch returned an empty body")
	}

	if decoded, err := imaging.Decode(bytes.NewReader(body)); err == nil {
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, decoded, imaging.PNG); err != nil {
			return "", utils.WrapError(utils.ErrCodeExtractionFailed, "failed to re-encode image", err)
		}
		return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
	}

	// Not decodable by the imaging stack; hand the blob to the solver
	// under the content type the origin reported.
	contentType := resp.Header().Get("Content-Type")
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return fmt.Sprintf("data:%s;base64,%s", contentType,
		base64.StdEncoding.EncodeToString(body)), nil
}

// resolveURL resolves src against the page URL. Absolute sources pass
// through unchanged; an empty base leaves relative sources as-is.
func resolveURL(baseURL, src string) (string, error) {
	ref, err := url.Parse(src)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() || baseURL == "" {
		return src, nil
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}
