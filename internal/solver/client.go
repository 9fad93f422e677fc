// Package solver is the thin client for the external OCR service. The
// service contract is not ours: one multipart POST with the image data URL
// as a text field, a JSON body with "data" on success and optionally
// "message" on failure.
package solver

import (
	"context"
	"encoding/json"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/valpere/captchafill/internal/config"
	"github.com/valpere/captchafill/internal/utils"
)

// Client posts encoded captcha images to the configured OCR endpoint.
type Client struct {
	provider config.Provider
	http     *resty.Client
	logger   *zap.Logger
}

// NewClient creates a solver client. The provider is consulted on every
// call, so settings edits take effect without recreating the client.
func NewClient(provider config.Provider, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		provider: provider,
		http:     resty.New(),
		logger:   logger,
	}
}

// Solve sends the encoded image to the OCR service and returns the solved
// text verbatim. It fails before any network I/O when no endpoint URL is
// configured.
func (c *Client) Solve(ctx context.Context, imageDataURL string) (string, error) {
	cfg, err := c.provider.Load(ctx)
	if err != nil {
		return "", utils.WrapError(utils.ErrCodeInvalidConfig, "failed to load solver settings", err)
	}

	if cfg.APIURL == "" {
		return "", utils.NewError(utils.ErrCodeMissingConfig, "solver endpoint URL is not configured")
	}

	req := c.http.R().
		SetContext(ctx).
		SetMultipartFormData(map[string]string{
			// The data URL travels as a text field value, not as binary
			// multipart content.
			"image": imageDataURL,
		})
	if cfg.APIKey != "" {
		req.SetHeader("X-API-Key", cfg.APIKey)
	}

	resp, err := req.Post(cfg.APIURL)
	if err != nil {
		return "", utils.WrapError(utils.ErrCodeRemoteService, "solver request failed", err)
	}

	if !resp.IsSuccess() {
		return "", utils.NewError(utils.ErrCodeRemoteService, errorMessage(resp))
	}

	var body struct {
		// Pointer distinguishes an absent field from an empty solution.
		Data *string `json:"data"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return "", utils.WrapError(utils.ErrCodeRemoteService, "failed to parse solver response", err)
	}
	if body.Data == nil {
		return "", utils.NewError(utils.ErrCodeNoSolution, "no valid solution in solver response")
	}

	c.logger.Debug("captcha solved by remote service", zap.Int("solution_length", len(*body.Data)))
	return *body.Data, nil
}

// errorMessage extracts a human-readable message from an error response,
// preferring the JSON "message" field and falling back to the status line.
func errorMessage(resp *resty.Response) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.Message != "" {
		return body.Message
	}
	return resp.Status()
}
