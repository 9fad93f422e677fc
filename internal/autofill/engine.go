// Package autofill wires the detection, extraction, solving and filling
// steps into one solve attempt. Attempts are isolated: every call runs the
// full chain once, records its outcome, and shares nothing with other
// attempts beyond the settings record.
package autofill

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/valpere/captchafill/internal/detector"
	"github.com/valpere/captchafill/internal/extractor"
	"github.com/valpere/captchafill/internal/monitoring"
	"github.com/valpere/captchafill/internal/page"
	"github.com/valpere/captchafill/internal/storage"
	"github.com/valpere/captchafill/internal/utils"
)

// Session is the page surface an attempt runs against. The chromedp
// browser implements it for live pages; tests substitute fakes.
type Session interface {
	page.Querier
	page.Capturer
	page.Filler
	Navigate(ctx context.Context, url string) error
	URL() string
}

// Solver turns an encoded image into text.
type Solver interface {
	Solve(ctx context.Context, imageDataURL string) (string, error)
}

// Result is a completed solve attempt.
type Result struct {
	Solution string
	Image    page.Element
	Input    page.Element
}

// Engine runs solve attempts.
type Engine struct {
	session  Session
	detector *detector.Detector
	extract  *extractor.Extractor
	solver   Solver
	store    storage.Store
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// NewEngine creates an engine. Store and metrics may be nil when history
// or instrumentation is disabled.
func NewEngine(session Session, solver Solver, store storage.Store, metrics *monitoring.Metrics, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		session:  session,
		detector: detector.New(logger),
		extract:  extractor.New(logger),
		solver:   solver,
		store:    store,
		metrics:  metrics,
		logger:   logger,
	}
}

// Run navigates to url and performs one detect-extract-solve-fill cycle.
// There are no retries: the first failure at any stage aborts the attempt.
func (e *Engine) Run(ctx context.Context, url string) (*Result, error) {
	start := time.Now()
	attempt := &storage.Attempt{
		PageURL:   url,
		CreatedAt: start.UTC(),
	}

	result, err := e.run(ctx, url, attempt)

	attempt.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		attempt.Error = err.Error()
		attempt.Status = statusFor(err)
	} else {
		attempt.Status = storage.StatusSolved
		attempt.Solution = result.Solution
	}

	e.record(ctx, attempt, time.Since(start))
	return result, err
}

func (e *Engine) run(ctx context.Context, url string, attempt *storage.Attempt) (*Result, error) {
	if err := e.session.Navigate(ctx, url); err != nil {
		return nil, err
	}

	candidate, found := e.detector.Detect(ctx, e.session)
	if !found {
		return nil, utils.NewError(utils.ErrCodeDetectionFailed, "no captcha detected on page")
	}
	attempt.ImageSource = candidate.Image.Attr("src")

	dataURL, err := e.extract.Extract(ctx, e.session, candidate.Image, e.session.URL())
	if err != nil {
		return nil, err
	}

	solution, err := e.solver.Solve(ctx, dataURL)
	if err != nil {
		return nil, err
	}

	if err := e.session.FillInput(ctx, candidate.Input, solution); err != nil {
		return nil, utils.WrapError(utils.ErrCodeBrowserFailed, "failed to fill captcha input", err)
	}

	e.logger.Info("captcha solved and filled",
		zap.String("url", url),
		zap.Int("solution_length", len(solution)))

	return &Result{
		Solution: solution,
		Image:    candidate.Image,
		Input:    candidate.Input,
	}, nil
}

// record persists the attempt and updates metrics. Recording failures are
// logged but never fail the attempt itself.
func (e *Engine) record(ctx context.Context, attempt *storage.Attempt, elapsed time.Duration) {
	if e.metrics != nil {
		e.metrics.RecordAttempt(attempt.Status, elapsed)
	}
	if e.store != nil {
		if err := e.store.Record(ctx, attempt); err != nil {
			e.logger.Warn("failed to record solve attempt", zap.Error(err))
		}
	}
}

// statusFor maps an attempt error onto a history status.
func statusFor(err error) string {
	switch utils.CodeOf(err) {
	case utils.ErrCodeDetectionFailed:
		return storage.StatusDetectionFailed
	case utils.ErrCodeExtractionFailed, utils.ErrCodeContextUnavailable:
		return storage.StatusExtractionFailed
	case utils.ErrCodeMissingConfig, utils.ErrCodeInvalidConfig:
		return storage.StatusConfigError
	case utils.ErrCodeRemoteService, utils.ErrCodeNoSolution:
		return storage.StatusRemoteError
	default:
		return storage.StatusBrowserError
	}
}
