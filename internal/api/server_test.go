// internal/api/server_test.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/valpere/captchafill/internal/config"
	"github.com/valpere/captchafill/internal/monitoring"
	"github.com/valpere/captchafill/internal/storage"
	"github.com/valpere/captchafill/internal/utils"
)

// fakeSolver returns a canned solution or error.
type fakeSolver struct {
	solution string
	err      error
	lastImg  string
}

func (f *fakeSolver) Solve(ctx context.Context, imageDataURL string) (string, error) {
	f.lastImg = imageDataURL
	if f.err != nil {
		return "", f.err
	}
	return f.solution, nil
}

// fakeStore returns canned attempts.
type fakeStore struct {
	attempts []storage.Attempt
}

func (f *fakeStore) Record(ctx context.Context, a *storage.Attempt) error { return nil }
func (f *fakeStore) Recent(ctx context.Context, limit int) ([]storage.Attempt, error) {
	if limit < len(f.attempts) {
		return f.attempts[:limit], nil
	}
	return f.attempts, nil
}
func (f *fakeStore) Close() error { return nil }

func newTestServer(solver Solver, pages PageSolver, history storage.Store, metrics *monitoring.Metrics) *Server {
	provider := config.NewStaticProvider(nil)
	return NewServer(nil, solver, pages, provider, history, metrics, zap.NewNop())
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Body.String(), "{") {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("response is not a JSON object: %v (%s)", err, rec.Body.String())
		}
	}
	return rec, decoded
}

func TestSolveEndpoint(t *testing.T) {
	solver := &fakeSolver{solution: "XK4F"}
	server := newTestServer(solver, nil, nil, nil)

	rec, body := doJSON(t, server.Handler(), http.MethodPost, "/api/v1/solve",
		`{"imageDataUrl": "data:image/png;base64,AAAA"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body["solution"] != "XK4F" {
		t.Fatalf("unexpected body: %v", body)
	}
	if solver.lastImg != "data:image/png;base64,AAAA" {
		t.Fatalf("solver received %q", solver.lastImg)
	}
}

func TestSolveEndpointRejectsEmptyImage(t *testing.T) {
	server := newTestServer(&fakeSolver{}, nil, nil, nil)

	rec, body := doJSON(t, server.Handler(), http.MethodPost, "/api/v1/solve", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if body["error"] == nil {
		t.Fatal("expected an error message")
	}
}

func TestSolveEndpointInvalidJSON(t *testing.T) {
	server := newTestServer(&fakeSolver{}, nil, nil, nil)

	rec, _ := doJSON(t, server.Handler(), http.MethodPost, "/api/v1/solve", `{broken`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSolveEndpointErrorStatusMapping(t *testing.T) {
	cases := []struct {
		code utils.ErrorCode
		want int
	}{
		{utils.ErrCodeMissingConfig, http.StatusUnprocessableEntity},
		{utils.ErrCodeInvalidConfig, http.StatusUnprocessableEntity},
		{utils.ErrCodeRemoteService, http.StatusBadGateway},
		{utils.ErrCodeNoSolution, http.StatusBadGateway},
		{utils.ErrCodeDetectionFailed, http.StatusNotFound},
		{utils.ErrCodeExtractionFailed, http.StatusBadGateway},
		{utils.ErrCodeInternal, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		solver := &fakeSolver{err: utils.NewError(tc.code, "boom")}
		server := newTestServer(solver, nil, nil, nil)

		rec, _ := doJSON(t, server.Handler(), http.MethodPost, "/api/v1/solve",
			`{"imageDataUrl": "data:image/png;base64,AAAA"}`)
		if rec.Code != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.code, tc.want, rec.Code)
		}
	}
}

func TestSolvePageEndpoint(t *testing.T) {
	pages := PageSolverFunc(func(ctx context.Context, url string) (string, error) {
		if url != "https://example.com/login" {
			t.Errorf("unexpected url: %s", url)
		}
		return "AB12", nil
	})
	server := newTestServer(&fakeSolver{}, pages, nil, nil)

	rec, body := doJSON(t, server.Handler(), http.MethodPost, "/api/v1/solve/page",
		`{"url": "https://example.com/login"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body["status"] != "completed" || body["solution"] != "AB12" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestSolvePageEndpointDisabled(t *testing.T) {
	server := newTestServer(&fakeSolver{}, nil, nil, nil)

	rec, _ := doJSON(t, server.Handler(), http.MethodPost, "/api/v1/solve/page",
		`{"url": "https://example.com/"}`)
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", rec.Code)
	}
}

func TestSolvePageEndpointNoCaptcha(t *testing.T) {
	pages := PageSolverFunc(func(ctx context.Context, url string) (string, error) {
		return "", utils.NewError(utils.ErrCodeDetectionFailed, "no captcha detected on page")
	})
	server := newTestServer(&fakeSolver{}, pages, nil, nil)

	rec, _ := doJSON(t, server.Handler(), http.MethodPost, "/api/v1/solve/page",
		`{"url": "https://example.com/"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	server := newTestServer(&fakeSolver{}, nil, nil, nil)
	handler := server.Handler()

	rec, body := doJSON(t, handler, http.MethodGet, "/api/v1/settings", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body["apiUrl"] != config.DefaultEndpoint {
		t.Fatalf("expected the default endpoint, got %v", body["apiUrl"])
	}

	rec, body = doJSON(t, handler, http.MethodPut, "/api/v1/settings",
		`{"apiUrl": "https://ocr.example.com/solve", "apiKey": "k-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on put, got %d: %s", rec.Code, rec.Body.String())
	}
	if body["apiUrl"] != "https://ocr.example.com/solve" {
		t.Fatalf("put did not echo the record: %v", body)
	}

	rec, body = doJSON(t, handler, http.MethodGet, "/api/v1/settings", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body["apiUrl"] != "https://ocr.example.com/solve" || body["apiKey"] != "k-1" {
		t.Fatalf("settings were not persisted: %v", body)
	}
}

func TestSettingsPutRejectsInvalid(t *testing.T) {
	server := newTestServer(&fakeSolver{}, nil, nil, nil)

	rec, _ := doJSON(t, server.Handler(), http.MethodPut, "/api/v1/settings",
		`{"apiUrl": "ftp://nope"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	store := &fakeStore{attempts: []storage.Attempt{
		{ID: 2, PageURL: "https://b.example", Status: storage.StatusSolved, Solution: "ZZ", CreatedAt: time.Now()},
		{ID: 1, PageURL: "https://a.example", Status: storage.StatusDetectionFailed, Error: "no captcha detected on page", CreatedAt: time.Now()},
	}}
	server := newTestServer(&fakeSolver{}, nil, store, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var views []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("response is not a JSON array: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(views))
	}
	if views[0]["pageUrl"] != "https://b.example" || views[0]["solution"] != "ZZ" {
		t.Fatalf("unexpected first entry: %v", views[0])
	}
	if views[1]["status"] != storage.StatusDetectionFailed {
		t.Fatalf("unexpected second entry: %v", views[1])
	}
}

func TestHistoryEndpointLimit(t *testing.T) {
	store := &fakeStore{attempts: []storage.Attempt{{ID: 3}, {ID: 2}, {ID: 1}}}
	server := newTestServer(&fakeSolver{}, nil, store, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history?limit=2", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	var views []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("response is not a JSON array: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(views))
	}
}

func TestHistoryEndpointBadLimit(t *testing.T) {
	server := newTestServer(&fakeSolver{}, nil, &fakeStore{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history?limit=zero", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHistoryEndpointWithoutStore(t *testing.T) {
	server := newTestServer(&fakeSolver{}, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected an empty array, got %s", rec.Body.String())
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(&fakeSolver{}, nil, nil, nil)

	rec, body := doJSON(t, server.Handler(), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("unexpected health response: %d %v", rec.Code, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics := monitoring.NewMetrics("captchafill")
	metrics.RecordAttempt(storage.StatusSolved, 250*time.Millisecond)

	server := newTestServer(&fakeSolver{}, nil, nil, metrics)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "captchafill_solve_attempts_total") {
		t.Fatal("expected the solve attempt counter in the exposition")
	}
}

func TestMetricsEndpointAbsentWithoutMetrics(t *testing.T) {
	server := newTestServer(&fakeSolver{}, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without metrics, got %d", rec.Code)
	}
}
