// internal/solver/client_test.go
package solver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/valpere/captchafill/internal/config"
	"github.com/valpere/captchafill/internal/utils"
)

const testDataURL = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUg=="

func newTestClient(endpoint, key string) *Client {
	provider := config.NewStaticProvider(&config.SolverConfig{APIURL: endpoint, APIKey: key})
	return NewClient(provider, zap.NewNop())
}

func TestSolveSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			t.Errorf("expected multipart form, got %s", r.Header.Get("Content-Type"))
		}
		if got := r.FormValue("image"); got != testDataURL {
			t.Errorf("expected image field with data URL, got %q", got)
		}
		if got := r.Header.Get("X-API-Key"); got != "secret-key" {
			t.Errorf("expected X-API-Key header, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": "AB12"}`))
	}))
	defer server.Close()

	solution, err := newTestClient(server.URL, "secret-key").Solve(context.Background(), testDataURL)
	if err != nil {
		t.Fatalf("solve failed: %v", err)
	}
	if solution != "AB12" {
		t.Fatalf("expected solution AB12, got %q", solution)
	}
}

func TestSolveOmitsHeaderWithoutKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, present := r.Header["X-Api-Key"]; present {
			t.Error("X-API-Key header must be omitted when no key is configured")
		}
		w.Write([]byte(`{"data": "ZZ99"}`))
	}))
	defer server.Close()

	if _, err := newTestClient(server.URL, "").Solve(context.Background(), testDataURL); err != nil {
		t.Fatalf("solve failed: %v", err)
	}
}

func TestSolveEmptyEndpointFailsBeforeNetwork(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer server.Close()

	_, err := newTestClient("", "k").Solve(context.Background(), testDataURL)
	if err == nil {
		t.Fatal("expected an error for an empty endpoint")
	}
	if !utils.IsCode(err, utils.ErrCodeMissingConfig) {
		t.Fatalf("expected MISSING_CONFIG, got %s", utils.CodeOf(err))
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatal("no network call may happen for an empty endpoint")
	}
}

func TestSolveRemoteErrorMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"message": "bad image"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, "").Solve(context.Background(), testDataURL)
	if err == nil {
		t.Fatal("expected an error for a 500 response")
	}
	if !utils.IsCode(err, utils.ErrCodeRemoteService) {
		t.Fatalf("expected REMOTE_SERVICE, got %s", utils.CodeOf(err))
	}
	if !strings.Contains(err.Error(), "bad image") {
		t.Fatalf("expected the service message, got %q", err.Error())
	}
}

func TestSolveRemoteErrorStatusFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, "").Solve(context.Background(), testDataURL)
	if err == nil {
		t.Fatal("expected an error for a 502 response")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected the status line fallback, got %q", err.Error())
	}
}

func TestSolveMissingDataField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, "").Solve(context.Background(), testDataURL)
	if err == nil {
		t.Fatal("expected an error for a body without data")
	}
	if !utils.IsCode(err, utils.ErrCodeNoSolution) {
		t.Fatalf("expected NO_SOLUTION, got %s", utils.CodeOf(err))
	}
	if !strings.Contains(err.Error(), "no valid solution") {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestSolveEmptyDataIsVerbatim(t *testing.T) {
	// An empty string in data is still a present field; it is returned
	// as-is, not treated as missing.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": ""}`))
	}))
	defer server.Close()

	solution, err := newTestClient(server.URL, "").Solve(context.Background(), testDataURL)
	if err != nil {
		t.Fatalf("solve failed: %v", err)
	}
	if solution != "" {
		t.Fatalf("expected empty solution, got %q", solution)
	}
}

func TestSolveDoesNotTrimSolution(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": " aB 12 "}`))
	}))
	defer server.Close()

	solution, err := newTestClient(server.URL, "").Solve(context.Background(), testDataURL)
	if err != nil {
		t.Fatalf("solve failed: %v", err)
	}
	if solution != " aB 12 " {
		t.Fatalf("solution must be verbatim, got %q", solution)
	}
}

func TestSolveReadsSettingsFreshEachCall(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": "OK"}`))
	}))
	defer good.Close()

	provider := config.NewStaticProvider(&config.SolverConfig{APIURL: ""})
	client := NewClient(provider, zap.NewNop())

	if _, err := client.Solve(context.Background(), testDataURL); err == nil {
		t.Fatal("expected a configuration error first")
	}

	// Settings edits take effect without recreating the client.
	if err := provider.Save(context.Background(), &config.SolverConfig{APIURL: good.URL}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	solution, err := client.Solve(context.Background(), testDataURL)
	if err != nil {
		t.Fatalf("solve failed after settings update: %v", err)
	}
	if solution != "OK" {
		t.Fatalf("unexpected solution: %q", solution)
	}
}
