package handler

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rvm-io/rvm-server/internal/bundle"
	"github.com/rvm-io/rvm-server/internal/cloud"
	"github.com/rvm-io/rvm-server/internal/config"
	"github.com/rvm-io/rvm-server/internal/lifecycle"
	"github.com/rvm-io/rvm-server/internal/model"
	"github.com/rvm-io/rvm-server/internal/reconcile"
	"github.com/rvm-io/rvm-server/internal/service"
	"github.com/rvm-io/rvm-server/internal/store"
	"github.com/rvm-io/rvm-server/internal/stream"
)

// fetcher fakes bundle retrieval by extracting a prebuilt zip payload.
type fakeFetcher struct {
	payload []byte
	err     error
}

func (f *fakeFetcher) Fetch(ctx context.Context, bucketName, key string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	dir, err := writeTempBundle(f.payload)
	if err != nil {
		return "", err
	}
	return dir, nil
}

func writeTempBundle(payload []byte) (string, error) {
	dir, err := os.MkdirTemp("", "rvm-test-bundle-")
	if err != nil {
		return "", err
	}
	zipPath := filepath.Join(dir, "bundle.zip")
	if err := os.WriteFile(zipPath, payload, 0o644); err != nil {
		return "", err
	}
	return dir, bundle.Extract(zipPath, dir)
}

type fakeClient struct {
	stacks map[string]string
}

func (f *fakeClient) ListStacks(ctx context.Context) ([]cloud.StackSummary, error) {
	var out []cloud.StackSummary
	for name, status := range f.stacks {
		out = append(out, cloud.StackSummary{Name: name, Status: status})
	}
	return out, nil
}

func (f *fakeClient) CreateStack(ctx context.Context, name, body string) error { return nil }

func (f *fakeClient) UpdateStack(ctx context.Context, name, body string) (bool, error) {
	return false, nil
}

func (f *fakeClient) DeleteStack(ctx context.Context, name string) error { return nil }

func (f *fakeClient) WaitForDeleteComplete(ctx context.Context, name string, timeout time.Duration) error {
	return nil
}

type fakeSessions struct {
	clients map[string]*fakeClient
}

func (f *fakeSessions) ForAccount(ctx context.Context, accountID string) (cloud.StackClient, error) {
	client, ok := f.clients[accountID]
	if !ok {
		return nil, errors.New("unknown account")
	}
	return client, nil
}

func buildBundleZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("zip create error = %v", err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("zip write error = %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zip close error = %v", err)
	}
	return buf.Bytes()
}

func newTestRouter(t *testing.T, fetcher bundle.Fetcher, sessions cloud.SessionFactory) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if err := store.InitDB(filepath.Join(t.TempDir(), "rvm.db")); err != nil {
		t.Fatalf("InitDB() error = %v", err)
	}
	t.Cleanup(func() { _ = store.CloseDB() })

	cfg := &config.Config{
		Region:             "eu-west-1",
		StackPrefix:        "rvm-provisioned",
		WorkflowRole:       "RvmWorkflowRole",
		SessionNamePrefix:  "rvm-deployment",
		Capabilities:       []string{"CAPABILITY_NAMED_IAM"},
		DeleteWaitTimeout:  time.Minute,
		AccountConcurrency: 1,
	}

	hub := stream.NewHub()
	coordinator := reconcile.NewCoordinator(cfg, sessions, reconcile.NewExecutor(cfg.DeleteWaitTimeout))
	svc := service.NewRunService(fetcher, coordinator, store.NewRunStore(), hub)
	h := NewRunHandler(svc, hub, lifecycle.NewDrainManager())

	r := gin.New()
	api := r.Group("/api/v1")
	h.RegisterRoutes(api)
	return r
}

func TestTriggerRunCompletes(t *testing.T) {
	payload := buildBundleZip(t, map[string]string{
		"manifest.json": `{"templates": [{"template_file": "net.yaml", "accounts": ["111"]}]}`,
		"net.yaml":      "Resources: {}",
	})
	sessions := &fakeSessions{clients: map[string]*fakeClient{"111": {}}}
	r := newTestRouter(t, &fakeFetcher{payload: payload}, sessions)

	body := strings.NewReader(`{"bucket": "config-bucket", "key": "v1.zip"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp model.TriggerRunResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response error = %v", err)
	}
	if len(resp.Success) != 1 || resp.Success[0] != "net.yaml:111" {
		t.Fatalf("unexpected success list: %v", resp.Success)
	}
	if resp.Summary.Success != 1 || resp.Summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", resp.Summary)
	}

	// The finished run is queryable with the same result lists.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+resp.RunID, nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for finished run, got %d", w.Code)
	}
	var detail model.RunDetailResponse
	if err := json.Unmarshal(w.Body.Bytes(), &detail); err != nil {
		t.Fatalf("unmarshal detail error = %v", err)
	}
	if detail.Run.Status != "completed" {
		t.Fatalf("unexpected run status: %q", detail.Run.Status)
	}
	if len(detail.Success) != 1 || detail.Success[0] != "net.yaml:111" {
		t.Fatalf("unexpected persisted success list: %v", detail.Success)
	}
}

func TestTriggerRunAcceptsS3Event(t *testing.T) {
	payload := buildBundleZip(t, map[string]string{
		"manifest.json": `{"templates": []}`,
	})
	r := newTestRouter(t, &fakeFetcher{payload: payload}, &fakeSessions{clients: map[string]*fakeClient{}})

	body := strings.NewReader(`{"Records": [{"s3": {"bucket": {"name": "config-bucket"}, "object": {"key": "v2.zip"}}}]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestTriggerRunBundleUnreadableIsRunLevelFailure(t *testing.T) {
	r := newTestRouter(t, &fakeFetcher{err: errors.New("no such key")}, &fakeSessions{clients: map[string]*fakeClient{}})

	body := strings.NewReader(`{"bucket": "config-bucket", "key": "missing.zip"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 when run cannot begin, got %d", w.Code)
	}
}

func TestTriggerRunRejectsBodyWithoutLocation(t *testing.T) {
	r := newTestRouter(t, &fakeFetcher{}, &fakeSessions{clients: map[string]*fakeClient{}})

	body := strings.NewReader(`{}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetRunNotFound(t *testing.T) {
	r := newTestRouter(t, &fakeFetcher{}, &fakeSessions{clients: map[string]*fakeClient{}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-missing", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
