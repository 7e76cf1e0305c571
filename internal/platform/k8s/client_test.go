package k8s

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type recordedRequest struct {
	Method      string
	Path        string
	ContentType string
	Auth        string
	Body        map[string]any
}

type fakeAPIServer struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   map[string]int
}

func (f *fakeAPIServer) handler(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Method:      r.Method,
		Path:        r.URL.Path,
		ContentType: r.Header.Get("Content-Type"),
		Auth:        r.Header.Get("Authorization"),
		Body:        body,
	})
	status, ok := f.status[r.Method+" "+r.URL.Path]
	f.mu.Unlock()
	if !ok {
		status = http.StatusCreated
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{}`))
}

func newTestClient(t *testing.T, api *fakeAPIServer) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(api.handler))
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, "token-1", "launchpad", srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestEnsureNamespaceTreatsConflictAsSuccess(t *testing.T) {
	api := &fakeAPIServer{status: map[string]int{"POST /api/v1/namespaces": http.StatusConflict}}
	client := newTestClient(t, api)

	err := client.EnsureNamespace(context.Background(), Namespace{Metadata: ObjectMeta{Name: "project-1-development"}})
	if err != nil {
		t.Fatalf("ensure namespace: %v", err)
	}
	if len(api.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(api.requests))
	}
	if api.requests[0].Auth != "Bearer token-1" {
		t.Fatalf("unexpected auth header %q", api.requests[0].Auth)
	}
	if api.requests[0].Body["kind"] != "Namespace" {
		t.Fatalf("expected Namespace kind, got %v", api.requests[0].Body["kind"])
	}
}

func TestApplyCustomResourcePatchesOnConflict(t *testing.T) {
	res := Resource{Group: "source.toolkit.fluxcd.io", Version: "v1", Plural: "gitrepositories"}
	collection := "/apis/source.toolkit.fluxcd.io/v1/namespaces/ns-1/gitrepositories"
	api := &fakeAPIServer{status: map[string]int{
		"POST " + collection:                 http.StatusConflict,
		"PATCH " + collection + "/proj-repo": http.StatusOK,
	}}
	client := newTestClient(t, api)

	obj := map[string]any{"kind": "GitRepository", "metadata": map[string]any{"name": "proj-repo"}}
	if err := client.ApplyCustomResource(context.Background(), res, "ns-1", "proj-repo", obj); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(api.requests) != 2 {
		t.Fatalf("expected create then patch, got %d requests", len(api.requests))
	}
	if api.requests[1].Method != http.MethodPatch || api.requests[1].ContentType != "application/merge-patch+json" {
		t.Fatalf("unexpected second request %+v", api.requests[1])
	}
}

func TestApplySecretDefaultsNamespace(t *testing.T) {
	api := &fakeAPIServer{}
	client := newTestClient(t, api)

	err := client.ApplySecret(context.Background(), Secret{
		Metadata:   ObjectMeta{Name: "proj-git-auth"},
		Type:       "Opaque",
		StringData: map[string]string{"username": "git"},
	})
	if err != nil {
		t.Fatalf("apply secret: %v", err)
	}
	if api.requests[0].Path != "/api/v1/namespaces/launchpad/secrets" {
		t.Fatalf("unexpected path %q", api.requests[0].Path)
	}
}

func TestErrorMapping(t *testing.T) {
	res := Resource{Group: "kustomize.toolkit.fluxcd.io", Version: "v1", Plural: "kustomizations"}
	path := res.CollectionPath("ns-1") + "/missing"
	api := &fakeAPIServer{status: map[string]int{
		"DELETE " + path:                   http.StatusNotFound,
		"GET /version":                     http.StatusForbidden,
		"DELETE /api/v1/namespaces/broken": http.StatusInternalServerError,
	}}
	client := newTestClient(t, api)

	if err := client.DeleteCustomResource(context.Background(), res, "ns-1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := client.Ping(context.Background()); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	err := client.DeleteNamespace(context.Background(), "broken")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected APIError 500, got %v", err)
	}
}

func TestResourceValidate(t *testing.T) {
	if err := (Resource{Group: "g", Version: "v1"}).Validate(); err == nil {
		t.Fatalf("expected plural error")
	}
	if got := (Resource{Group: "g", Version: "v1", Plural: "p"}).APIVersion(); got != "g/v1" {
		t.Fatalf("APIVersion()=%q", got)
	}
}
