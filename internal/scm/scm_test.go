package scm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/animus-labs/launchpad/internal/domain"
)

type capturedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   map[string]any
}

type fakeSCM struct {
	mu       sync.Mutex
	requests []capturedRequest
	respond  func(r *http.Request) (int, string)
}

func (f *fakeSCM) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, capturedRequest{
		Method: r.Method,
		Path:   r.URL.EscapedPath(),
		Query:  r.URL.RawQuery,
		Header: r.Header.Clone(),
		Body:   body,
	})
	f.mu.Unlock()
	status, resp := f.respond(r)
	w.WriteHeader(status)
	_, _ = io.WriteString(w, resp)
}

func newProvider(t *testing.T, kind domain.Provider, respond func(r *http.Request) (int, string)) (Provider, *fakeSCM) {
	t.Helper()
	fake := &fakeSCM{respond: respond}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	clients, err := NewClients(Config{
		GitHubBaseURL: srv.URL,
		GitLabBaseURL: srv.URL,
		UserAgent:     "launchpad-test",
		Timeout:       5 * time.Second,
	}, nil)
	require.NoError(t, err)
	p, err := clients.Provider(kind, "tok-123")
	require.NoError(t, err)
	return p, fake
}

func TestGitHubCreateRepository(t *testing.T) {
	p, fake := newProvider(t, domain.ProviderGitHub, func(r *http.Request) (int, string) {
		return http.StatusCreated, `{"full_name":"acme/demo","clone_url":"https://github.com/acme/demo.git","default_branch":"main"}`
	})

	repo, err := p.CreateRepository(context.Background(), CreateRequest{Name: "demo", Private: true})
	require.NoError(t, err)
	assert.Equal(t, "acme/demo", repo.FullName)
	assert.Equal(t, "https://github.com/acme/demo.git", repo.CloneURL)

	require.Len(t, fake.requests, 1)
	req := fake.requests[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/user/repos", req.Path)
	assert.Equal(t, "application/vnd.github.v3+json", req.Header.Get("Accept"))
	assert.Equal(t, "launchpad-test", req.Header.Get("User-Agent"))
	assert.Equal(t, "Bearer tok-123", req.Header.Get("Authorization"))
	assert.Equal(t, "demo", req.Body["name"])
	assert.Equal(t, true, req.Body["private"])
	assert.Equal(t, true, req.Body["auto_init"])
}

func TestGitHubPushFilesUpdatesExisting(t *testing.T) {
	p, fake := newProvider(t, domain.ProviderGitHub, func(r *http.Request) (int, string) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/repos/acme/demo/contents/README.md":
			return http.StatusOK, `{"sha":"abc123"}`
		case r.Method == http.MethodGet:
			return http.StatusNotFound, `{"message":"Not Found"}`
		default:
			return http.StatusCreated, `{}`
		}
	})

	err := p.PushFiles(context.Background(), "acme/demo", "main", "Initial commit", []File{
		{Path: "README.md", Content: "# demo"},
		{Path: "k8s/base/service.yaml", Content: "kind: Service"},
	})
	require.NoError(t, err)

	puts := make([]capturedRequest, 0)
	for _, r := range fake.requests {
		if r.Method == http.MethodPut {
			puts = append(puts, r)
		}
	}
	require.Len(t, puts, 2)
	assert.Equal(t, "/repos/acme/demo/contents/README.md", puts[0].Path)
	assert.Equal(t, "abc123", puts[0].Body["sha"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("# demo")), puts[0].Body["content"])
	assert.Equal(t, "main", puts[0].Body["branch"])
	_, hasSHA := puts[1].Body["sha"]
	assert.False(t, hasSHA)
}

func TestGitHubArchiveAndDelete(t *testing.T) {
	p, fake := newProvider(t, domain.ProviderGitHub, func(r *http.Request) (int, string) {
		if r.Method == http.MethodDelete {
			return http.StatusNotFound, `{"message":"Not Found"}`
		}
		return http.StatusOK, `{}`
	})

	require.NoError(t, p.ArchiveRepository(context.Background(), "acme/demo"))
	assert.Equal(t, http.MethodPatch, fake.requests[0].Method)
	assert.Equal(t, true, fake.requests[0].Body["archived"])

	err := p.DeleteRepository(context.Background(), "acme/demo")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsRetryable(err))
}

func TestGitLabCreateAndPush(t *testing.T) {
	p, fake := newProvider(t, domain.ProviderGitLab, func(r *http.Request) (int, string) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v4/projects":
			return http.StatusCreated, `{"path_with_namespace":"group/demo","http_url_to_repo":"https://gitlab.com/group/demo.git","default_branch":"main"}`
		case r.Method == http.MethodHead && r.URL.EscapedPath() == "/api/v4/projects/group%2Fdemo/repository/files/README.md":
			return http.StatusOK, ``
		case r.Method == http.MethodHead:
			return http.StatusNotFound, ``
		default:
			return http.StatusCreated, `{}`
		}
	})

	repo, err := p.CreateRepository(context.Background(), CreateRequest{Name: "demo", Private: false, DefaultBranch: "main"})
	require.NoError(t, err)
	assert.Equal(t, "group/demo", repo.FullName)
	assert.Equal(t, "public", fake.requests[0].Body["visibility"])
	assert.Equal(t, true, fake.requests[0].Body["initialize_with_readme"])

	err = p.PushFiles(context.Background(), "group/demo", "main", "Initial commit", []File{
		{Path: "README.md", Content: "# demo"},
		{Path: "k8s/base/kustomization.yaml", Content: "resources: []"},
	})
	require.NoError(t, err)

	last := fake.requests[len(fake.requests)-1]
	assert.Equal(t, "/api/v4/projects/group%2Fdemo/repository/commits", last.Path)
	actions, ok := last.Body["actions"].([]any)
	require.True(t, ok)
	require.Len(t, actions, 2)
	assert.Equal(t, "update", actions[0].(map[string]any)["action"])
	assert.Equal(t, "create", actions[1].(map[string]any)["action"])
	assert.Equal(t, "k8s/base/kustomization.yaml", actions[1].(map[string]any)["file_path"])
}

func TestGitLabArchiveUsesEncodedPath(t *testing.T) {
	p, fake := newProvider(t, domain.ProviderGitLab, func(r *http.Request) (int, string) {
		return http.StatusCreated, `{}`
	})
	require.NoError(t, p.ArchiveRepository(context.Background(), "group/sub/demo"))
	assert.Equal(t, "/api/v4/projects/group%2Fsub%2Fdemo/archive", fake.requests[0].Path)
}

func TestOwner(t *testing.T) {
	gh, ghFake := newProvider(t, domain.ProviderGitHub, func(r *http.Request) (int, string) {
		return http.StatusOK, `{"login":"acme"}`
	})
	owner, err := gh.Owner(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "/user", ghFake.requests[0].Path)

	gl, glFake := newProvider(t, domain.ProviderGitLab, func(r *http.Request) (int, string) {
		return http.StatusOK, `{"username":"group"}`
	})
	owner, err = gl.Owner(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "group", owner)
	assert.Equal(t, "/api/v4/user", glFake.requests[0].Path)
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"unauthorized", &APIError{StatusCode: 401}, false},
		{"forbidden", &APIError{StatusCode: 403, Body: "Resource not accessible"}, false},
		{"rate limited", &APIError{StatusCode: 403, Body: "API rate limit exceeded"}, true},
		{"not found", &APIError{StatusCode: 404}, false},
		{"validation", &APIError{StatusCode: 422}, false},
		{"too many requests", &APIError{StatusCode: 429}, true},
		{"server error", fmt.Errorf("wrapped: %w", &APIError{StatusCode: 502}), true},
		{"network", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, true},
		{"canceled", context.Canceled, false},
		{"plain", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}
}

func TestIsAlreadyExists(t *testing.T) {
	assert.True(t, IsAlreadyExists(&APIError{StatusCode: 422, Body: `{"errors":[{"message":"name already exists on this account"}]}`}))
	assert.True(t, IsAlreadyExists(&APIError{StatusCode: 400, Body: `{"message":{"name":["has already been taken"]}}`}))
	assert.False(t, IsAlreadyExists(&APIError{StatusCode: 422, Body: "invalid name"}))
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 2*time.Second, retryDelay(0, func() float64 { return 0.5 }))
	assert.Equal(t, 8*time.Second, retryDelay(2, func() float64 { return 0.5 }))
	assert.Equal(t, 4800*time.Millisecond, retryDelay(1, func() float64 { return 1 }))
	assert.Equal(t, 3200*time.Millisecond, retryDelay(1, func() float64 { return 0 }))
	assert.Equal(t, 60*time.Second, retryDelay(10, func() float64 { return 0.5 }))
	d := RetryDelay(3)
	assert.GreaterOrEqual(t, d, 12799*time.Millisecond)
	assert.LessOrEqual(t, d, 19201*time.Millisecond)
}

func TestParseRepositoryURL(t *testing.T) {
	cases := []struct {
		in       string
		provider domain.Provider
		fullName string
	}{
		{"https://github.com/acme/demo", domain.ProviderGitHub, "acme/demo"},
		{"https://github.com/acme/demo.git", domain.ProviderGitHub, "acme/demo"},
		{"git@github.com:acme/demo.git", domain.ProviderGitHub, "acme/demo"},
		{"https://gitlab.com/group/sub/demo/", domain.ProviderGitLab, "group/sub/demo"},
	}
	for _, tc := range cases {
		provider, fullName, err := ParseRepositoryURL(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.provider, provider, tc.in)
		assert.Equal(t, tc.fullName, fullName, tc.in)
	}
	_, _, err := ParseRepositoryURL("https://bitbucket.org/acme/demo")
	assert.Error(t, err)
}

func TestProviderRequiresToken(t *testing.T) {
	clients, err := NewClients(Config{GitHubBaseURL: "https://api.github.com", GitLabBaseURL: "https://gitlab.com", Timeout: time.Second}, nil)
	require.NoError(t, err)
	_, err = clients.Provider(domain.ProviderGitHub, " ")
	assert.Error(t, err)
	_, err = clients.Provider("bitbucket", "tok")
	assert.Error(t, err)
}
