package k8s

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	defaultTokenFile     = "/var/run/secrets/kubernetes.io/serviceaccount/token"
	defaultNamespaceFile = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"
	defaultCAFile        = "/var/run/secrets/kubernetes.io/serviceaccount/ca.crt"
)

var (
	ErrNotFound      = errors.New("kubernetes resource not found")
	ErrAlreadyExists = errors.New("kubernetes resource already exists")
	ErrUnauthorized  = errors.New("kubernetes request unauthorized")
	ErrForbidden     = errors.New("kubernetes request forbidden")
	ErrUnexpectedAPI = errors.New("kubernetes unexpected response")
)

type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("kubernetes api error (status=%d)", e.StatusCode)
	}
	return fmt.Sprintf("kubernetes api error (status=%d): %s", e.StatusCode, body)
}

type Client struct {
	baseURL   string
	token     string
	namespace string
	http      *http.Client
}

func NewInClusterClient() (*Client, error) {
	host := strings.TrimSpace(os.Getenv("KUBERNETES_SERVICE_HOST"))
	port := strings.TrimSpace(os.Getenv("KUBERNETES_SERVICE_PORT"))
	baseURL := "https://kubernetes.default.svc"
	if host != "" {
		if port == "" {
			port = "443"
		}
		baseURL = "https://" + host + ":" + port
	}
	return NewInClusterClientWithBaseURL(baseURL)
}

// NewClient builds a client from explicit settings. httpClient may be nil.
func NewClient(baseURL, token, namespace string, httpClient *http.Client) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("kubernetes base url is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:   baseURL,
		token:     strings.TrimSpace(token),
		namespace: strings.TrimSpace(namespace),
		http:      httpClient,
	}, nil
}

func NewInClusterClientWithBaseURL(baseURL string) (*Client, error) {
	tokenBytes, err := os.ReadFile(defaultTokenFile)
	if err != nil {
		return nil, fmt.Errorf("read serviceaccount token: %w", err)
	}
	token := strings.TrimSpace(string(tokenBytes))
	if token == "" {
		return nil, errors.New("serviceaccount token is empty")
	}

	namespaceBytes, err := os.ReadFile(defaultNamespaceFile)
	if err != nil {
		return nil, fmt.Errorf("read serviceaccount namespace: %w", err)
	}
	namespace := strings.TrimSpace(string(namespaceBytes))
	if namespace == "" {
		return nil, errors.New("serviceaccount namespace is empty")
	}

	caBytes, err := os.ReadFile(defaultCAFile)
	if err != nil {
		return nil, fmt.Errorf("read serviceaccount ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, errors.New("invalid serviceaccount ca bundle")
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12},
	}

	return &Client{
		baseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:     token,
		namespace: namespace,
		http: &http.Client{
			Transport: transport,
			Timeout:   15 * time.Second,
		},
	}, nil
}

func (c *Client) Namespace() string {
	return c.namespace
}

// Ping checks that the API server answers /version.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/version", nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// EnsureNamespace creates the namespace and treats an existing one as success.
func (c *Client) EnsureNamespace(ctx context.Context, ns Namespace) error {
	name := strings.TrimSpace(ns.Metadata.Name)
	if name == "" {
		return errors.New("namespace name is required")
	}
	ns.APIVersion = "v1"
	ns.Kind = "Namespace"
	err := c.send(ctx, http.MethodPost, "/api/v1/namespaces", "application/json", ns, nil)
	if errors.Is(err, ErrAlreadyExists) {
		return nil
	}
	return err
}

func (c *Client) DeleteNamespace(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("namespace name is required")
	}
	return c.send(ctx, http.MethodDelete, "/api/v1/namespaces/"+name, "", nil, nil)
}

// ApplySecret creates the secret, replacing its data when it already exists.
func (c *Client) ApplySecret(ctx context.Context, secret Secret) error {
	namespace := c.resolveNamespace(secret.Metadata.Namespace)
	name := strings.TrimSpace(secret.Metadata.Name)
	if name == "" {
		return errors.New("secret name is required")
	}
	secret.APIVersion = "v1"
	secret.Kind = "Secret"
	secret.Metadata.Namespace = namespace

	collection := fmt.Sprintf("/api/v1/namespaces/%s/secrets", namespace)
	err := c.send(ctx, http.MethodPost, collection, "application/json", secret, nil)
	if !errors.Is(err, ErrAlreadyExists) {
		return err
	}
	return c.send(ctx, http.MethodPatch, collection+"/"+name, "application/merge-patch+json", secret, nil)
}

// ApplyCustomResource creates obj under res, merge-patching it when it already exists.
func (c *Client) ApplyCustomResource(ctx context.Context, res Resource, namespace, name string, obj any) error {
	if err := res.Validate(); err != nil {
		return err
	}
	namespace = c.resolveNamespace(namespace)
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("resource name is required")
	}
	collection := res.CollectionPath(namespace)
	err := c.send(ctx, http.MethodPost, collection, "application/json", obj, nil)
	if !errors.Is(err, ErrAlreadyExists) {
		return err
	}
	return c.send(ctx, http.MethodPatch, collection+"/"+name, "application/merge-patch+json", obj, nil)
}

func (c *Client) DeleteCustomResource(ctx context.Context, res Resource, namespace, name string) error {
	if err := res.Validate(); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("resource name is required")
	}
	return c.send(ctx, http.MethodDelete, res.CollectionPath(c.resolveNamespace(namespace))+"/"+name, "", nil, nil)
}

func (c *Client) resolveNamespace(namespace string) string {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return c.namespace
	}
	return namespace
}

func (c *Client) send(ctx context.Context, method, path, contentType string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if req == nil {
		return errors.New("request is required")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return err
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode kubernetes response: %w", err)
		}
		return nil
	case http.StatusConflict:
		return ErrAlreadyExists
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	default:
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
}
