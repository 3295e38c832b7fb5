package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"swissdata/internal/config"
)

type BodyFormat string

const (
	BodyJSON     BodyFormat = "json"
	BodyFormData BodyFormat = "FormData"
)

// RequestOptions adjusts a single request.
type RequestOptions struct {
	Headers    map[string]string
	BodyFormat BodyFormat
	ETag       string
}

// CredentialsFunc returns the current bearer token and public API key.
type CredentialsFunc func() (accessToken, publicKey string)

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithCredentials(fn CredentialsFunc) Option {
	return func(c *Client) { c.creds = fn }
}

func WithMiddleware(mws ...Middleware) Option {
	return func(c *Client) { c.middlewares = append(c.middlewares, mws...) }
}

func WithSessionID(id string) Option {
	return func(c *Client) { c.sessionID = id }
}

// Client sends requests to a Swissdata-compatible API.
type Client struct {
	mu          sync.RWMutex
	baseURL     string
	configured  bool
	version     string
	sessionID   string
	http        *http.Client
	transport   http.RoundTripper
	middlewares []Middleware
	creds       CredentialsFunc
	log         *log.Entry
}

// NewClient builds a client from the api config section. A non-empty host
// configures the client right away.
func NewClient(cfg config.APIConfig, opts ...Option) *Client {
	c := &Client{
		version:   cfg.Version,
		sessionID: uuid.NewString(),
		log:       log.WithField("component", "deco-api"),
	}
	publicKey := cfg.PublicKey
	c.creds = func() (string, string) { return "", publicKey }
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: cfg.Timeout()}
	}
	c.transport = c.http.Transport
	if c.transport == nil {
		c.transport = http.DefaultTransport
	}
	c.installMiddlewares()
	if cfg.Host != "" {
		c.Configure(cfg.Host)
	}
	return c
}

func (c *Client) installMiddlewares() {
	hc := *c.http
	hc.Transport = Chain(c.transport, c.middlewares...)
	c.http = &hc
}

// Use appends middlewares to the transport chain.
func (c *Client) Use(mws ...Middleware) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.middlewares = append(c.middlewares, mws...)
	c.installMiddlewares()
}

// Configure sets the API host and marks the client usable.
func (c *Client) Configure(host string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = strings.TrimSuffix(host, "/")
	c.configured = true
}

func (c *Client) Configured() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.configured
}

func (c *Client) Host() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

func (c *Client) SetCredentials(fn CredentialsFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = fn
}

func (c *Client) SessionID() string { return c.sessionID }

// ExtendEntrypoint appends the version (unless downloading a file) and the
// public key (unless one is present).
func (c *Client) ExtendEntrypoint(entrypoint string) string {
	c.mu.RLock()
	version, creds := c.version, c.creds
	c.mu.RUnlock()

	if version != "" && !strings.Contains(entrypoint, "download=") {
		entrypoint += querySep(entrypoint) + "__v=" + version
	}
	if strings.Contains(entrypoint, "apiKey=") {
		return entrypoint
	}
	_, publicKey := creds()
	return entrypoint + querySep(entrypoint) + "apiKey=" + publicKey
}

func querySep(u string) string {
	if strings.Contains(u, "?") {
		return "&"
	}
	return "?"
}

func (c *Client) Get(ctx context.Context, entrypoint string, opts RequestOptions) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, entrypoint, nil, opts)
}

func (c *Client) Post(ctx context.Context, entrypoint string, body any, opts RequestOptions) (*http.Response, error) {
	return c.Do(ctx, http.MethodPost, entrypoint, body, opts)
}

func (c *Client) Put(ctx context.Context, entrypoint string, body any, opts RequestOptions) (*http.Response, error) {
	return c.Do(ctx, http.MethodPut, entrypoint, body, opts)
}

func (c *Client) Delete(ctx context.Context, entrypoint string, body any, opts RequestOptions) (*http.Response, error) {
	return c.Do(ctx, http.MethodDelete, entrypoint, body, opts)
}

// Do sends one request. Bodies are JSON unless opts.BodyFormat is
// BodyFormData, in which case body must be a *FormData. A nil body on a
// write request is sent as an empty JSON object.
func (c *Client) Do(ctx context.Context, method, entrypoint string, body any, opts RequestOptions) (*http.Response, error) {
	c.mu.RLock()
	configured, base, hc, creds := c.configured, c.baseURL, c.http, c.creds
	c.mu.RUnlock()
	if !configured {
		return nil, ErrNotConfigured
	}

	url := c.ExtendEntrypoint(entrypoint)
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = base + url
	}

	reader, contentType, err := encodeBody(method, body, opts.BodyFormat)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("sdiosid", c.sessionID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if opts.ETag != "" {
		req.Header.Set("ETAG", opts.ETag)
	}
	if token, _ := creds(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	c.log.WithFields(log.Fields{"method": method, "url": url}).Debug("request")
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, entrypoint, err)
	}
	return resp, nil
}

func encodeBody(method string, body any, format BodyFormat) (io.Reader, string, error) {
	if format == BodyFormData {
		form, ok := body.(*FormData)
		if !ok {
			return nil, "", fmt.Errorf("form data body expected, got %T", body)
		}
		buf, contentType, err := form.Encode()
		if err != nil {
			return nil, "", err
		}
		return buf, contentType, nil
	}
	if method == http.MethodGet {
		return nil, "application/json", nil
	}
	if body == nil {
		body = map[string]any{}
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, "", fmt.Errorf("encode body: %w", err)
	}
	return bytes.NewReader(b), "application/json", nil
}
