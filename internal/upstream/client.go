// Package upstream provides the outbound client for the upstream chat REST API.
//
// FILES:
//   - client.go: Client, fixed header set, JSON and multipart calls
//   - errors.go: Error (non-2xx upstream response)
//
// DESIGN: Each inbound request maps to exactly one call here. No retries:
// callers see either a *Response (2xx), an *Error (upstream answered non-2xx),
// or a transport error (dial failure, timeout, oversized body).
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/liteproxy/liteproxy/internal/config"
	"github.com/liteproxy/liteproxy/internal/utils"
)

// Response is a successful upstream response with the body fully read.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// File is a single upload part.
type File struct {
	Name        string
	ContentType string
	Data        io.Reader
}

// =============================================================================
// Client
// =============================================================================

// Client calls the upstream API with the injected header set and the caller's credential.
type Client struct {
	baseURL    string
	headers    http.Header
	httpClient *http.Client
	maxBody    int64
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the HTTP client timeout. Zero disables it.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(client *Client) {
		client.httpClient.Timeout = timeout
	}
}

// WithMaxBody caps how much of a response body is read.
func WithMaxBody(n int64) ClientOption {
	return func(client *Client) {
		client.maxBody = n
	}
}

// NewClient creates a client for cfg.BaseURL.
func NewClient(cfg config.UpstreamConfig, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		headers:    defaultHeaders(cfg),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxBody:    config.MaxResponseSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the upstream API base.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// defaultHeaders is the fixed browser-like header set sent on every call.
func defaultHeaders(cfg config.UpstreamConfig) http.Header {
	h := make(http.Header)
	h.Set("User-Agent", orDefault(cfg.UserAgent, config.DefaultUserAgent))
	h.Set("Accept", "*/*")
	h.Set("Accept-Language", orDefault(cfg.AcceptLanguage, config.DefaultAcceptLanguage))
	h.Set("X-Discord-Locale", orDefault(cfg.Locale, config.DefaultLocale))
	h.Set("X-Debug-Options", "bugReporterEnabled")
	h.Set("Sec-Fetch-Dest", "empty")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Sec-Fetch-Site", "same-origin")
	return h
}

// =============================================================================
// API Methods
// =============================================================================

// Get performs GET path?query.
func (c *Client) Get(ctx context.Context, path string, query url.Values, token string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, query, token, nil, "")
}

// SendJSON performs method path with a JSON body. A nil body sends no body.
func (c *Client) SendJSON(ctx context.Context, method, path, token string, body []byte) (*Response, error) {
	if body == nil {
		return c.Do(ctx, method, path, nil, token, nil, "")
	}
	return c.Do(ctx, method, path, nil, token, bytes.NewReader(body), "application/json")
}

// Upload POSTs a multipart message: an optional "files[0]" part and an optional "content" field.
func (c *Client) Upload(ctx context.Context, path, token string, file *File, content *string) (*Response, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if file != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name="files[0]"; filename="%s"`, escapeQuotes(file.Name)))
		h.Set("Content-Type", orDefault(file.ContentType, "application/octet-stream"))
		part, err := mw.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("create file part: %w", err)
		}
		if _, err := io.Copy(part, file.Data); err != nil {
			return nil, fmt.Errorf("copy file part: %w", err)
		}
	}
	if content != nil {
		if err := mw.WriteField("content", *content); err != nil {
			return nil, fmt.Errorf("write content field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	return c.Do(ctx, http.MethodPost, path, nil, token, &buf, mw.FormDataContentType())
}

// Do performs one upstream call. Non-2xx responses return *Error.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, token string, body io.Reader, contentType string) (*Response, error) {
	target := utils.JoinURL(c.baseURL, path)
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	for k, v := range c.headers {
		req.Header[k] = v
	}
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}
	if int64(len(data)) > c.maxBody {
		return nil, fmt.Errorf("upstream response exceeds %d bytes", c.maxBody)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Debug().
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode).
			Str("body", truncate(string(data), config.MaxErrorBodyLogLen)).
			Msg("upstream error response")
		return nil, &Error{
			Status:     resp.StatusCode,
			StatusText: http.StatusText(resp.StatusCode),
			Header:     resp.Header.Clone(),
			Body:       data,
		}
	}

	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// =============================================================================
// Helpers
// =============================================================================

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"", "\r", "", "\n", "")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
