// Package backend talks to the hosted backend: PostgREST-style tables and
// RPC functions over JSON/HTTP, plus the realtime push channel.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/umamaheshmadala/sync-warp-sub014/internal/logging"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/syncerr"
)

const (
	restPrefix         = "/rest/v1/"
	defaultTimeout     = 10 * time.Second
	maxErrorBodyLength = 512
)

// Request is one backend call: a table operation or an RPC function.
type Request struct {
	// Table selects a table endpoint. Exactly one of Table or Function is set.
	Table string

	// Function selects an RPC endpoint. RPC calls are always POST.
	Function string

	// Method is the HTTP method for table calls (default GET).
	Method string

	// Filter holds PostgREST query filters, e.g. {"id": "eq.42"}.
	Filter map[string]string

	// Payload is encoded as the JSON body.
	Payload any

	// Single asks for one object instead of an array.
	Single bool
}

// Response is a successful backend reply.
type Response struct {
	StatusCode int
	Body       json.RawMessage
}

// Decode unmarshals the body into v.
func (r Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return syncerr.New(syncerr.KindInternal, "decode", "empty response body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return syncerr.Wrap(syncerr.KindInternal, "decode", err)
	}
	return nil
}

// Caller performs backend requests.
type Caller interface {
	Call(ctx context.Context, req Request) (Response, error)
}

// Config configures a Client.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration

	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// Client is the HTTP backend client.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
	logger  zerolog.Logger

	mu    sync.RWMutex
	token string
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, syncerr.Validation("backend", "invalid backend url %q", cfg.URL)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		apiKey:  cfg.APIKey,
		timeout: timeout,
		http:    hc,
		logger:  logging.Component("backend"),
	}, nil
}

// SetAccessToken sets the bearer token of the signed-in user. An empty
// token falls back to the API key.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token != "" {
		return c.token
	}
	return c.apiKey
}

// Call performs req.
func (c *Client) Call(ctx context.Context, req Request) (Response, error) {
	op, method, path, err := route(req)
	if err != nil {
		return Response{}, err
	}

	query := url.Values{}
	for k, v := range req.Filter {
		query.Set(k, v)
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if req.Payload != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(req.Payload); err != nil {
			return Response{}, syncerr.Wrap(syncerr.KindValidation, op, fmt.Errorf("encode request body: %w", err))
		}
		body = buf
	}

	reqCtx := ctx
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > c.timeout {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, method, u, body)
	if err != nil {
		return Response{}, syncerr.Wrap(syncerr.KindInternal, op, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.Single {
		httpReq.Header.Set("Accept", "application/vnd.pgrst.object+json")
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		httpReq.Header.Set("Prefer", "return=representation")
	}
	if c.apiKey != "" {
		httpReq.Header.Set("apikey", c.apiKey)
	}
	if token := c.bearer(); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Debug().Str("op", op).Str("error", logging.Redact(err.Error())).Msg("backend transport failure")
		return Response{}, syncerr.Network(op, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, syncerr.Network(op, err)
	}
	c.logger.Debug().
		Str("op", op).
		Interface("filter", logging.RedactFilter(req.Filter)).
		Interface("headers", logging.RedactHeaders(httpReq.Header)).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("backend call")

	if resp.StatusCode >= 400 {
		return Response{}, classifyResponse(op, resp.StatusCode, payload)
	}
	return Response{StatusCode: resp.StatusCode, Body: payload}, nil
}

func route(req Request) (op, method, path string, err error) {
	table := strings.TrimSpace(req.Table)
	fn := strings.TrimSpace(req.Function)
	switch {
	case table != "" && fn != "":
		return "", "", "", syncerr.Validation("backend", "request names both table %q and function %q", table, fn)
	case fn != "":
		return "rpc " + fn, http.MethodPost, restPrefix + "rpc/" + url.PathEscape(fn), nil
	case table != "":
		method = strings.ToUpper(strings.TrimSpace(req.Method))
		if method == "" {
			method = http.MethodGet
		}
		return strings.ToLower(method) + " " + table, method, restPrefix + url.PathEscape(table), nil
	default:
		return "", "", "", syncerr.Validation("backend", "request needs a table or function")
	}
}

// APIError is the error body returned by the backend.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details"`
	Hint       string `json:"hint"`
}

func (e *APIError) Error() string {
	parts := make([]string, 0, 3)
	parts = append(parts, fmt.Sprintf("http %d", e.StatusCode))
	if e.Code != "" {
		parts = append(parts, e.Code)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	return strings.Join(parts, ": ")
}

// KindForStatus maps an HTTP status to an error kind.
func KindForStatus(status int) syncerr.Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return syncerr.KindAuthorization
	case status == http.StatusConflict || status == http.StatusPreconditionFailed:
		return syncerr.KindConflict
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return syncerr.KindValidation
	case status == http.StatusNotFound:
		return syncerr.KindNotFound
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return syncerr.KindNetwork
	default:
		return syncerr.KindInternal
	}
}

func classifyResponse(op string, status int, payload []byte) error {
	apiErr := &APIError{StatusCode: status}
	if err := json.Unmarshal(payload, apiErr); err != nil || (apiErr.Code == "" && apiErr.Message == "") {
		msg := strings.TrimSpace(string(payload))
		if len(msg) > maxErrorBodyLength {
			msg = msg[:maxErrorBodyLength]
		}
		apiErr.Message = msg
	}
	apiErr.Message = logging.Redact(apiErr.Message)
	apiErr.Details = logging.Redact(apiErr.Details)
	return syncerr.Wrap(KindForStatus(status), op, apiErr)
}

// IsAPIError reports whether err carries a backend error body.
func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
