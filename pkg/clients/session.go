// Package clients provides the authenticated HTTP session owned by one
// adapter instance.
package clients

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/json"
	"github.com/ajitpratap0/relay/pkg/logger"
	"github.com/ajitpratap0/relay/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/time/rate"
)

// maxErrorBody bounds how much of a failed response ends up in error details
const maxErrorBody = 512

// SessionConfig configures a Session
type SessionConfig struct {
	// BaseURL is prepended to relative request paths
	BaseURL string
	// Adapter labels metrics and logs
	Adapter string
	// Timeout bounds each single call (default: 30s)
	Timeout time.Duration
	// VerifySSL disables certificate checks when false
	VerifySSL bool
	// RateLimit in requests per second (default: 10)
	RateLimit float64
	// RateBurst is the limiter burst size (default: 5)
	RateBurst int
	// UserAgent header (default: "Relay/1.0")
	UserAgent string
	// Headers sent with every request
	Headers map[string]string
	// Transport overrides the HTTP transport, mainly for tests
	Transport http.RoundTripper
}

// DefaultSessionConfig returns a config with sensible defaults
func DefaultSessionConfig(baseURL string) *SessionConfig {
	return &SessionConfig{
		BaseURL:   baseURL,
		Timeout:   30 * time.Second,
		VerifySSL: true,
		RateLimit: 10.0,
		RateBurst: 5,
		UserAgent: "Relay/1.0",
		Headers:   make(map[string]string),
	}
}

// Session is the HTTP context of one adapter instance: one client, one
// cookie jar, one rate limiter and the credentials applied to each request.
// It is safe for concurrent use so sub-fetch workers can share it.
type Session struct {
	config     *SessionConfig
	httpClient *http.Client
	jar        *cookiejar.Jar
	limiter    *rate.Limiter
	logger     *zap.Logger

	mu      sync.RWMutex
	headers map[string]string
	auth    Authorizer
}

// NewSession creates a session. No network call is made.
func NewSession(config *SessionConfig) (*Session, error) {
	if config == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "session config is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit <= 0 {
		config.RateLimit = 10.0
	}
	if config.RateBurst <= 0 {
		config.RateBurst = 5
	}
	if config.UserAgent == "" {
		config.UserAgent = "Relay/1.0"
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create cookie jar")
	}

	log := logger.Get().With(zap.String("component", "http_session"), zap.String("adapter", config.Adapter))

	transport := config.Transport
	if transport == nil {
		t := &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   config.Timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: !config.VerifySSL, //nolint:gosec // opt-in per adapter config
				MinVersion:         tls.VersionTLS12,
			},
		}
		if err := http2.ConfigureTransport(t); err != nil {
			log.Warn("failed to configure HTTP/2", zap.Error(err))
		}
		transport = t
	}

	headers := make(map[string]string, len(config.Headers))
	for k, v := range config.Headers {
		headers[k] = v
	}

	return &Session{
		config: config,
		httpClient: &http.Client{
			Transport: transport,
			Jar:       jar,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		jar:     jar,
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst),
		logger:  log,
		headers: headers,
	}, nil
}

// SetAuthorizer sets the credentials applied to every request
func (s *Session) SetAuthorizer(auth Authorizer) {
	s.mu.Lock()
	s.auth = auth
	s.mu.Unlock()
}

// SetHeader sets a header sent with every request
func (s *Session) SetHeader(key, value string) {
	s.mu.Lock()
	s.headers[key] = value
	s.mu.Unlock()
}

// Cookies returns the cookies the session holds for the base URL
func (s *Session) Cookies() []*http.Cookie {
	u, err := url.Parse(s.config.BaseURL)
	if err != nil {
		return nil
	}
	return s.jar.Cookies(u)
}

// BaseURL returns the configured base URL
func (s *Session) BaseURL() string {
	return s.config.BaseURL
}

// Request represents an HTTP request to be made
type Request struct {
	Method  string
	Path    string // relative to BaseURL, or an absolute URL
	Query   url.Values
	Headers map[string]string
	Body    []byte
	// Auth replaces the session authorizer for this request only
	Auth Authorizer
}

// Response is a fully read HTTP response
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// JSON decodes the response body into target
func (r *Response) JSON(target interface{}) error {
	if err := json.Unmarshal(r.Body, target); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to decode response body")
	}
	return nil
}

// IsSuccess returns true if the status code is 2xx
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Do executes one request. The rate limiter wait honours cancellation of
// ctx, but once the call starts it runs to completion on a context detached
// from cancellation and bounded by the per-call timeout.
//
// A non-2xx status returns the response together with a structured error:
// 401 and 403 are authentication errors, 429 a rate limit error, anything
// else a transport error.
func (s *Session) Do(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.Timeout)
	defer cancel()

	fullURL := s.resolve(req.Path)
	if len(req.Query) > 0 {
		fullURL += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(callCtx, req.Method, fullURL, body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to build request")
	}

	s.mu.RLock()
	httpReq.Header.Set("User-Agent", s.config.UserAgent)
	for k, v := range s.headers {
		httpReq.Header.Set(k, v)
	}
	auth := s.auth
	s.mu.RUnlock()
	if req.Auth != nil {
		auth = req.Auth
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if auth != nil {
		if err := auth.Apply(httpReq); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeAuthentication, "failed to apply credentials")
		}
	}

	start := time.Now()
	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		metrics.RecordHTTPRequest(s.config.Adapter, req.Method, 0, time.Since(start))
		errType := errors.ErrorTypeTransport
		if callCtx.Err() == context.DeadlineExceeded {
			errType = errors.ErrorTypeTimeout
		}
		return nil, errors.Wrap(err, errType, "request failed").
			WithDetail("method", req.Method).
			WithDetail("url", redact(fullURL))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	metrics.RecordHTTPRequest(s.config.Adapter, req.Method, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTransport, "failed to read response body").
			WithDetail("url", redact(fullURL))
	}

	response := &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       data,
	}

	if !response.IsSuccess() {
		s.logger.Debug("request returned error status",
			zap.String("method", req.Method),
			zap.String("url", redact(fullURL)),
			zap.Int("status", resp.StatusCode))
		return response, StatusError(response, req.Method, fullURL)
	}
	return response, nil
}

// Get performs a GET request
func (s *Session) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return s.Do(ctx, &Request{Method: http.MethodGet, Path: path, Query: query})
}

// GetJSON performs a GET request and decodes the JSON body into out
func (s *Session) GetJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	resp, err := s.Do(ctx, &Request{
		Method:  http.MethodGet,
		Path:    path,
		Query:   query,
		Headers: map[string]string{"Accept": "application/json"},
	})
	if err != nil {
		return err
	}
	return resp.JSON(out)
}

// PostJSON performs a POST request with a JSON body
func (s *Session) PostJSON(ctx context.Context, path string, body interface{}) (*Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode request body")
	}
	return s.Do(ctx, &Request{
		Method: http.MethodPost,
		Path:   path,
		Body:   data,
		Headers: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
		},
	})
}

// Close releases idle connections
func (s *Session) Close() {
	s.httpClient.CloseIdleConnections()
}

func (s *Session) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if path == "" {
		return s.config.BaseURL
	}
	return strings.TrimSuffix(s.config.BaseURL, "/") + "/" + strings.TrimPrefix(path, "/")
}

// StatusError maps a non-2xx response to a structured error
func StatusError(resp *Response, method, rawURL string) *errors.Error {
	errType := errors.ErrorTypeTransport
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		errType = errors.ErrorTypeAuthentication
	case http.StatusTooManyRequests:
		errType = errors.ErrorTypeRateLimit
	}

	body := string(resp.Body)
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}

	return errors.Newf(errType, "%s %s returned status %d", method, redact(rawURL), resp.StatusCode).
		WithDetail("status_code", resp.StatusCode).
		WithDetail("response", body)
}

// redact drops the query string, which may carry filter values
func redact(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
