package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, baseURL string) *Session {
	t.Helper()
	cfg := DefaultSessionConfig(baseURL)
	cfg.RateLimit = 1000
	cfg.RateBurst = 100
	cfg.Timeout = 2 * time.Second
	s, err := NewSession(cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestSession_GetJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/items", r.URL.Path)
		assert.Equal(t, "10", r.URL.Query().Get("page-size"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"entities":[{"id":1},{"id":2}]}`))
	}))
	defer server.Close()

	s := newTestSession(t, server.URL+"/")
	var out struct {
		Entities []map[string]interface{} `json:"entities"`
	}
	err := s.GetJSON(context.Background(), "/api/items", url.Values{"page-size": {"10"}}, &out)
	require.NoError(t, err)
	assert.Len(t, out.Entities, 2)
}

func TestSession_StatusErrors(t *testing.T) {
	tests := []struct {
		status int
		want   errors.ErrorType
	}{
		{http.StatusUnauthorized, errors.ErrorTypeAuthentication},
		{http.StatusForbidden, errors.ErrorTypeAuthentication},
		{http.StatusTooManyRequests, errors.ErrorTypeRateLimit},
		{http.StatusInternalServerError, errors.ErrorTypeTransport},
		{http.StatusBadRequest, errors.ErrorTypeTransport},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"errorMessages":["nope"]}`))
			}))
			defer server.Close()

			resp, err := newTestSession(t, server.URL).Get(context.Background(), "/x", nil)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.want, errors.TypeOf(err))
			assert.Equal(t, tt.status, errors.Details(err)["status_code"])
		})
	}
}

func TestSession_CookiesAndAuth(t *testing.T) {
	var sawCookie atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			user, pass, ok := r.BasicAuth()
			if !ok || user != "qa" || pass != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			http.SetCookie(w, &http.Cookie{Name: "LWSSO_COOKIE_KEY", Value: "abc", Path: "/"})
		case "/data":
			if c, err := r.Cookie("LWSSO_COOKIE_KEY"); err == nil && c.Value == "abc" {
				sawCookie.Store(true)
			}
		}
	}))
	defer server.Close()

	s := newTestSession(t, server.URL)
	s.SetAuthorizer(BasicAuth{Username: "qa", Password: "secret"})

	_, err := s.Get(context.Background(), "/login", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, s.Cookies())

	_, err = s.Get(context.Background(), "/data", nil)
	require.NoError(t, err)
	assert.True(t, sawCookie.Load())
}

func TestSession_RequestAuthOverridesSession(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, r.Header.Get("Authorization"))
	}))
	defer server.Close()

	s := newTestSession(t, server.URL)
	_, err := s.Do(context.Background(), &Request{
		Method: http.MethodGet,
		Path:   "/login",
		Auth:   BasicAuth{Username: "qa", Password: "secret"},
	})
	require.NoError(t, err)
	_, err = s.Get(context.Background(), "/data", nil)
	require.NoError(t, err)

	s.SetAuthorizer(NewBearerToken("tok-1"))
	_, err = s.Do(context.Background(), &Request{
		Method: http.MethodGet,
		Path:   "/login",
		Auth:   BasicAuth{Username: "qa", Password: "secret"},
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 3)
	assert.Equal(t, "Basic cWE6c2VjcmV0", seen[0])
	assert.Empty(t, seen[1])
	assert.Equal(t, "Basic cWE6c2VjcmV0", seen[2])
}

func TestSession_BearerToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
	}))
	defer server.Close()

	s := newTestSession(t, server.URL)
	s.SetAuthorizer(NewBearerToken("tok-1"))
	_, err := s.Get(context.Background(), "/me", nil)
	require.NoError(t, err)
}

func TestSession_CancelledBeforeCall(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestSession(t, server.URL).Get(ctx, "/x", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), hits.Load())
}

func TestSession_InFlightCallSurvivesCancel(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	s := newTestSession(t, server.URL)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := s.Get(ctx, "/slow", nil)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	close(release)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("call did not finish")
	}
}

func TestSession_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	cfg := DefaultSessionConfig(server.URL)
	cfg.Timeout = 50 * time.Millisecond
	s, err := NewSession(cfg)
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "/hang", nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeTimeout, errors.TypeOf(err))
	assert.True(t, errors.IsRetryable(err))
}
