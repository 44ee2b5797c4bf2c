// Package alm is the REST client shared by the ALM sources. It owns the
// cookie session, the entity collection endpoints and the flattening of
// ALM's field-list entity shape into plain records.
package alm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/relay/pkg/clients"
	"github.com/ajitpratap0/relay/pkg/connector/base"
	"github.com/ajitpratap0/relay/pkg/connector/core"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/logger"
	"go.uber.org/zap"
)

const (
	authenticatePath = "/qcbin/authentication-point/authenticate"
	logoutPath       = "/qcbin/authentication-point/logout"
)

// Config holds the connection settings common to ALM sources
type Config struct {
	BaseURL   string
	Username  string
	Password  string
	Domain    string
	Project   string
	VerifySSL bool
	Timeout   time.Duration
	RateLimit float64
}

// ParseConfig reads the connection settings from an adapter config.
// base_url, username, password, domain and project are required.
func ParseConfig(cfg core.Config) (*Config, error) {
	baseURL, err := base.RequireURL(cfg, "base_url")
	if err != nil {
		return nil, err
	}

	out := &Config{BaseURL: baseURL}
	required := []struct {
		field  string
		target *string
	}{
		{"username", &out.Username},
		{"password", &out.Password},
		{"domain", &out.Domain},
		{"project", &out.Project},
	}
	for _, r := range required {
		v, err := base.RequireString(cfg, r.field)
		if err != nil {
			return nil, err
		}
		*r.target = v
	}

	if out.VerifySSL, err = base.OptionalBool(cfg, "verify_ssl", true); err != nil {
		return nil, err
	}
	timeout, err := base.OptionalPositiveInt(cfg, "timeout_seconds", 30)
	if err != nil {
		return nil, err
	}
	out.Timeout = time.Duration(timeout) * time.Second

	rateLimit, err := base.OptionalPositiveInt(cfg, "rate_limit", 10)
	if err != nil {
		return nil, err
	}
	out.RateLimit = float64(rateLimit)
	return out, nil
}

// Client talks to one ALM project over one cookie session
type Client struct {
	cfg     *Config
	session *clients.Session
	logger  *zap.Logger
}

// NewClient creates a client. No network call is made.
func NewClient(cfg *Config, adapter string) (*Client, error) {
	sc := clients.DefaultSessionConfig(cfg.BaseURL)
	sc.Adapter = adapter
	sc.Timeout = cfg.Timeout
	sc.VerifySSL = cfg.VerifySSL
	sc.RateLimit = cfg.RateLimit
	sc.Headers["Accept"] = "application/json"

	session, err := clients.NewSession(sc)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:     cfg,
		session: session,
		logger:  logger.Get().With(zap.String("component", "alm_client"), zap.String("adapter", adapter)),
	}, nil
}

// Authenticate logs in with basic credentials. ALM answers with session
// cookies that the session's jar sends on every later request.
func (c *Client) Authenticate(ctx context.Context) error {
	_, err := c.session.Do(ctx, &clients.Request{
		Method:  http.MethodGet,
		Path:    authenticatePath,
		Headers: map[string]string{"Accept": "application/xml"},
		Auth:    clients.BasicAuth{Username: c.cfg.Username, Password: c.cfg.Password},
	})
	if err != nil {
		return errors.Wrap(err, errors.TypeOf(err), "ALM authentication failed").
			WithDetail("username", c.cfg.Username)
	}
	c.logger.Debug("authenticated", zap.Int("cookies", len(c.session.Cookies())))
	return nil
}

// Logout ends the ALM session. Errors are logged, not returned.
func (c *Client) Logout(ctx context.Context) {
	if _, err := c.session.Get(ctx, logoutPath, nil); err != nil {
		c.logger.Debug("logout failed", zap.Error(err))
	}
}

// Close releases idle connections
func (c *Client) Close() {
	c.session.Close()
}

// Project returns "domain/project"
func (c *Client) Project() string {
	return c.cfg.Domain + "/" + c.cfg.Project
}

// collectionPath returns the REST path of an entity collection, e.g.
// "defects" or "test-instances"
func (c *Client) collectionPath(collection string, elems ...string) string {
	parts := []string{
		"qcbin/rest/domains", url.PathEscape(c.cfg.Domain),
		"projects", url.PathEscape(c.cfg.Project),
		collection,
	}
	for _, e := range elems {
		parts = append(parts, url.PathEscape(e))
	}
	return "/" + strings.Join(parts, "/")
}

// Page requests one page of a collection. filters are passed as query
// parameters as they are.
func (c *Client) Page(ctx context.Context, collection string, filters url.Values, start, size int) ([]core.Record, error) {
	query := url.Values{}
	for k, vs := range filters {
		query[k] = append([]string(nil), vs...)
	}
	query.Set("page-size", strconv.Itoa(size))
	query.Set("start-index", strconv.Itoa(start))
	return c.Entities(ctx, c.collectionPath(collection), query)
}

// Entities fetches path and flattens the entities in the response
func (c *Client) Entities(ctx context.Context, path string, query url.Values) ([]core.Record, error) {
	var body EntityList
	if err := c.session.GetJSON(ctx, path, query, &body); err != nil {
		return nil, err
	}
	return body.Records(), nil
}

// Children returns the ids of the entities in collection whose parent is
// parentID and whose name is name
func (c *Client) Children(ctx context.Context, collection, parentID, name string) ([]string, error) {
	query := url.Values{"query": {Query(Cond("parent-id", parentID), Cond("name", Quote(name)))}}
	records, err := c.Entities(ctx, c.collectionPath(collection), query)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if id := rec.ID(); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Audits returns the change history of one entity
func (c *Client) Audits(ctx context.Context, entityType, id string) ([]core.Record, error) {
	query := url.Values{"query": {Query(Cond("parent-type", entityType), Cond("parent-id", id))}}
	return c.Entities(ctx, c.collectionPath("audits"), query)
}

// Attachments lists and downloads the attachments of one entity
func (c *Client) Attachments(ctx context.Context, collection, id string) ([]core.Attachment, error) {
	records, err := c.Entities(ctx, c.collectionPath(collection, id, "attachments"), nil)
	if err != nil {
		return nil, err
	}

	out := make([]core.Attachment, 0, len(records))
	for _, rec := range records {
		if rec["name"] == nil {
			continue
		}
		name := fmt.Sprint(rec["name"])
		if err := ctx.Err(); err != nil {
			return out, err
		}
		resp, err := c.session.Do(ctx, &clients.Request{
			Method:  http.MethodGet,
			Path:    c.collectionPath(collection, id, "attachments", name),
			Headers: map[string]string{"Accept": "application/octet-stream"},
		})
		if err != nil {
			return out, errors.Wrap(err, errors.TypeOf(err), "failed to download attachment").
				WithDetail("attachment", name)
		}
		out = append(out, core.Attachment{Name: name, Size: int64(len(resp.Body)), Data: resp.Body})
	}
	return out, nil
}

// RunSteps returns the steps of the latest run of a test instance, or nil
// when the instance never ran
func (c *Client) RunSteps(ctx context.Context, testInstanceID string) ([]core.Record, error) {
	query := url.Values{
		"query":    {Query(Cond("testcycl-id", testInstanceID))},
		"order-by": {"{id[DESC]}"},
	}
	runs, err := c.Entities(ctx, c.collectionPath("runs"), query)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return c.Entities(ctx, c.collectionPath("runs", runs[0].ID(), "run-steps"), nil)
}

// Cond builds one ALM query condition, field[value]
func Cond(field, value string) string {
	return field + "[" + value + "]"
}

// Query joins conditions into an ALM query expression
func Query(conds ...string) string {
	return "{" + strings.Join(conds, ";") + "}"
}

// Quote quotes a literal for an ALM query
func Quote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "\\'") + "'"
}
