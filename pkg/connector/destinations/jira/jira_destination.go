package jira

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ajitpratap0/relay/pkg/clients"
	"github.com/ajitpratap0/relay/pkg/connector/base"
	"github.com/ajitpratap0/relay/pkg/connector/core"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/observability"
	"github.com/ajitpratap0/relay/pkg/upload"
	"go.uber.org/zap"
)

const (
	myselfPath      = "/rest/api/2/myself"
	createIssuePath = "/rest/api/2/issue"

	// AuthBasic sends username and password
	AuthBasic = "basic"
	// AuthToken sends an API token, as a bearer token or, with a username,
	// as the basic password the way Jira Cloud expects
	AuthToken = "token"
	// AuthOAuth sends an OAuth access token
	AuthOAuth = "oauth"
)

// defaultFields are mapped when field_mapping does not name them
var defaultFields = map[string]string{
	"summary":     "name",
	"description": "description",
}

// JiraDestination creates one Jira issue per record
type JiraDestination struct {
	*base.BaseAdapter

	baseURL    string
	authMethod string
	authorizer clients.Authorizer
	projectKey string
	issueType  string
	verifySSL  bool
	timeout    time.Duration
	mapping    upload.Mapping

	session *clients.Session
	tracer  *observability.AdapterTracer
}

// NewJiraDestination creates a Jira destination
func NewJiraDestination(cfg core.Config, sink core.EventSink) (core.Destination, error) {
	return &JiraDestination{
		BaseAdapter: base.NewBaseAdapter("jira", core.AdapterKindDestination, cfg, sink),
		tracer:      observability.NewAdapterTracer("jira", string(core.AdapterKindDestination)),
	}, nil
}

// ValidateConfig checks the URL, the auth method and its credentials, and
// the issue settings
func (d *JiraDestination) ValidateConfig() error {
	cfg := d.Config()

	baseURL, err := base.RequireURL(cfg, "base_url")
	if err != nil {
		return err
	}
	authMethod, err := base.RequireString(cfg, "auth_method")
	if err != nil {
		return err
	}
	projectKey, err := base.RequireString(cfg, "project_key")
	if err != nil {
		return err
	}
	authorizer, err := authorizerFor(cfg, authMethod)
	if err != nil {
		return err
	}

	issueType, err := base.OptionalString(cfg, "issue_type", "Bug")
	if err != nil {
		return err
	}
	fields, err := base.OptionalStringMap(cfg, "field_mapping")
	if err != nil {
		return err
	}
	verifySSL, err := base.OptionalBool(cfg, "verify_ssl", true)
	if err != nil {
		return err
	}
	timeout, err := base.OptionalPositiveInt(cfg, "timeout_seconds", 30)
	if err != nil {
		return err
	}

	d.baseURL = baseURL
	d.authMethod = authMethod
	d.authorizer = authorizer
	d.projectKey = projectKey
	d.issueType = issueType
	d.verifySSL = verifySSL
	d.timeout = time.Duration(timeout) * time.Second
	d.mapping = upload.NewMapping(fields).
		WithDefaults(defaultFields).
		WithFixed(map[string]interface{}{
			"project":   map[string]interface{}{"key": projectKey},
			"issuetype": map[string]interface{}{"name": issueType},
		})
	return nil
}

func authorizerFor(cfg core.Config, method string) (clients.Authorizer, error) {
	switch method {
	case AuthBasic:
		username, err := base.RequireString(cfg, "username")
		if err != nil {
			return nil, err
		}
		password, err := base.RequireString(cfg, "password")
		if err != nil {
			return nil, err
		}
		return clients.BasicAuth{Username: username, Password: password}, nil
	case AuthToken:
		token, err := base.RequireString(cfg, "api_token")
		if err != nil {
			return nil, err
		}
		username, err := base.OptionalString(cfg, "username", "")
		if err != nil {
			return nil, err
		}
		if username != "" {
			return clients.BasicAuth{Username: username, Password: token}, nil
		}
		return clients.NewBearerToken(token), nil
	case AuthOAuth:
		token, err := base.RequireString(cfg, "oauth_token")
		if err != nil {
			return nil, err
		}
		return clients.NewBearerToken(token), nil
	default:
		return nil, base.OneOf("auth_method", method, AuthBasic, AuthToken, AuthOAuth)
	}
}

func (d *JiraDestination) newSession() (*clients.Session, error) {
	sc := clients.DefaultSessionConfig(d.baseURL)
	sc.Adapter = d.Type()
	sc.Timeout = d.timeout
	sc.VerifySSL = d.verifySSL

	session, err := clients.NewSession(sc)
	if err != nil {
		return nil, err
	}
	session.SetAuthorizer(d.authorizer)
	return session, nil
}

// Authenticate verifies the credentials against /rest/api/2/myself
func (d *JiraDestination) Authenticate(ctx context.Context) error {
	d.Log(core.LevelInfo, "Setting up Jira authentication...", zap.String("auth_method", d.authMethod))

	session, err := d.newSession()
	if err != nil {
		return err
	}
	user, err := probe(ctx, session)
	if err != nil {
		session.Close()
		return errors.Wrap(err, errors.TypeOf(err), "Jira authentication failed")
	}

	d.session = session
	d.MarkAuthenticated()
	d.Log(core.LevelInfo, "Jira authentication successful", zap.String("user", user))
	return nil
}

func probe(ctx context.Context, session *clients.Session) (string, error) {
	var me struct {
		Name         string `json:"name"`
		DisplayName  string `json:"displayName"`
		EmailAddress string `json:"emailAddress"`
	}
	if err := session.GetJSON(ctx, myselfPath, nil, &me); err != nil {
		return "", err
	}
	if me.DisplayName != "" {
		return me.DisplayName, nil
	}
	return me.Name, nil
}

// TestConnection probes /rest/api/2/myself with a fresh session
func (d *JiraDestination) TestConnection(ctx context.Context) core.ConnectionResult {
	session, err := d.newSession()
	if err != nil {
		return core.ConnectionFailed(err)
	}
	defer session.Close()

	user, err := probe(ctx, session)
	if err != nil {
		return core.ConnectionFailed(err)
	}
	return core.ConnectionOK("Connected to Jira", map[string]interface{}{
		"base_url":    d.baseURL,
		"user":        user,
		"project_key": d.projectKey,
	})
}

// Upload creates one issue per record
func (d *JiraDestination) Upload(ctx context.Context, records []core.Record) (*core.UploadResult, error) {
	if err := d.EnsureAuthenticated(ctx, d.Authenticate); err != nil {
		return nil, err
	}

	var result *core.UploadResult
	err := d.tracer.Trace(ctx, "upload", func(ctx context.Context) error {
		d.Log(core.LevelInfo, fmt.Sprintf("Uploading %d items to Jira...", len(records)))
		var err error
		result, err = upload.Run(ctx, records, d.mapping, upload.CreatorFunc(d.createIssue), d.Sink())
		return err
	})
	return result, err
}

type createdIssue struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Self string `json:"self"`
}

func (d *JiraDestination) createIssue(ctx context.Context, payload map[string]interface{}) (core.CreatedRef, error) {
	resp, err := d.session.PostJSON(ctx, createIssuePath, map[string]interface{}{"fields": payload})
	if err != nil {
		return core.CreatedRef{}, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return core.CreatedRef{}, clients.StatusError(resp, http.MethodPost, d.baseURL+createIssuePath)
	}

	var issue createdIssue
	if err := resp.JSON(&issue); err != nil {
		return core.CreatedRef{}, err
	}
	return core.CreatedRef{DestinationID: issue.ID, DestinationKey: issue.Key}, nil
}

// Close releases the HTTP session
func (d *JiraDestination) Close(ctx context.Context) error {
	if !d.MarkClosed() {
		return nil
	}
	if d.session != nil {
		d.session.Close()
	}
	return nil
}
