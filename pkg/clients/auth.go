package clients

import (
	"net/http"

	"golang.org/x/oauth2"
)

// Authorizer applies credentials to an outgoing request
type Authorizer interface {
	Apply(req *http.Request) error
}

// BasicAuth sends HTTP basic credentials
type BasicAuth struct {
	Username string
	Password string
}

// Apply implements Authorizer
func (a BasicAuth) Apply(req *http.Request) error {
	req.SetBasicAuth(a.Username, a.Password)
	return nil
}

// TokenAuth sends a bearer token obtained from an oauth2 token source
type TokenAuth struct {
	Source oauth2.TokenSource
}

// NewBearerToken wraps a fixed access token
func NewBearerToken(accessToken string) TokenAuth {
	return TokenAuth{Source: oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	})}
}

// Apply implements Authorizer
func (a TokenAuth) Apply(req *http.Request) error {
	token, err := a.Source.Token()
	if err != nil {
		return err
	}
	token.SetAuthHeader(req)
	return nil
}
