package idp

import (
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

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrUpstream marks failures talking to the identity provider.
var ErrUpstream = errors.New("idp: upstream failure")

// Config describes the identity provider endpoints and credentials.
type Config struct {
	ClientID                  string
	ClientSecret              string
	RedirectURL               string
	AuthorizeURL              string
	TokenURL                  string
	APIURL                    string
	DiscoveryURL              string
	IntrospectionURL          string
	IntrospectionClientID     string
	IntrospectionClientSecret string
	Scopes                    []string
	DiscoveryTTL              time.Duration
	Timeout                   time.Duration
}

// Client talks to the identity provider: login code exchange, profile fetch and
// token introspection for machine clients.
type Client struct {
	cfg  Config
	HTTP *http.Client
	now  func() time.Time

	discovery *discoveryCache
	service   *serviceToken
}

// New creates a client with configurable timeout.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.DiscoveryTTL <= 0 {
		cfg.DiscoveryTTL = time.Hour
	}
	c := &Client{
		cfg:  cfg,
		HTTP: &http.Client{Timeout: cfg.Timeout},
		now:  time.Now,
	}
	c.discovery = &discoveryCache{ttl: cfg.DiscoveryTTL}
	c.service = &serviceToken{}
	return c
}

func upstream(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUpstream, fmt.Sprintf(format, args...))
}

func (c *Client) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.HTTP)
}

// Endpoints are the URLs the client talks to after discovery is applied.
type Endpoints struct {
	Authorize     string
	Token         string
	Introspection string
}

// Endpoints resolves provider URLs. Discovered values win over configured ones.
func (c *Client) Endpoints(ctx context.Context) (Endpoints, error) {
	ep := Endpoints{
		Authorize:     c.cfg.AuthorizeURL,
		Token:         c.cfg.TokenURL,
		Introspection: c.cfg.IntrospectionURL,
	}
	if c.cfg.DiscoveryURL == "" {
		return ep, nil
	}
	doc, err := c.Discovery(ctx)
	if err != nil {
		return Endpoints{}, err
	}
	if doc.AuthorizationEndpoint != "" {
		ep.Authorize = doc.AuthorizationEndpoint
	}
	if doc.TokenEndpoint != "" {
		ep.Token = doc.TokenEndpoint
	}
	if doc.IntrospectionEndpoint != "" {
		ep.Introspection = doc.IntrospectionEndpoint
	}
	return ep, nil
}

func (c *Client) oauthConfig(ep Endpoints) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		RedirectURL:  c.cfg.RedirectURL,
		Scopes:       c.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  ep.Authorize,
			TokenURL: ep.Token,
		},
	}
}

// AuthCodeURL builds the authorize redirect for a login attempt.
func (c *Client) AuthCodeURL(ctx context.Context, state string) (string, error) {
	ep, err := c.Endpoints(ctx)
	if err != nil {
		return "", err
	}
	return c.oauthConfig(ep).AuthCodeURL(state), nil
}

// Exchange trades an authorization code for a member access token.
func (c *Client) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if code == "" {
		return nil, upstream("missing authorization code")
	}
	ep, err := c.Endpoints(ctx)
	if err != nil {
		return nil, err
	}
	tok, err := c.oauthConfig(ep).Exchange(c.httpContext(ctx), code)
	if err != nil {
		return nil, upstream("token exchange: %v", err)
	}
	if tok.AccessToken == "" {
		return nil, upstream("token exchange returned no access token")
	}
	return tok, nil
}

func (c *Client) getJSON(req *http.Request, out any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return upstream("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return upstream("%s %s: %s", req.URL.Path, resp.Status, strings.TrimSpace(string(bodyBytes)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return upstream("failed to decode response: %v", err)
	}
	return nil
}

// Introspection is the RFC 7662 answer for a bearer token.
type Introspection struct {
	Active    bool   `json:"active"`
	ClientID  string `json:"client_id"`
	Scope     string `json:"scope"`
	ExpiresAt int64  `json:"exp"`
}

// Expired reports whether the token carries an expiry before now.
func (i Introspection) Expired(now time.Time) bool {
	return i.ExpiresAt > 0 && now.Unix() >= i.ExpiresAt
}

// Introspect asks the provider whether token is active. The request is
// authenticated with the cached service token.
func (c *Client) Introspect(ctx context.Context, token string) (Introspection, error) {
	ep, err := c.Endpoints(ctx)
	if err != nil {
		return Introspection{}, err
	}
	svc, err := c.serviceToken(ctx, ep)
	if err != nil {
		return Introspection{}, err
	}

	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.Introspection, strings.NewReader(form.Encode()))
	if err != nil {
		return Introspection{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+svc)

	var out Introspection
	if err := c.getJSON(req, &out); err != nil {
		c.service.reset()
		return Introspection{}, err
	}
	return out, nil
}

// serviceToken is a client-credentials token reused until shortly before it expires.
type serviceToken struct {
	mu  sync.Mutex
	tok *oauth2.Token
}

const tokenSlack = 30 * time.Second

func (s *serviceToken) reset() {
	s.mu.Lock()
	s.tok = nil
	s.mu.Unlock()
}

func (c *Client) serviceToken(ctx context.Context, ep Endpoints) (string, error) {
	c.service.mu.Lock()
	defer c.service.mu.Unlock()

	if t := c.service.tok; t != nil && (t.Expiry.IsZero() || c.now().Add(tokenSlack).Before(t.Expiry)) {
		return t.AccessToken, nil
	}
	cc := clientcredentials.Config{
		ClientID:     c.cfg.IntrospectionClientID,
		ClientSecret: c.cfg.IntrospectionClientSecret,
		TokenURL:     ep.Token,
		Scopes:       []string{"introspection"},
	}
	tok, err := cc.Token(c.httpContext(ctx))
	if err != nil {
		return "", upstream("service token: %v", err)
	}
	c.service.tok = tok
	return tok.AccessToken, nil
}
