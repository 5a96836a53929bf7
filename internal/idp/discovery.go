package idp

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Discovery is the subset of the OpenID configuration document we use.
type Discovery struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	IntrospectionEndpoint string `json:"introspection_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	EndSessionEndpoint    string `json:"end_session_endpoint"`
}

type discoveryCache struct {
	mu        sync.Mutex
	ttl       time.Duration
	doc       *Discovery
	fetchedAt time.Time
}

// Discovery returns the OpenID configuration, refetching it once the TTL passed.
func (c *Client) Discovery(ctx context.Context) (Discovery, error) {
	dc := c.discovery
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if dc.doc != nil && c.now().Sub(dc.fetchedAt) < dc.ttl {
		return *dc.doc, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.DiscoveryURL, nil)
	if err != nil {
		return Discovery{}, err
	}
	var doc Discovery
	if err := c.getJSON(req, &doc); err != nil {
		if dc.doc != nil {
			// stale document stays in use while the provider is unreachable
			return *dc.doc, nil
		}
		return Discovery{}, err
	}
	dc.doc = &doc
	dc.fetchedAt = c.now()
	return doc, nil
}
