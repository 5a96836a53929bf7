package idp

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"aanmelden/internal/attendance"
)

// Profile is the member details document returned by the provider API.
type Profile struct {
	ID               flexString `json:"id"`
	Email            string     `json:"email"`
	FirstName        string     `json:"firstName"`
	LastName         string     `json:"lastName"`
	AccountType      string     `json:"accountType"`
	Days             *int       `json:"days"`
	StripcardUsed    *int       `json:"stripcard_used"`
	StripcardCount   *int       `json:"stripcard_count"`
	StripcardExpires string     `json:"stripcard_expires"`
}

// flexString accepts both JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(string(b))
	return nil
}

// Profile fetches the member details with the member's own token.
func (c *Client) Profile(ctx context.Context, tok *oauth2.Token) (Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIURL, nil)
	if err != nil {
		return Profile{}, err
	}
	tok.SetAuthHeader(req)

	var out struct {
		Result *Profile `json:"result"`
	}
	if err := c.getJSON(req, &out); err != nil {
		return Profile{}, err
	}
	if out.Result == nil || out.Result.ID == "" || out.Result.ID == "null" {
		return Profile{}, upstream("profile without id")
	}
	return *out.Result, nil
}

// Identity maps the profile onto the fields the portal stores.
func (p Profile) Identity() attendance.Identity {
	id := attendance.Identity{
		Subject:        string(p.ID),
		FirstName:      p.FirstName,
		LastName:       p.LastName,
		Email:          p.Email,
		AccountType:    p.AccountType,
		Days:           p.Days,
		StripcardUsed:  p.StripcardUsed,
		StripcardCount: p.StripcardCount,
	}
	if p.StripcardExpires != "" {
		if t, err := time.Parse("2006-01-02", p.StripcardExpires); err == nil {
			id.StripcardExpires = &t
		}
	}
	return id
}
