package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Profile is the subset of the provider's userinfo response the app keeps.
type Profile struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Nickname      string `json:"nickname"`
	Name          string `json:"name"`
}

// UserinfoClient fetches the /userinfo endpoint for an access token.
type UserinfoClient struct {
	url        string
	httpClient *http.Client
}

func NewUserinfoClient(domain string, httpClient *http.Client) (*UserinfoClient, error) {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return nil, fmt.Errorf("userinfo client requires a provider domain")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &UserinfoClient{
		url:        "https://" + domain + "/userinfo",
		httpClient: httpClient,
	}, nil
}

func (c *UserinfoClient) Fetch(ctx context.Context, accessToken string) (Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return Profile{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Profile{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized:
		return Profile{}, ErrInvalidToken
	default:
		return Profile{}, fmt.Errorf("fetch userinfo: status %d", resp.StatusCode)
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return Profile{}, err
	}
	if strings.TrimSpace(profile.Subject) == "" {
		return Profile{}, fmt.Errorf("userinfo response missing subject")
	}
	return profile, nil
}
