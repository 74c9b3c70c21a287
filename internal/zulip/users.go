package zulip

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/zulipmcp/zulipmcp/internal/identity"
)

// GetUsers lists organization members. Cached per identity, in memory and
// durably when the client has a persist backend.
func (c *Client) GetUsers(ctx context.Context, creds identity.Credentials) ([]User, error) {
	cacheKey := "users:" + string(creds.Kind)
	if v, ok := c.cache.get(cacheKey); ok {
		c.metrics.CacheAccess(ctx, "users", true)
		return v.([]User), nil
	}
	var warm []User
	if c.persistedGet(ctx, "users", cacheKey, userCacheTTL, &warm) {
		c.metrics.CacheAccess(ctx, "users", true)
		c.cache.put(cacheKey, warm, userCacheTTL)
		return warm, nil
	}
	c.metrics.CacheAccess(ctx, "users", false)

	body, err := c.call(ctx, creds, http.MethodGet, "/users", url.Values{}, nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Members []User `json:"members"`
	}
	if err := decode(body, "/users", &result); err != nil {
		return nil, err
	}
	c.cache.put(cacheKey, result.Members, userCacheTTL)
	c.persistedPut(ctx, "users", cacheKey, result.Members)
	return result.Members, nil
}

// GetUser fetches one user by id.
func (c *Client) GetUser(ctx context.Context, creds identity.Credentials, userID int64) (*User, error) {
	path := fmt.Sprintf("/users/%d", userID)
	body, err := c.call(ctx, creds, http.MethodGet, path, url.Values{}, nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		User User `json:"user"`
	}
	if err := decode(body, path, &result); err != nil {
		return nil, err
	}
	return &result.User, nil
}

// GetUserByEmail fetches one user by email.
func (c *Client) GetUserByEmail(ctx context.Context, creds identity.Credentials, email string) (*User, error) {
	path := "/users/" + url.PathEscape(email)
	body, err := c.call(ctx, creds, http.MethodGet, path, url.Values{}, nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		User User `json:"user"`
	}
	if err := decode(body, path, &result); err != nil {
		return nil, err
	}
	return &result.User, nil
}

// GetOwnUser returns the profile of the calling identity. Also serves as
// the credential verification round trip.
func (c *Client) GetOwnUser(ctx context.Context, creds identity.Credentials) (*User, error) {
	body, err := c.call(ctx, creds, http.MethodGet, "/users/me", url.Values{}, nil)
	if err != nil {
		return nil, err
	}
	var user User
	if err := decode(body, "/users/me", &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// VerifyCredentials is the identity.Verifier used before activating a
// switched identity.
func (c *Client) VerifyCredentials(ctx context.Context, creds identity.Credentials) error {
	_, err := c.GetOwnUser(ctx, creds)
	return err
}

// GetPresence returns a user's aggregated presence.
func (c *Client) GetPresence(ctx context.Context, creds identity.Credentials, email string) (*Presence, error) {
	path := "/users/" + url.PathEscape(email) + "/presence"
	body, err := c.call(ctx, creds, http.MethodGet, path, url.Values{}, nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Presence struct {
			Aggregated Presence `json:"aggregated"`
		} `json:"presence"`
	}
	if err := decode(body, path, &result); err != nil {
		return nil, err
	}
	return &result.Presence.Aggregated, nil
}

// UpdateOwnPresence sets the calling identity's presence status.
func (c *Client) UpdateOwnPresence(ctx context.Context, creds identity.Credentials, status string) error {
	params := url.Values{}
	params.Set("status", status)
	params.Set("ping_only", "false")
	params.Set("new_user_input", "true")
	_, err := c.call(ctx, creds, http.MethodPost, "/users/me/presence", params, nil)
	return err
}

// GetUserGroups lists the realm's user groups.
func (c *Client) GetUserGroups(ctx context.Context, creds identity.Credentials) ([]UserGroup, error) {
	body, err := c.call(ctx, creds, http.MethodGet, "/user_groups", url.Values{}, nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		UserGroups []UserGroup `json:"user_groups"`
	}
	if err := decode(body, "/user_groups", &result); err != nil {
		return nil, err
	}
	return result.UserGroups, nil
}

// GroupMembers returns the member ids of one group by id.
func (c *Client) GroupMembers(ctx context.Context, creds identity.Credentials, groupID int64) ([]int64, error) {
	path := "/user_groups/" + strconv.FormatInt(groupID, 10) + "/members"
	body, err := c.call(ctx, creds, http.MethodGet, path, url.Values{}, nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Members []int64 `json:"members"`
	}
	if err := decode(body, path, &result); err != nil {
		return nil, err
	}
	return result.Members, nil
}
